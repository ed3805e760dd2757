package roleguard

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRoleSource is an in-process RoleSource for tests, demos, and
// bootstrap before a backend exists. All operations succeed locally.
type MemoryRoleSource struct {
	mu          sync.RWMutex
	principals  map[string]*PrincipalRoleInfo
	permissions map[RoleKind][]Permission
	denySwitch  map[string]string // principalID -> rejection message
	lastReason  map[string]string // principalID -> reason of the last confirmation
}

func NewMemoryRoleSource() *MemoryRoleSource {
	return &MemoryRoleSource{
		principals:  make(map[string]*PrincipalRoleInfo),
		permissions: make(map[RoleKind][]Permission),
		denySwitch:  make(map[string]string),
		lastReason:  make(map[string]string),
	}
}

// SeedPrincipal installs a principal's role state.
func (s *MemoryRoleSource) SeedPrincipal(info *PrincipalRoleInfo) {
	s.mu.Lock()
	s.principals[info.PrincipalID] = info
	s.mu.Unlock()
}

// SeedPermissions installs a role kind's permission set.
func (s *MemoryRoleSource) SeedPermissions(kind RoleKind, perms []Permission) {
	s.mu.Lock()
	s.permissions[kind] = perms
	s.mu.Unlock()
}

// DenySwitches makes RequestRoleSwitch reject the principal with a message.
func (s *MemoryRoleSource) DenySwitches(principalID, message string) {
	s.mu.Lock()
	s.denySwitch[principalID] = message
	s.mu.Unlock()
}

func (s *MemoryRoleSource) FetchRoles(ctx context.Context, principalID string) (*PrincipalRoleInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.principals[principalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrincipal, principalID)
	}
	return info.Clone(), nil
}

func (s *MemoryRoleSource) FetchRolePermissions(ctx context.Context, kind RoleKind) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Permission(nil), s.permissions[kind]...), nil
}

func (s *MemoryRoleSource) RequestRoleSwitch(ctx context.Context, principalID string, target RoleKind, reason string) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReason[principalID] = reason
	if msg, denied := s.denySwitch[principalID]; denied {
		return false, msg, nil
	}
	return true, "", nil
}

// LastSwitchReason returns the reason sent with the principal's most recent
// switch confirmation.
func (s *MemoryRoleSource) LastSwitchReason(principalID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReason[principalID]
}

func (s *MemoryRoleSource) ValidatePermission(ctx context.Context, req EvalRequest) (*Decision, error) {
	return NewDecision(ClassFullyRestricted, "no authoritative rule configured"), nil
}

var _ RoleSource = (*MemoryRoleSource)(nil)
