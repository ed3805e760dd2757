package roleguard

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// RoleKind identifies one of the fixed role families a principal can hold.
type RoleKind string

const (
	KindGuest         RoleKind = "guest"
	KindRegular       RoleKind = "regular"
	KindChannel       RoleKind = "channel"
	KindInstitutional RoleKind = "institutional"
	KindAdmin         RoleKind = "admin"
)

// AllRoleKinds lists every known role kind in escalation order.
var AllRoleKinds = []RoleKind{KindGuest, KindRegular, KindChannel, KindInstitutional, KindAdmin}

// ParseRoleKind maps a string onto a RoleKind, empty result for unknown input.
func ParseRoleKind(s string) (RoleKind, bool) {
	switch RoleKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindGuest:
		return KindGuest, true
	case KindRegular:
		return KindRegular, true
	case KindChannel:
		return KindChannel, true
	case KindInstitutional:
		return KindInstitutional, true
	case KindAdmin:
		return KindAdmin, true
	}
	return "", false
}

// RoleStatus is the lifecycle state of a role grant.
type RoleStatus string

const (
	StatusActive   RoleStatus = "active"
	StatusPending  RoleStatus = "pending"
	StatusDisabled RoleStatus = "disabled"
	StatusExpired  RoleStatus = "expired"
)

// Action represents how a resource is being accessed (view, trade, export, ...).
type Action string

// Role is a named bundle of permissions for one role kind.
type Role struct {
	ID          string       `json:"id"`
	Kind        RoleKind     `json:"kind"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
	Status      RoleStatus   `json:"status"`
	ExpiresAt   time.Time    `json:"expires_at,omitempty"` // zero = no expiry
	CreatedAt   time.Time    `json:"created_at"`
}

// Eligible reports whether the role may serve as a switch target or as the
// active role for a privileged check: it must be active and unexpired.
func (r *Role) Eligible(now time.Time) bool {
	if r == nil || r.Status != StatusActive {
		return false
	}
	return r.ExpiresAt.IsZero() || now.Before(r.ExpiresAt)
}

// Permission is one allowed operation on a resource pattern.
type Permission struct {
	ResourceType string    `json:"resource_type"`
	ResourcePat  string    `json:"resource_pattern"` // exact, '*' wildcard, trailing '_' prefix
	Actions      []Action  `json:"actions"`
	Condition    Condition `json:"-"`
	Priority     int       `json:"priority"` // higher wins on ties
}

// PrincipalRoleInfo is a principal's full role state. Current is always an
// element of Available, and Available always contains at least a guest role.
type PrincipalRoleInfo struct {
	PrincipalID string         `json:"principal_id"`
	Current     *Role          `json:"current"`
	Available   []*Role        `json:"available"`
	History     []SwitchRecord `json:"history"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CurrentKind returns the active role kind, or KindGuest when no role is set.
func (p *PrincipalRoleInfo) CurrentKind() RoleKind {
	if p == nil || p.Current == nil {
		return KindGuest
	}
	return p.Current.Kind
}

// FindAvailable returns the first available role of the given kind.
func (p *PrincipalRoleInfo) FindAvailable(kind RoleKind) *Role {
	if p == nil {
		return nil
	}
	for _, r := range p.Available {
		if r != nil && r.Kind == kind {
			return r
		}
	}
	return nil
}

// Clone returns a deep-enough copy so callers cannot mutate coordinator state.
func (p *PrincipalRoleInfo) Clone() *PrincipalRoleInfo {
	if p == nil {
		return nil
	}
	dup := *p
	dup.Available = append([]*Role(nil), p.Available...)
	dup.History = append([]SwitchRecord(nil), p.History...)
	return &dup
}

// ============================================================================
// DECISIONS
// ============================================================================

// ActionClass is the closed set of evaluation outcomes that drives caller
// behavior instead of a raw boolean.
type ActionClass string

const (
	ClassUnrestricted     ActionClass = "unrestricted"
	ClassReadOnly         ActionClass = "read-only"
	ClassFullyRestricted  ActionClass = "fully-restricted"
	ClassNeedsLogin       ActionClass = "needs-login"
	ClassNeedsRoleSwitch  ActionClass = "needs-role-switch"
	ClassPendingApproval  ActionClass = "pending-approval"
	ClassAccountException ActionClass = "account-exception"
)

// Allows reports whether the class grants access at all. Only unrestricted
// and read-only outcomes grant; everything else is a denial variant.
func (c ActionClass) Allows() bool {
	return c == ClassUnrestricted || c == ClassReadOnly
}

// Decision is the outcome of one permission evaluation. Allowed is fully
// determined by Class for well-formed results.
type Decision struct {
	Allowed   bool        `json:"allowed"`
	Class     ActionClass `json:"class"`
	Message   string      `json:"message,omitempty"`
	Redirect  string      `json:"redirect,omitempty"` // hint for routing collaborators
	MatchedBy string      `json:"matched_by,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewDecision builds a Decision whose Allowed bit agrees with the class.
func NewDecision(class ActionClass, message string) *Decision {
	return &Decision{
		Allowed:   class.Allows(),
		Class:     class,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// SwitchRecord is one historical role-transition attempt. Append-only per
// principal; the list is capped and oldest entries are dropped.
type SwitchRecord struct {
	From      RoleKind  `json:"from"`
	To        RoleKind  `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
	Success   bool      `json:"success"`
}

// ============================================================================
// REQUEST CONTEXT
// ============================================================================

// DeviceClass groups requesting devices for condition checks.
type DeviceClass string

const (
	DeviceAny     DeviceClass = ""
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
)

// RequestContext carries ambient request data consulted by rule conditions.
type RequestContext struct {
	Time   time.Time
	Device DeviceClass
	Attrs  map[string]any
}

// At returns the request time, defaulting to now for zero-valued contexts.
func (rc *RequestContext) At() time.Time {
	if rc == nil || rc.Time.IsZero() {
		return time.Now()
	}
	return rc.Time
}

// EvalRequest is one unit of work for EvaluateBatch.
type EvalRequest struct {
	Principal    *PrincipalRoleInfo
	ResourceType string
	ResourceID   string
	Action       Action
	Context      *RequestContext
}

// ============================================================================
// ERRORS
// ============================================================================

// IllegalTransitionError rejects a switch before any mutation and carries the
// set of targets that would have been legal from the current state.
type IllegalTransitionError struct {
	From         RoleKind
	To           RoleKind
	LegalTargets []RoleKind
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal role transition %s -> %s (legal targets: %v)", e.From, e.To, e.LegalTargets)
}

// RateLimitError is distinct from IllegalTransitionError so callers can offer
// a "try again later" message.
type RateLimitError struct {
	PrincipalID string
	RetryAfter  time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("role switch rate limit exceeded for %s, retry after %s", e.PrincipalID, e.RetryAfter)
}

// RoleUnavailableError rejects a switch whose target role is missing,
// inactive, or expired in the principal's available set.
type RoleUnavailableError struct {
	PrincipalID string
	Target      RoleKind
}

func (e *RoleUnavailableError) Error() string {
	return fmt.Sprintf("role %s not available or not active for principal %s", e.Target, e.PrincipalID)
}
