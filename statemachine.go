package roleguard

import (
	"context"
	"fmt"
	"sync"

	"github.com/roleguard/roleguard/logger"
)

// legalTransitions is the role state graph. Guest escalates only through
// authentication; the three customer kinds move freely among themselves and
// may escalate to admin when an admin role is held (enforced by the
// coordinator's availability pre-flight); admin may step down to anything.
var legalTransitions = map[RoleKind][]RoleKind{
	KindGuest:         {KindRegular},
	KindRegular:       {KindChannel, KindInstitutional, KindAdmin},
	KindChannel:       {KindRegular, KindInstitutional, KindAdmin},
	KindInstitutional: {KindRegular, KindChannel, KindAdmin},
	KindAdmin:         {KindGuest, KindRegular, KindChannel, KindInstitutional},
}

// RoleHook runs a role-specific side effect on enter or exit. Hooks must be
// idempotent and scoped to the given principal.
type RoleHook func(ctx context.Context, principalID string, role *Role) error

// RoleStateMachine defines legal role-to-role transitions and per-role
// enter/exit side effects. CanTransition is pure; Enter/Exit run hooks.
type RoleStateMachine struct {
	mu         sync.RWMutex
	enterHooks map[RoleKind][]RoleHook
	exitHooks  map[RoleKind][]RoleHook
	log        logger.Logger
}

func NewRoleStateMachine(log logger.Logger) *RoleStateMachine {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &RoleStateMachine{
		enterHooks: make(map[RoleKind][]RoleHook),
		exitHooks:  make(map[RoleKind][]RoleHook),
		log:        log,
	}
}

// CanTransition reports whether from→to is a legal edge. Pure: no side
// effects, no principal state consulted.
func (m *RoleStateMachine) CanTransition(from, to RoleKind) bool {
	if from == to {
		return false
	}
	for _, k := range legalTransitions[from] {
		if k == to {
			return true
		}
	}
	return false
}

// LegalTargets returns the transition targets reachable from a state.
func (m *RoleStateMachine) LegalTargets(from RoleKind) []RoleKind {
	return append([]RoleKind(nil), legalTransitions[from]...)
}

// OnEnter registers a hook to run when a principal enters roles of a kind.
func (m *RoleStateMachine) OnEnter(kind RoleKind, hook RoleHook) {
	m.mu.Lock()
	m.enterHooks[kind] = append(m.enterHooks[kind], hook)
	m.mu.Unlock()
}

// OnExit registers a hook to run when a principal exits roles of a kind.
func (m *RoleStateMachine) OnExit(kind RoleKind, hook RoleHook) {
	m.mu.Lock()
	m.exitHooks[kind] = append(m.exitHooks[kind], hook)
	m.mu.Unlock()
}

// Enter runs the enter hooks for the role's kind. The first hook error is
// returned; the caller must treat any error as "transition did not happen".
func (m *RoleStateMachine) Enter(ctx context.Context, principalID string, role *Role) error {
	return m.runHooks(ctx, principalID, role, true)
}

// Exit runs the exit hooks for the role's kind.
func (m *RoleStateMachine) Exit(ctx context.Context, principalID string, role *Role) error {
	return m.runHooks(ctx, principalID, role, false)
}

func (m *RoleStateMachine) runHooks(ctx context.Context, principalID string, role *Role, enter bool) error {
	if role == nil {
		return nil
	}
	m.mu.RLock()
	var hooks []RoleHook
	if enter {
		hooks = append([]RoleHook(nil), m.enterHooks[role.Kind]...)
	} else {
		hooks = append([]RoleHook(nil), m.exitHooks[role.Kind]...)
	}
	m.mu.RUnlock()

	phase := "exit"
	if enter {
		phase = "enter"
	}
	for _, hook := range hooks {
		if err := m.runHook(ctx, hook, principalID, role); err != nil {
			m.log.Error("role hook failed", "phase", phase, "kind", string(role.Kind), "principal", principalID, "error", err.Error())
			return fmt.Errorf("%s hook for %s: %w", phase, role.Kind, err)
		}
	}
	return nil
}

// runHook converts a hook panic into an error so a buggy hook cannot take
// down the coordinator.
func (m *RoleStateMachine) runHook(ctx context.Context, hook RoleHook, principalID string, role *Role) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()
	return hook(ctx, principalID, role)
}
