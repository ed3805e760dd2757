package roleguard

import "sync"

// Verdict is a strategy's short-circuit result for one (resource, action).
type Verdict int

const (
	// VerdictFallthrough defers to the rule registry.
	VerdictFallthrough Verdict = iota
	// VerdictAllow grants unconditionally without consulting the registry.
	VerdictAllow
	// VerdictDeny denies with the strategy's action class immediately.
	VerdictDeny
)

// StrategyResult pairs a verdict with the class and message used when the
// verdict short-circuits.
type StrategyResult struct {
	Verdict Verdict
	Class   ActionClass
	Message string
}

func fallthroughResult() StrategyResult {
	return StrategyResult{Verdict: VerdictFallthrough}
}

func allowResult() StrategyResult {
	return StrategyResult{Verdict: VerdictAllow, Class: ClassUnrestricted}
}

func denyResult(class ActionClass, msg string) StrategyResult {
	return StrategyResult{Verdict: VerdictDeny, Class: class, Message: msg}
}

// RoleStrategy encodes role-kind-specific evaluation logic consulted before
// generic rule matching, so the evaluator never branches on role kind.
type RoleStrategy interface {
	Kind() RoleKind
	Check(resourceType string, action Action) StrategyResult
}

// strategyKey addresses one (resource-type, action) cell in a strategy table.
type strategyKey struct {
	resourceType string
	action       Action
}

// tableStrategy is a data-driven RoleStrategy: explicit cells first, then a
// per-resource-type row default, then the strategy default.
type tableStrategy struct {
	kind        RoleKind
	cells       map[strategyKey]StrategyResult
	typeDefault map[string]StrategyResult
	fallback    StrategyResult
}

func (s *tableStrategy) Kind() RoleKind { return s.kind }

func (s *tableStrategy) Check(resourceType string, action Action) StrategyResult {
	if res, ok := s.cells[strategyKey{resourceType, action}]; ok {
		return res
	}
	if res, ok := s.typeDefault[resourceType]; ok {
		return res
	}
	return s.fallback
}

// StrategyTable maps each role kind to its strategy. Lookups for unknown
// kinds fail closed. Safe for concurrent use.
type StrategyTable struct {
	mu         sync.RWMutex
	strategies map[RoleKind]RoleStrategy
}

// NewStrategyTable builds the default table. publicTypes lists resource
// types a guest may reach (their rules still decide the outcome);
// channelTypes and institutionalTypes name resource types reserved for those
// role kinds, which lower privileged roles see as needs-role-switch.
func NewStrategyTable(publicTypes, channelTypes, institutionalTypes []string) *StrategyTable {
	guest := &tableStrategy{
		kind:        KindGuest,
		cells:       map[strategyKey]StrategyResult{},
		typeDefault: map[string]StrategyResult{},
		fallback:    denyResult(ClassNeedsLogin, "sign in to continue"),
	}
	for _, rt := range publicTypes {
		guest.typeDefault[rt] = fallthroughResult()
	}

	regular := &tableStrategy{
		kind:        KindRegular,
		cells:       map[strategyKey]StrategyResult{},
		typeDefault: map[string]StrategyResult{},
		fallback:    fallthroughResult(),
	}
	channel := &tableStrategy{
		kind:        KindChannel,
		cells:       map[strategyKey]StrategyResult{},
		typeDefault: map[string]StrategyResult{},
		fallback:    fallthroughResult(),
	}
	institutional := &tableStrategy{
		kind:        KindInstitutional,
		cells:       map[strategyKey]StrategyResult{},
		typeDefault: map[string]StrategyResult{},
		fallback:    fallthroughResult(),
	}

	for _, rt := range channelTypes {
		regular.typeDefault[rt] = denyResult(ClassNeedsRoleSwitch, "switch to a channel role to access this area")
		institutional.typeDefault[rt] = denyResult(ClassNeedsRoleSwitch, "switch to a channel role to access this area")
		channel.typeDefault[rt] = allowResult()
	}
	for _, rt := range institutionalTypes {
		regular.typeDefault[rt] = denyResult(ClassNeedsRoleSwitch, "switch to an institutional role to access this area")
		channel.typeDefault[rt] = denyResult(ClassNeedsRoleSwitch, "switch to an institutional role to access this area")
		institutional.typeDefault[rt] = allowResult()
	}

	admin := &tableStrategy{
		kind:        KindAdmin,
		cells:       map[strategyKey]StrategyResult{},
		typeDefault: map[string]StrategyResult{},
		fallback:    allowResult(),
	}

	return &StrategyTable{strategies: map[RoleKind]RoleStrategy{
		KindGuest:         guest,
		KindRegular:       regular,
		KindChannel:       channel,
		KindInstitutional: institutional,
		KindAdmin:         admin,
	}}
}

// Reconfigure rebuilds the default strategies with new resource-type lists.
func (t *StrategyTable) Reconfigure(publicTypes, channelTypes, institutionalTypes []string) {
	rebuilt := NewStrategyTable(publicTypes, channelTypes, institutionalTypes).strategies
	t.mu.Lock()
	t.strategies = rebuilt
	t.mu.Unlock()
}

// Override replaces the strategy for one role kind (custom deployments).
func (t *StrategyTable) Override(s RoleStrategy) {
	if s == nil {
		return
	}
	t.mu.Lock()
	t.strategies[s.Kind()] = s
	t.mu.Unlock()
}

// Check dispatches to the registered strategy; unknown kinds deny.
func (t *StrategyTable) Check(kind RoleKind, resourceType string, action Action) StrategyResult {
	t.mu.RLock()
	s, ok := t.strategies[kind]
	t.mu.RUnlock()
	if ok {
		return s.Check(resourceType, action)
	}
	return denyResult(ClassFullyRestricted, "unknown role kind")
}
