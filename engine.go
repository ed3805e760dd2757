package roleguard

import (
	"context"
	"fmt"
	"time"

	"github.com/roleguard/roleguard/logger"
	"github.com/roleguard/roleguard/stores"
)

// RoleSource is the authoritative role/permission backend. Calls go over an
// unreliable network: the engine applies no retries, callers supply their
// own deadline via ctx, and every failure is mapped to a safe default.
type RoleSource interface {
	FetchRoles(ctx context.Context, principalID string) (*PrincipalRoleInfo, error)
	FetchRolePermissions(ctx context.Context, kind RoleKind) ([]Permission, error)
	RequestRoleSwitch(ctx context.Context, principalID string, target RoleKind, reason string) (bool, string, error)
	ValidatePermission(ctx context.Context, req EvalRequest) (*Decision, error)
}

// Engine composes the evaluators, the state machine, the coordinator, and
// the cache tier behind one API. Construct with NewEngine and release with
// Close.
type Engine struct {
	source      RoleSource
	registry    *RuleRegistry
	strategies  *StrategyTable
	evaluator   *RuleEvaluator
	content     *ContentAccessEvaluator
	machine     *RoleStateMachine
	coordinator *SwitchCoordinator
	bus         *EventBus
	cache       *CacheTier
	roleCache   *RolePermissionCache
	log         logger.Logger
	traceID     logger.TraceIDFunc
}

// EngineOption customizes NewEngine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	log                logger.Logger
	traceID            logger.TraceIDFunc
	publicTypes        []string
	channelTypes       []string
	institutionalTypes []string
	decisionTTL        time.Duration
	rateLimit          int
	rateWindow         time.Duration
	cacheOpts          []CacheOption
	noWarmup           bool
}

// WithEngineLogger replaces the default structured logger.
func WithEngineLogger(l logger.Logger) EngineOption {
	return func(c *engineConfig) { c.log = l }
}

// WithTraceIDFunc sets the correlation-id generator attached to audit logs.
func WithTraceIDFunc(fn logger.TraceIDFunc) EngineOption {
	return func(c *engineConfig) { c.traceID = fn }
}

// WithPublicResourceTypes lists resource types guests may reach without
// signing in.
func WithPublicResourceTypes(types ...string) EngineOption {
	return func(c *engineConfig) { c.publicTypes = types }
}

// WithChannelResourceTypes lists resource types reserved for channel roles.
func WithChannelResourceTypes(types ...string) EngineOption {
	return func(c *engineConfig) { c.channelTypes = types }
}

// WithInstitutionalResourceTypes lists resource types reserved for
// institutional roles.
func WithInstitutionalResourceTypes(types ...string) EngineOption {
	return func(c *engineConfig) { c.institutionalTypes = types }
}

// WithDecisionTTL sets how long evaluation decisions stay cached.
func WithDecisionTTL(ttl time.Duration) EngineOption {
	return func(c *engineConfig) { c.decisionTTL = ttl }
}

// WithSwitchRateLimit replaces the default 3-per-60s switch window.
func WithSwitchRateLimit(limit int, window time.Duration) EngineOption {
	return func(c *engineConfig) { c.rateLimit = limit; c.rateWindow = window }
}

// WithCacheTierOptions forwards options to the underlying cache tier.
func WithCacheTierOptions(opts ...CacheOption) EngineOption {
	return func(c *engineConfig) { c.cacheOpts = append(c.cacheOpts, opts...) }
}

// WithoutWarmup disables the post-switch permission preload worker.
func WithoutWarmup() EngineOption {
	return func(c *engineConfig) { c.noWarmup = true }
}

// NewEngine wires the full engine. source must be non-nil; slow may be nil
// for a purely in-process cache (the fast tier still works).
func NewEngine(source RoleSource, slow stores.KVStore, opts ...EngineOption) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("nil role source")
	}
	cfg := &engineConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	log := cfg.log
	if log == nil {
		log = logger.NewPhusluLogger()
	}

	roleCache, err := NewRolePermissionCache()
	if err != nil {
		return nil, fmt.Errorf("building role permission cache: %w", err)
	}

	cacheOpts := append([]CacheOption{WithCacheLogger(log)}, cfg.cacheOpts...)
	cache := NewCacheTier(slow, cacheOpts...)
	bus := NewEventBus(log)
	registry := NewRuleRegistry()
	strategies := NewStrategyTable(cfg.publicTypes, cfg.channelTypes, cfg.institutionalTypes)
	machine := NewRoleStateMachine(log)
	coordinator := NewSwitchCoordinator(machine, cache, bus, log)
	if cfg.rateLimit > 0 {
		coordinator.SetRateLimit(cfg.rateLimit, cfg.rateWindow)
	}

	evaluator := NewRuleEvaluator(registry, strategies, cache, log)
	if cfg.decisionTTL > 0 {
		evaluator.SetDecisionTTL(cfg.decisionTTL)
	}

	e := &Engine{
		source:      source,
		registry:    registry,
		strategies:  strategies,
		evaluator:   evaluator,
		content:     NewContentAccessEvaluator(),
		machine:     machine,
		coordinator: coordinator,
		bus:         bus,
		cache:       cache,
		roleCache:   roleCache,
		log:         log,
		traceID:     cfg.traceID,
	}

	// Every switch is confirmed with the backend before it commits; a
	// rejection or network failure rolls the transition back.
	for _, kind := range AllRoleKinds {
		if kind == KindGuest {
			continue
		}
		machine.OnEnter(kind, e.confirmSwitchUpstream)
	}
	// Dropping to guest purges the principal's cached decisions.
	machine.OnEnter(KindGuest, func(ctx context.Context, principalID string, _ *Role) error {
		cache.DeleteByPattern(ctx, principalCachePattern(principalID))
		cache.Delete(ctx, userRoleCacheKey(principalID))
		return nil
	})

	if !cfg.noWarmup {
		coordinator.SetWarmup(func(ctx context.Context, principalID string, kind RoleKind) {
			if _, err := e.RolePermissions(ctx, kind); err != nil {
				log.Debug("post-switch permission preload failed", "principal", principalID, "kind", string(kind), "error", err.Error())
			}
		})
		coordinator.Start()
	}
	return e, nil
}

// Close releases background workers and caches.
func (e *Engine) Close() {
	e.coordinator.Stop()
	e.cache.Stop()
	e.roleCache.Close()
}

func (e *Engine) confirmSwitchUpstream(ctx context.Context, principalID string, role *Role) error {
	ok, message, err := e.source.RequestRoleSwitch(ctx, principalID, role.Kind, SwitchReason(ctx))
	if err != nil {
		return fmt.Errorf("confirming role switch upstream: %w", err)
	}
	if !ok {
		return fmt.Errorf("role switch rejected upstream: %s", message)
	}
	return nil
}

// ============================================================================
// PRINCIPAL LIFECYCLE
// ============================================================================

// Bootstrap fetches a principal's role state from the source and registers
// it. Call once per session before evaluating.
func (e *Engine) Bootstrap(ctx context.Context, principalID string) (*PrincipalRoleInfo, error) {
	info, err := e.source.FetchRoles(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("fetching roles for %s: %w", principalID, err)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrincipal, principalID)
	}
	info.PrincipalID = principalID
	e.coordinator.Register(info)
	e.cache.Set(ctx, userRoleCacheKey(principalID), string(info.CurrentKind()), e.evaluator.ttl)
	e.logAudit("principal bootstrapped", "principal", principalID, "role", string(info.CurrentKind()))
	return info.Clone(), nil
}

// Logout drops the principal's state, rate-limit window, and cached entries.
func (e *Engine) Logout(ctx context.Context, principalID string) {
	e.coordinator.Remove(ctx, principalID)
	e.logAudit("principal logged out", "principal", principalID)
}

// GetCurrentRole returns the principal's active role. ok is false for an
// unknown principal.
func (e *Engine) GetCurrentRole(principalID string) (*Role, bool) {
	info, ok := e.coordinator.Principal(principalID)
	if !ok || info.Current == nil {
		return nil, false
	}
	return info.Current, true
}

// GetAvailableRoles returns the roles a principal may switch into.
func (e *Engine) GetAvailableRoles(principalID string) []*Role {
	info, ok := e.coordinator.Principal(principalID)
	if !ok {
		return nil
	}
	return info.Available
}

// GetSwitchHistory returns the most recent switch attempts, oldest first.
func (e *Engine) GetSwitchHistory(principalID string, limit int) []SwitchRecord {
	return e.coordinator.History(principalID, limit)
}

// AddRole grants a role; an existing role of the same kind is replaced.
func (e *Engine) AddRole(principalID string, role *Role) error {
	return e.coordinator.AddRole(principalID, role)
}

// RemoveRole revokes a role kind. The current role cannot be removed.
func (e *Engine) RemoveRole(principalID string, kind RoleKind) error {
	return e.coordinator.RemoveRole(principalID, kind)
}

// ============================================================================
// EVALUATION
// ============================================================================

// Evaluate resolves one permission request for a known principal. Unknown
// principals evaluate as unauthenticated.
func (e *Engine) Evaluate(ctx context.Context, principalID, resourceType, resourceID string, action Action, rc *RequestContext) *Decision {
	info, _ := e.coordinator.Principal(principalID)
	return e.evaluator.Evaluate(ctx, info, resourceType, resourceID, action, rc)
}

// EvaluateBatch resolves many requests for one principal. Entries carrying
// their own Principal keep it; the rest get the resolved state. The caller's
// slice is left untouched.
func (e *Engine) EvaluateBatch(ctx context.Context, principalID string, requests []EvalRequest) []*Decision {
	info, _ := e.coordinator.Principal(principalID)
	reqs := make([]EvalRequest, len(requests))
	copy(reqs, requests)
	for i := range reqs {
		if reqs[i].Principal == nil {
			reqs[i].Principal = info
		}
	}
	return e.evaluator.EvaluateBatch(ctx, reqs)
}

// CheckContent resolves coarse content visibility under the principal's
// current role kind.
func (e *Engine) CheckContent(principalID, contentID string, rc *RequestContext) ActionClass {
	info, _ := e.coordinator.Principal(principalID)
	return e.content.CheckContent(contentID, info.CurrentKind(), rc)
}

// BatchCheckContent resolves visibility for many content ids at once.
func (e *Engine) BatchCheckContent(principalID string, contentIDs []string, rc *RequestContext) map[string]ActionClass {
	info, _ := e.coordinator.Principal(principalID)
	return e.content.BatchCheckContent(contentIDs, info.CurrentKind(), rc)
}

// CrossCheck asks the authoritative source to validate a request. Source
// failures map to fully-restricted: the engine fails closed.
func (e *Engine) CrossCheck(ctx context.Context, req EvalRequest) *Decision {
	dec, err := e.source.ValidatePermission(ctx, req)
	if err != nil || dec == nil {
		e.log.Error("remote permission validation failed", "resource", req.ResourceType+":"+req.ResourceID, "error", fmt.Sprint(err))
		return NewDecision(ClassFullyRestricted, "authoritative validation unavailable")
	}
	return dec
}

// ============================================================================
// SWITCHING
// ============================================================================

// SwitchRole transitions the principal to the target role kind, returning
// the updated state on success. reason is recorded in the switch history and
// forwarded to the backend confirmation.
func (e *Engine) SwitchRole(ctx context.Context, principalID string, target RoleKind, reason string) (*PrincipalRoleInfo, error) {
	return e.coordinator.SwitchRole(ctx, principalID, target, reason)
}

// SwitchRoleAsync starts the switch without blocking; the channel delivers
// the single outcome.
func (e *Engine) SwitchRoleAsync(ctx context.Context, principalID string, target RoleKind, reason string) <-chan SwitchResult {
	return e.coordinator.SwitchRoleAsync(ctx, principalID, target, reason)
}

// ============================================================================
// RULES AND PERMISSIONS
// ============================================================================

// RegisterRule adds a permission rule and invalidates cached decisions.
func (e *Engine) RegisterRule(ctx context.Context, rule *PermissionRule) {
	e.registry.Register(rule)
	e.invalidateDecisions(ctx)
}

// RemoveRule drops a permission rule by id.
func (e *Engine) RemoveRule(ctx context.Context, id string) bool {
	removed := e.registry.Remove(id)
	if removed {
		e.invalidateDecisions(ctx)
	}
	return removed
}

// RegisterContentRule adds a content visibility override.
func (e *Engine) RegisterContentRule(rule *ContentRule) {
	e.content.RegisterRule(rule)
}

// MapContentType associates a content-id prefix with a type and tier.
func (e *Engine) MapContentType(prefix, contentType string, tier VisibilityTier) {
	e.content.MapContentType(prefix, contentType, tier)
}

// OverrideStrategy replaces the strategy for one role kind.
func (e *Engine) OverrideStrategy(s RoleStrategy) {
	e.strategies.Override(s)
}

// RolePermissions returns a role kind's permission set, serving from cache
// and falling back to the source.
func (e *Engine) RolePermissions(ctx context.Context, kind RoleKind) ([]Permission, error) {
	if perms, ok := e.roleCache.Get(kind); ok {
		return perms, nil
	}
	perms, err := e.source.FetchRolePermissions(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("fetching permissions for %s: %w", kind, err)
	}
	e.roleCache.Set(kind, perms)
	e.cache.Set(ctx, rolePermissionsCacheKey(kind), perms, e.roleCache.ttl)
	return perms, nil
}

// InvalidateRolePermissions drops a role kind's cached permission set and
// announces the change.
func (e *Engine) InvalidateRolePermissions(ctx context.Context, kind RoleKind) {
	e.roleCache.Invalidate(kind)
	e.cache.Delete(ctx, rolePermissionsCacheKey(kind))
	e.bus.Publish(Event{Kind: EventPermissionsUpdated, Reason: "role permissions invalidated: " + string(kind)})
}

func (e *Engine) invalidateDecisions(ctx context.Context) {
	e.cache.DeleteByPattern(ctx, "permission_cache_permission_*")
	e.bus.Publish(Event{Kind: EventPermissionsUpdated, Reason: "rule set changed"})
}

// ============================================================================
// EVENTS
// ============================================================================

// Subscribe registers an observer for one event kind.
func (e *Engine) Subscribe(kind EventKind, handler EventHandler) func() {
	return e.bus.Subscribe(kind, handler)
}

// SubscribeVeto registers a pre-switch veto.
func (e *Engine) SubscribeVeto(veto VetoFunc) func() {
	return e.bus.SubscribeVeto(veto)
}

// StateMachine exposes transition legality for routing collaborators.
func (e *Engine) StateMachine() *RoleStateMachine {
	return e.machine
}

func (e *Engine) logAudit(msg string, keyvals ...any) {
	if e.traceID != nil {
		keyvals = append(keyvals, "trace_id", e.traceID())
	}
	e.log.Info(msg, keyvals...)
}
