package roleguard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/roleguard/roleguard/logger"
)

const (
	defaultDecisionTTL  = 5 * time.Minute
	defaultBatchWorkers = 8
)

// Cache key layout shared with the slow tier (§ persisted state layout).
func decisionCacheKey(principalID string, kind RoleKind, action Action, resourceType, resourceID string) string {
	return fmt.Sprintf("permission_cache_permission_%s_%s_%s_%s_%s", principalID, kind, action, resourceType, resourceID)
}

func userRoleCacheKey(principalID string) string {
	return "permission_cache_user_role_" + principalID
}

func rolePermissionsCacheKey(kind RoleKind) string {
	return "permission_cache_role_permissions_" + string(kind)
}

// principalCachePattern matches every decision entry for one principal.
func principalCachePattern(principalID string) string {
	return "permission_cache_permission_" + principalID + "_*"
}

// RuleEvaluator decides whether a principal may perform an action on a
// resource. It consults the cache tier, then the current role's strategy,
// then the rule registry, and never returns an error for a well-formed
// request: internal failures map to fully-restricted.
type RuleEvaluator struct {
	registry   *RuleRegistry
	strategies *StrategyTable
	cache      *CacheTier
	ttl        time.Duration
	workers    int
	log        logger.Logger
}

// NewRuleEvaluator wires an evaluator. registry and strategies must be
// non-nil; cache may be nil for uncached evaluation (tests).
func NewRuleEvaluator(registry *RuleRegistry, strategies *StrategyTable, cache *CacheTier, log logger.Logger) *RuleEvaluator {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &RuleEvaluator{
		registry:   registry,
		strategies: strategies,
		cache:      cache,
		ttl:        defaultDecisionTTL,
		workers:    defaultBatchWorkers,
		log:        log,
	}
}

// SetDecisionTTL adjusts how long decisions stay cached.
func (e *RuleEvaluator) SetDecisionTTL(ttl time.Duration) {
	if ttl > 0 {
		e.ttl = ttl
	}
}

// SetBatchWorkers bounds EvaluateBatch fan-out.
func (e *RuleEvaluator) SetBatchWorkers(n int) {
	if n > 0 {
		e.workers = n
	}
}

// Evaluate resolves one permission request. It never panics across the API
// boundary: unexpected failures yield fully-restricted with a diagnostic.
func (e *RuleEvaluator) Evaluate(ctx context.Context, principal *PrincipalRoleInfo, resourceType, resourceID string, action Action, rc *RequestContext) (dec *Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("evaluation panic", "resource_type", resourceType, "resource_id", resourceID, "panic", r)
			dec = NewDecision(ClassFullyRestricted, fmt.Sprintf("internal evaluation error: %v", r))
		}
	}()

	if resourceType == "" || resourceID == "" || action == "" {
		return NewDecision(ClassFullyRestricted, "malformed request: resource type, resource id and action are required")
	}

	kind, authenticated := e.effectiveKind(principal)
	if !authenticated {
		return NewDecision(ClassNeedsLogin, "no active role, sign in required")
	}

	principalID := ""
	if principal != nil {
		principalID = principal.PrincipalID
	}
	key := decisionCacheKey(principalID, kind, action, resourceType, resourceID)
	if e.cache != nil {
		if v, ok := e.cache.Get(ctx, key); ok {
			if cached, ok := decodeCachedDecision(v); ok {
				return cached
			}
		}
	}

	dec = e.evaluateUncached(kind, resourceType, resourceID, action, rc)

	if e.cache != nil {
		e.cache.Set(ctx, key, dec, e.ttl)
	}
	e.log.Debug("permission evaluated",
		"principal", principalID,
		"role", string(kind),
		"resource", resourceType+":"+resourceID,
		"action", string(action),
		"class", string(dec.Class),
		"allowed", dec.Allowed,
	)
	return dec
}

// effectiveKind resolves the role kind to evaluate under. A missing,
// inactive, or expired current role is never used for a privileged check.
func (e *RuleEvaluator) effectiveKind(principal *PrincipalRoleInfo) (RoleKind, bool) {
	if principal == nil || principal.Current == nil {
		return KindGuest, false
	}
	if principal.Current.Kind == KindGuest {
		return KindGuest, true
	}
	if !principal.Current.Eligible(time.Now()) {
		return KindGuest, false
	}
	return principal.Current.Kind, true
}

func (e *RuleEvaluator) evaluateUncached(kind RoleKind, resourceType, resourceID string, action Action, rc *RequestContext) *Decision {
	res := e.strategies.Check(kind, resourceType, action)
	switch res.Verdict {
	case VerdictAllow:
		d := NewDecision(ClassUnrestricted, res.Message)
		d.MatchedBy = "strategy:" + string(kind)
		return d
	case VerdictDeny:
		d := NewDecision(res.Class, res.Message)
		d.MatchedBy = "strategy:" + string(kind)
		return d
	}

	rule := e.registry.Match(kind, resourceType, resourceID, action, rc)
	if rule == nil {
		return NewDecision(ClassFullyRestricted, "no permission rule matches this request")
	}
	d := NewDecision(rule.Class, rule.Message)
	d.MatchedBy = "rule:" + rule.ID
	return d
}

// EvaluateBatch resolves many requests, fanning work across a bounded worker
// pool. The result slice matches the input in length and order, and one
// entry's failure never affects another.
func (e *RuleEvaluator) EvaluateBatch(ctx context.Context, requests []EvalRequest) []*Decision {
	decisions := make([]*Decision, len(requests))
	if len(requests) == 0 {
		return decisions
	}

	workers := e.workers
	if workers > len(requests) {
		workers = len(requests)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				req := requests[i]
				decisions[i] = e.Evaluate(ctx, req.Principal, req.ResourceType, req.ResourceID, req.Action, req.Context)
			}
		}()
	}
	for i := range requests {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return decisions
}

// decodeCachedDecision handles both tiers: live *Decision values from the
// fast tier and json.RawMessage promoted from the slow tier.
func decodeCachedDecision(v any) (*Decision, bool) {
	switch d := v.(type) {
	case *Decision:
		return d, true
	case json.RawMessage:
		dec := &Decision{}
		if err := json.Unmarshal(d, dec); err != nil {
			return nil, false
		}
		return dec, true
	}
	return nil, false
}
