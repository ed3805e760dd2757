package roleguard

import (
	"sort"
	"sync"
	"time"

	"github.com/roleguard/roleguard/utils"
)

// PermissionRule grants an action class for matching requests. Rules are
// matched by resource type first, then by resource-id pattern, then filtered
// by role kind, action, and condition; the highest priority survivor wins.
type PermissionRule struct {
	ID           string      `json:"id"`
	ResourceType string      `json:"resource_type"`
	ResourcePat  string      `json:"resource_pattern"`
	Roles        []RoleKind  `json:"roles"`
	Actions      []Action    `json:"actions"`
	Class        ActionClass `json:"class"`
	Condition    Condition   `json:"-"`
	Priority     int         `json:"priority"`
	Message      string      `json:"message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

func (r *PermissionRule) allowsRole(kind RoleKind) bool {
	if len(r.Roles) == 0 {
		return true
	}
	for _, k := range r.Roles {
		if k == kind {
			return true
		}
	}
	return false
}

func (r *PermissionRule) allowsAction(action Action) bool {
	if len(r.Actions) == 0 {
		return true
	}
	for _, a := range r.Actions {
		if a == action || a == "*" {
			return true
		}
	}
	return false
}

// RuleRegistry indexes permission rules by resource type and keeps each
// bucket sorted by priority (descending) so evaluation walks survivors in
// winning order.
type RuleRegistry struct {
	mu     sync.RWMutex
	byType map[string][]*PermissionRule
}

func NewRuleRegistry() *RuleRegistry {
	return &RuleRegistry{byType: make(map[string][]*PermissionRule)}
}

// Register adds a rule and re-sorts its resource-type bucket.
func (rr *RuleRegistry) Register(rule *PermissionRule) {
	if rule == nil || rule.ResourceType == "" {
		return
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()
	bucket := append(rr.byType[rule.ResourceType], rule)
	sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].Priority > bucket[j].Priority })
	rr.byType[rule.ResourceType] = bucket
}

// Remove deletes the rule with the given id, reporting whether it existed.
func (rr *RuleRegistry) Remove(id string) bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	for rt, bucket := range rr.byType {
		for i, rule := range bucket {
			if rule.ID == id {
				rr.byType[rt] = append(bucket[:i], bucket[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Replace swaps the full rule set in one step (used by config application).
func (rr *RuleRegistry) Replace(rules []*PermissionRule) {
	byType := make(map[string][]*PermissionRule, len(rules))
	for _, rule := range rules {
		if rule == nil || rule.ResourceType == "" {
			continue
		}
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = time.Now()
		}
		byType[rule.ResourceType] = append(byType[rule.ResourceType], rule)
	}
	for rt := range byType {
		bucket := byType[rt]
		sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].Priority > bucket[j].Priority })
	}
	rr.mu.Lock()
	rr.byType = byType
	rr.mu.Unlock()
}

// Match returns the highest-priority rule surviving every filter, or nil.
func (rr *RuleRegistry) Match(kind RoleKind, resourceType, resourceID string, action Action, rc *RequestContext) *PermissionRule {
	rr.mu.RLock()
	bucket := rr.byType[resourceType]
	rr.mu.RUnlock()

	for _, rule := range bucket {
		if !utils.MatchResourceID(resourceID, rule.ResourcePat) {
			continue
		}
		if !rule.allowsRole(kind) || !rule.allowsAction(action) {
			continue
		}
		if rule.Condition != nil && !rule.Condition.Evaluate(rc) {
			continue
		}
		return rule
	}
	return nil
}

// Len reports the total number of registered rules.
func (rr *RuleRegistry) Len() int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	n := 0
	for _, bucket := range rr.byType {
		n += len(bucket)
	}
	return n
}
