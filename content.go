package roleguard

import (
	"sort"
	"strings"
	"sync"

	"github.com/roleguard/roleguard/utils"
)

// VisibilityTier is the coarse audience of a content type.
type VisibilityTier string

const (
	TierVisibleToAll      VisibilityTier = "visible-to-all"
	TierRegularAndAbove   VisibilityTier = "regular-and-above"
	TierChannelOnly       VisibilityTier = "channel-only"
	TierInstitutionalOnly VisibilityTier = "institutional-only"
)

// ContentRule is a per-content or pattern-matched override. Pattern follows
// the shared grammar: `*` matches any substring, a trailing `_` matches the
// prefix, anything else matches exactly.
type ContentRule struct {
	Pattern   string      `json:"pattern"`
	Roles     []RoleKind  `json:"roles"`
	Class     ActionClass `json:"class"`
	Condition Condition   `json:"-"`
	Priority  int         `json:"priority"`
}

func (r *ContentRule) appliesTo(kind RoleKind) bool {
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

// ContentAccessEvaluator answers coarse, identifier-keyed visibility
// questions independently of the fine-grained rule registry. Resolution
// order, first match wins: exact rule, pattern rule, content-type tier
// matrix, role-kind default.
type ContentAccessEvaluator struct {
	mu       sync.RWMutex
	exact    map[string]*ContentRule
	patterns []*ContentRule

	// typePrefixes maps a contentId prefix to its content type; tiers maps
	// the content type to its audience.
	typePrefixes map[string]string
	tiers        map[string]VisibilityTier
}

// NewContentAccessEvaluator starts with an empty rule set and no type table.
func NewContentAccessEvaluator() *ContentAccessEvaluator {
	return &ContentAccessEvaluator{
		exact:        make(map[string]*ContentRule),
		typePrefixes: make(map[string]string),
		tiers:        make(map[string]VisibilityTier),
	}
}

// RegisterRule adds an override. Exact patterns (no `*`, no trailing `_`)
// replace any existing exact rule for the same id; pattern rules are kept
// sorted by priority descending.
func (c *ContentAccessEvaluator) RegisterRule(rule *ContentRule) {
	if rule == nil || rule.Pattern == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !strings.Contains(rule.Pattern, "*") && !strings.HasSuffix(rule.Pattern, "_") {
		c.exact[rule.Pattern] = rule
		return
	}
	c.patterns = append(c.patterns, rule)
	sort.SliceStable(c.patterns, func(i, j int) bool {
		return c.patterns[i].Priority > c.patterns[j].Priority
	})
}

// RemoveRule drops every rule registered under the given pattern.
func (c *ContentAccessEvaluator) RemoveRule(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.exact, pattern)
	kept := c.patterns[:0]
	for _, r := range c.patterns {
		if r.Pattern != pattern {
			kept = append(kept, r)
		}
	}
	c.patterns = kept
}

// MapContentType associates a contentId prefix with a content type and the
// type with a visibility tier.
func (c *ContentAccessEvaluator) MapContentType(prefix, contentType string, tier VisibilityTier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typePrefixes[prefix] = contentType
	c.tiers[contentType] = tier
}

// CheckContent resolves the action class for one content identifier under
// the given role kind. It never returns an error: unknown identifiers fall
// through to the role-kind default.
func (c *ContentAccessEvaluator) CheckContent(contentID string, kind RoleKind, rc *RequestContext) ActionClass {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if rule, ok := c.exact[contentID]; ok && rule.appliesTo(kind) && conditionHolds(rule.Condition, rc) {
		return rule.Class
	}
	for _, rule := range c.patterns {
		if !utils.MatchResourceID(contentID, rule.Pattern) {
			continue
		}
		if rule.appliesTo(kind) && conditionHolds(rule.Condition, rc) {
			return rule.Class
		}
	}
	if tier, ok := c.tierFor(contentID); ok {
		return classForTier(tier, kind)
	}
	return roleDefaultClass(kind)
}

// BatchCheckContent evaluates every id independently. Ids are deduplicated
// by the map result.
func (c *ContentAccessEvaluator) BatchCheckContent(contentIDs []string, kind RoleKind, rc *RequestContext) map[string]ActionClass {
	results := make(map[string]ActionClass, len(contentIDs))
	for _, id := range contentIDs {
		results[id] = c.CheckContent(id, kind, rc)
	}
	return results
}

// tierFor infers the content type from the longest matching id prefix.
// Callers hold at least the read lock.
func (c *ContentAccessEvaluator) tierFor(contentID string) (VisibilityTier, bool) {
	best := ""
	for prefix := range c.typePrefixes {
		if strings.HasPrefix(contentID, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return "", false
	}
	tier, ok := c.tiers[c.typePrefixes[best]]
	return tier, ok
}

func conditionHolds(cond Condition, rc *RequestContext) bool {
	if cond == nil {
		return true
	}
	return cond.Evaluate(rc)
}

// classForTier maps the static visibility matrix. Admin is unrestricted in
// every tier.
func classForTier(tier VisibilityTier, kind RoleKind) ActionClass {
	if kind == KindAdmin {
		return ClassUnrestricted
	}
	switch tier {
	case TierVisibleToAll:
		return ClassUnrestricted
	case TierRegularAndAbove:
		if kind == KindGuest {
			return ClassNeedsLogin
		}
		return ClassUnrestricted
	case TierChannelOnly:
		switch kind {
		case KindChannel:
			return ClassUnrestricted
		case KindGuest:
			return ClassNeedsLogin
		default:
			return ClassNeedsRoleSwitch
		}
	case TierInstitutionalOnly:
		switch kind {
		case KindInstitutional:
			return ClassUnrestricted
		case KindGuest:
			return ClassNeedsLogin
		default:
			return ClassNeedsRoleSwitch
		}
	}
	return ClassFullyRestricted
}

func roleDefaultClass(kind RoleKind) ActionClass {
	switch kind {
	case KindGuest:
		return ClassNeedsLogin
	case KindRegular:
		return ClassReadOnly
	case KindChannel, KindInstitutional, KindAdmin:
		return ClassUnrestricted
	}
	return ClassFullyRestricted
}
