package roleguard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oarkflow/date"
	"gopkg.in/yaml.v3"
)

// Config is the declarative engine configuration: permission rules, content
// visibility, strategy resource-type lists, seed principals, and runtime
// knobs.
type Config struct {
	Version      int                 `json:"version" yaml:"version"`
	Engine       EngineSettings      `json:"engine" yaml:"engine"`
	Strategy     StrategyConfig      `json:"strategy" yaml:"strategy"`
	Rules        []RuleConfig        `json:"rules" yaml:"rules"`
	ContentRules []ContentRuleConfig `json:"content_rules" yaml:"content_rules"`
	ContentTypes []ContentTypeConfig `json:"content_types" yaml:"content_types"`
	Principals   []PrincipalConfig   `json:"principals" yaml:"principals"`
}

type EngineSettings struct {
	DecisionCacheTTL   string `json:"decision_cache_ttl" yaml:"decision_cache_ttl"`
	BatchWorkerCount   int    `json:"batch_worker_count" yaml:"batch_worker_count"`
	SwitchRateLimit    int    `json:"switch_rate_limit" yaml:"switch_rate_limit"`
	SwitchRateWindow   string `json:"switch_rate_window" yaml:"switch_rate_window"`
	RolePermissionTTL  string `json:"role_permission_ttl" yaml:"role_permission_ttl"`
	SwitchHistoryLimit int    `json:"switch_history_limit" yaml:"switch_history_limit"`
}

type StrategyConfig struct {
	PublicTypes        []string `json:"public_types" yaml:"public_types"`
	ChannelTypes       []string `json:"channel_types" yaml:"channel_types"`
	InstitutionalTypes []string `json:"institutional_types" yaml:"institutional_types"`
}

type RuleConfig struct {
	ID           string   `json:"id" yaml:"id"`
	ResourceType string   `json:"resource_type" yaml:"resource_type"`
	Pattern      string   `json:"pattern" yaml:"pattern"`
	Roles        []string `json:"roles" yaml:"roles"`
	Actions      []string `json:"actions" yaml:"actions"`
	Class        string   `json:"class" yaml:"class"`
	Condition    string   `json:"condition" yaml:"condition"`
	Priority     int      `json:"priority" yaml:"priority"`
	Message      string   `json:"message" yaml:"message"`
}

type ContentRuleConfig struct {
	Pattern   string   `json:"pattern" yaml:"pattern"`
	Roles     []string `json:"roles" yaml:"roles"`
	Class     string   `json:"class" yaml:"class"`
	Condition string   `json:"condition" yaml:"condition"`
	Priority  int      `json:"priority" yaml:"priority"`
}

type ContentTypeConfig struct {
	Prefix string `json:"prefix" yaml:"prefix"`
	Type   string `json:"type" yaml:"type"`
	Tier   string `json:"tier" yaml:"tier"`
}

type PrincipalConfig struct {
	ID          string       `json:"id" yaml:"id"`
	CurrentRole string       `json:"current_role" yaml:"current_role"`
	Roles       []RoleConfig `json:"roles" yaml:"roles"`
}

type RoleConfig struct {
	ID        string `json:"id" yaml:"id"`
	Kind      string `json:"kind" yaml:"kind"`
	Name      string `json:"name" yaml:"name"`
	Status    string `json:"status" yaml:"status"`
	ExpiresAt string `json:"expires_at" yaml:"expires_at"` // flexible format
}

// ConfigLoader loads configuration from various formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile dispatches on the file extension; .json loads as JSON, anything
// else as YAML.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".json") {
		return l.LoadJSON(data)
	}
	return l.LoadYAML(data)
}

// ToYAML exports config to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ApplyConfig applies configuration to the engine: runtime knobs, strategy
// type lists, permission and content rules, and seed principals. It ends by
// invalidating cached decisions and announcing the update. Intended for
// startup and full reloads, not incremental changes.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Engine.DecisionCacheTTL != "" {
		ttl, err := time.ParseDuration(cfg.Engine.DecisionCacheTTL)
		if err != nil {
			return fmt.Errorf("decision_cache_ttl: %w", err)
		}
		e.evaluator.SetDecisionTTL(ttl)
	}
	if cfg.Engine.BatchWorkerCount > 0 {
		e.evaluator.SetBatchWorkers(cfg.Engine.BatchWorkerCount)
	}
	if cfg.Engine.SwitchRateLimit > 0 {
		window := defaultSwitchWindow
		if cfg.Engine.SwitchRateWindow != "" {
			w, err := time.ParseDuration(cfg.Engine.SwitchRateWindow)
			if err != nil {
				return fmt.Errorf("switch_rate_window: %w", err)
			}
			window = w
		}
		e.coordinator.SetRateLimit(cfg.Engine.SwitchRateLimit, window)
	}
	if cfg.Engine.RolePermissionTTL != "" {
		ttl, err := time.ParseDuration(cfg.Engine.RolePermissionTTL)
		if err != nil {
			return fmt.Errorf("role_permission_ttl: %w", err)
		}
		e.roleCache.SetTTL(ttl)
	}
	if cfg.Engine.SwitchHistoryLimit > 0 {
		e.coordinator.SetHistoryCap(cfg.Engine.SwitchHistoryLimit)
	}

	if len(cfg.Strategy.PublicTypes)+len(cfg.Strategy.ChannelTypes)+len(cfg.Strategy.InstitutionalTypes) > 0 {
		e.strategies.Reconfigure(cfg.Strategy.PublicTypes, cfg.Strategy.ChannelTypes, cfg.Strategy.InstitutionalTypes)
	}

	rules := make([]*PermissionRule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		rule, err := rc.build()
		if err != nil {
			return fmt.Errorf("rule %s: %w", rc.ID, err)
		}
		rules = append(rules, rule)
	}
	if len(rules) > 0 {
		e.registry.Replace(rules)
	}

	for _, crc := range cfg.ContentRules {
		rule, err := crc.build()
		if err != nil {
			return fmt.Errorf("content rule %s: %w", crc.Pattern, err)
		}
		e.content.RegisterRule(rule)
	}
	for _, ct := range cfg.ContentTypes {
		e.content.MapContentType(ct.Prefix, ct.Type, VisibilityTier(ct.Tier))
	}

	for _, pc := range cfg.Principals {
		info, err := pc.build()
		if err != nil {
			return fmt.Errorf("principal %s: %w", pc.ID, err)
		}
		e.coordinator.Register(info)
	}

	e.invalidateDecisions(ctx)
	e.log.Info("configuration applied",
		"rules", len(cfg.Rules),
		"content_rules", len(cfg.ContentRules),
		"principals", len(cfg.Principals),
	)
	return nil
}

func (rc RuleConfig) build() (*PermissionRule, error) {
	cond, err := ParseCondition(rc.Condition)
	if err != nil {
		return nil, err
	}
	roles, err := parseRoleKinds(rc.Roles)
	if err != nil {
		return nil, err
	}
	actions := make([]Action, 0, len(rc.Actions))
	for _, a := range rc.Actions {
		actions = append(actions, Action(a))
	}
	return &PermissionRule{
		ID:           rc.ID,
		ResourceType: rc.ResourceType,
		ResourcePat:  rc.Pattern,
		Roles:        roles,
		Actions:      actions,
		Class:        ActionClass(rc.Class),
		Condition:    cond,
		Priority:     rc.Priority,
		Message:      rc.Message,
		CreatedAt:    time.Now(),
	}, nil
}

func (crc ContentRuleConfig) build() (*ContentRule, error) {
	cond, err := ParseCondition(crc.Condition)
	if err != nil {
		return nil, err
	}
	roles, err := parseRoleKinds(crc.Roles)
	if err != nil {
		return nil, err
	}
	return &ContentRule{
		Pattern:   crc.Pattern,
		Roles:     roles,
		Class:     ActionClass(crc.Class),
		Condition: cond,
		Priority:  crc.Priority,
	}, nil
}

func (pc PrincipalConfig) build() (*PrincipalRoleInfo, error) {
	info := &PrincipalRoleInfo{PrincipalID: pc.ID, UpdatedAt: time.Now()}
	for _, rc := range pc.Roles {
		role, err := rc.build()
		if err != nil {
			return nil, err
		}
		info.Available = append(info.Available, role)
		if string(role.Kind) == pc.CurrentRole {
			info.Current = role
		}
	}
	if info.Current == nil && len(info.Available) > 0 {
		info.Current = info.Available[0]
	}
	return info, nil
}

func (rc RoleConfig) build() (*Role, error) {
	kind, ok := ParseRoleKind(rc.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown role kind %q", rc.Kind)
	}
	role := &Role{
		ID:        rc.ID,
		Kind:      kind,
		Name:      rc.Name,
		Status:    RoleStatus(rc.Status),
		CreatedAt: time.Now(),
	}
	if role.Status == "" {
		role.Status = StatusActive
	}
	if rc.ExpiresAt != "" {
		t, err := date.Parse(rc.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("expires_at %q: %w", rc.ExpiresAt, err)
		}
		role.ExpiresAt = t
	}
	return role, nil
}

func parseRoleKinds(names []string) ([]RoleKind, error) {
	kinds := make([]RoleKind, 0, len(names))
	for _, n := range names {
		kind, ok := ParseRoleKind(n)
		if !ok {
			return nil, fmt.Errorf("unknown role kind %q", n)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
