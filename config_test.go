package roleguard

import (
	"context"
	"testing"
	"time"

	"github.com/roleguard/roleguard/logger"
)

const testConfigYAML = `
version: 1
engine:
  decision_cache_ttl: 1m
  batch_worker_count: 4
  switch_rate_limit: 5
  switch_rate_window: 30s
strategy:
  public_types: [page]
  channel_types: [channel-area]
rules:
  - id: fund-view
    resource_type: fund
    pattern: "fund_*"
    roles: [regular, channel]
    actions: [view]
    class: read-only
    priority: 5
  - id: trading
    resource_type: fund
    pattern: "fund_*"
    roles: [channel]
    actions: [trade]
    class: unrestricted
    condition: "time between 09:00-18:00"
content_rules:
  - pattern: "promo_*"
    class: unrestricted
content_types:
  - prefix: channel_
    type: channel-area
    tier: channel-only
principals:
  - id: p1
    current_role: regular
    roles:
      - id: r1
        kind: regular
        name: Retail
      - id: r2
        kind: channel
        name: Channel Desk
        expires_at: "2030-01-02 15:04:05"
`

func newConfigTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(NewMemoryRoleSource(), nil, WithEngineLogger(logger.NewNullLogger()), WithoutWarmup())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng
}

func TestLoadYAMLAndApply(t *testing.T) {
	ctx := context.Background()
	cfg, err := NewConfigLoader().LoadYAML([]byte(testConfigYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Version != 1 || len(cfg.Rules) != 2 || len(cfg.Principals) != 1 {
		t.Fatalf("unexpected config shape: %+v", cfg)
	}

	eng := newConfigTestEngine(t)
	if err := eng.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("apply config: %v", err)
	}

	// seeded principal evaluates under the configured rules
	dec := eng.Evaluate(ctx, "p1", "fund", "fund_42", "view", nil)
	if dec.Class != ClassReadOnly {
		t.Fatalf("expected read-only from configured rule, got %s", dec.Class)
	}

	// configured content rule and type table
	if got := eng.CheckContent("p1", "promo_spring", nil); got != ClassUnrestricted {
		t.Fatalf("content rule not applied: %s", got)
	}
	if got := eng.CheckContent("p1", "channel_desk", nil); got != ClassNeedsRoleSwitch {
		t.Fatalf("content type table not applied: %s", got)
	}

	// configured strategy: guest stays out of non-public types
	guest := &PrincipalRoleInfo{PrincipalID: "g", Current: &Role{Kind: KindGuest, Status: StatusActive}}
	if dec := eng.evaluator.Evaluate(ctx, guest, "account", "acc_1", "view", nil); dec.Class != ClassNeedsLogin {
		t.Fatalf("strategy config not applied: %s", dec.Class)
	}
}

func TestApplyConfigFlexibleExpiry(t *testing.T) {
	cfg, err := NewConfigLoader().LoadYAML([]byte(testConfigYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	info, err := cfg.Principals[0].build()
	if err != nil {
		t.Fatalf("build principal: %v", err)
	}
	channel := info.FindAvailable(KindChannel)
	if channel == nil {
		t.Fatalf("channel role missing")
	}
	if channel.ExpiresAt.Year() != 2030 {
		t.Fatalf("expiry not parsed: %v", channel.ExpiresAt)
	}
	if !channel.Eligible(time.Now()) {
		t.Fatalf("future expiry must keep the role eligible")
	}
}

func TestApplyConfigRejectsBadInput(t *testing.T) {
	eng := newConfigTestEngine(t)
	ctx := context.Background()

	if err := eng.ApplyConfig(ctx, nil); err == nil {
		t.Fatalf("nil config must be rejected")
	}

	bad := &Config{Rules: []RuleConfig{{ID: "x", Roles: []string{"superuser"}}}}
	if err := eng.ApplyConfig(ctx, bad); err == nil {
		t.Fatalf("unknown role kind must be rejected")
	}

	bad = &Config{Rules: []RuleConfig{{ID: "y", Condition: "moon phase is full"}}}
	if err := eng.ApplyConfig(ctx, bad); err == nil {
		t.Fatalf("unparseable condition must be rejected")
	}

	bad = &Config{Engine: EngineSettings{DecisionCacheTTL: "soon"}}
	if err := eng.ApplyConfig(ctx, bad); err == nil {
		t.Fatalf("bad duration must be rejected")
	}
}

func TestConfigJSONRoundtrip(t *testing.T) {
	cfg, err := NewConfigLoader().LoadYAML([]byte(testConfigYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	data, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	again, err := NewConfigLoader().LoadJSON(data)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if len(again.Rules) != len(cfg.Rules) || again.Rules[1].Condition != cfg.Rules[1].Condition {
		t.Fatalf("json roundtrip lost rules")
	}
}
