package roleguard

import (
	"sync"
	"testing"
)

func TestRuleRegistryRoleAndActionFilters(t *testing.T) {
	rr := NewRuleRegistry()
	rr.Register(&PermissionRule{
		ID:           "channel-trade",
		ResourceType: "fund",
		ResourcePat:  "*",
		Roles:        []RoleKind{KindChannel},
		Actions:      []Action{"trade"},
		Class:        ClassUnrestricted,
	})

	if rr.Match(KindRegular, "fund", "fund_1", "trade", nil) != nil {
		t.Fatalf("role filter ignored")
	}
	if rr.Match(KindChannel, "fund", "fund_1", "view", nil) != nil {
		t.Fatalf("action filter ignored")
	}
	if rr.Match(KindChannel, "fund", "fund_1", "trade", nil) == nil {
		t.Fatalf("expected match for channel trade")
	}
	if rr.Match(KindChannel, "page", "fund_1", "trade", nil) != nil {
		t.Fatalf("resource type filter ignored")
	}
}

func TestRuleRegistryRemoveAndReplace(t *testing.T) {
	rr := NewRuleRegistry()
	rr.Register(&PermissionRule{ID: "a", ResourceType: "fund", ResourcePat: "*", Class: ClassReadOnly})
	rr.Register(&PermissionRule{ID: "b", ResourceType: "page", ResourcePat: "*", Class: ClassReadOnly})

	if !rr.Remove("a") {
		t.Fatalf("expected removal of a")
	}
	if rr.Remove("a") {
		t.Fatalf("double removal must report false")
	}
	if rr.Len() != 1 {
		t.Fatalf("expected 1 rule, got %d", rr.Len())
	}

	rr.Replace([]*PermissionRule{
		{ID: "c", ResourceType: "fund", ResourcePat: "*", Class: ClassUnrestricted},
	})
	if rr.Len() != 1 {
		t.Fatalf("replace did not reset the registry: %d", rr.Len())
	}
	if rr.Match(KindRegular, "page", "/x", "view", nil) != nil {
		t.Fatalf("replaced-away rule still matches")
	}
}

func TestStrategyTableChannelAreas(t *testing.T) {
	st := NewStrategyTable([]string{"page"}, []string{"channel-area"}, nil)

	if res := st.Check(KindRegular, "channel-area", "view"); res.Verdict != VerdictDeny || res.Class != ClassNeedsRoleSwitch {
		t.Fatalf("regular in channel area: %+v", res)
	}
	if res := st.Check(KindChannel, "channel-area", "view"); res.Verdict != VerdictAllow {
		t.Fatalf("channel in channel area: %+v", res)
	}
	if res := st.Check(KindAdmin, "channel-area", "view"); res.Verdict != VerdictAllow {
		t.Fatalf("admin must pass everywhere: %+v", res)
	}
	if res := st.Check(KindGuest, "page", "view"); res.Verdict != VerdictFallthrough {
		t.Fatalf("guest on public type must fall through: %+v", res)
	}
	if res := st.Check(KindGuest, "account", "view"); res.Class != ClassNeedsLogin {
		t.Fatalf("guest on private type: %+v", res)
	}
	if res := st.Check(RoleKind("bogus"), "page", "view"); res.Class != ClassFullyRestricted {
		t.Fatalf("unknown kind must fail closed: %+v", res)
	}
}

func TestStrategyTableConcurrentReconfigure(t *testing.T) {
	st := NewStrategyTable(nil, []string{"channel-area"}, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			st.Reconfigure(nil, []string{"channel-area"}, nil)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if res := st.Check(KindChannel, "channel-area", "view"); res.Verdict != VerdictAllow {
				t.Errorf("channel in channel area: %+v", res)
				return
			}
		}
	}()
	wg.Wait()
}
