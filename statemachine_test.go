package roleguard

import (
	"context"
	"errors"
	"testing"
)

func TestCanTransitionMatrix(t *testing.T) {
	m := NewRoleStateMachine(nil)

	cases := []struct {
		from, to RoleKind
		want     bool
	}{
		{KindGuest, KindRegular, true},
		{KindGuest, KindChannel, false},
		{KindGuest, KindAdmin, false},
		{KindRegular, KindChannel, true},
		{KindRegular, KindInstitutional, true},
		{KindRegular, KindAdmin, true},
		{KindChannel, KindRegular, true},
		{KindChannel, KindInstitutional, true},
		{KindInstitutional, KindChannel, true},
		{KindAdmin, KindGuest, true},
		{KindAdmin, KindRegular, true},
		{KindRegular, KindGuest, false},
		{KindRegular, KindRegular, false},
	}
	for _, c := range cases {
		if got := m.CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCanTransitionIsPure(t *testing.T) {
	m := NewRoleStateMachine(nil)
	ran := false
	m.OnEnter(KindChannel, func(ctx context.Context, principalID string, role *Role) error {
		ran = true
		return nil
	})
	m.CanTransition(KindRegular, KindChannel)
	if ran {
		t.Fatalf("CanTransition must not run hooks")
	}
}

func TestEnterExitHooks(t *testing.T) {
	m := NewRoleStateMachine(nil)
	var calls []string
	m.OnExit(KindRegular, func(ctx context.Context, principalID string, role *Role) error {
		calls = append(calls, "exit:"+principalID)
		return nil
	})
	m.OnEnter(KindChannel, func(ctx context.Context, principalID string, role *Role) error {
		calls = append(calls, "enter:"+principalID)
		return nil
	})

	ctx := context.Background()
	if err := m.Exit(ctx, "p1", &Role{Kind: KindRegular, Status: StatusActive}); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if err := m.Enter(ctx, "p1", &Role{Kind: KindChannel, Status: StatusActive}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if len(calls) != 2 || calls[0] != "exit:p1" || calls[1] != "enter:p1" {
		t.Fatalf("unexpected hook calls: %v", calls)
	}
}

func TestHookErrorPropagates(t *testing.T) {
	m := NewRoleStateMachine(nil)
	cause := errors.New("backend down")
	m.OnEnter(KindChannel, func(ctx context.Context, principalID string, role *Role) error {
		return cause
	})

	err := m.Enter(context.Background(), "p1", &Role{Kind: KindChannel, Status: StatusActive})
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped hook error, got %v", err)
	}
}

func TestHookPanicBecomesError(t *testing.T) {
	m := NewRoleStateMachine(nil)
	m.OnEnter(KindChannel, func(ctx context.Context, principalID string, role *Role) error {
		panic("boom")
	})

	if err := m.Enter(context.Background(), "p1", &Role{Kind: KindChannel, Status: StatusActive}); err == nil {
		t.Fatalf("expected error from panicking hook")
	}
}

func TestLegalTargetsCopy(t *testing.T) {
	m := NewRoleStateMachine(nil)
	targets := m.LegalTargets(KindRegular)
	if len(targets) != 3 {
		t.Fatalf("expected 3 targets from regular, got %v", targets)
	}
	targets[0] = KindGuest
	if m.CanTransition(KindRegular, KindGuest) {
		t.Fatalf("mutating the returned slice must not affect the machine")
	}
}
