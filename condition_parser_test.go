package roleguard

import (
	"testing"
	"time"
)

func TestParseConditionEmpty(t *testing.T) {
	cond, err := ParseCondition("")
	if err != nil || cond != nil {
		t.Fatalf("empty condition must parse to nil, got %v %v", cond, err)
	}
}

func TestParseConditionTimeWindow(t *testing.T) {
	for _, s := range []string{
		"time between 09:00-18:00",
		`time between "09:00" and "18:00"`,
		"time between 9:00 to 18:00",
	} {
		cond, err := ParseCondition(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		tw, ok := cond.(*TimeWindowCondition)
		if !ok {
			t.Fatalf("parse %q: expected TimeWindowCondition, got %T", s, cond)
		}
		if tw.Start != "09:00" || tw.End != "18:00" {
			t.Fatalf("parse %q: got %s-%s", s, tw.Start, tw.End)
		}
		if !cond.Evaluate(&RequestContext{Time: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}) {
			t.Fatalf("parse %q: noon must be inside the window", s)
		}
	}
}

func TestParseConditionDevice(t *testing.T) {
	cond, err := ParseCondition("device in [mobile, desktop]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cond.Evaluate(&RequestContext{Device: DeviceMobile}) {
		t.Fatalf("mobile must pass")
	}
	if cond.Evaluate(&RequestContext{Device: DeviceTablet}) {
		t.Fatalf("tablet must fail")
	}
}

func TestParseConditionAttrEquality(t *testing.T) {
	cond, err := ParseCondition(`attr.region == "eu"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cond.Evaluate(&RequestContext{Attrs: map[string]any{"region": "eu"}}) {
		t.Fatalf("matching attr must pass")
	}
	if cond.Evaluate(&RequestContext{Attrs: map[string]any{"region": "us"}}) {
		t.Fatalf("mismatched attr must fail")
	}
	if cond.Evaluate(nil) {
		t.Fatalf("missing context must fail")
	}
}

func TestParseConditionConjunction(t *testing.T) {
	cond, err := ParseCondition("time between 09:00-18:00 and device in [mobile]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	noon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	night := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)

	if !cond.Evaluate(&RequestContext{Time: noon, Device: DeviceMobile}) {
		t.Fatalf("both clauses hold, must pass")
	}
	if cond.Evaluate(&RequestContext{Time: night, Device: DeviceMobile}) {
		t.Fatalf("time clause fails, must fail")
	}
	if cond.Evaluate(&RequestContext{Time: noon, Device: DeviceDesktop}) {
		t.Fatalf("device clause fails, must fail")
	}
}

func TestParseConditionUnsupported(t *testing.T) {
	if _, err := ParseCondition("moon phase is full"); err == nil {
		t.Fatalf("expected error for unsupported syntax")
	}
}
