package roleguard

import (
	"fmt"
	"time"
)

// Condition is an optional predicate attached to a permission or content
// rule. A rule with a failing condition is skipped, never inverted.
type Condition interface {
	Evaluate(rc *RequestContext) bool
	String() string
}

// TimeWindowCondition passes while the request's local wall-clock time falls
// inside [Start, End]. Windows crossing midnight are supported.
type TimeWindowCondition struct {
	Start string // "09:00"
	End   string // "18:00"
}

func (c *TimeWindowCondition) Evaluate(rc *RequestContext) bool {
	start, err := time.Parse("15:04", c.Start)
	if err != nil {
		return false
	}
	end, err := time.Parse("15:04", c.End)
	if err != nil {
		return false
	}
	t := rc.At()
	m := t.Hour()*60 + t.Minute()
	sm := start.Hour()*60 + start.Minute()
	em := end.Hour()*60 + end.Minute()
	if sm <= em {
		return m >= sm && m <= em
	}
	// window crosses midnight
	return m >= sm || m <= em
}

func (c *TimeWindowCondition) String() string {
	return fmt.Sprintf("time_between(%s,%s)", c.Start, c.End)
}

// DeviceCondition passes when the request device is one of the listed
// classes. An empty list passes for any device.
type DeviceCondition struct {
	Devices []DeviceClass
}

func (c *DeviceCondition) Evaluate(rc *RequestContext) bool {
	if len(c.Devices) == 0 {
		return true
	}
	dev := DeviceAny
	if rc != nil {
		dev = rc.Device
	}
	for _, d := range c.Devices {
		if d == dev || d == DeviceAny {
			return true
		}
	}
	return false
}

func (c *DeviceCondition) String() string {
	return fmt.Sprintf("device_in(%v)", c.Devices)
}

// PredicateCondition wraps a custom predicate supplied by the caller.
type PredicateCondition struct {
	Name string
	Fn   func(rc *RequestContext) bool
}

func (c *PredicateCondition) Evaluate(rc *RequestContext) bool {
	if c.Fn == nil {
		return false
	}
	return c.Fn(rc)
}

func (c *PredicateCondition) String() string {
	if c.Name != "" {
		return fmt.Sprintf("predicate(%s)", c.Name)
	}
	return "predicate"
}

// AndCondition passes when every child passes.
type AndCondition struct {
	All []Condition
}

func (c *AndCondition) Evaluate(rc *RequestContext) bool {
	for _, sub := range c.All {
		if sub == nil || !sub.Evaluate(rc) {
			return false
		}
	}
	return true
}

func (c *AndCondition) String() string {
	s := "and("
	for i, sub := range c.All {
		if i > 0 {
			s += ","
		}
		s += sub.String()
	}
	return s + ")"
}
