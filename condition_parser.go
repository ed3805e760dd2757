package roleguard

import (
	"fmt"
	"regexp"
	"strings"
)

// ParseCondition parses a limited subset of expressive condition strings
// into the native Condition values used by the evaluators. This
// intentionally supports the commonly used patterns (time windows, device
// membership, attribute equality) while keeping parsing simple and
// deterministic. Clauses joined with "and" all have to hold.
func ParseCondition(s string) (Condition, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	clauses := splitClauses(s)
	if len(clauses) > 1 {
		all := make([]Condition, 0, len(clauses))
		for _, clause := range clauses {
			cond, err := ParseCondition(clause)
			if err != nil {
				return nil, err
			}
			if cond != nil {
				all = append(all, cond)
			}
		}
		return &AndCondition{All: all}, nil
	}

	// time window e.g., time between 09:00-18:00 or time between "09:00" and "18:00"
	timeRe := regexp.MustCompile(`^time\s+between\s+"?(\d{1,2}:\d{2})"?\s*(?:-|to)\s*"?(\d{1,2}:\d{2})"?$`)
	if m := timeRe.FindStringSubmatch(s); len(m) == 3 {
		return &TimeWindowCondition{Start: padClock(m[1]), End: padClock(m[2])}, nil
	}

	// device membership e.g., device in [mobile, desktop]
	deviceRe := regexp.MustCompile(`^device\s+in\s*\[([^\]]+)\]$`)
	if m := deviceRe.FindStringSubmatch(s); len(m) == 2 {
		parts := splitCSV(m[1])
		devices := make([]DeviceClass, 0, len(parts))
		for _, p := range parts {
			devices = append(devices, DeviceClass(p))
		}
		return &DeviceCondition{Devices: devices}, nil
	}

	// attribute equality e.g., attr.region == "eu"
	eqRe := regexp.MustCompile(`^attr\.([a-zA-Z0-9_]+)\s*==\s*("[^"]+"|[^\s]+)$`)
	if m := eqRe.FindStringSubmatch(s); len(m) == 3 {
		key := m[1]
		want := strings.Trim(m[2], `"`)
		return &PredicateCondition{
			Name: fmt.Sprintf("attr.%s==%s", key, want),
			Fn: func(rc *RequestContext) bool {
				if rc == nil || rc.Attrs == nil {
					return false
				}
				return fmt.Sprint(rc.Attrs[key]) == want
			},
		}, nil
	}

	return nil, fmt.Errorf("unsupported condition syntax: %s", s)
}

// splitClauses breaks "X and Y and Z" into top-level clauses, leaving the
// "and" inside time windows alone (those use - or to as separators).
func splitClauses(s string) []string {
	raw := regexp.MustCompile(`\s+and\s+`).Split(s, -1)
	out := make([]string, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		part := strings.TrimSpace(raw[i])
		// rejoin a time window split across its "and" separator
		if strings.HasPrefix(part, "time between") && i+1 < len(raw) && regexp.MustCompile(`^"?\d{1,2}:\d{2}"?$`).MatchString(strings.TrimSpace(raw[i+1])) {
			part = part + " to " + strings.Trim(strings.TrimSpace(raw[i+1]), `"`)
			i++
		}
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// padClock normalizes "9:00" into "15:04"-parseable "09:00".
func padClock(s string) string {
	if len(s) == 4 {
		return "0" + s
	}
	return s
}

// splitCSV splits items like `"a","b"` or `a, b` into trimmed, unquoted
// strings.
func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"'`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
