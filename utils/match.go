package utils

import "strings"

// MatchResourceID checks a resource identifier against a rule pattern.
// Pattern grammar:
//   - '*' matches any substring (including the empty one); multiple stars
//     are allowed ("fund_*_report").
//   - A trailing '_' marks a prefix pattern: "channel_" matches everything
//     that starts with "channel_".
//   - Anything else is an exact match.
func MatchResourceID(id, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.ContainsRune(pattern, '*') {
		return matchWildcard(id, pattern)
	}
	if strings.HasSuffix(pattern, "_") {
		return strings.HasPrefix(id, pattern)
	}
	return id == pattern
}

// MatchKey checks a cache key against a '*'-wildcard pattern. Keys have no
// prefix shorthand, so a pattern without stars is an exact match.
func MatchKey(key, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.ContainsRune(pattern, '*') {
		return matchWildcard(key, pattern)
	}
	return key == pattern
}

// matchWildcard matches value against a pattern whose '*' segments match any
// substring. Literal segments must appear in order, anchored at both ends.
func matchWildcard(value, pattern string) bool {
	parts := strings.Split(pattern, "*")

	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]

	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(value, part)
		if idx < 0 {
			return false
		}
		value = value[idx+len(part):]
	}

	return strings.HasSuffix(value, last)
}
