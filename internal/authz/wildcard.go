package authz

import "strings"

// MatchPermission reports whether a role's permission pattern covers the
// required dotted permission. Patterns are either literal ("loads.read"),
// the global wildcard ("*"), or a prefix with a trailing ".*" segment.
// The wildcard match is anchored at a literal dot boundary, so "loads.*"
// covers "loads.read" and "loads.board.view" but never "loadsX.read".
func MatchPermission(pattern, permission string) bool {
	if pattern == "" || permission == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if pattern == permission {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(permission, prefix)
	}
	return false
}

// ValidPattern rejects malformed permission patterns: a '*' is only
// meaningful alone or as the final ".*" segment.
func ValidPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if i := strings.IndexByte(pattern, '*'); i >= 0 {
		return strings.HasSuffix(pattern, ".*") && strings.Count(pattern, "*") == 1
	}
	return true
}

// matchAny returns the first pattern in the set that covers the
// permission, skipping malformed patterns.
func matchAny(patterns []string, permission string) (string, bool) {
	for _, p := range patterns {
		if !ValidPattern(p) {
			continue
		}
		if MatchPermission(p, permission) {
			return p, true
		}
	}
	return "", false
}

// SplitPermission breaks a dotted permission into the (resource, action)
// pair explicit policies are keyed by. The action is the final segment.
func SplitPermission(permission string) (resource, action string) {
	i := strings.LastIndexByte(permission, '.')
	if i < 0 {
		return permission, ""
	}
	return permission[:i], permission[i+1:]
}
