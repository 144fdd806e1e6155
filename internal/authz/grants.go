package authz

import "time"

// resolveGrant picks the best currently-valid temporary permission for
// the request from the candidate rows. Revoked or expired rows are
// skipped by timestamp comparison regardless of sweeper state. Among
// grants whose attribute constraints validate, the one with the fewest
// constrained dimensions wins (the most permissive match); multiple
// matches are not an error.
func resolveGrant(candidates []TemporaryPermission, attributes map[string]string, now time.Time) *TemporaryPermission {
	var best *TemporaryPermission
	bestDims := -1
	for i := range candidates {
		g := &candidates[i]
		if !g.ActiveAt(now) {
			continue
		}
		if !constraintsSatisfied(g.Attributes, attributes) {
			continue
		}
		dims := constrainedDimensions(g.Attributes)
		if best == nil || dims < bestDims {
			best = g
			bestDims = dims
		}
	}
	return best
}

func constrainedDimensions(constraints map[string][]string) int {
	n := 0
	for _, values := range constraints {
		if len(values) > 0 {
			n++
		}
	}
	return n
}
