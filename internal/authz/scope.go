package authz

// InScope reports whether the request attributes fall inside the
// subject's permitted attribute ranges.
//
// Multiple scope rows for the same subject are additive: for each
// dimension the allowed sets of every scope mentioning that dimension
// are unioned, and the request value must be a member of the union.
// Dimensions no scope mentions are unconstrained, as are request
// attributes outside every scope.
func InScope(scopes []PermissionScope, attributes map[string]string) bool {
	if len(scopes) == 0 || len(attributes) == 0 {
		return true
	}
	allowed := make(map[string]map[string]struct{})
	for _, scope := range scopes {
		for dim, values := range scope.Attributes {
			set, ok := allowed[dim]
			if !ok {
				set = make(map[string]struct{}, len(values))
				allowed[dim] = set
			}
			for _, v := range values {
				set[v] = struct{}{}
			}
		}
	}
	for dim, value := range attributes {
		set, constrained := allowed[dim]
		if !constrained {
			continue
		}
		if _, ok := set[value]; !ok {
			return false
		}
	}
	return true
}

// constraintsSatisfied checks a single grant's attribute constraints
// against the request. Unlike scope rows, one grant's constraints are
// conjunctive across dimensions; a dimension with an empty value list is
// treated as unconstrained.
func constraintsSatisfied(constraints map[string][]string, attributes map[string]string) bool {
	for dim, values := range constraints {
		if len(values) == 0 {
			continue
		}
		got, present := attributes[dim]
		if !present {
			return false
		}
		found := false
		for _, v := range values {
			if v == got {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
