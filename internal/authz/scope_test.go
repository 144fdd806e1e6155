package authz

import "testing"

func TestInScopeUnconstrainedWhenNoScopes(t *testing.T) {
	if !InScope(nil, map[string]string{"lob": "ltl"}) {
		t.Fatal("no scopes must mean unconstrained")
	}
	if !InScope([]PermissionScope{{Attributes: map[string][]string{"lob": {"ltl"}}}}, nil) {
		t.Fatal("no request attributes must mean in scope")
	}
}

func TestInScopeSingleDimension(t *testing.T) {
	scopes := []PermissionScope{
		{Attributes: map[string][]string{"lob": {"ltl", "ftl"}}},
	}
	if !InScope(scopes, map[string]string{"lob": "ltl"}) {
		t.Fatal("ltl should be in scope")
	}
	if InScope(scopes, map[string]string{"lob": "ocean"}) {
		t.Fatal("ocean should be out of scope")
	}
}

func TestInScopeUnionsAcrossRows(t *testing.T) {
	// Two scope rows for the same subject widen, never narrow.
	scopes := []PermissionScope{
		{Attributes: map[string][]string{"lob": {"ltl"}}},
		{Attributes: map[string][]string{"lob": {"ocean"}}},
	}
	for _, lob := range []string{"ltl", "ocean"} {
		if !InScope(scopes, map[string]string{"lob": lob}) {
			t.Errorf("lob %q should be in the unioned scope", lob)
		}
	}
	if InScope(scopes, map[string]string{"lob": "air"}) {
		t.Fatal("air is outside the union")
	}
}

func TestInScopeUnmentionedDimensionUnconstrained(t *testing.T) {
	scopes := []PermissionScope{
		{Attributes: map[string][]string{"lob": {"ltl"}}},
	}
	if !InScope(scopes, map[string]string{"lob": "ltl", "region": "west"}) {
		t.Fatal("dimensions no scope mentions are unconstrained")
	}
}

func TestConstraintsSatisfied(t *testing.T) {
	constraints := map[string][]string{"lob": {"ltl"}, "region": {}}
	if !constraintsSatisfied(constraints, map[string]string{"lob": "ltl"}) {
		t.Fatal("empty value list must be unconstrained")
	}
	if constraintsSatisfied(constraints, map[string]string{"lob": "ftl"}) {
		t.Fatal("wrong value must fail")
	}
	if constraintsSatisfied(map[string][]string{"lob": {"ltl"}}, nil) {
		t.Fatal("constrained dimension absent from the request must fail")
	}
}
