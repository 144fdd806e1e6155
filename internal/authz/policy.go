package authz

// policyMatches reports whether every condition of the policy holds
// against the request. Conditions address the subject ("subject.id",
// "subject.kind") or a request attribute dimension by bare name; a
// policy with no conditions matches unconditionally.
func policyMatches(pol AccessPolicy, req CheckRequest) bool {
	if !pol.Active {
		return false
	}
	for _, c := range pol.Conditions {
		if !conditionHolds(c, req) {
			return false
		}
	}
	return true
}

func conditionHolds(c Condition, req CheckRequest) bool {
	actual, present := resolveConditionField(c.Field, req)
	switch c.Op {
	case OpEquals:
		return present && len(c.Values) > 0 && actual == c.Values[0]
	case OpNotEquals:
		return !present || len(c.Values) == 0 || actual != c.Values[0]
	case OpIn:
		return present && valueIn(actual, c.Values)
	case OpNotIn:
		return !present || !valueIn(actual, c.Values)
	default:
		// Unknown operators never satisfy.
		return false
	}
}

func resolveConditionField(field string, req CheckRequest) (string, bool) {
	switch field {
	case "subject.id":
		return req.Subject.ID, true
	case "subject.kind":
		return string(req.Subject.Kind), true
	default:
		v, ok := req.Attributes[field]
		return v, ok
	}
}

func valueIn(v string, values []string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
