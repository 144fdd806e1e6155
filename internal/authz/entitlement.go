package authz

// entitlementOutcome separates "not entitled" from "nothing configured",
// which must deny as a configuration error rather than a plan miss.
type entitlementOutcome int

const (
	entitled entitlementOutcome = iota
	notEntitled
	entitlementMissing
)

// checkEntitlement decides whether the org's plan satisfies any active
// entitlement row for the feature: either the plan tier meets the row's
// required tier, or the org holds the row's named add-on.
func checkEntitlement(plan OrgPlan, rows []Entitlement) entitlementOutcome {
	sawActive := false
	for _, row := range rows {
		if !row.Active {
			continue
		}
		sawActive = true
		if row.RequiredTier != "" && plan.Tier.Meets(row.RequiredTier) {
			return entitled
		}
		if row.RequiredAddOn != "" && plan.HasAddOn(row.RequiredAddOn) {
			return entitled
		}
	}
	if !sawActive {
		return entitlementMissing
	}
	return notEntitled
}
