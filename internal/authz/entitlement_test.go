package authz

import "testing"

func TestTierOrdering(t *testing.T) {
	if !TierEnterprise.Meets(TierPro) || !TierPro.Meets(TierFree) {
		t.Fatal("tier ordering broken")
	}
	if TierFree.Meets(TierPro) || TierPro.Meets(TierEnterprise) {
		t.Fatal("lower tiers must not satisfy higher requirements")
	}
	if PlanTier("unknown").Meets(TierFree) {
		t.Fatal("unknown tier must rank below free")
	}
	if TierEnterprise.Meets(PlanTier("")) {
		t.Fatal("an empty required tier is never satisfiable")
	}
}

func TestCheckEntitlementByTier(t *testing.T) {
	rows := []Entitlement{{FeatureKey: "edi.x12", RequiredTier: TierEnterprise, Active: true}}
	if got := checkEntitlement(OrgPlan{Tier: TierEnterprise}, rows); got != entitled {
		t.Fatalf("enterprise should be entitled, got %v", got)
	}
	if got := checkEntitlement(OrgPlan{Tier: TierPro}, rows); got != notEntitled {
		t.Fatalf("pro should not meet enterprise, got %v", got)
	}
}

func TestCheckEntitlementByAddOn(t *testing.T) {
	rows := []Entitlement{{FeatureKey: "edi.x12", RequiredTier: TierEnterprise, RequiredAddOn: "edi", Active: true}}
	plan := OrgPlan{Tier: TierFree, AddOns: []string{"edi"}}
	if got := checkEntitlement(plan, rows); got != entitled {
		t.Fatalf("add-on should satisfy the gate, got %v", got)
	}
}

func TestCheckEntitlementNoActiveRowsIsMisconfiguration(t *testing.T) {
	if got := checkEntitlement(OrgPlan{Tier: TierEnterprise}, nil); got != entitlementMissing {
		t.Fatalf("zero rows must be entitlementMissing, got %v", got)
	}
	inactive := []Entitlement{{FeatureKey: "edi.x12", RequiredTier: TierFree, Active: false}}
	if got := checkEntitlement(OrgPlan{Tier: TierEnterprise}, inactive); got != entitlementMissing {
		t.Fatalf("only-inactive rows must be entitlementMissing, got %v", got)
	}
}
