package authz

import (
	"testing"
	"time"
)

func TestResolveGrantSkipsExpiredAndRevoked(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	candidates := []TemporaryPermission{
		{ID: "expired", Permission: "loads.read", ExpiresAt: now.Add(-time.Hour)},
		{ID: "revoked", Permission: "loads.read", ExpiresAt: now.Add(time.Hour), Revoked: true},
	}
	if g := resolveGrant(candidates, nil, now); g != nil {
		t.Fatalf("resolved %s, want nil", g.ID)
	}
}

func TestResolveGrantHonorsConstraints(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	candidates := []TemporaryPermission{
		{ID: "ltl-only", ExpiresAt: now.Add(time.Hour), Attributes: map[string][]string{"lob": {"ltl"}}},
	}
	if g := resolveGrant(candidates, map[string]string{"lob": "ocean"}, now); g != nil {
		t.Fatalf("resolved %s outside its constraint", g.ID)
	}
	if g := resolveGrant(candidates, map[string]string{"lob": "ltl"}, now); g == nil || g.ID != "ltl-only" {
		t.Fatal("constrained grant should match its own lob")
	}
}

func TestResolveGrantPrefersFewestConstraints(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	candidates := []TemporaryPermission{
		{ID: "narrow", ExpiresAt: now.Add(time.Hour), Attributes: map[string][]string{"lob": {"ltl"}}},
		{ID: "broad", ExpiresAt: now.Add(time.Hour)},
	}
	g := resolveGrant(candidates, map[string]string{"lob": "ltl"}, now)
	if g == nil || g.ID != "broad" {
		t.Fatalf("want the unconstrained grant, got %v", g)
	}
}

func TestGrantExpiryIsExactBoundary(t *testing.T) {
	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := TemporaryPermission{ExpiresAt: expiry}
	if !g.ActiveAt(expiry.Add(-time.Nanosecond)) {
		t.Fatal("grant must be active strictly before expiry")
	}
	if g.ActiveAt(expiry) {
		t.Fatal("grant must be inactive at its expiry instant")
	}
}
