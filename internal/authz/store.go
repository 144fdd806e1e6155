package authz

import (
	"context"
	"time"
)

// PolicyReader is the read surface the evaluator walks on the hot path.
// Pure data access; no decision logic lives behind it.
type PolicyReader interface {
	Memberships(ctx context.Context, orgID, userID string) ([]Membership, error)
	RolesByIDs(ctx context.Context, roleIDs []string) ([]Role, error)
	CustomRolesForUser(ctx context.Context, orgID, userID string) ([]CustomRole, error)
	ScopesFor(ctx context.Context, orgID string, roleNames []string, subjectKey string) ([]PermissionScope, error)
	PoliciesFor(ctx context.Context, orgID, resource, action string) ([]AccessPolicy, error)
	OrgPlan(ctx context.Context, orgID string) (OrgPlan, error)
	EntitlementsFor(ctx context.Context, orgID, featureKey string) ([]Entitlement, error)
	TemporaryPermissionsFor(ctx context.Context, orgID, userID, permission string) ([]TemporaryPermission, error)
	APIKeyByID(ctx context.Context, id string) (APIKey, error)
}

// GrantStore creates and revokes temporary permissions.
type GrantStore interface {
	CreateTemporaryPermission(ctx context.Context, grant *TemporaryPermission) error
	RevokeTemporaryPermission(ctx context.Context, orgID, id string) error
}

// RequestStore persists the access-request workflow.
type RequestStore interface {
	CreateAccessRequest(ctx context.Context, req *AccessRequest) error
	AccessRequest(ctx context.Context, id string) (AccessRequest, error)
	TransitionAccessRequest(ctx context.Context, id string, from, to RequestStatus, decidedBy string, at time.Time) error
}

// KeyStore manages API-key credentials.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *APIKey) error
	APIKeyByHash(ctx context.Context, hash string) (APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// SweepStore holds the idempotent expiry transitions the sweeper runs.
// Every method flips flags on rows past their deadline and reports how
// many rows changed; none of them hard-delete, audit rows keep pointing
// at the expired state.
type SweepStore interface {
	ExpireTemporaryPermissions(ctx context.Context, now time.Time) (int64, error)
	ExpireAPIKeys(ctx context.Context, now time.Time) (int64, error)
	ExpireAccessRequests(ctx context.Context, now time.Time) (int64, error)
}

// AuditStore appends immutable decision records and serves compliance
// export queries.
type AuditStore interface {
	AppendDecision(ctx context.Context, rec *DecisionRecord) error
	DecisionsByOrg(ctx context.Context, orgID string, from, to time.Time, limit int) ([]DecisionRecord, error)
}

// Store is the composite persistence surface one backend implements.
type Store interface {
	PolicyReader
	GrantStore
	RequestStore
	KeyStore
	SweepStore
	AuditStore
}

// AuditSink durably records a decision. Implementations retry before
// giving up; the evaluator calls it for every decision, allow and deny.
type AuditSink interface {
	Record(ctx context.Context, rec *DecisionRecord) error
}
