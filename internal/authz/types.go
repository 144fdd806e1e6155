package authz

import "time"

// SubjectKind distinguishes human principals from API-key principals.
type SubjectKind string

const (
	SubjectUser   SubjectKind = "user"
	SubjectAPIKey SubjectKind = "api_key"
)

// Subject is the principal a check is evaluated for.
type Subject struct {
	Kind SubjectKind
	ID   string
}

// Effect is the outcome of a policy or a decision.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// MembershipStatus tracks a user's standing inside an organization.
type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipSuspended MembershipStatus = "suspended"
	MembershipPending   MembershipStatus = "pending"
)

// PlanTier is the organization's commercial subscription level.
type PlanTier string

const (
	TierFree       PlanTier = "free"
	TierPro        PlanTier = "pro"
	TierEnterprise PlanTier = "enterprise"
)

// Rank places tiers on the free < pro < enterprise ordering.
// Unknown tiers rank below free so they never satisfy a requirement.
func (t PlanTier) Rank() int {
	switch t {
	case TierFree:
		return 1
	case TierPro:
		return 2
	case TierEnterprise:
		return 3
	default:
		return 0
	}
}

// Meets reports whether the tier satisfies a required tier.
func (t PlanTier) Meets(required PlanTier) bool {
	return t.Rank() >= required.Rank() && required.Rank() > 0
}

// Role is a system-defined role. Immutable by tenants; seeded at bootstrap.
type Role struct {
	ID          string
	Name        string
	Permissions []string
	IsSystem    bool
	CreatedAt   time.Time
}

// CustomRole is a tenant-scoped role managed by org admins.
type CustomRole struct {
	ID             string
	OrganizationID string
	Name           string
	Permissions    []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Membership binds a user to a role within one organization.
type Membership struct {
	OrganizationID string
	UserID         string
	RoleID         string
	Status         MembershipStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ScopeSubjectType is what a PermissionScope is bound to.
type ScopeSubjectType string

const (
	ScopeSubjectRole ScopeSubjectType = "role"
	ScopeSubjectUser ScopeSubjectType = "user"
)

// PermissionScope narrows what an RBAC-granted permission may act upon.
// Attributes maps a dimension ("lob", "region") to its allowed values.
type PermissionScope struct {
	ID             string
	OrganizationID string
	SubjectType    ScopeSubjectType
	SubjectKey     string
	Attributes     map[string][]string
	CreatedAt      time.Time
}

// Operator compares a condition field against its values.
type Operator string

const (
	OpEquals    Operator = "eq"
	OpNotEquals Operator = "ne"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not_in"
)

// Condition is one clause of an AccessPolicy. Field is either
// "subject.id", "subject.kind", or a request attribute dimension.
type Condition struct {
	Field  string
	Op     Operator
	Values []string
}

// AccessPolicy is an explicit allow/deny override independent of roles.
// All conditions of a policy must hold for the policy to match.
type AccessPolicy struct {
	ID             string
	OrganizationID string
	Resource       string
	Action         string
	Effect         Effect
	Conditions     []Condition
	Active         bool
	CreatedAt      time.Time
}

// Entitlement gates a feature behind a plan tier or a purchased add-on.
type Entitlement struct {
	ID             string
	OrganizationID string
	FeatureKey     string
	RequiredTier   PlanTier
	RequiredAddOn  string
	Active         bool
	CreatedAt      time.Time
}

// OrgPlan is the organization's commercial state read by the
// entitlement checker and the grant-duration cap.
type OrgPlan struct {
	OrganizationID string
	Tier           PlanTier
	AddOns         []string
	MaxGrantTTL    time.Duration
}

// HasAddOn reports whether the org purchased the named add-on.
func (p OrgPlan) HasAddOn(name string) bool {
	if name == "" {
		return false
	}
	for _, a := range p.AddOns {
		if a == name {
			return true
		}
	}
	return false
}

// TemporaryPermission is a time-boxed exception to standing RBAC.
type TemporaryPermission struct {
	ID             string
	OrganizationID string
	UserID         string
	Permission     string
	Attributes     map[string][]string
	GrantedAt      time.Time
	ExpiresAt      time.Time
	Revoked        bool
}

// ActiveAt reports whether the grant is usable at the given instant.
// Expiry is checked by timestamp so correctness never depends on the
// sweeper having run.
func (g TemporaryPermission) ActiveAt(now time.Time) bool {
	return !g.Revoked && now.Before(g.ExpiresAt)
}

// RequestStatus is the access-request lifecycle state.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
	RequestExpired  RequestStatus = "expired"
)

// AccessRequest is a workflow object asking for a temporary permission.
type AccessRequest struct {
	ID             string
	OrganizationID string
	RequesterID    string
	Permission     string
	Justification  string
	Duration       time.Duration
	Status         RequestStatus
	ExpiresAt      time.Time
	DecidedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// APIKey is a non-human principal with a scoped permission list.
type APIKey struct {
	ID             string
	OrganizationID string
	Name           string
	KeyHash        string
	Permissions    []string
	ExpiresAt      time.Time
	Revoked        bool
	LastUsedAt     *time.Time
	CreatedAt      time.Time
}

// ActiveAt reports whether the key is usable at the given instant.
func (k APIKey) ActiveAt(now time.Time) bool {
	return !k.Revoked && now.Before(k.ExpiresAt)
}

// CheckRequest carries everything one evaluation needs.
type CheckRequest struct {
	OrganizationID string
	Subject        Subject
	Permission     string
	FeatureKey     string
	Attributes     map[string]string
	ResourceID     string
	TraceID        string
}

// Decision is the single allow/deny outcome of an evaluation.
type Decision struct {
	Effect      Effect
	Reason      Reason
	MatchedRule string
}

// Allowed is a convenience for transport layers.
func (d Decision) Allowed() bool { return d.Effect == EffectAllow }

// DecisionRecord is the append-only audit row written for every decision.
type DecisionRecord struct {
	ID             string
	OrganizationID string
	ActorKind      SubjectKind
	ActorID        string
	Action         string
	Resource       string
	ResourceID     string
	Decision       Effect
	Reason         Reason
	MatchedRule    string
	Attributes     map[string]string
	Metadata       map[string]string
	TraceID        string
	OccurredAt     time.Time
}
