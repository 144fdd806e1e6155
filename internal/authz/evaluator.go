package authz

import (
	"context"
	"errors"
	"time"

	"lynxtms.io/internal/ids"
	"lynxtms.io/internal/obs"
)

// Evaluator orchestrates the policy sources into a single allow/deny
// decision with a fixed precedence order:
//
//	kill switch → entitlement gate → explicit deny policies →
//	role expansion → RBAC match → ABAC narrowing → temporary grants
//
// Each step short-circuits on deny and continues on no-match. Every
// decision resolves to exactly Allow or Deny, and every decision is
// handed to the audit sink before it is returned.
type Evaluator struct {
	store PolicyReader
	audit AuditSink
	kill  *KillSwitch
	now   func() time.Time
}

// EvaluatorOption configures Evaluator behavior.
type EvaluatorOption func(*Evaluator) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) EvaluatorOption {
	return func(e *Evaluator) error {
		if fn != nil {
			e.now = fn
		}
		return nil
	}
}

// WithKillSwitch attaches the process-wide emergency gate.
func WithKillSwitch(k *KillSwitch) EvaluatorOption {
	return func(e *Evaluator) error {
		e.kill = k
		return nil
	}
}

// NewEvaluator constructs an Evaluator. Both the store and the audit
// sink are required: an engine that cannot record decisions must not
// make them.
func NewEvaluator(store PolicyReader, audit AuditSink, opts ...EvaluatorOption) (*Evaluator, error) {
	if store == nil {
		return nil, errors.New("authz: policy reader is required")
	}
	if audit == nil {
		return nil, errors.New("authz: audit sink is required")
	}
	e := &Evaluator{store: store, audit: audit, now: time.Now}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// permissionSource is one mechanism that can grant a permission: a
// system role, a tenant custom role, or an API key's scoped list.
type permissionSource struct {
	rule     string // audit identifier, e.g. "role:admin"
	roleName string // set only for role-backed sources, used for scope lookup
	patterns []string
}

// Evaluate runs the full decision pipeline for one request. It never
// returns an error: store failures, timeouts, and malformed input all
// fold into a fail-closed deny with the corresponding reason.
func (e *Evaluator) Evaluate(ctx context.Context, req CheckRequest) Decision {
	started := time.Now()
	now := e.now().UTC()
	resource, action := SplitPermission(req.Permission)

	meta := map[string]string{}
	finish := func(d Decision) Decision {
		e.record(ctx, req, d, resource, now, meta)
		obs.ObserveDecision(string(d.Effect), string(d.Reason), time.Since(started))
		return d
	}

	if req.OrganizationID == "" || req.Subject.ID == "" || req.Permission == "" {
		return finish(Decision{Effect: EffectDeny, Reason: ReasonConfigurationError, MatchedRule: "invalid_request"})
	}
	if err := ctx.Err(); err != nil {
		return finish(e.failure(err))
	}

	// Emergency stop gates everything, including entitlements.
	if e.kill != nil {
		if engaged, cause := e.kill.Engaged(); engaged {
			return finish(Decision{Effect: EffectDeny, Reason: ReasonKillSwitch, MatchedRule: "killswitch:" + cause})
		}
	}

	// Step 1: entitlement gate. Cheapest to check, dominates everything.
	if req.FeatureKey != "" {
		d, ok := e.entitlementGate(ctx, req.OrganizationID, req.FeatureKey)
		if !ok {
			return finish(d)
		}
	}

	// Step 2: explicit deny policies.
	policies, err := e.store.PoliciesFor(ctx, req.OrganizationID, resource, action)
	if err != nil {
		return finish(e.failure(err))
	}
	for _, pol := range policies {
		if pol.Effect == EffectDeny && policyMatches(pol, req) {
			return finish(Decision{Effect: EffectDeny, Reason: ReasonExplicitDeny, MatchedRule: "policy:" + pol.ID})
		}
	}

	// Steps 3-4: role resolution and RBAC match.
	sources, err := e.expandSources(ctx, req)
	if err != nil {
		return finish(e.failure(err))
	}
	if len(sources) == 0 {
		return finish(Decision{Effect: EffectDeny, Reason: ReasonNoRole})
	}

	var matched []permissionSource
	for _, src := range sources {
		if _, ok := matchAny(src.patterns, req.Permission); ok {
			matched = append(matched, src)
		}
	}

	if len(matched) > 0 {
		// Step 5: ABAC narrowing. A scope failure voids the RBAC allow
		// and falls through to temporary grants instead of denying
		// outright.
		inScope, err := e.inScopeFor(ctx, req, matched)
		if err != nil {
			return finish(e.failure(err))
		}
		if inScope {
			d := Decision{Effect: EffectAllow, Reason: ReasonGranted, MatchedRule: matched[0].rule}
			e.confirmAllowPolicy(policies, req, meta)
			return finish(d)
		}
		meta["rbac_voided"] = string(ReasonOutOfScope)
	}

	// Step 6: temporary grants. User subjects only; an API key that
	// failed its scoped list has nothing to fall back on.
	if req.Subject.Kind == SubjectUser {
		grants, err := e.store.TemporaryPermissionsFor(ctx, req.OrganizationID, req.Subject.ID, req.Permission)
		if err != nil {
			return finish(e.failure(err))
		}
		if g := resolveGrant(grants, req.Attributes, now); g != nil {
			d := Decision{Effect: EffectAllow, Reason: ReasonGranted, MatchedRule: "temp:" + g.ID}
			e.confirmAllowPolicy(policies, req, meta)
			return finish(d)
		}
	}

	return finish(Decision{Effect: EffectDeny, Reason: ReasonNoGrant})
}

// entitlementGate returns (deny, false) when the feature gate blocks the
// request, (zero, true) when evaluation may continue.
func (e *Evaluator) entitlementGate(ctx context.Context, orgID, featureKey string) (Decision, bool) {
	plan, err := e.store.OrgPlan(ctx, orgID)
	if err != nil {
		return e.failure(err), false
	}
	rows, err := e.store.EntitlementsFor(ctx, orgID, featureKey)
	if err != nil {
		return e.failure(err), false
	}
	switch checkEntitlement(plan, rows) {
	case entitled:
		return Decision{}, true
	case entitlementMissing:
		// A gated feature with no entitlement rows is misconfiguration,
		// not a plan miss. Fail closed.
		return Decision{Effect: EffectDeny, Reason: ReasonConfigurationError, MatchedRule: "entitlement:missing:" + featureKey}, false
	default:
		return Decision{Effect: EffectDeny, Reason: ReasonNotEntitled, MatchedRule: "entitlement:" + featureKey}, false
	}
}

// expandSources computes the subject's heterogeneous permission sources:
// membership roles plus custom roles for users, the scoped list for API
// keys. Suspended and pending memberships contribute nothing.
func (e *Evaluator) expandSources(ctx context.Context, req CheckRequest) ([]permissionSource, error) {
	now := e.now().UTC()

	if req.Subject.Kind == SubjectAPIKey {
		key, err := e.store.APIKeyByID(ctx, req.Subject.ID)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		// Expired or revoked keys are absent even before the sweeper
		// catches them, and a key never crosses its tenant boundary.
		if !key.ActiveAt(now) || key.OrganizationID != req.OrganizationID {
			return nil, nil
		}
		return []permissionSource{{rule: "key:" + key.ID, patterns: key.Permissions}}, nil
	}

	memberships, err := e.store.Memberships(ctx, req.OrganizationID, req.Subject.ID)
	if err != nil {
		return nil, err
	}
	var roleIDs []string
	for _, m := range memberships {
		if m.Status == MembershipActive {
			roleIDs = append(roleIDs, m.RoleID)
		}
	}
	var sources []permissionSource
	if len(roleIDs) > 0 {
		roles, err := e.store.RolesByIDs(ctx, roleIDs)
		if err != nil {
			return nil, err
		}
		for _, r := range roles {
			sources = append(sources, permissionSource{
				rule:     "role:" + r.Name,
				roleName: r.Name,
				patterns: r.Permissions,
			})
		}
	}
	custom, err := e.store.CustomRolesForUser(ctx, req.OrganizationID, req.Subject.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range custom {
		sources = append(sources, permissionSource{
			rule:     "custom_role:" + r.Name,
			roleName: r.Name,
			patterns: r.Permissions,
		})
	}
	return sources, nil
}

// inScopeFor loads the scopes bound to the matching roles and to the
// subject itself and checks the request attributes against them.
func (e *Evaluator) inScopeFor(ctx context.Context, req CheckRequest, matched []permissionSource) (bool, error) {
	var roleNames []string
	for _, src := range matched {
		if src.roleName != "" {
			roleNames = append(roleNames, src.roleName)
		}
	}
	scopes, err := e.store.ScopesFor(ctx, req.OrganizationID, roleNames, req.Subject.ID)
	if err != nil {
		return false, err
	}
	return InScope(scopes, req.Attributes), nil
}

// confirmAllowPolicy records a matching explicit allow policy for
// traceability. Allow policies document intent; they never grant access
// on their own.
func (e *Evaluator) confirmAllowPolicy(policies []AccessPolicy, req CheckRequest, meta map[string]string) {
	for _, pol := range policies {
		if pol.Effect == EffectAllow && policyMatches(pol, req) {
			meta["allow_policy"] = pol.ID
			return
		}
	}
}

// failure maps an infrastructure error onto the fail-closed taxonomy.
func (e *Evaluator) failure(err error) Decision {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Decision{Effect: EffectDeny, Reason: ReasonEvaluationTimeout, MatchedRule: "timeout"}
	}
	return Decision{Effect: EffectDeny, Reason: ReasonStoreUnavailable, MatchedRule: "store_error"}
}

// record writes the audit row for a finished decision. The sink owns
// durability; it retries before reporting failure, and a failed write is
// surfaced through metrics rather than by blocking the caller forever.
func (e *Evaluator) record(ctx context.Context, req CheckRequest, d Decision, resource string, now time.Time, meta map[string]string) {
	rec := &DecisionRecord{
		ID:             ids.At(now),
		OrganizationID: req.OrganizationID,
		ActorKind:      req.Subject.Kind,
		ActorID:        req.Subject.ID,
		Action:         req.Permission,
		Resource:       resource,
		ResourceID:     req.ResourceID,
		Decision:       d.Effect,
		Reason:         d.Reason,
		MatchedRule:    d.MatchedRule,
		Attributes:     req.Attributes,
		TraceID:        req.TraceID,
		OccurredAt:     now,
	}
	if len(meta) > 0 {
		rec.Metadata = meta
	}
	if err := e.audit.Record(ctx, rec); err != nil {
		obs.AuditWriteFailed()
		obs.LogRequest(map[string]any{
			"ts":     now.Format(time.RFC3339Nano),
			"level":  "error",
			"msg":    "audit write failed after retries",
			"org_id": req.OrganizationID,
			"actor":  req.Subject.ID,
			"action": req.Permission,
			"effect": string(d.Effect),
			"error":  err.Error(),
		})
	}
}

// IsEntitled answers the standalone has_entitlement operation.
func (e *Evaluator) IsEntitled(ctx context.Context, orgID, featureKey string) (bool, error) {
	if orgID == "" || featureKey == "" {
		return false, ErrInvalidInput
	}
	plan, err := e.store.OrgPlan(ctx, orgID)
	if err != nil {
		return false, err
	}
	rows, err := e.store.EntitlementsFor(ctx, orgID, featureKey)
	if err != nil {
		return false, err
	}
	return checkEntitlement(plan, rows) == entitled, nil
}

// CheckAttributes answers the standalone check_abac_attributes
// operation: whether the attributes fall inside every scope bound to the
// user's roles or to the user directly.
func (e *Evaluator) CheckAttributes(ctx context.Context, orgID, userID string, attributes map[string]string) (bool, error) {
	if orgID == "" || userID == "" {
		return false, ErrInvalidInput
	}
	memberships, err := e.store.Memberships(ctx, orgID, userID)
	if err != nil {
		return false, err
	}
	var roleIDs []string
	for _, m := range memberships {
		if m.Status == MembershipActive {
			roleIDs = append(roleIDs, m.RoleID)
		}
	}
	var roleNames []string
	if len(roleIDs) > 0 {
		roles, err := e.store.RolesByIDs(ctx, roleIDs)
		if err != nil {
			return false, err
		}
		for _, r := range roles {
			roleNames = append(roleNames, r.Name)
		}
	}
	custom, err := e.store.CustomRolesForUser(ctx, orgID, userID)
	if err != nil {
		return false, err
	}
	for _, r := range custom {
		roleNames = append(roleNames, r.Name)
	}
	scopes, err := e.store.ScopesFor(ctx, orgID, roleNames, userID)
	if err != nil {
		return false, err
	}
	return InScope(scopes, attributes), nil
}
