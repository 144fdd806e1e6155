package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lynxtms.io/internal/audit"
	"lynxtms.io/internal/auth"
	"lynxtms.io/internal/authz"
)

// memStore is an in-memory authz.Store for handler tests.
type memStore struct {
	memberships []authz.Membership
	roles       map[string]authz.Role
	scopes      []authz.PermissionScope
	policies    []authz.AccessPolicy
	plan        authz.OrgPlan
	ents        []authz.Entitlement
	grants      map[string]authz.TemporaryPermission
	requests    map[string]authz.AccessRequest
	keys        map[string]authz.APIKey
	audits      []authz.DecisionRecord
}

var _ authz.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		roles:    make(map[string]authz.Role),
		grants:   make(map[string]authz.TemporaryPermission),
		requests: make(map[string]authz.AccessRequest),
		keys:     make(map[string]authz.APIKey),
	}
}

func (m *memStore) Memberships(ctx context.Context, orgID, userID string) ([]authz.Membership, error) {
	var out []authz.Membership
	for _, mem := range m.memberships {
		if mem.OrganizationID == orgID && mem.UserID == userID {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (m *memStore) RolesByIDs(ctx context.Context, roleIDs []string) ([]authz.Role, error) {
	var out []authz.Role
	for _, id := range roleIDs {
		if r, ok := m.roles[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) CustomRolesForUser(ctx context.Context, orgID, userID string) ([]authz.CustomRole, error) {
	return nil, nil
}

func (m *memStore) ScopesFor(ctx context.Context, orgID string, roleNames []string, subjectKey string) ([]authz.PermissionScope, error) {
	return m.scopes, nil
}

func (m *memStore) PoliciesFor(ctx context.Context, orgID, resource, action string) ([]authz.AccessPolicy, error) {
	var out []authz.AccessPolicy
	for _, p := range m.policies {
		if p.Resource == resource && p.Action == action && p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) OrgPlan(ctx context.Context, orgID string) (authz.OrgPlan, error) {
	return m.plan, nil
}

func (m *memStore) EntitlementsFor(ctx context.Context, orgID, featureKey string) ([]authz.Entitlement, error) {
	var out []authz.Entitlement
	for _, e := range m.ents {
		if e.FeatureKey == featureKey {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) TemporaryPermissionsFor(ctx context.Context, orgID, userID, permission string) ([]authz.TemporaryPermission, error) {
	var out []authz.TemporaryPermission
	for _, g := range m.grants {
		if g.UserID == userID && g.Permission == permission {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memStore) APIKeyByID(ctx context.Context, id string) (authz.APIKey, error) {
	key, ok := m.keys[id]
	if !ok {
		return authz.APIKey{}, authz.ErrNotFound
	}
	return key, nil
}

func (m *memStore) APIKeyByHash(ctx context.Context, hash string) (authz.APIKey, error) {
	for _, key := range m.keys {
		if key.KeyHash == hash {
			return key, nil
		}
	}
	return authz.APIKey{}, authz.ErrNotFound
}

func (m *memStore) CreateTemporaryPermission(ctx context.Context, grant *authz.TemporaryPermission) error {
	m.grants[grant.ID] = *grant
	return nil
}

func (m *memStore) RevokeTemporaryPermission(ctx context.Context, orgID, id string) error {
	g, ok := m.grants[id]
	if !ok {
		return authz.ErrNotFound
	}
	g.Revoked = true
	m.grants[id] = g
	return nil
}

func (m *memStore) CreateAccessRequest(ctx context.Context, req *authz.AccessRequest) error {
	m.requests[req.ID] = *req
	return nil
}

func (m *memStore) AccessRequest(ctx context.Context, id string) (authz.AccessRequest, error) {
	req, ok := m.requests[id]
	if !ok {
		return authz.AccessRequest{}, authz.ErrNotFound
	}
	return req, nil
}

func (m *memStore) TransitionAccessRequest(ctx context.Context, id string, from, to authz.RequestStatus, decidedBy string, at time.Time) error {
	req, ok := m.requests[id]
	if !ok {
		return authz.ErrNotFound
	}
	if req.Status != from {
		return authz.ErrConflict
	}
	req.Status = to
	req.DecidedBy = decidedBy
	req.UpdatedAt = at
	m.requests[id] = req
	return nil
}

func (m *memStore) CreateAPIKey(ctx context.Context, key *authz.APIKey) error {
	m.keys[key.ID] = *key
	return nil
}

func (m *memStore) RevokeAPIKey(ctx context.Context, id string) error {
	key, ok := m.keys[id]
	if !ok {
		return authz.ErrNotFound
	}
	key.Revoked = true
	m.keys[id] = key
	return nil
}

func (m *memStore) TouchAPIKey(ctx context.Context, id string, at time.Time) error { return nil }

func (m *memStore) ExpireTemporaryPermissions(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for id, g := range m.grants {
		if !g.Revoked && !now.Before(g.ExpiresAt) {
			g.Revoked = true
			m.grants[id] = g
			n++
		}
	}
	return n, nil
}

func (m *memStore) ExpireAPIKeys(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) ExpireAccessRequests(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) AppendDecision(ctx context.Context, rec *authz.DecisionRecord) error {
	m.audits = append(m.audits, *rec)
	return nil
}

func (m *memStore) DecisionsByOrg(ctx context.Context, orgID string, from, to time.Time, limit int) ([]authz.DecisionRecord, error) {
	var out []authz.DecisionRecord
	for _, rec := range m.audits {
		if rec.OrganizationID == orgID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func newTestAPI(t *testing.T, store *memStore) (*API, http.Handler) {
	t.Helper()
	sink, err := audit.NewSink(store)
	if err != nil {
		t.Fatal(err)
	}
	ev, err := authz.NewEvaluator(store, sink)
	if err != nil {
		t.Fatal(err)
	}
	wf, err := authz.NewWorkflow(store)
	if err != nil {
		t.Fatal(err)
	}
	keys, err := authz.NewKeyService(store)
	if err != nil {
		t.Fatal(err)
	}
	sw, err := authz.NewSweeper(store, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	api := New(ev, wf, keys, sw, store, sink, ReadyProbe{}, "test")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return api, api.Handler(ctx)
}

func setAuthSecret(t *testing.T) {
	t.Helper()
	t.Setenv("LYNX_AUTH_SECRET", "handler-test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)
}

func bearerFor(t *testing.T, userID string, roles []string) string {
	t.Helper()
	token, err := auth.GenerateToken(userID, "org1", roles, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + token
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzIsPublic(t *testing.T) {
	setAuthSecret(t)
	_, h := newTestAPI(t, newMemStore())
	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestCheckRequiresAuthentication(t *testing.T) {
	setAuthSecret(t)
	_, h := newTestAPI(t, newMemStore())
	rec := doJSON(t, h, http.MethodPost, "/v1/authz/check",
		`{"organization_id":"org1","subject_id":"u1","permission":"loads.read"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated check = %d, want 401", rec.Code)
	}
}

func TestCheckEndpoint(t *testing.T) {
	setAuthSecret(t)
	store := newMemStore()
	store.memberships = []authz.Membership{
		{OrganizationID: "org1", UserID: "u1", RoleID: "r_admin", Status: authz.MembershipActive},
	}
	store.roles["r_admin"] = authz.Role{ID: "r_admin", Name: "admin", Permissions: []string{"loads.*"}}
	_, h := newTestAPI(t, store)

	headers := map[string]string{"Authorization": bearerFor(t, "svc", nil)}

	rec := doJSON(t, h, http.MethodPost, "/v1/authz/check",
		`{"organization_id":"org1","subject_id":"u1","permission":"loads.read"}`, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("check = %d: %s", rec.Code, rec.Body)
	}
	var resp checkResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Allowed || resp.Reason != string(authz.ReasonGranted) || resp.MatchedRule != "role:admin" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.TraceID == "" {
		t.Fatal("trace id missing")
	}
	if len(store.audits) != 1 {
		t.Fatalf("decision must be audited, got %d rows", len(store.audits))
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/authz/check",
		`{"organization_id":"org1","subject_id":"u2","permission":"loads.read"}`, headers)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Allowed || resp.Reason != string(authz.ReasonNoRole) {
		t.Fatalf("roleless user must deny NoRole, got %+v", resp)
	}
}

func TestCheckValidation(t *testing.T) {
	setAuthSecret(t)
	_, h := newTestAPI(t, newMemStore())
	headers := map[string]string{"Authorization": bearerFor(t, "svc", nil)}

	cases := []string{
		`{"subject_id":"u1","permission":"loads.read"}`,
		`{"organization_id":"org1","subject_id":"u1"}`,
		`{"organization_id":"org1","permission":"loads.read"}`,
		`not json`,
	}
	for _, body := range cases {
		rec := doJSON(t, h, http.MethodPost, "/v1/authz/check", body, headers)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q = %d, want 400", body, rec.Code)
		}
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/authz/check", "", headers)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET check = %d, want 405", rec.Code)
	}
}

func TestAPIKeyCallerChecksItself(t *testing.T) {
	setAuthSecret(t)
	store := newMemStore()
	api, h := newTestAPI(t, store)

	key, plaintext, err := api.keys.Mint(context.Background(), "org1", "edi-bridge", []string{"edi.*"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/authz/check",
		`{"organization_id":"org1","permission":"edi.send"}`,
		map[string]string{"X-API-Key": plaintext})
	if rec.Code != http.StatusOK {
		t.Fatalf("key check = %d: %s", rec.Code, rec.Body)
	}
	var resp checkResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Allowed || resp.MatchedRule != "key:"+key.ID {
		t.Fatalf("unexpected response: %+v", resp)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/authz/check",
		`{"organization_id":"org1","permission":"edi.send"}`,
		map[string]string{"X-API-Key": "bogus.credential"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bogus key = %d, want 401", rec.Code)
	}
}

func TestEntitlementEndpoint(t *testing.T) {
	setAuthSecret(t)
	store := newMemStore()
	store.plan = authz.OrgPlan{Tier: authz.TierPro}
	store.ents = []authz.Entitlement{
		{FeatureKey: "analytics.advanced", RequiredTier: authz.TierPro, Active: true},
	}
	_, h := newTestAPI(t, store)
	headers := map[string]string{"Authorization": bearerFor(t, "svc", nil)}

	rec := doJSON(t, h, http.MethodPost, "/v1/authz/entitlement",
		`{"organization_id":"org1","feature_key":"analytics.advanced"}`, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("entitlement = %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Entitled bool `json:"entitled"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Entitled {
		t.Fatal("pro org should be entitled")
	}
}

func TestCleanupRequiresAdmin(t *testing.T) {
	setAuthSecret(t)
	store := newMemStore()
	store.grants["g1"] = authz.TemporaryPermission{
		ID: "g1", UserID: "u1", Permission: "loads.read",
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	_, h := newTestAPI(t, store)

	rec := doJSON(t, h, http.MethodPost, "/v1/authz/cleanup", "",
		map[string]string{"Authorization": bearerFor(t, "svc", nil)})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin cleanup = %d, want 403", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/authz/cleanup", "",
		map[string]string{"Authorization": bearerFor(t, "ops1", []string{"admin"})})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin cleanup = %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Total int64 `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 {
		t.Fatalf("total = %d, want 1", resp.Total)
	}
}

func TestAccessRequestLifecycleOverHTTP(t *testing.T) {
	setAuthSecret(t)
	store := newMemStore()
	_, h := newTestAPI(t, store)

	rec := doJSON(t, h, http.MethodPost, "/v1/organizations/org1/access-requests",
		`{"permission":"invoices.approve","justification":"quarter close","duration_seconds":14400}`,
		map[string]string{"Authorization": bearerFor(t, "u1", nil)})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit = %d: %s", rec.Code, rec.Body)
	}
	var created accessRequestView
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Status != string(authz.RequestPending) || created.RequesterID != "u1" {
		t.Fatalf("unexpected request: %+v", created)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/access-requests/"+created.ID+"/approve", "",
		map[string]string{"Authorization": bearerFor(t, "u1", nil)})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin approve = %d, want 403", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/access-requests/"+created.ID+"/approve", "",
		map[string]string{"Authorization": bearerFor(t, "mgr1", []string{"admin"})})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve = %d: %s", rec.Code, rec.Body)
	}
	var approved struct {
		GrantID string `json:"grant_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &approved); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.grants[approved.GrantID]; !ok {
		t.Fatal("approval must materialize a grant")
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/access-requests/"+created.ID+"/deny", "",
		map[string]string{"Authorization": bearerFor(t, "mgr1", []string{"admin"})})
	if rec.Code != http.StatusConflict {
		t.Fatalf("deny after approve = %d, want 409", rec.Code)
	}
}

func TestMintAndRevokeAPIKeyOverHTTP(t *testing.T) {
	setAuthSecret(t)
	store := newMemStore()
	_, h := newTestAPI(t, store)
	admin := map[string]string{"Authorization": bearerFor(t, "ops1", []string{"admin"})}

	rec := doJSON(t, h, http.MethodPost, "/v1/organizations/org1/api-keys",
		`{"name":"edi-bridge","permissions":["edi.*"],"ttl_seconds":3600}`, admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("mint = %d: %s", rec.Code, rec.Body)
	}
	var minted struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &minted); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(minted.Key, minted.ID+".") {
		t.Fatalf("plaintext credential malformed: %q", minted.Key)
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/api-keys/"+minted.ID, "", admin)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("revoke = %d: %s", rec.Code, rec.Body)
	}
	if !store.keys[minted.ID].Revoked {
		t.Fatal("key not revoked in store")
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/api-keys/missing", "", admin)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("revoke missing = %d, want 404", rec.Code)
	}
}

func TestAuditExportOverHTTP(t *testing.T) {
	setAuthSecret(t)
	store := newMemStore()
	store.audits = []authz.DecisionRecord{
		{ID: "a1", OrganizationID: "org1", ActorKind: authz.SubjectUser, ActorID: "u1",
			Action: "loads.read", Decision: authz.EffectAllow, Reason: authz.ReasonGranted,
			OccurredAt: time.Now().UTC()},
	}
	_, h := newTestAPI(t, store)
	admin := map[string]string{"Authorization": bearerFor(t, "ops1", []string{"admin"})}

	rec := doJSON(t, h, http.MethodGet, "/v1/organizations/org1/audit", "", admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("export = %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Items []decisionView `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "a1" {
		t.Fatalf("unexpected export: %+v", resp.Items)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/organizations/org1/audit?from=notatime", "", admin)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad from = %d, want 400", rec.Code)
	}
}

func TestRecordExternalDecision(t *testing.T) {
	setAuthSecret(t)
	store := newMemStore()
	_, h := newTestAPI(t, store)
	headers := map[string]string{"Authorization": bearerFor(t, "svc", nil)}

	rec := doJSON(t, h, http.MethodPost, "/v1/authz/decisions",
		`{"organization_id":"org1","subject_id":"u1","action":"loads.read","decision":"deny","reason":"NoRole"}`,
		headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("record = %d: %s", rec.Code, rec.Body)
	}
	if len(store.audits) != 1 || store.audits[0].Metadata["source"] != "external" {
		t.Fatalf("external decision not persisted: %+v", store.audits)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/authz/decisions",
		`{"organization_id":"org1","subject_id":"u1","action":"loads.read","decision":"maybe"}`,
		headers)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad effect = %d, want 400", rec.Code)
	}
}

func TestNotFoundRoutes(t *testing.T) {
	setAuthSecret(t)
	_, h := newTestAPI(t, newMemStore())
	headers := map[string]string{"Authorization": bearerFor(t, "ops1", []string{"admin"})}

	for _, path := range []string{"/v1/organizations/org1/unknown", "/v1/access-requests/x/unknown"} {
		rec := doJSON(t, h, http.MethodPost, path, "", headers)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s = %d, want 404", path, rec.Code)
		}
	}
}
