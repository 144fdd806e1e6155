package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"lynxtms.io/internal/authz"
)

type checkRequest struct {
	OrganizationID string            `json:"organization_id"`
	SubjectKind    string            `json:"subject_kind"`
	SubjectID      string            `json:"subject_id"`
	Permission     string            `json:"permission"`
	FeatureKey     string            `json:"feature_key"`
	Attributes     map[string]string `json:"attributes"`
	ResourceID     string            `json:"resource_id"`
}

type checkResponse struct {
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason"`
	MatchedRule string `json:"matched_rule,omitempty"`
	TraceID     string `json:"trace_id"`
}

type entitlementRequest struct {
	OrganizationID string `json:"organization_id"`
	FeatureKey     string `json:"feature_key"`
}

type attributesRequest struct {
	OrganizationID string            `json:"organization_id"`
	UserID         string            `json:"user_id"`
	Attributes     map[string]string `json:"attributes"`
}

type recordDecisionRequest struct {
	OrganizationID string            `json:"organization_id"`
	SubjectKind    string            `json:"subject_kind"`
	SubjectID      string            `json:"subject_id"`
	Action         string            `json:"action"`
	Resource       string            `json:"resource"`
	ResourceID     string            `json:"resource_id"`
	Decision       string            `json:"decision"`
	Reason         string            `json:"reason"`
	MatchedRule    string            `json:"matched_rule"`
	Attributes     map[string]string `json:"attributes"`
}

func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.OrganizationID) == "" {
		writeError(w, r, http.StatusBadRequest, "organization_id is required")
		return
	}
	if strings.TrimSpace(req.Permission) == "" {
		writeError(w, r, http.StatusBadRequest, "permission is required")
		return
	}

	subject, err := resolveSubject(r, req.SubjectKind, req.SubjectID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	traceID := uuid.NewString()
	decision := a.evaluator.Evaluate(r.Context(), authz.CheckRequest{
		OrganizationID: req.OrganizationID,
		Subject:        subject,
		Permission:     req.Permission,
		FeatureKey:     req.FeatureKey,
		Attributes:     req.Attributes,
		ResourceID:     req.ResourceID,
		TraceID:        traceID,
	})

	writeJSON(w, http.StatusOK, checkResponse{
		Allowed:     decision.Allowed(),
		Reason:      string(decision.Reason),
		MatchedRule: decision.MatchedRule,
		TraceID:     traceID,
	})
}

// resolveSubject picks the check subject: an explicit subject in the body
// wins, otherwise an API-key caller asks about itself.
func resolveSubject(r *http.Request, kind, id string) (authz.Subject, error) {
	if strings.TrimSpace(id) != "" {
		switch authz.SubjectKind(kind) {
		case authz.SubjectAPIKey:
			return authz.Subject{Kind: authz.SubjectAPIKey, ID: id}, nil
		case authz.SubjectUser, "":
			return authz.Subject{Kind: authz.SubjectUser, ID: id}, nil
		default:
			return authz.Subject{}, errInvalidSubjectKind
		}
	}
	if key, ok := apiKeyFromContext(r.Context()); ok {
		return authz.Subject{Kind: authz.SubjectAPIKey, ID: key.ID}, nil
	}
	return authz.Subject{}, errSubjectRequired
}

func (a *API) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req entitlementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.OrganizationID) == "" || strings.TrimSpace(req.FeatureKey) == "" {
		writeError(w, r, http.StatusBadRequest, "organization_id and feature_key are required")
		return
	}
	entitled, err := a.evaluator.IsEntitled(r.Context(), req.OrganizationID, req.FeatureKey)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entitled": entitled,
	})
}

func (a *API) handleAttributes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req attributesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.OrganizationID) == "" || strings.TrimSpace(req.UserID) == "" {
		writeError(w, r, http.StatusBadRequest, "organization_id and user_id are required")
		return
	}
	inScope, err := a.evaluator.CheckAttributes(r.Context(), req.OrganizationID, req.UserID, req.Attributes)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"in_scope": inScope,
	})
}

// handleDecisions records a decision an external caller enforced locally.
func (a *API) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req recordDecisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.OrganizationID) == "" || strings.TrimSpace(req.SubjectID) == "" {
		writeError(w, r, http.StatusBadRequest, "organization_id and subject_id are required")
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		writeError(w, r, http.StatusBadRequest, "action is required")
		return
	}
	effect := authz.Effect(req.Decision)
	if effect != authz.EffectAllow && effect != authz.EffectDeny {
		writeError(w, r, http.StatusBadRequest, "decision must be allow or deny")
		return
	}
	kind := authz.SubjectKind(req.SubjectKind)
	if kind == "" {
		kind = authz.SubjectUser
	}
	rec := &authz.DecisionRecord{
		OrganizationID: req.OrganizationID,
		ActorKind:      kind,
		ActorID:        req.SubjectID,
		Action:         req.Action,
		Resource:       req.Resource,
		ResourceID:     req.ResourceID,
		Decision:       effect,
		Reason:         authz.Reason(req.Reason),
		MatchedRule:    req.MatchedRule,
		Attributes:     req.Attributes,
		Metadata:       map[string]string{"source": "external"},
		TraceID:        uuid.NewString(),
		OccurredAt:     time.Now().UTC(),
	}
	if err := a.sink.Record(r.Context(), rec); err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit write failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       rec.ID,
		"trace_id": rec.TraceID,
	})
}

func (a *API) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.requireAdmin(r); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}
	res, err := a.sweeper.Sweep(r.Context())
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"temporary_permissions": res.TemporaryPermissions,
		"api_keys":              res.APIKeys,
		"access_requests":       res.AccessRequests,
		"total":                 res.Total(),
	})
}
