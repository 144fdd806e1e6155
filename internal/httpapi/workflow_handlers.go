package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"lynxtms.io/internal/auth"
	"lynxtms.io/internal/authz"
)

type submitRequestBody struct {
	Permission      string `json:"permission"`
	Justification   string `json:"justification"`
	DurationSeconds int64  `json:"duration_seconds"`
}

type mintKeyBody struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	TTLSeconds  int64    `json:"ttl_seconds"`
}

type accessRequestView struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	RequesterID    string    `json:"requester_id"`
	Permission     string    `json:"permission"`
	Justification  string    `json:"justification,omitempty"`
	Status         string    `json:"status"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func viewRequest(req authz.AccessRequest) accessRequestView {
	return accessRequestView{
		ID:             req.ID,
		OrganizationID: req.OrganizationID,
		RequesterID:    req.RequesterID,
		Permission:     req.Permission,
		Justification:  req.Justification,
		Status:         string(req.Status),
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      req.CreatedAt,
	}
}

// handleOrganizationResource routes /v1/organizations/{id}/...
func (a *API) handleOrganizationResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/organizations/")
	orgID, tail, ok := strings.Cut(rest, "/")
	if !ok || orgID == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch tail {
	case "audit":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.exportAudit(w, r, orgID)
	case "access-requests":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.submitAccessRequest(w, r, orgID)
	case "api-keys":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.mintAPIKey(w, r, orgID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleAccessRequestResource routes /v1/access-requests/{id}/approve|deny.
func (a *API) handleAccessRequestResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/access-requests/")
	id, verb, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.requireAdmin(r); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}
	approverID, _ := auth.UserIDFromContext(r.Context())

	switch verb {
	case "approve":
		grant, err := a.workflow.Approve(r.Context(), id, approverID)
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"grant_id":   grant.ID,
			"permission": grant.Permission,
			"expires_at": grant.ExpiresAt,
		})
	case "deny":
		if err := a.workflow.Deny(r.Context(), id, approverID); err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": string(authz.RequestDenied),
		})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleAPIKeyResource routes DELETE /v1/api-keys/{id}.
func (a *API) handleAPIKeyResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/api-keys/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.requireAdmin(r); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}
	if err := a.keys.Revoke(r.Context(), id); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) submitAccessRequest(w http.ResponseWriter, r *http.Request, orgID string) {
	var body submitRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	requesterID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "caller identity required")
		return
	}
	if strings.TrimSpace(body.Permission) == "" {
		writeError(w, r, http.StatusBadRequest, "permission is required")
		return
	}
	if body.DurationSeconds <= 0 {
		writeError(w, r, http.StatusBadRequest, "duration_seconds must be > 0")
		return
	}
	req, err := a.workflow.Submit(r.Context(), orgID, requesterID, body.Permission, body.Justification,
		time.Duration(body.DurationSeconds)*time.Second)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/access-requests/"+req.ID)
	writeJSON(w, http.StatusCreated, viewRequest(req))
}

func (a *API) mintAPIKey(w http.ResponseWriter, r *http.Request, orgID string) {
	if err := a.requireAdmin(r); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}
	var body mintKeyBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	if len(body.Permissions) == 0 {
		writeError(w, r, http.StatusBadRequest, "permissions are required")
		return
	}
	key, plaintext, err := a.keys.Mint(r.Context(), orgID, body.Name, body.Permissions,
		time.Duration(body.TTLSeconds)*time.Second)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	// The plaintext secret is returned exactly once and never stored.
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          key.ID,
		"name":        key.Name,
		"permissions": key.Permissions,
		"expires_at":  key.ExpiresAt,
		"key":         plaintext,
	})
}

func (a *API) exportAudit(w http.ResponseWriter, r *http.Request, orgID string) {
	if err := a.requireAdmin(r); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}
	q := r.URL.Query()
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)
	to := now
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		from = t
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		to = t
	}
	if !from.Before(to) {
		writeError(w, r, http.StatusBadRequest, "from must precede to")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}
	records, err := a.audits.DecisionsByOrg(r.Context(), orgID, from, to, limit)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": viewRecords(records),
		"as_of": now,
	})
}

type decisionView struct {
	ID          string            `json:"id"`
	ActorKind   string            `json:"actor_kind"`
	ActorID     string            `json:"actor_id"`
	Action      string            `json:"action"`
	Resource    string            `json:"resource,omitempty"`
	ResourceID  string            `json:"resource_id,omitempty"`
	Decision    string            `json:"decision"`
	Reason      string            `json:"reason"`
	MatchedRule string            `json:"matched_rule,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	TraceID     string            `json:"trace_id,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

func viewRecords(records []authz.DecisionRecord) []decisionView {
	out := make([]decisionView, 0, len(records))
	for _, rec := range records {
		out = append(out, decisionView{
			ID:          rec.ID,
			ActorKind:   string(rec.ActorKind),
			ActorID:     rec.ActorID,
			Action:      rec.Action,
			Resource:    rec.Resource,
			ResourceID:  rec.ResourceID,
			Decision:    string(rec.Decision),
			Reason:      string(rec.Reason),
			MatchedRule: rec.MatchedRule,
			Attributes:  rec.Attributes,
			Metadata:    rec.Metadata,
			TraceID:     rec.TraceID,
			OccurredAt:  rec.OccurredAt,
		})
	}
	return out
}
