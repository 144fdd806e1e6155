package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lynxtms.io/internal/ids"
)

const (
	// defaultRequestWindow is how long an unapproved request stays
	// actionable before the sweeper expires it.
	defaultRequestWindow = 72 * time.Hour

	// defaultMaxGrantTTL caps materialized grants when the org has not
	// configured its own maximum.
	defaultMaxGrantTTL = 24 * time.Hour
)

// Workflow drives the access-request state machine:
//
//	pending → approved | denied | expired
//
// pending is the only non-terminal state. Approval materializes exactly
// one TemporaryPermission whose lifetime is capped by the org maximum.
type Workflow struct {
	store workflowStore
	now   func() time.Time
}

// workflowStore is the persistence slice the workflow needs.
type workflowStore interface {
	RequestStore
	GrantStore
	OrgPlan(ctx context.Context, orgID string) (OrgPlan, error)
}

// WorkflowOption configures Workflow behavior.
type WorkflowOption func(*Workflow)

// WithWorkflowClock overrides the time source (useful for tests).
func WithWorkflowClock(fn func() time.Time) WorkflowOption {
	return func(w *Workflow) {
		if fn != nil {
			w.now = fn
		}
	}
}

// NewWorkflow constructs the access-request workflow.
func NewWorkflow(store workflowStore, opts ...WorkflowOption) (*Workflow, error) {
	if store == nil {
		return nil, errors.New("authz: workflow store is required")
	}
	w := &Workflow{store: store, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Submit files a new pending request for a time-boxed permission.
func (w *Workflow) Submit(ctx context.Context, orgID, requesterID, permission, justification string, duration time.Duration) (AccessRequest, error) {
	orgID = strings.TrimSpace(orgID)
	requesterID = strings.TrimSpace(requesterID)
	permission = strings.TrimSpace(permission)
	if orgID == "" || requesterID == "" || permission == "" {
		return AccessRequest{}, fmt.Errorf("%w: org_id, requester_id and permission are required", ErrInvalidInput)
	}
	if duration <= 0 {
		return AccessRequest{}, fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	}
	now := w.now().UTC()
	req := AccessRequest{
		ID:             ids.New(),
		OrganizationID: orgID,
		RequesterID:    requesterID,
		Permission:     permission,
		Justification:  strings.TrimSpace(justification),
		Duration:       duration,
		Status:         RequestPending,
		ExpiresAt:      now.Add(defaultRequestWindow),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := w.store.CreateAccessRequest(ctx, &req); err != nil {
		return AccessRequest{}, err
	}
	return req, nil
}

// Approve transitions a pending request to approved and materializes its
// TemporaryPermission. The grant expiry is the requested duration capped
// by the organization's maximum; a request already past its own deadline
// is expired instead of granted.
func (w *Workflow) Approve(ctx context.Context, requestID, approverID string) (TemporaryPermission, error) {
	requestID = strings.TrimSpace(requestID)
	approverID = strings.TrimSpace(approverID)
	if requestID == "" || approverID == "" {
		return TemporaryPermission{}, fmt.Errorf("%w: request_id and approver_id are required", ErrInvalidInput)
	}
	req, err := w.store.AccessRequest(ctx, requestID)
	if err != nil {
		return TemporaryPermission{}, err
	}
	if req.Status != RequestPending {
		return TemporaryPermission{}, fmt.Errorf("%w: request is %s", ErrInvalidState, req.Status)
	}
	now := w.now().UTC()
	if !now.Before(req.ExpiresAt) {
		// An unapproved request is not silently grantable later.
		if err := w.store.TransitionAccessRequest(ctx, req.ID, RequestPending, RequestExpired, "", now); err != nil {
			return TemporaryPermission{}, err
		}
		return TemporaryPermission{}, fmt.Errorf("%w: request expired", ErrInvalidState)
	}

	ttl := req.Duration
	if max := w.maxGrantTTL(ctx, req.OrganizationID); ttl > max {
		ttl = max
	}
	grant := TemporaryPermission{
		ID:             ids.New(),
		OrganizationID: req.OrganizationID,
		UserID:         req.RequesterID,
		Permission:     req.Permission,
		GrantedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := w.store.TransitionAccessRequest(ctx, req.ID, RequestPending, RequestApproved, approverID, now); err != nil {
		return TemporaryPermission{}, err
	}
	if err := w.store.CreateTemporaryPermission(ctx, &grant); err != nil {
		return TemporaryPermission{}, err
	}
	return grant, nil
}

// Deny transitions a pending request to the terminal denied state.
func (w *Workflow) Deny(ctx context.Context, requestID, approverID string) error {
	requestID = strings.TrimSpace(requestID)
	approverID = strings.TrimSpace(approverID)
	if requestID == "" || approverID == "" {
		return fmt.Errorf("%w: request_id and approver_id are required", ErrInvalidInput)
	}
	req, err := w.store.AccessRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != RequestPending {
		return fmt.Errorf("%w: request is %s", ErrInvalidState, req.Status)
	}
	return w.store.TransitionAccessRequest(ctx, req.ID, RequestPending, RequestDenied, approverID, w.now().UTC())
}

func (w *Workflow) maxGrantTTL(ctx context.Context, orgID string) time.Duration {
	plan, err := w.store.OrgPlan(ctx, orgID)
	if err != nil || plan.MaxGrantTTL <= 0 {
		return defaultMaxGrantTTL
	}
	return plan.MaxGrantTTL
}
