// Package audit makes access decisions durable. Every evaluation, allow
// and deny alike, passes through the Sink before the decision reaches
// the caller; a denial that is not recorded is a security gap.
package audit

import (
	"context"
	"errors"
	"time"

	"lynxtms.io/internal/authz"
	"lynxtms.io/internal/obs"
)

// Appender is the durable backend the sink writes to.
type Appender interface {
	AppendDecision(ctx context.Context, rec *authz.DecisionRecord) error
}

// Sink writes decision records with bounded retry. Deny decisions retry
// harder than allows: an unrecorded deny is treated as a severity issue,
// while an allow write racing a shutdown may surface as a counted
// failure instead of blocking the hot path.
type Sink struct {
	store        Appender
	allowRetries int
	denyRetries  int
	backoff      time.Duration
	sleep        func(time.Duration)
}

// Option configures Sink behavior.
type Option func(*Sink)

// WithBackoff overrides the base retry backoff.
func WithBackoff(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.backoff = d
		}
	}
}

// WithSleep overrides the sleep function (useful for tests).
func WithSleep(fn func(time.Duration)) Option {
	return func(s *Sink) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// NewSink constructs a Sink over the durable store.
func NewSink(store Appender, opts ...Option) (*Sink, error) {
	if store == nil {
		return nil, errors.New("audit: appender is required")
	}
	s := &Sink{
		store:        store,
		allowRetries: 2,
		denyRetries:  4,
		backoff:      50 * time.Millisecond,
		sleep:        time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ authz.AuditSink = (*Sink)(nil)

// Record appends the decision, retrying with linear backoff until the
// attempt budget is spent. Every record also emits a JSON audit line so
// the decision is reconstructible from logs even if the store write
// ultimately failed.
func (s *Sink) Record(ctx context.Context, rec *authz.DecisionRecord) error {
	s.logLine(rec)

	attempts := s.allowRetries
	if rec.Decision == authz.EffectDeny {
		attempts = s.denyRetries
	}

	var err error
	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			s.sleep(time.Duration(attempt) * s.backoff)
		}
		if err = s.store.AppendDecision(ctx, rec); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return err
}

func (s *Sink) logLine(rec *authz.DecisionRecord) {
	entry := map[string]any{
		"ts":           rec.OccurredAt.Format(time.RFC3339Nano),
		"type":         "audit",
		"event":        "authz.decision",
		"org_id":       rec.OrganizationID,
		"actor_kind":   string(rec.ActorKind),
		"actor_id":     rec.ActorID,
		"action":       rec.Action,
		"resource":     rec.Resource,
		"decision":     string(rec.Decision),
		"reason":       string(rec.Reason),
		"matched_rule": rec.MatchedRule,
	}
	if rec.ResourceID != "" {
		entry["resource_id"] = rec.ResourceID
	}
	if rec.TraceID != "" {
		entry["trace_id"] = rec.TraceID
	}
	if len(rec.Attributes) > 0 {
		entry["attributes"] = rec.Attributes
	}
	if len(rec.Metadata) > 0 {
		entry["metadata"] = rec.Metadata
	}
	obs.LogRequest(entry)
}
