package authz

import (
	"context"
	"errors"
	"time"

	"lynxtms.io/internal/obs"
)

// SweepResult counts the rows each pass deactivated.
type SweepResult struct {
	TemporaryPermissions int64
	APIKeys              int64
	AccessRequests       int64
}

// Total is the affected-row count reported by the cleanup operation.
func (r SweepResult) Total() int64 {
	return r.TemporaryPermissions + r.APIKeys + r.AccessRequests
}

// Sweeper deactivates rows past their expiry on a fixed interval. It is
// cleanup only: the evaluator enforces expiry by timestamp on every
// read, so correctness never depends on sweep cadence. All transitions
// are idempotent flag flips and safe to run concurrently with
// evaluations.
type Sweeper struct {
	store    SweepStore
	interval time.Duration
	now      func() time.Time
}

// SweeperOption configures Sweeper behavior.
type SweeperOption func(*Sweeper)

// WithSweepClock overrides the time source (useful for tests).
func WithSweepClock(fn func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSweeper constructs a Sweeper with the given pass interval.
func NewSweeper(store SweepStore, interval time.Duration, opts ...SweeperOption) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("authz: sweep store is required")
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s := &Sweeper{store: store, interval: interval, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sweep runs one pass and returns the affected counts. Partial failures
// return what was swept along with the error.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now().UTC()
	var res SweepResult
	var err error

	if res.TemporaryPermissions, err = s.store.ExpireTemporaryPermissions(ctx, now); err != nil {
		return res, err
	}
	obs.ObserveSweep("temporary_permission", res.TemporaryPermissions)

	if res.APIKeys, err = s.store.ExpireAPIKeys(ctx, now); err != nil {
		return res, err
	}
	obs.ObserveSweep("api_key", res.APIKeys)

	if res.AccessRequests, err = s.store.ExpireAccessRequests(ctx, now); err != nil {
		return res, err
	}
	obs.ObserveSweep("access_request", res.AccessRequests)

	return res, nil
}

// Run sweeps on the configured interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			if err != nil {
				obs.LogRequest(map[string]any{
					"ts":    s.now().UTC().Format(time.RFC3339Nano),
					"level": "error",
					"msg":   "expiry sweep failed",
					"error": err.Error(),
				})
				continue
			}
			if res.Total() > 0 {
				obs.LogRequest(map[string]any{
					"ts":              s.now().UTC().Format(time.RFC3339Nano),
					"level":           "info",
					"msg":             "expiry sweep",
					"temporary":       res.TemporaryPermissions,
					"api_keys":        res.APIKeys,
					"access_requests": res.AccessRequests,
				})
			}
		}
	}
}
