// Package slidingwindow evaluates the sliding-window admission contract on
// top of a store.Adapter, translating the adapter's raw (allowed, count,
// oldest) reply into a caller-facing Decision and handling the edge cases
// the adapter itself does not know about (limit=0, the empty-window retry
// floor).
package slidingwindow

import (
	"context"
	"fmt"

	"github.com/arcflow/ratelimitd/clock"
	"github.com/arcflow/ratelimitd/store"
)

// Decision is the outcome of one evaluate call.
type Decision struct {
	Allowed      bool
	Remaining    int64
	RetryAfterMS int64
}

// Evaluator runs the sliding-window contract against a backing store.Adapter
// using an injected clock, never wall time directly, so property tests can
// drive it deterministically.
type Evaluator struct {
	adapter store.Adapter
	clock   clock.Clock
}

// New builds an Evaluator over adapter, reading the current time from c.
func New(adapter store.Adapter, c clock.Clock) *Evaluator {
	return &Evaluator{adapter: adapter, clock: c}
}

// Evaluate runs one sliding-window admission check for key, admitting at
// most limit events per windowMS-length interval ending now.
func (e *Evaluator) Evaluate(ctx context.Context, key string, limit int64, windowMS int64) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: false, Remaining: 0, RetryAfterMS: windowMS}, nil
	}

	nowMS := e.clock.NowMS()

	res, err := e.adapter.Evaluate(ctx, key, limit, windowMS, nowMS)
	if err != nil {
		return Decision{}, err
	}

	if res.Allowed {
		remaining := limit - res.Count
		if remaining < 0 {
			return Decision{}, fmt.Errorf("slidingwindow: %w: negative remaining for key %q", store.ErrInternal, key)
		}
		return Decision{Allowed: true, Remaining: remaining, RetryAfterMS: 0}, nil
	}

	retryAfter := windowMS
	if res.OldestMS > 0 {
		retryAfter = res.OldestMS + windowMS - nowMS
		if retryAfter < 0 {
			retryAfter = 0
		}
	}
	return Decision{Allowed: false, Remaining: 0, RetryAfterMS: retryAfter}, nil
}
