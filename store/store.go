// Package store adapts the sliding-window algorithm to a backing
// key-value store, executing it as a single atomic operation per call.
// It mirrors the Store interface the rest of this codebase's ancestry
// uses for pluggable rate-limit backends, generalized from a token-bucket
// Allow(key, rate, period) call to the sliding-window Evaluate contract.
package store

import (
	"context"
	"errors"
)

// Result is the outcome of one atomic sliding-window evaluation.
type Result struct {
	// Allowed reports whether the admission was recorded.
	Allowed bool
	// Count is the number of admissions in the window immediately after
	// this call (including the new one, if Allowed).
	Count int64
	// OldestMS is, for a denied call, the timestamp of the oldest admission
	// remaining in the window after eviction. Zero when the call was
	// allowed or the window is empty.
	OldestMS int64
}

// Adapter executes the sliding-window admission check atomically against a
// backing store. Implementations must guarantee that the eviction, count,
// and insert steps described in the sliding-window contract happen as a
// single atomic operation; splitting them permits races that over-admit.
type Adapter interface {
	// Evaluate runs one atomic sliding-window check for key, admitting at
	// most limit events in any windowMS-length interval ending at nowMS.
	// ctx carries the caller's deadline; on expiry the call must return
	// ErrTimeout rather than guess at the outcome.
	Evaluate(ctx context.Context, key string, limit int64, windowMS int64, nowMS int64) (Result, error)
}

// Sentinel errors mapping to the §7 error taxonomy. The ratelimit package
// translates these into its Code enum at the engine boundary.
var (
	// ErrUnavailable means the backing store could not be reached at all
	// (connection refused, DNS failure, and similar).
	ErrUnavailable = errors.New("store: unavailable")
	// ErrTimeout means the call exceeded its deadline before the store
	// responded. The store may or may not have applied the mutation.
	ErrTimeout = errors.New("store: deadline exceeded")
	// ErrInternal means the store returned a reply the adapter could not
	// interpret as a valid sliding-window result (an invariant violation,
	// never expected in normal operation).
	ErrInternal = errors.New("store: internal error")
)
