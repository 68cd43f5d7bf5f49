package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcflow/ratelimitd/clock"
	"github.com/arcflow/ratelimitd/policy"
	"github.com/arcflow/ratelimitd/slidingwindow"
	"github.com/arcflow/ratelimitd/store"
)

func newEngine(t *testing.T, rules []policy.Policy) (*Engine, *clock.Mock) {
	def := policy.Policy{Pattern: "*", Kind: policy.Exact, MaxTokens: 10, Window: 60, Priority: 0}
	set, err := policy.Build(def, rules)
	require.NoError(t, err)

	mc := clock.NewMock(0)
	ev := slidingwindow.New(store.NewMemoryAdapter(), mc)
	return New(set, ev, 0), mc
}

func TestAcquireRejectsEmptyFields(t *testing.T) {
	e, _ := newEngine(t, nil)

	_, err := e.Acquire(context.Background(), "", "c")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = e.Acquire(context.Background(), "r", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAcquireScenarioDefaultBurst(t *testing.T) {
	e, _ := newEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := e.Acquire(ctx, "x", "u")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := e.Acquire(ctx, "x", "u")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, 60_000, d.RetryAfterMS, 1)
}

func TestAcquireScenarioExactBeatsPrefix(t *testing.T) {
	e, _ := newEngine(t, []policy.Policy{
		{Pattern: "user.", Kind: policy.Prefix, MaxTokens: 3, Window: 60, Priority: 10},
		{Pattern: "user.login", Kind: policy.Exact, MaxTokens: 5, Window: 60, Priority: 1},
	})
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 6; i++ {
		d, err := e.Acquire(ctx, "user.login", "u")
		require.NoError(t, err)
		if d.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed)
}

func TestAcquireScenarioHigherPriorityPrefixWins(t *testing.T) {
	e, _ := newEngine(t, []policy.Policy{
		{Pattern: "api.v1.", Kind: policy.Prefix, MaxTokens: 2, Window: 60, Priority: 10},
		{Pattern: "api.", Kind: policy.Prefix, MaxTokens: 100, Window: 60, Priority: 20},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := e.Acquire(ctx, "api.v1.list", "u")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestAcquireIsolationAcrossCallersAndResources(t *testing.T) {
	e, _ := newEngine(t, []policy.Policy{
		{Pattern: "r", Kind: policy.Exact, MaxTokens: 1, Window: 60, Priority: 0},
	})
	ctx := context.Background()

	d, err := e.Acquire(ctx, "r", "c1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = e.Acquire(ctx, "r", "c2")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a different caller must not be affected by c1's admission")

	d, err = e.Acquire(ctx, "other", "c1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a different resource must not be affected by r's admission")
}

type alwaysErrAdapter struct{ err error }

func (a alwaysErrAdapter) Evaluate(context.Context, string, int64, int64, int64) (store.Result, error) {
	return store.Result{}, a.err
}

func TestAcquireFailsClosedOnStoreUnavailable(t *testing.T) {
	def := policy.Policy{Pattern: "*", Kind: policy.Exact, MaxTokens: 10, Window: 60, Priority: 0}
	set, err := policy.Build(def, nil)
	require.NoError(t, err)

	mc := clock.NewMock(0)
	ev := slidingwindow.New(alwaysErrAdapter{err: store.ErrUnavailable}, mc)
	e := New(set, ev, 0)

	d, err := e.Acquire(context.Background(), "r", "c")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUnavailable))
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeUnavailable, d.Code)
}

func TestAcquireFailsClosedOnDeadlineExceeded(t *testing.T) {
	def := policy.Policy{Pattern: "*", Kind: policy.Exact, MaxTokens: 10, Window: 60, Priority: 0}
	set, err := policy.Build(def, nil)
	require.NoError(t, err)

	mc := clock.NewMock(0)
	ev := slidingwindow.New(alwaysErrAdapter{err: store.ErrTimeout}, mc)
	e := New(set, ev, 0)

	d, err := e.Acquire(context.Background(), "r", "c")
	require.Error(t, err)
	assert.Equal(t, CodeDeadlineExceeded, d.Code)
	assert.False(t, d.Allowed)
}

func TestAcquireFailsClosedOnConfiguredTimeout(t *testing.T) {
	def := policy.Policy{Pattern: "*", Kind: policy.Exact, MaxTokens: 10, Window: 60, Priority: 0}
	set, err := policy.Build(def, nil)
	require.NoError(t, err)

	mc := clock.NewMock(0)
	ev := slidingwindow.New(blockingAdapter{delay: 2 * time.Second}, mc)
	e := New(set, ev, 50*time.Millisecond)

	start := time.Now()
	d, err := e.Acquire(context.Background(), "r", "c")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, CodeDeadlineExceeded, d.Code)
	assert.False(t, d.Allowed)
	assert.Less(t, elapsed, 500*time.Millisecond, "Acquire must fail closed within the configured timeout, not the adapter's own delay")
}

func TestComposeKeyDoesNotCollideAcrossFieldBoundaries(t *testing.T) {
	keyA := composeKey("a\\", ":b")
	keyB := composeKey("a:\\", "b")
	assert.NotEqual(t, keyA, keyB, "different (resource, caller) pairs must never compose to the same store key")
}

func TestAcquireIsolatesCallersWithAmbiguousSeparatorBytes(t *testing.T) {
	e, _ := newEngine(t, []policy.Policy{
		{Pattern: "a\\", Kind: policy.Exact, MaxTokens: 1, Window: 60, Priority: 0},
		{Pattern: "a:\\", Kind: policy.Exact, MaxTokens: 1, Window: 60, Priority: 0},
	})
	ctx := context.Background()

	d, err := e.Acquire(ctx, "a\\", ":b")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = e.Acquire(ctx, "a:\\", "b")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a distinct (resource, caller) pair must get its own bucket, not share one via escaping collision")
}

// blockingAdapter simulates a store call that hangs longer than the
// configured timeout, the way a stalled Redis connection would. It respects
// ctx cancellation the same way RedisAdapter's underlying client does.
type blockingAdapter struct{ delay time.Duration }

func (a blockingAdapter) Evaluate(ctx context.Context, _ string, _ int64, _ int64, _ int64) (store.Result, error) {
	select {
	case <-time.After(a.delay):
		return store.Result{Allowed: true, Count: 1}, nil
	case <-ctx.Done():
		return store.Result{}, store.ErrTimeout
	}
}
