package store

import (
	"context"
	_ "embed" // needed for go:embed
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

//go:embed script.lua
var slidingWindowScript string

var admitScript = redis.NewScript(slidingWindowScript)

// RedisAdapter implements Adapter against a Redis-compatible store,
// running the sliding-window check as a single Lua script so eviction,
// counting, and insertion happen atomically. go-redis's Script.Run
// already performs the EVALSHA-then-EVAL-on-NOSCRIPT recovery this
// adapter's contract requires, so there is no separate reload path here.
type RedisAdapter struct {
	client redis.Cmdable
}

// NewRedisAdapter wraps a pre-configured redis.Cmdable (a *redis.Client,
// *redis.ClusterClient, or any other connection-pooled implementation).
func NewRedisAdapter(client redis.Cmdable) *RedisAdapter {
	return &RedisAdapter{client: client}
}

// Evaluate runs the embedded sliding-window script atomically for key.
func (a *RedisAdapter) Evaluate(ctx context.Context, key string, limit int64, windowMS int64, nowMS int64) (Result, error) {
	member := uuid.New().String()

	raw, err := admitScript.Run(ctx, a.client, []string{key}, limit, windowMS, nowMS, member).Result()
	if err != nil {
		return Result{}, classifyRedisErr(key, err)
	}

	fields, ok := raw.([]interface{})
	if !ok || len(fields) != 3 {
		log.Error().Str("key", key).Interface("result", raw).Msg("sliding window script returned unexpected shape")
		return Result{}, ErrInternal
	}

	allowed, err1 := toInt64(fields[0])
	count, err2 := toInt64(fields[1])
	oldest, err3 := toInt64(fields[2])
	if err1 != nil || err2 != nil || err3 != nil {
		log.Error().Str("key", key).Interface("result", raw).Msg("sliding window script returned non-numeric field")
		return Result{}, ErrInternal
	}

	return Result{
		Allowed:  allowed == 1,
		Count:    count,
		OldestMS: oldest,
	}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}

func classifyRedisErr(key string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrTimeout
	}
	log.Error().Err(err).Str("key", key).Msg("sliding window script execution failed")
	return ErrUnavailable
}
