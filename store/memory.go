package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryAdapter implements Adapter in-process, without a backing Redis.
// It keeps one sorted slice of admission timestamps per key, guarded by a
// mutex so the evict/count/insert sequence is atomic the same way the
// Lua script makes it atomic for RedisAdapter. Intended for single-process
// deployments and tests; it does not coordinate across processes.
type MemoryAdapter struct {
	mu   sync.Mutex
	keys map[string][]admission
}

type admission struct {
	ms     int64
	member string
}

// NewMemoryAdapter returns an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{keys: make(map[string][]admission)}
}

// Evaluate runs the sliding-window check in-process under a.mu.
func (a *MemoryAdapter) Evaluate(_ context.Context, key string, limit int64, windowMS int64, nowMS int64) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := nowMS - windowMS
	admissions := a.keys[key]

	kept := admissions[:0]
	for _, adm := range admissions {
		if adm.ms > cutoff {
			kept = append(kept, adm)
		}
	}

	count := int64(len(kept))
	if count < limit {
		kept = append(kept, admission{ms: nowMS, member: uuid.New().String()})
		sort.Slice(kept, func(i, j int) bool { return kept[i].ms < kept[j].ms })
		a.keys[key] = kept
		return Result{Allowed: true, Count: count + 1, OldestMS: 0}, nil
	}

	var oldest int64
	if len(kept) > 0 {
		oldest = kept[0].ms
	}
	a.keys[key] = kept
	return Result{Allowed: false, Count: count, OldestMS: oldest}, nil
}
