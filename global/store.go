package global

import (
	"sync/atomic"

	"github.com/arcflow/ratelimitd/store"
)

var globalStoreAdapter atomic.Value

// SetStoreAdapter sets the process-wide store adapter used by the health
// prober.
func SetStoreAdapter(a store.Adapter) {
	globalStoreAdapter.Store(a)
}

// GetStoreAdapter returns the current process-wide store adapter, or nil if
// none has been set yet.
func GetStoreAdapter() store.Adapter {
	v := globalStoreAdapter.Load()
	if v == nil {
		return nil
	}
	return v.(store.Adapter)
}
