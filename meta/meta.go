// Package meta carries per-call metadata (resource, caller, trace id) through
// a context.Context so the transport layer and its logging see the same
// values without threading extra parameters everywhere.
package meta

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// metadataKey is a private type so other packages can't collide with it via
// context.WithValue.
type metadataKey struct{}

// Metadata holds the key-value pairs attached to one call.
type Metadata struct {
	mu   sync.RWMutex
	data map[string]any
}

// New creates an empty Metadata store.
func New() *Metadata {
	return &Metadata{data: make(map[string]any)}
}

// Set adds or updates a key-value pair.
func (m *Metadata) Set(key string, value any) {
	if m == nil {
		log.Error().Str("key", key).Msg("attempted to set metadata on nil *Metadata")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]any)
	}
	m.data[key] = value
}

// Get retrieves a value by key.
func (m *Metadata) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return nil, false
	}
	value, ok := m.data[key]
	return value, ok
}

// WithContext returns ctx carrying m.
func (m *Metadata) WithContext(ctx context.Context) context.Context {
	if m == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, metadataKey{}, m)
}

// FromContext extracts the Metadata attached to ctx, or a fresh empty one if
// none is present.
func FromContext(ctx context.Context) *Metadata {
	if ctx == nil {
		return New()
	}
	value := ctx.Value(metadataKey{})
	if value == nil {
		return New()
	}
	if md, ok := value.(*Metadata); ok {
		return md
	}
	log.Error().Str("value_type", fmt.Sprintf("%T", value)).Msg("metadata key found in context with wrong type")
	return New()
}

// Get retrieves a typed value for key from the metadata attached to ctx.
func Get[T any](ctx context.Context, key string) (t T, err error) {
	md := FromContext(ctx)
	rawValue, ok := md.Get(key)
	if !ok {
		err = fmt.Errorf("meta: key %q not found in context metadata", key)
		return
	}
	typedValue, ok := rawValue.(T)
	if !ok {
		err = fmt.Errorf("meta: value for key %q has type %T, but %T was requested", key, rawValue, *new(T))
		return
	}
	return typedValue, nil
}

const (
	keyResource = "resource"
	keyCaller   = "caller"
	keyTraceID  = "trace_id"
)

// WithCall attaches the (resource, caller, traceID) triple a single Acquire
// call carries through logging.
func WithCall(ctx context.Context, resource, caller, traceID string) context.Context {
	m := New()
	m.Set(keyResource, resource)
	m.Set(keyCaller, caller)
	m.Set(keyTraceID, traceID)
	return m.WithContext(ctx)
}

// ResourceFrom returns the resource attached to ctx, if any.
func ResourceFrom(ctx context.Context) string {
	v, _ := Get[string](ctx, keyResource)
	return v
}

// CallerFrom returns the caller attached to ctx, if any.
func CallerFrom(ctx context.Context) string {
	v, _ := Get[string](ctx, keyCaller)
	return v
}

// TraceIDFrom returns the trace id attached to ctx, if any.
func TraceIDFrom(ctx context.Context) string {
	v, _ := Get[string](ctx, keyTraceID)
	return v
}
