// Package lifecycle manages ordered startup and shutdown of the server's
// components (health prober, metrics endpoint, RPC listener), with rollback
// if any component fails to load.
package lifecycle

import "fmt"

// Component is anything the server boots and tears down in order: a health
// prober, a metrics endpoint, an RPC listener.
type Component interface {
	// Name returns the unique name of the component, used for ordering and
	// lookup.
	Name() string

	// Load brings the component up. It should return an error if startup
	// fails.
	Load() error

	// Shutdown tears the component down. The manager keeps shutting down
	// the remaining components even if one returns an error.
	Shutdown() error
}

var (
	ErrComponentAlreadyRegistered = fmt.Errorf("component name is already registered")
	ErrComponentNotFound          = fmt.Errorf("component not found")
)
