package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Manager registers components and loads/shuts them down in order, rolling
// back on a failed load.
type Manager struct {
	mu         sync.RWMutex
	components map[string]Component
	loadOrder  []string
	loaded     map[string]bool
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{
		components: make(map[string]Component),
		loadOrder:  make([]string, 0),
		loaded:     make(map[string]bool),
	}
}

// Register appends comp to the end of the load order.
func (m *Manager) Register(comp Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := comp.Name()
	if _, exists := m.components[name]; exists {
		return fmt.Errorf("%w: %s", ErrComponentAlreadyRegistered, name)
	}

	m.components[name] = comp
	m.loadOrder = append(m.loadOrder, name)
	log.Info().Str("component", name).Msg("component registered")
	return nil
}

// LoadAll loads every registered component in registration order. If any
// component fails to load, components loaded before it are shut down in
// reverse order and the original error is returned.
func (m *Manager) LoadAll() error {
	m.mu.RLock()
	order := append([]string(nil), m.loadOrder...)
	m.mu.RUnlock()

	loaded := make([]string, 0, len(order))

	for _, name := range order {
		m.mu.RLock()
		comp := m.components[name]
		m.mu.RUnlock()

		start := time.Now()
		if err := comp.Load(); err != nil {
			log.Error().Str("component", name).Dur("duration", time.Since(start)).Err(err).Msg("failed to load component")
			m.shutdownSpecific(loaded)
			return fmt.Errorf("failed to load component %s: %w", name, err)
		}

		m.mu.Lock()
		m.loaded[name] = true
		m.mu.Unlock()
		loaded = append(loaded, name)
		log.Info().Str("component", name).Dur("duration", time.Since(start)).Msg("component loaded")
	}

	return nil
}

// ShutdownAll shuts down every loaded component in reverse load order,
// continuing past individual failures and joining any errors.
func (m *Manager) ShutdownAll() error {
	m.mu.RLock()
	order := append([]string(nil), m.loadOrder...)
	m.mu.RUnlock()

	var allErrors []error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]

		m.mu.RLock()
		comp, exists := m.components[name]
		isLoaded := m.loaded[name]
		m.mu.RUnlock()

		if !exists || !isLoaded {
			continue
		}

		start := time.Now()
		if err := comp.Shutdown(); err != nil {
			log.Error().Str("component", name).Dur("duration", time.Since(start)).Err(err).Msg("failed to shut down component")
			allErrors = append(allErrors, fmt.Errorf("shutdown %s: %w", name, err))
		} else {
			log.Info().Str("component", name).Dur("duration", time.Since(start)).Msg("component shut down")
		}

		m.mu.Lock()
		delete(m.loaded, name)
		m.mu.Unlock()
	}

	if len(allErrors) > 0 {
		return errors.Join(allErrors...)
	}
	return nil
}

func (m *Manager) shutdownSpecific(names []string) {
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]

		m.mu.RLock()
		comp, exists := m.components[name]
		isLoaded := m.loaded[name]
		m.mu.RUnlock()

		if !exists || !isLoaded {
			continue
		}

		log.Warn().Str("component", name).Msg("rolling back component")
		if err := comp.Shutdown(); err != nil {
			log.Error().Str("component", name).Err(err).Msg("rollback shutdown failed")
		}

		m.mu.Lock()
		delete(m.loaded, name)
		m.mu.Unlock()
	}
}
