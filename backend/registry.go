package backend

import (
	"fmt"
	"sync"

	"github.com/gogpu/readback"
)

// BackendFactory creates a new backend instance.
type BackendFactory func() ReadbackBackend

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]BackendFactory)
	// Priority order for backend selection (first available wins).
	backendPriority = []string{BackendNative, BackendSoftware}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns a list of registered backend names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Get returns a backend instance by name.
// Returns nil if the backend is not registered.
func Get(name string) ReadbackBackend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := backends[name]
	if !ok {
		return nil
	}
	return factory()
}

// Default returns the best available backend based on priority.
// Priority order: native > software
// Returns nil if no backends are registered.
func Default() ReadbackBackend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, name := range backendPriority {
		if factory, ok := backends[name]; ok {
			if b := factory(); b != nil {
				return b
			}
		}
	}
	for _, factory := range backends {
		if b := factory(); b != nil {
			return b
		}
	}
	return nil
}

// InitDefault initializes the best available backend. A backend whose
// Init fails (a native backend on a machine without a GPU, say) is
// skipped in favor of the next one in priority order. If every backend
// fails, the last Init error is wrapped into ErrBackendNotAvailable.
func InitDefault() (ReadbackBackend, error) {
	type candidate struct {
		name    string
		factory BackendFactory
	}
	registryMu.RLock()
	var candidates []candidate
	for _, name := range backendPriority {
		if factory, ok := backends[name]; ok {
			candidates = append(candidates, candidate{name, factory})
		}
	}
	registryMu.RUnlock()

	var lastErr error
	for _, c := range candidates {
		b := c.factory()
		if b == nil {
			continue
		}
		if err := b.Init(); err != nil {
			readback.Logger().Warn("backend: init failed", "name", c.name, "err", err)
			lastErr = err
			continue
		}
		return b, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendNotAvailable, lastErr)
	}
	return nil, ErrBackendNotAvailable
}
