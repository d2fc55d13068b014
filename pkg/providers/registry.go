package providers

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds the configured providers, keyed by name.
// It implements Set and owns the lifecycle of every registered provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	logger    *slog.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		logger:    slog.Default().With("component", "providers"),
	}
}

// Register adds a provider under its own name.
// Registering a duplicate name is a configuration error.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.GetName()
	if _, exists := r.providers[name]; exists {
		return &ConfigError{
			Provider: name,
			Field:    "name",
			Message:  "duplicate provider name",
		}
	}

	r.providers[name] = p
	r.logger.Info("provider registered", "provider", name)
	return nil
}

// Get returns the provider with the given name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, &NotFoundError{Provider: name}
	}
	return p, nil
}

// Names returns the names of all registered providers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every registered provider and returns the joined errors.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.providers, name)
	}
	return errors.Join(errs...)
}
