package realm

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"lodestar/pkg/logging"
)

// ErrUnknownBackend is returned when no factory is registered for a URI scheme.
var ErrUnknownBackend = errors.New("unknown backend scheme")

// Factory builds a realm from its name and backend URI.
type Factory func(name, uri string, logger logging.Logger) (Realm, error)

// Registry maps backend URI schemes to factories. Registration happens at
// process wiring time; Open is the only call on the hot path.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for a URI scheme, replacing any previous one.
func (r *Registry) Register(scheme string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[scheme] = factory
}

// Resolve returns the factory for a scheme.
func (r *Registry) Resolve(scheme string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, scheme)
	}
	return factory, nil
}

// Open parses the URI, resolves its scheme and constructs the realm.
func (r *Registry) Open(name, uri string, logger logging.Logger) (Realm, error) {
	scheme, _, err := SplitURI(uri)
	if err != nil {
		return nil, err
	}
	factory, err := r.Resolve(scheme)
	if err != nil {
		return nil, err
	}
	return factory(name, uri, logger)
}

// Schemes returns the registered schemes, for diagnostics output.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for scheme := range r.factories {
		out = append(out, scheme)
	}
	return out
}

// SplitURI splits "<scheme>://<rest>" and validates the shape.
func SplitURI(uri string) (scheme, rest string, err error) {
	idx := strings.Index(uri, "://")
	if idx <= 0 {
		return "", "", fmt.Errorf("%w: malformed backend URI %q", ErrUnknownBackend, uri)
	}
	return uri[:idx], uri[idx+3:], nil
}

// DefaultRegistry returns a registry preloaded with the built-in backends.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("memory", NewMemoryRealm)
	r.Register("postgres", NewPostgresRealm)
	r.Register("redis", NewRedisRealm)
	return r
}
