package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lodestar/internal/realm"
	"lodestar/pkg/logging"
)

// ErrUnknownChannelKind is returned when no enabled factory exists for a kind.
var ErrUnknownChannelKind = errors.New("unknown channel kind")

// Options configures one communication channel.
type Options struct {
	Host string
	Port int
}

// Addr returns the listen address for the options.
func (o Options) Addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// Source is the read surface a flow gets from the coordinator that owns
// it. Flows never mutate the coordinator's registries through it.
type Source interface {
	// Snapshot returns the current status snapshot, JSON-serializable.
	Snapshot() any

	// Realm returns a realm handle by name.
	Realm(name string) (realm.Realm, error)

	// RealmNames returns the current realm names in insertion order.
	RealmNames() []string
}

// Flow is one managed communication channel instance.
type Flow interface {
	// Kind returns the channel kind the flow was registered under.
	Kind() string

	// Start binds the channel's resources. A failed Start is fatal to the
	// coordinator's own startup.
	Start() error

	// Stop shuts the channel down, waiting up to timeout for in-flight work.
	Stop(timeout time.Duration) error

	// IsRunning reports whether the flow is currently serving.
	IsRunning() bool

	// Status returns channel-defined state details.
	Status() map[string]any
}

// Publisher is implemented by flows that can push events to connected
// clients. The coordinator publishes diagnostic reports through it.
type Publisher interface {
	Publish(v any)
}

// Optimizer is implemented by flows that can shed idle resources during
// a balancing pass.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// Factory builds a flow for a channel kind.
type Factory func(kind string, opts Options, src Source, logger logging.Logger) (Flow, error)

type registration struct {
	factory Factory
	enabled bool
}

// Registry maps channel kinds to factories. Each registration carries an
// enabled gate; a disabled kind resolves the same as an unknown one, so
// a unit that is wired but not allow-listed can never be constructed.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry returns an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register adds an enabled factory for a channel kind.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[kind] = registration{factory: factory, enabled: true}
}

// SetEnabled flips the allow-list gate for a registered kind.
func (r *Registry) SetEnabled(kind string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[kind]; ok {
		entry.enabled = enabled
		r.entries[kind] = entry
	}
}

// Resolve returns the factory for an enabled kind.
func (r *Registry) Resolve(kind string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[kind]
	if !ok || !entry.enabled {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannelKind, kind)
	}
	return entry.factory, nil
}

// Open resolves a kind and constructs the flow.
func (r *Registry) Open(kind string, opts Options, src Source, logger logging.Logger) (Flow, error) {
	factory, err := r.Resolve(kind)
	if err != nil {
		return nil, err
	}
	return factory(kind, opts, src, logger)
}

// DefaultRegistry returns a registry preloaded with the built-in channels.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("rest", NewRESTFlow)
	r.Register("websocket", NewWebSocketFlow)
	return r
}
