package realm

import (
	"context"
	"errors"
)

// Record is a single stored document. Backends persist it as-is; the
// coordinator never interprets field values beyond the generated "id".
type Record = map[string]any

// ErrNotFound is returned when a record id does not exist in a realm.
var ErrNotFound = errors.New("record not found")

// Realm is one managed storage backend instance. Implementations must be
// safe for concurrent use: the engine hands the same handle to multiple
// callers once created.
type Realm interface {
	// Name returns the unique name the realm was registered under.
	Name() string

	// URI returns the backend URI the realm was built from.
	URI() string

	// Create stores a new record and returns its generated id.
	Create(ctx context.Context, rec Record) (string, error)

	// Read returns the record with the given id, or ErrNotFound.
	Read(ctx context.Context, id string) (Record, error)

	// Update merges changes into an existing record and returns the result.
	Update(ctx context.Context, id string, changes Record) (Record, error)

	// Delete removes the record with the given id.
	Delete(ctx context.Context, id string) error

	// Count returns the number of records currently stored.
	Count(ctx context.Context) (int, error)

	// Status returns backend-defined health and usage details.
	Status() map[string]any

	// Close releases the backend connection. The realm is unusable after.
	Close() error
}

// Optimizer is implemented by realms that can release idle resources.
// The balancer calls Optimize on a best-effort basis; failures are
// logged by the caller and never abort the balancing pass.
type Optimizer interface {
	Optimize(ctx context.Context) error
}
