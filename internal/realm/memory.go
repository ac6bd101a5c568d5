package realm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"lodestar/pkg/logging"
)

// MemoryRealm keeps records in process memory. Fastest backend, no
// durability; intended for development and as the default realm.
type MemoryRealm struct {
	name   string
	uri    string
	logger logging.Logger

	mu        sync.RWMutex
	records   map[string]Record
	createdAt time.Time
	closed    bool
}

// NewMemoryRealm builds a memory:// realm.
func NewMemoryRealm(name, uri string, logger logging.Logger) (Realm, error) {
	logger.WithFields(logging.Fields{"realm": name, "backend": "memory"}).Info("Realm opened")
	return &MemoryRealm{
		name:      name,
		uri:       uri,
		logger:    logger,
		records:   make(map[string]Record),
		createdAt: time.Now(),
	}, nil
}

func (m *MemoryRealm) Name() string { return m.name }
func (m *MemoryRealm) URI() string  { return m.uri }

func (m *MemoryRealm) Create(_ context.Context, rec Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", fmt.Errorf("realm %q is closed", m.name)
	}

	id := uuid.NewString()
	stored := make(Record, len(rec)+2)
	for k, v := range rec {
		stored[k] = v
	}
	stored["id"] = id
	stored["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	m.records[id] = stored
	return id, nil
}

func (m *MemoryRealm) Read(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q in realm %q", ErrNotFound, id, m.name)
	}
	return cloneRecord(stored), nil
}

func (m *MemoryRealm) Update(_ context.Context, id string, changes Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q in realm %q", ErrNotFound, id, m.name)
	}
	for k, v := range changes {
		if k == "id" || k == "created_at" {
			continue
		}
		stored[k] = v
	}
	stored["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	return cloneRecord(stored), nil
}

func (m *MemoryRealm) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("%w: %q in realm %q", ErrNotFound, id, m.name)
	}
	delete(m.records, id)
	return nil
}

func (m *MemoryRealm) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *MemoryRealm) Status() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]any{
		"backend":    "memory",
		"connected":  !m.closed,
		"records":    len(m.records),
		"created_at": m.createdAt.UTC().Format(time.RFC3339),
	}
}

func (m *MemoryRealm) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = make(map[string]Record)
	m.logger.WithField("realm", m.name).Info("Realm closed")
	return nil
}

func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
