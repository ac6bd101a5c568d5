package realm

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestMemoryRealm(t *testing.T) Realm {
	t.Helper()
	r, err := NewMemoryRealm("test", "memory://", testLogger())
	if err != nil {
		t.Fatalf("NewMemoryRealm: %v", err)
	}
	return r
}

func TestMemoryRealm_CreateRead(t *testing.T) {
	r := newTestMemoryRealm(t)
	ctx := context.Background()

	id, err := r.Create(ctx, Record{"kind": "sensor", "value": 42})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty id")
	}

	rec, err := r.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rec["kind"] != "sensor" {
		t.Errorf("kind = %v, want sensor", rec["kind"])
	}
	if rec["id"] != id {
		t.Errorf("id = %v, want %v", rec["id"], id)
	}
	if rec["created_at"] == nil {
		t.Error("expected created_at to be set")
	}
}

func TestMemoryRealm_ReadNotFound(t *testing.T) {
	r := newTestMemoryRealm(t)
	_, err := r.Read(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRealm_Update(t *testing.T) {
	r := newTestMemoryRealm(t)
	ctx := context.Background()

	id, err := r.Create(ctx, Record{"value": 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, err := r.Update(ctx, id, Record{"value": 2, "id": "hijack"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec["value"] != 2 {
		t.Errorf("value = %v, want 2", rec["value"])
	}
	if rec["id"] != id {
		t.Errorf("id must be immutable, got %v", rec["id"])
	}
	if rec["updated_at"] == nil {
		t.Error("expected updated_at to be set")
	}

	if _, err := r.Update(ctx, "missing", Record{"x": 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRealm_DeleteAndCount(t *testing.T) {
	r := newTestMemoryRealm(t)
	ctx := context.Background()

	id, _ := r.Create(ctx, Record{"a": 1})
	if _, err := r.Create(ctx, Record{"b": 2}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if n, _ := r.Count(ctx); n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}

	if err := r.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := r.Count(ctx); n != 1 {
		t.Fatalf("Count after delete = %d, want 1", n)
	}

	if err := r.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestMemoryRealm_ReadReturnsCopy(t *testing.T) {
	r := newTestMemoryRealm(t)
	ctx := context.Background()

	id, _ := r.Create(ctx, Record{"value": "original"})
	rec, _ := r.Read(ctx, id)
	rec["value"] = "mutated"

	again, _ := r.Read(ctx, id)
	if again["value"] != "original" {
		t.Fatalf("stored record was mutated through a returned copy")
	}
}

func TestMemoryRealm_StatusAndClose(t *testing.T) {
	r := newTestMemoryRealm(t)
	ctx := context.Background()
	_, _ = r.Create(ctx, Record{"a": 1})

	status := r.Status()
	if status["backend"] != "memory" {
		t.Errorf("backend = %v, want memory", status["backend"])
	}
	if status["records"] != 1 {
		t.Errorf("records = %v, want 1", status["records"])
	}
	if status["connected"] != true {
		t.Errorf("connected = %v, want true", status["connected"])
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Create(ctx, Record{"a": 1}); err == nil {
		t.Fatal("expected Create on closed realm to fail")
	}
	if r.Status()["connected"] != false {
		t.Error("expected connected false after close")
	}
}
