package realm

import (
	"errors"
	"testing"

	"lodestar/pkg/logging"
)

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve("bogus"); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestRegistry_RegisterAndOpen(t *testing.T) {
	r := NewRegistry()
	r.Register("memory", NewMemoryRealm)

	realm, err := r.Open("primary", "memory://", testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer realm.Close()

	if realm.Name() != "primary" {
		t.Errorf("Name = %q, want primary", realm.Name())
	}
	if realm.URI() != "memory://" {
		t.Errorf("URI = %q, want memory://", realm.URI())
	}
}

func TestRegistry_OpenUnknownScheme(t *testing.T) {
	r := NewRegistry()
	r.Register("memory", NewMemoryRealm)

	if _, err := r.Open("x", "bogus-scheme://y", testLogger()); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestRegistry_OpenMalformedURI(t *testing.T) {
	r := DefaultRegistry()
	for _, uri := range []string{"", "memory", "://x", "memory:/x"} {
		if _, err := r.Open("x", uri, testLogger()); !errors.Is(err, ErrUnknownBackend) {
			t.Errorf("uri %q: expected ErrUnknownBackend, got %v", uri, err)
		}
	}
}

func TestSplitURI(t *testing.T) {
	scheme, rest, err := SplitURI("redis://localhost:6379/0")
	if err != nil {
		t.Fatalf("SplitURI: %v", err)
	}
	if scheme != "redis" {
		t.Errorf("scheme = %q, want redis", scheme)
	}
	if rest != "localhost:6379/0" {
		t.Errorf("rest = %q, want localhost:6379/0", rest)
	}
}

func TestDefaultRegistry_Schemes(t *testing.T) {
	r := DefaultRegistry()
	schemes := r.Schemes()
	want := map[string]bool{"memory": false, "postgres": false, "redis": false}
	for _, s := range schemes {
		if _, ok := want[s]; ok {
			want[s] = true
		}
	}
	for s, seen := range want {
		if !seen {
			t.Errorf("default registry missing scheme %q", s)
		}
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register("memory", func(name, uri string, logger logging.Logger) (Realm, error) {
		return nil, errors.New("first")
	})
	r.Register("memory", NewMemoryRealm)

	realm, err := r.Open("p", "memory://", testLogger())
	if err != nil {
		t.Fatalf("expected replacement factory to win, got %v", err)
	}
	realm.Close()
}
