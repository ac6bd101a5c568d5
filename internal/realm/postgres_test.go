package realm

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupPostgresRealm(t *testing.T) (*PostgresRealm, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	r := &PostgresRealm{name: "archive", uri: "postgres://localhost/lodestar", db: db, logger: testLogger()}
	t.Cleanup(func() { db.Close() })
	return r, mock
}

func TestPostgresRealm_Create(t *testing.T) {
	r, mock := setupPostgresRealm(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO lodestar_records (realm, id, data) VALUES ($1, $2, $3)`)).
		WithArgs("archive", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := r.Create(context.Background(), Record{"kind": "event"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresRealm_Read(t *testing.T) {
	r, mock := setupPostgresRealm(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM lodestar_records WHERE realm = $1 AND id = $2`)).
		WithArgs("archive", "abc").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"kind":"event","seq":7}`)))

	rec, err := r.Read(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rec["kind"] != "event" {
		t.Errorf("kind = %v, want event", rec["kind"])
	}
	if rec["id"] != "abc" {
		t.Errorf("id = %v, want abc", rec["id"])
	}
}

func TestPostgresRealm_ReadNotFound(t *testing.T) {
	r, mock := setupPostgresRealm(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM lodestar_records WHERE realm = $1 AND id = $2`)).
		WithArgs("archive", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	if _, err := r.Read(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRealm_Delete(t *testing.T) {
	r, mock := setupPostgresRealm(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM lodestar_records WHERE realm = $1 AND id = $2`)).
		WithArgs("archive", "abc").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.Delete(context.Background(), "abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestPostgresRealm_DeleteNotFound(t *testing.T) {
	r, mock := setupPostgresRealm(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM lodestar_records WHERE realm = $1 AND id = $2`)).
		WithArgs("archive", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := r.Delete(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRealm_Count(t *testing.T) {
	r, mock := setupPostgresRealm(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM lodestar_records WHERE realm = $1`)).
		WithArgs("archive").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	n, err := r.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 12 {
		t.Fatalf("Count = %d, want 12", n)
	}
}

func TestPostgresRealm_Status(t *testing.T) {
	r, _ := setupPostgresRealm(t)

	status := r.Status()
	if status["backend"] != "postgres" {
		t.Errorf("backend = %v, want postgres", status["backend"])
	}
}

func TestPostgresRealm_StatusConnected(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	r := &PostgresRealm{name: "archive", uri: "postgres://localhost/lodestar", db: db, logger: testLogger()}

	mock.ExpectPing()
	if status := r.Status(); status["connected"] != true {
		t.Errorf("connected = %v, want true", status["connected"])
	}

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	if status := r.Status(); status["connected"] != false {
		t.Errorf("connected = %v, want false on ping error", status["connected"])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
