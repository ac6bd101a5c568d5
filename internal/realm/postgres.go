package realm

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"lodestar/pkg/logging"
)

const (
	pgMaxOpenConns    = 25
	pgMaxIdleConns    = 5
	pgConnMaxLifetime = 5 * time.Minute
	pgPingTimeout     = 5 * time.Second
)

// PostgresRealm stores records as JSONB rows in a single table. The table
// is created on open if it does not exist.
type PostgresRealm struct {
	name   string
	uri    string
	db     *sql.DB
	logger logging.Logger
}

// NewPostgresRealm builds a postgres:// realm. The URI is used as the
// connection string directly.
func NewPostgresRealm(name, uri string, logger logging.Logger) (Realm, error) {
	db, err := sql.Open("postgres", uri)
	if err != nil {
		return nil, fmt.Errorf("open postgres realm %q: %w", name, err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres realm %q: %w", name, err)
	}

	db.SetMaxOpenConns(pgMaxOpenConns)
	db.SetMaxIdleConns(pgMaxIdleConns)
	db.SetConnMaxLifetime(pgConnMaxLifetime)

	r := &PostgresRealm{name: name, uri: uri, db: db, logger: logger}
	if err := r.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.WithFields(logging.Fields{
		"realm":             name,
		"backend":           "postgres",
		"max_open_conns":    pgMaxOpenConns,
		"max_idle_conns":    pgMaxIdleConns,
		"conn_max_lifetime": pgConnMaxLifetime,
	}).Info("Realm opened")
	return r, nil
}

func (p *PostgresRealm) ensureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS lodestar_records (
			realm      TEXT        NOT NULL,
			id         TEXT        NOT NULL,
			data       JSONB       NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (realm, id)
		)`)
	if err != nil {
		return fmt.Errorf("ensure schema for realm %q: %w", p.name, err)
	}
	return nil
}

func (p *PostgresRealm) Name() string { return p.name }
func (p *PostgresRealm) URI() string  { return p.uri }

func (p *PostgresRealm) Create(ctx context.Context, rec Record) (string, error) {
	id := uuid.NewString()
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record for realm %q: %w", p.name, err)
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO lodestar_records (realm, id, data) VALUES ($1, $2, $3)`,
		p.name, id, data)
	if err != nil {
		return "", fmt.Errorf("insert into realm %q: %w", p.name, err)
	}
	return id, nil
}

func (p *PostgresRealm) Read(ctx context.Context, id string) (Record, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM lodestar_records WHERE realm = $1 AND id = $2`,
		p.name, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %q in realm %q", ErrNotFound, id, p.name)
	}
	if err != nil {
		return nil, fmt.Errorf("read from realm %q: %w", p.name, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record %q: %w", id, err)
	}
	rec["id"] = id
	return rec, nil
}

func (p *PostgresRealm) Update(ctx context.Context, id string, changes Record) (Record, error) {
	current, err := p.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	for k, v := range changes {
		if k == "id" {
			continue
		}
		current[k] = v
	}

	data, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("marshal record for realm %q: %w", p.name, err)
	}
	_, err = p.db.ExecContext(ctx,
		`UPDATE lodestar_records SET data = $3, updated_at = NOW() WHERE realm = $1 AND id = $2`,
		p.name, id, data)
	if err != nil {
		return nil, fmt.Errorf("update realm %q: %w", p.name, err)
	}
	return current, nil
}

func (p *PostgresRealm) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM lodestar_records WHERE realm = $1 AND id = $2`,
		p.name, id)
	if err != nil {
		return fmt.Errorf("delete from realm %q: %w", p.name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %q in realm %q", ErrNotFound, id, p.name)
	}
	return nil
}

func (p *PostgresRealm) Count(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lodestar_records WHERE realm = $1`, p.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count realm %q: %w", p.name, err)
	}
	return n, nil
}

// Status reports pool state. The liveness ping is bounded so a stalled
// backend cannot block status aggregation.
func (p *PostgresRealm) Status() map[string]any {
	stats := p.db.Stats()
	ctx, cancel := context.WithTimeout(context.Background(), pgPingTimeout)
	defer cancel()
	connected := p.db.PingContext(ctx) == nil
	return map[string]any{
		"backend":          "postgres",
		"connected":        connected,
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
	}
}

// Optimize releases idle pool connections.
func (p *PostgresRealm) Optimize(context.Context) error {
	p.db.SetMaxIdleConns(0)
	p.db.SetMaxIdleConns(pgMaxIdleConns)
	return nil
}

func (p *PostgresRealm) Close() error {
	p.logger.WithField("realm", p.name).Info("Realm closed")
	return p.db.Close()
}
