package realm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"lodestar/pkg/logging"
)

const redisDialTimeout = 5 * time.Second

// RedisRealm stores records as JSON strings keyed under a per-realm
// prefix, with an id set for counting and enumeration.
type RedisRealm struct {
	name   string
	uri    string
	client goredis.UniversalClient
	logger logging.Logger
}

// NewRedisRealm builds a redis:// realm from a Redis URL.
func NewRedisRealm(name, uri string, logger logging.Logger) (Realm, error) {
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis realm %q url: %w", name, err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = redisDialTimeout
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis realm %q: %w", name, err)
	}

	logger.WithFields(logging.Fields{"realm": name, "backend": "redis", "addr": opts.Addr}).Info("Realm opened")
	return &RedisRealm{name: name, uri: uri, client: client, logger: logger}, nil
}

func (r *RedisRealm) Name() string { return r.name }
func (r *RedisRealm) URI() string  { return r.uri }

func (r *RedisRealm) recordKey(id string) string {
	return fmt.Sprintf("lodestar:%s:rec:%s", r.name, id)
}

func (r *RedisRealm) idSetKey() string {
	return fmt.Sprintf("lodestar:%s:ids", r.name)
}

func (r *RedisRealm) Create(ctx context.Context, rec Record) (string, error) {
	id := uuid.NewString()
	stored := cloneRecord(rec)
	stored["id"] = id
	stored["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("marshal record for realm %q: %w", r.name, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.recordKey(id), data, 0)
	pipe.SAdd(ctx, r.idSetKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store record in realm %q: %w", r.name, err)
	}
	return id, nil
}

func (r *RedisRealm) Read(ctx context.Context, id string) (Record, error) {
	data, err := r.client.Get(ctx, r.recordKey(id)).Bytes()
	if err == goredis.Nil {
		return nil, fmt.Errorf("%w: %q in realm %q", ErrNotFound, id, r.name)
	}
	if err != nil {
		return nil, fmt.Errorf("read from realm %q: %w", r.name, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record %q: %w", id, err)
	}
	return rec, nil
}

func (r *RedisRealm) Update(ctx context.Context, id string, changes Record) (Record, error) {
	current, err := r.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	for k, v := range changes {
		if k == "id" || k == "created_at" {
			continue
		}
		current[k] = v
	}
	current["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("marshal record for realm %q: %w", r.name, err)
	}
	if err := r.client.Set(ctx, r.recordKey(id), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("update realm %q: %w", r.name, err)
	}
	return current, nil
}

func (r *RedisRealm) Delete(ctx context.Context, id string) error {
	removed, err := r.client.SRem(ctx, r.idSetKey(), id).Result()
	if err != nil {
		return fmt.Errorf("delete from realm %q: %w", r.name, err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %q in realm %q", ErrNotFound, id, r.name)
	}
	if err := r.client.Del(ctx, r.recordKey(id)).Err(); err != nil {
		return fmt.Errorf("delete from realm %q: %w", r.name, err)
	}
	return nil
}

func (r *RedisRealm) Count(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.idSetKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count realm %q: %w", r.name, err)
	}
	return int(n), nil
}

func (r *RedisRealm) Status() map[string]any {
	connected := r.client.Ping(context.Background()).Err() == nil
	records := 0
	if n, err := r.client.SCard(context.Background(), r.idSetKey()).Result(); err == nil {
		records = int(n)
	}
	return map[string]any{
		"backend":   "redis",
		"connected": connected,
		"records":   records,
	}
}

func (r *RedisRealm) Close() error {
	r.logger.WithField("realm", r.name).Info("Realm closed")
	return r.client.Close()
}
