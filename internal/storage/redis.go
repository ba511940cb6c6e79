package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"traffic-router/internal/apperr"
	"traffic-router/internal/config"
	"traffic-router/internal/engine"
)

// Keyspace:
//
//	targets              SET of target ids
//	target:<id>          HASH of target fields (accept serialized as JSON text)
//	accepts:<id>:<date>  STRING daily accept counter, expires after 24h
const (
	targetsKey      = "targets"
	targetKeyPrefix = "target:"
	acceptKeyPrefix = "accepts:"
)

func targetKey(id string) string { return targetKeyPrefix + id }

func counterKey(id, day string) string { return acceptKeyPrefix + id + ":" + day }

type Store struct {
	rdb *redis.Client
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.DialTimeout(),
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout())
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// List enumerates the full catalog: one SMEMBERS for the index, then a
// pipelined HGETALL per id. Ids whose hash has vanished are skipped.
func (s *Store) List(ctx context.Context) ([]engine.Target, error) {
	ids, err := s.rdb.SMembers(ctx, targetsKey).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "failed to fetch targets", err)
	}
	out := make([]engine.Target, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, targetKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "failed to fetch targets", err)
	}

	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		out = append(out, targetFromHash(fields))
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (engine.Target, error) {
	fields, err := s.rdb.HGetAll(ctx, targetKey(id)).Result()
	if err != nil {
		return engine.Target{}, apperr.Wrap(apperr.KindStore, "failed to fetch target", err)
	}
	if len(fields) == 0 {
		return engine.Target{}, apperr.New(apperr.KindNotFound, "target not found")
	}
	return targetFromHash(fields), nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, targetKey(id)).Result()
	if err != nil {
		return false, apperr.Wrap(apperr.KindStore, "failed to check target", err)
	}
	return n > 0, nil
}

// Create assigns the id server-side; any caller-supplied id is ignored.
func (s *Store) Create(ctx context.Context, t engine.Target) (string, error) {
	t.ID = uuid.NewString()
	if err := s.rdb.HSet(ctx, targetKey(t.ID), hashFromTarget(t)).Err(); err != nil {
		return "", apperr.Wrap(apperr.KindStore, "failed to save target", err)
	}
	if err := s.rdb.SAdd(ctx, targetsKey, t.ID).Err(); err != nil {
		return "", apperr.Wrap(apperr.KindStore, "failed to index target", err)
	}
	return t.ID, nil
}

// Update writes only the provided fields. Existence is the caller's concern.
func (s *Store) Update(ctx context.Context, id string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	flat := make([]string, 0, len(fields)*2)
	for k, v := range fields {
		flat = append(flat, k, v)
	}
	if err := s.rdb.HSet(ctx, targetKey(id), flat).Err(); err != nil {
		return apperr.Wrap(apperr.KindStore, "failed to update target", err)
	}
	return nil
}

// Counts reads all candidate counters in one MGET; results align with ids,
// missing counters read as 0.
func (s *Store) Counts(ctx context.Context, ids []string, day string) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = counterKey(id, day)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "failed to check limits", err)
	}

	counts := make([]int64, len(ids))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // redis nil, no accepts today
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		counts[i] = n
	}
	return counts, nil
}

func (s *Store) Increment(ctx context.Context, id, day string) (int64, error) {
	n, err := s.rdb.Incr(ctx, counterKey(id, day)).Result()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStore, "failed to increment accept", err)
	}
	return n, nil
}

func (s *Store) Expire(ctx context.Context, id, day string, ttl time.Duration) error {
	if err := s.rdb.Expire(ctx, counterKey(id, day), ttl).Err(); err != nil {
		return apperr.Wrap(apperr.KindStore, "failed to expire accept counter", err)
	}
	return nil
}

func targetFromHash(fields map[string]string) engine.Target {
	return engine.Target{
		ID:               fields["id"],
		URL:              fields["url"],
		Value:            fields["value"],
		MaxAcceptsPerDay: fields["maxAcceptsPerDay"],
		Accept:           fields["accept"],
	}
}

func hashFromTarget(t engine.Target) map[string]string {
	return map[string]string{
		"id":               t.ID,
		"url":              t.URL,
		"value":            t.Value,
		"maxAcceptsPerDay": t.MaxAcceptsPerDay,
		"accept":           t.Accept,
	}
}
