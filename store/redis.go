package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	backend "github.com/redis/go-redis/v9"

	"github.com/petal-labs/storyline/model"
)

// RedisStore persists specifications in Redis: one JSON string per spec
// plus a set of ids.
type RedisStore struct {
	client *backend.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix. Default "storyline:spec:".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore connects to the Redis server at addr.
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	return NewRedisStoreFromClient(backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisStoreFromClient creates a RedisStore from an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "storyline:spec:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) indexKey() string { return s.prefix + "index" }

func (s *RedisStore) Get(ctx context.Context, id string) (model.SpecData, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return model.SpecData{}, ErrSpecNotFound
		}
		return model.SpecData{}, fmt.Errorf("failed to get from redis: %w", err)
	}
	var d model.SpecData
	if err := json.Unmarshal(val, &d); err != nil {
		return model.SpecData{}, fmt.Errorf("failed to unmarshal spec %s: %w", id, err)
	}
	return d, nil
}

func (s *RedisStore) Put(ctx context.Context, d model.SpecData) (string, error) {
	if d.ID == "" {
		return "", errMissingID
	}
	d.Revision = newRevision()
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal spec: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(d.ID), data, 0)
	pipe.SAdd(ctx, s.indexKey(), d.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to save to redis: %w", err)
	}
	return d.Revision, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(id))
	pipe.SRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list specs: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Compile-time interface check.
var _ SpecStore = (*RedisStore)(nil)
