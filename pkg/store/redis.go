package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/systemstart/showrunner/pkg/api"
)

// farFuture is the index score of bundles that never expire.
const farFuture = 4102444800 // 2100-01-01

// Redis implements Store using Redis. Bundles are JSON values; a sorted set
// indexes them by expiry so List can prune lazily.
type Redis struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithTTL sets the expiration for bundles.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *Redis) { s.ttl = ttl }
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *Redis) { s.prefix = prefix }
}

// NewRedis connects to the Redis server at address.
func NewRedis(address, password string, db int, opts ...RedisOption) *Redis {
	return NewRedisFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisFromClient creates a store from an existing client.
func NewRedisFromClient(client *backend.Client, opts ...RedisOption) *Redis {
	s := &Redis{
		client: client,
		prefix: "showrunner:run:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Redis) key(runID string) string {
	return s.prefix + runID
}

func (s *Redis) indexKey() string {
	return s.prefix + "index"
}

// Save persists the bundle and indexes it.
func (s *Redis) Save(ctx context.Context, bundle *api.ResultBundle) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}

	score := float64(farFuture)
	if s.ttl > 0 {
		score = float64(time.Now().Add(s.ttl).Unix())
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(bundle.RunID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: bundle.RunID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save to redis: %w", err)
	}
	return nil
}

// Load retrieves a bundle.
func (s *Redis) Load(ctx context.Context, runID string) (*api.ResultBundle, error) {
	val, err := s.client.Get(ctx, s.key(runID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, api.ErrRunNotFound
		}
		return nil, fmt.Errorf("get from redis: %w", err)
	}

	var bundle api.ResultBundle
	if err := json.Unmarshal([]byte(val), &bundle); err != nil {
		return nil, fmt.Errorf("unmarshal bundle: %w", err)
	}
	return &bundle, nil
}

// List prunes expired index entries and returns the remaining run ids.
func (s *Redis) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("prune expired runs: %w", err)
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return ids, nil
}

// Delete removes the bundle and its index entry.
func (s *Redis) Delete(ctx context.Context, runID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(runID))
	pipe.ZRem(ctx, s.indexKey(), runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete from redis: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *Redis) Close() error {
	return s.client.Close()
}
