package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "fedgate:wctx:"

// RedisConfig holds Redis connection settings for the correlation store.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int

	// TTL is the snapshot expiration; DefaultTTL when zero.
	TTL time.Duration
}

// RedisStore is a Store backed by Redis. Atomicity of Take comes from
// GETDEL, so concurrent callbacks bearing the same token resolve to a
// single winner regardless of which node they land on.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed correlation store and verifies
// connectivity.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB >= 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Put stores the snapshot under a fresh token with the configured TTL.
func (s *RedisStore) Put(ctx context.Context, snapshot *Snapshot) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}

	now := s.now()
	stored := *snapshot
	stored.CreatedAt = now
	stored.ExpiresAt = now.Add(s.ttl)

	data, err := json.Marshal(&stored)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, redisKeyPrefix+token, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("redis set failed: %w", err)
	}

	return token, nil
}

// Take atomically retrieves and deletes the snapshot for token via GETDEL.
func (s *RedisStore) Take(ctx context.Context, token string) (*Snapshot, error) {
	data, err := s.client.GetDel(ctx, redisKeyPrefix+token).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis getdel failed: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	// The key TTL already bounds the snapshot, but the deadline is checked
	// again here so a lagging expiry never resurrects a stale login.
	if snapshot.Expired(s.now()) {
		return nil, ErrNotFound
	}

	return &snapshot, nil
}

// Count returns the number of live snapshots by scanning the key prefix.
// Redis evicts expired keys itself, so the scan only sees snapshots still
// awaiting a callback.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	var (
		count  int
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 256).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan failed: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
