package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/prizepool-labs/ledger-service/pkg/logger"
)

// RedisStore persists records in Redis. Used when several ledgerd
// restarts must share one durable store.
type RedisStore struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr string, db int, log *logger.Logger) (*RedisStore, error) {
	if log == nil {
		log = logger.NewDefault("redisstore")
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client, log: log}, nil
}

// Save serializes and stores the record at key.
func (s *RedisStore) Save(ctx context.Context, key string, record interface{}) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Load reads the record at key. Missing keys and corrupt values both
// report absent; corruption is logged.
func (s *RedisStore) Load(ctx context.Context, key string, into interface{}) (bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		s.log.WithField("key", key).WithError(err).Warn("corrupt persisted record, treating as absent")
		return false, nil
	}
	return true, nil
}

// Remove deletes the record at key; deleting an absent key is a no-op.
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
