package audit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisConfig holds the connection settings for the Redis audit store.
type RedisConfig struct {
	Addr     string
	Password string // optional
	DB       int    // optional
}

// RedisStore keeps each collection as a Redis hash.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings Redis.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Redis connection successful.")
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// RecordField runs HSET; the reply counts newly created fields.
func (s *RedisStore) RecordField(ctx context.Context, collection, field, value string) (bool, error) {
	added, err := s.client.HSet(ctx, collection, field, value).Result()
	if err != nil {
		return false, fmt.Errorf("hset: %w", err)
	}
	return added == 1, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	log.Info().Msg("Closing redis connection.")
	return s.client.Close()
}
