package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RedisStore implements Store on a Redis backend. Keys are namespaced as
// "collection:key". Ledger and mapping entries have no TTL; retention is an
// external concern.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(config *RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func redisKey(collection, key string) string {
	return fmt.Sprintf("%s:%s", collection, key)
}

// Get returns the value stored under collection/key.
func (s *RedisStore) Get(ctx context.Context, collection, key string) (string, error) {
	val, err := s.client.Get(ctx, redisKey(collection, key)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// Set stores the value under collection/key.
func (s *RedisStore) Set(ctx context.Context, collection, key, value string) error {
	return s.client.Set(ctx, redisKey(collection, key), value, 0).Err()
}

// Delete removes collection/key. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, collection, key string) error {
	return s.client.Del(ctx, redisKey(collection, key)).Err()
}

// Exists reports whether collection/key is present.
func (s *RedisStore) Exists(ctx context.Context, collection, key string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKey(collection, key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
