package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string        `json:"addr" yaml:"addr" env:"ADDR"`
	Password string        `json:"password,omitempty" yaml:"password" env:"PASSWORD"`
	DB       int           `json:"db,omitempty" yaml:"db" env:"DB"`
	Prefix   string        `json:"prefix,omitempty" yaml:"prefix" env:"PREFIX"`
	TTL      time.Duration `json:"ttl,omitempty" yaml:"ttl" env:"TTL"`
}

// RedisStorage stores each key as a redis string. A zero TTL keeps values
// until they are deleted.
type RedisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStorage connects and pings the server.
func NewRedisStorage(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStorage, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis storage requires an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStorage{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		logger: logger.With(zap.String("component", "redis_storage")),
	}, nil
}

// Put stores value at key.
func (s *RedisStorage) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := s.client.Set(ctx, joinKey(s.prefix, key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	s.logger.Debug("stored object", zap.String("key", key), zap.Int("bytes", len(value)))
	return nil
}

// Get reads the value at key.
func (s *RedisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	data, err := s.client.Get(ctx, joinKey(s.prefix, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether key holds a value.
func (s *RedisStorage) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	n, err := s.client.Exists(ctx, joinKey(s.prefix, key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return n > 0, nil
}

// Delete removes key.
func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := s.client.Del(ctx, joinKey(s.prefix, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close closes the redis client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
