package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/voxel-stream/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisConfig подключение горячего слоя
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	KeyPrefix      string
	MaxConnections int
	PoolTimeout    time.Duration
}

// RedisTier реализует HotTier поверх Redis
type RedisTier struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisTier подключается к Redis и проверяет соединение
func NewRedisTier(ctx context.Context, cfg RedisConfig) (*RedisTier, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = 30 * time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "voxel:hot:"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		PoolTimeout:  cfg.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetStorageLogger().Info("🔥 Горячий слой Redis: %s (db %d)", cfg.Addr, cfg.DB)
	return NewRedisTierWithClient(rdb, cfg.KeyPrefix), nil
}

// NewRedisTierWithClient оборачивает готовый клиент
func NewRedisTierWithClient(client redis.UniversalClient, prefix string) *RedisTier {
	return &RedisTier{client: client, prefix: prefix}
}

func (r *RedisTier) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	return val, nil
}

func (r *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func (r *RedisTier) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

func (r *RedisTier) Close() error {
	return r.client.Close()
}
