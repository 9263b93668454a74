package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/voxel-stream/internal/logging"
	"github.com/annel0/voxel-stream/internal/world"
	"github.com/go-redis/redis/v8"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string        // Адрес Redis сервера
	Password  string        // Пароль (пустой если не требуется)
	DB        int           // Номер базы данных
	KeyPrefix string        // Префикс для ключей
	TTL       time.Duration // Время жизни записей, 0: без истечения
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "voxel:",
	}
}

// RedisStore хранит блобы чанков в Redis
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore подключается к Redis и проверяет соединение
func NewRedisStore(ctx context.Context, config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetStorageLogger().Info("🔴 Connected to Redis at %s", config.Addr)
	return NewRedisStoreWithClient(client, config.KeyPrefix, config.TTL), nil
}

// NewRedisStoreWithClient оборачивает готовый клиент
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (rs *RedisStore) key(level string, id world.ChunkID) string {
	return rs.keyPrefix + ChunkKey(level, id)
}

func (rs *RedisStore) Exists(ctx context.Context, id world.ChunkID, level string) (bool, error) {
	n, err := rs.client.Exists(ctx, rs.key(level, id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", id, err)
	}
	return n > 0, nil
}

func (rs *RedisStore) Load(ctx context.Context, id world.ChunkID, level string) ([]byte, int, error) {
	data, err := rs.client.Get(ctx, rs.key(level, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("load %s: %w", id, ErrChunkNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("redis get %s: %w", id, err)
	}
	return DecodeVoxels(data)
}

func (rs *RedisStore) Save(ctx context.Context, id world.ChunkID, level string, voxels []byte, solidCount int) error {
	data, err := EncodeVoxels(voxels, solidCount)
	if err != nil {
		return err
	}
	if err := rs.client.Set(ctx, rs.key(level, id), data, rs.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", id, err)
	}
	return nil
}

func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
