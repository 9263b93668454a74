package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/annel0/voxel-stream/internal/config"
	"github.com/annel0/voxel-stream/internal/logging"
)

// Open создаёт хранилище чанков по конфигурации
func Open(ctx context.Context, cfg config.StorageConfig) (ChunkStore, error) {
	log := logging.GetStorageLogger()

	var (
		store ChunkStore
		err   error
	)

	switch cfg.Backend {
	case "", "badger":
		store, err = NewBadgerStore(cfg.Path)
	case "file":
		store, err = NewFileStore(cfg.Path)
	case "memory":
		log.Warn("⚠️ Используется хранилище в памяти, данные не сохраняются между запусками")
		store = NewMemoryStore()
	case "redis":
		store, err = NewRedisStore(ctx, &RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: "voxel:",
		})
	case "mysql":
		store, err = NewSQLStore(ctx, MySQLDialect, cfg.DSN)
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = filepath.Join(cfg.Path, "chunks.db")
		}
		if err = os.MkdirAll(filepath.Dir(dsn), 0755); err == nil {
			store, err = NewSQLStore(ctx, SQLiteDialect, dsn)
		}
	case "mongo":
		store, err = NewMongoStore(ctx, MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
	default:
		return nil, fmt.Errorf("неизвестный backend хранилища: %q", cfg.Backend)
	}

	if err != nil {
		return nil, err
	}
	log.Info("💾 Хранилище чанков: %s", backendName(cfg.Backend))
	return store, nil
}

func backendName(b string) string {
	if b == "" {
		return "badger"
	}
	return b
}
