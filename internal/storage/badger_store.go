package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/annel0/voxel-stream/internal/world"
	"github.com/dgraph-io/badger/v3"
)

// BadgerStore хранилище чанков на BadgerDB
type BadgerStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerStore открывает (или создаёт) базу в <dataPath>/world
func NewBadgerStore(dataPath string) (*BadgerStore, error) {
	dbPath := filepath.Join(dataPath, "world")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Close закрывает хранилище данных
func (bs *BadgerStore) Close() error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if !bs.isReady {
		return nil
	}

	bs.isReady = false
	return bs.db.Close()
}

func (bs *BadgerStore) ready() error {
	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	return nil
}

// Exists проверяет наличие чанка
func (bs *BadgerStore) Exists(ctx context.Context, id world.ChunkID, level string) (bool, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if err := bs.ready(); err != nil {
		return false, err
	}

	err := bs.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(ChunkKey(level, id)))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return true, nil
}

// Load загружает воксели чанка
func (bs *BadgerStore) Load(ctx context.Context, id world.ChunkID, level string) ([]byte, int, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if err := bs.ready(); err != nil {
		return nil, 0, err
	}

	var data []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(ChunkKey(level, id)))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, 0, fmt.Errorf("load %s: %w", id, ErrChunkNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	return DecodeVoxels(data)
}

// Save сохраняет воксели чанка
func (bs *BadgerStore) Save(ctx context.Context, id world.ChunkID, level string, voxels []byte, solidCount int) error {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if err := bs.ready(); err != nil {
		return err
	}

	data, err := EncodeVoxels(voxels, solidCount)
	if err != nil {
		return fmt.Errorf("ошибка сериализации чанка %s: %w", id, err)
	}

	err = bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(ChunkKey(level, id)), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}
