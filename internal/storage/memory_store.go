package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/annel0/voxel-stream/internal/world"
)

// MemoryStore реализует ChunkStore в памяти.
// Используется в тестах и для локальной разработки без БД.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore создает хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Exists(ctx context.Context, id world.ChunkID, level string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[ChunkKey(level, id)]
	return ok, nil
}

func (s *MemoryStore) Load(ctx context.Context, id world.ChunkID, level string) ([]byte, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	blob, ok := s.blobs[ChunkKey(level, id)]
	s.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("load %s: %w", id, ErrChunkNotFound)
	}
	return DecodeVoxels(blob)
}

func (s *MemoryStore) Save(ctx context.Context, id world.ChunkID, level string, voxels []byte, solidCount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	blob, err := EncodeVoxels(voxels, solidCount)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.blobs[ChunkKey(level, id)] = blob
	s.mu.Unlock()
	return nil
}

// Len количество сохранённых чанков
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

func (s *MemoryStore) Close() error { return nil }
