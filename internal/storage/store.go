package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/voxel-stream/internal/world"
)

// ErrChunkNotFound чанк отсутствует в хранилище
var ErrChunkNotFound = errors.New("chunk not found in store")

// ChunkStore хранилище вокселей чанков. Формат и расположение данных скрыты
// от конвейера. Пустой чанк сохраняется как voxels == nil, solidCount == 0.
type ChunkStore interface {
	Exists(ctx context.Context, id world.ChunkID, level string) (bool, error)
	Load(ctx context.Context, id world.ChunkID, level string) ([]byte, int, error)
	Save(ctx context.Context, id world.ChunkID, level string, voxels []byte, solidCount int) error
	Close() error
}

// ChunkKey ключ чанка для key-value хранилищ
func ChunkKey(level string, id world.ChunkID) string {
	return fmt.Sprintf("chunk:%s:%d:%d:%d", level, id.X, id.Y, id.Z)
}
