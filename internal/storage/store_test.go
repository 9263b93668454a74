package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/annel0/voxel-stream/internal/config"
	"github.com/annel0/voxel-stream/internal/world"
	"github.com/annel0/voxel-stream/internal/world/voxel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleVoxels() ([]byte, int) {
	voxels := make([]byte, world.VoxelCount)
	solid := 0
	for i := range voxels {
		if i%3 == 0 {
			voxels[i] = byte(voxel.Stone)
			solid++
		}
	}
	return voxels, solid
}

func TestCodecRoundTrip(t *testing.T) {
	voxels, solid := sampleVoxels()

	blob, err := EncodeVoxels(voxels, solid)
	require.NoError(t, err)
	assert.Equal(t, blobMagic, string(blob[:4]))
	assert.Less(t, len(blob), world.VoxelCount)

	got, gotSolid, err := DecodeVoxels(blob)
	require.NoError(t, err)
	assert.Equal(t, solid, gotSolid)
	assert.Equal(t, voxels, got)
}

func TestCodecEmptyChunk(t *testing.T) {
	blob, err := EncodeVoxels(nil, 0)
	require.NoError(t, err)
	assert.Len(t, blob, blobHeaderSize)

	got, solid, err := DecodeVoxels(blob)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, solid)
}

func TestCodecRejectsBadInput(t *testing.T) {
	_, err := EncodeVoxels(make([]byte, 10), 3)
	assert.Error(t, err)

	_, _, err = DecodeVoxels([]byte("nope"))
	assert.Error(t, err)

	voxels, solid := sampleVoxels()
	blob, err := EncodeVoxels(voxels, solid)
	require.NoError(t, err)
	blob[12] ^= 0xFF
	_, _, err = DecodeVoxels(blob)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestCodecRejectsWrongSolidCount(t *testing.T) {
	voxels, solid := sampleVoxels()
	assert.Equal(t, solid, CountSolid(voxels))

	// заголовок врёт о количестве твёрдых вокселей
	blob, err := EncodeVoxels(voxels, solid+1)
	require.NoError(t, err)
	_, _, err = DecodeVoxels(blob)
	assert.ErrorIs(t, err, ErrSolidCountMismatch)

	blob, err = EncodeVoxels(make([]byte, world.VoxelCount), 5)
	require.NoError(t, err)
	_, _, err = DecodeVoxels(blob)
	assert.ErrorIs(t, err, ErrSolidCountMismatch)
}

// exerciseStore общий сценарий для всех реализаций ChunkStore
func exerciseStore(t *testing.T, store ChunkStore) {
	t.Helper()
	ctx := context.Background()
	id := world.NewChunkID(3, -1, 7)

	ok, err := store.Exists(ctx, id, "test")
	require.NoError(t, err)
	assert.False(t, ok, "чанк не должен существовать до сохранения")

	_, _, err = store.Load(ctx, id, "test")
	assert.ErrorIs(t, err, ErrChunkNotFound)

	voxels, solid := sampleVoxels()
	require.NoError(t, store.Save(ctx, id, "test", voxels, solid))

	ok, err = store.Exists(ctx, id, "test")
	require.NoError(t, err)
	assert.True(t, ok)

	got, gotSolid, err := store.Load(ctx, id, "test")
	require.NoError(t, err)
	assert.Equal(t, solid, gotSolid)
	assert.Equal(t, voxels, got)

	// Уровни изолированы
	ok, err = store.Exists(ctx, id, "other")
	require.NoError(t, err)
	assert.False(t, ok)

	// Перезапись пустым чанком
	require.NoError(t, store.Save(ctx, id, "test", nil, 0))
	got, gotSolid, err = store.Load(ctx, id, "test")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, gotSolid)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	exerciseStore(t, store)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreHonoursContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.Save(ctx, world.NewChunkID(0, 0, 0), "test", nil, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, store)

	path := store.ChunkPath(world.NewChunkID(3, -1, 7), "test")
	assert.Equal(t, "3,-1,7.evxch", filepath.Base(path))

	ids, err := store.ListChunks("test")
	require.NoError(t, err)
	assert.Equal(t, []world.ChunkID{world.NewChunkID(3, -1, 7)}, ids)

	ids, err = store.ListChunks("missing")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSafeLevelName(t *testing.T) {
	assert.Equal(t, "mylevel", SafeLevelName("my/le:vel"))
	assert.Equal(t, "ok name", SafeLevelName("ok name"))
}

func setupBadgerStore(t *testing.T) (*BadgerStore, string) {
	tempDir, err := os.MkdirTemp("", "chunk-store-test")
	if err != nil {
		t.Fatalf("Не удалось создать временную директорию: %v", err)
	}

	store, err := NewBadgerStore(tempDir)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("Не удалось создать хранилище: %v", err)
	}
	return store, tempDir
}

func cleanupBadgerStore(store *BadgerStore, tempDir string) {
	if store != nil {
		store.Close()
	}
	if tempDir != "" {
		os.RemoveAll(tempDir)
	}
}

func TestBadgerStore(t *testing.T) {
	store, tempDir := setupBadgerStore(t)
	defer cleanupBadgerStore(store, tempDir)

	exerciseStore(t, store)
}

func TestBadgerStoreClosed(t *testing.T) {
	store, tempDir := setupBadgerStore(t)
	defer cleanupBadgerStore(nil, tempDir)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "повторное закрытие не должно возвращать ошибку")

	_, err := store.Exists(context.Background(), world.NewChunkID(0, 0, 0), "test")
	assert.Error(t, err)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLStore(ctx, SQLiteDialect, filepath.Join(t.TempDir(), "chunks.db"))
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)

	n, err := store.Count(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, backend := range []string{"memory", "file", "sqlite", "badger"} {
		t.Run(backend, func(t *testing.T) {
			store, err := Open(ctx, config.StorageConfig{Backend: backend, Path: filepath.Join(dir, backend)})
			require.NoError(t, err)
			defer store.Close()
			exerciseStore(t, store)
		})
	}

	_, err := Open(ctx, config.StorageConfig{Backend: "floppy"})
	assert.Error(t, err)
}

func TestChunkKey(t *testing.T) {
	assert.Equal(t, "chunk:lvl:1:-2:3", ChunkKey("lvl", world.NewChunkID(1, -2, 3)))
}
