package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/voxel-stream/internal/storage"
	"github.com/annel0/voxel-stream/internal/world"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapTier горячий слой в памяти для тестов
type mapTier struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	closed bool
}

func newMapTier() *mapTier { return &mapTier{data: make(map[string][]byte)} }

func (m *mapTier) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (m *mapTier) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *mapTier) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *mapTier) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mapTier) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// flakyStore постоянное хранилище с отказами записи
type flakyStore struct {
	*storage.MemoryStore
	fail atomic.Bool
}

func (f *flakyStore) Save(ctx context.Context, id world.ChunkID, level string, voxels []byte, solid int) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.MemoryStore.Save(ctx, id, level, voxels, solid)
}

func stoneVoxels(n int) []byte {
	v := make([]byte, world.VoxelCount)
	for i := 0; i < n; i++ {
		v[i] = 1
	}
	return v
}

func TestReadThroughWarmsHotTier(t *testing.T) {
	ctx := context.Background()
	hot, cold := newMapTier(), storage.NewMemoryStore()
	id := world.NewChunkID(1, 2, 3)
	require.NoError(t, cold.Save(ctx, id, "lvl", stoneVoxels(10), 10))

	s := NewTieredStore(hot, cold, Options{})
	defer s.Close()

	voxels, solid, err := s.Load(ctx, id, "lvl")
	require.NoError(t, err)
	assert.Equal(t, 10, solid)
	assert.Equal(t, stoneVoxels(10), voxels)
	assert.True(t, hot.has(storage.ChunkKey("lvl", id)))

	_, _, err = s.Load(ctx, id, "lvl")
	require.NoError(t, err)

	m := s.Metrics()
	assert.EqualValues(t, 2, m.TotalRequests)
	assert.EqualValues(t, 1, m.CacheHits)
	assert.EqualValues(t, 1, m.CacheMisses)
	assert.InDelta(t, 0.5, m.HitRatio, 1e-9)

	_, _, err = s.Load(ctx, world.NewChunkID(9, 9, 9), "lvl")
	assert.ErrorIs(t, err, storage.ErrChunkNotFound)
}

func TestWriteBehindDefersColdWrite(t *testing.T) {
	ctx := context.Background()
	hot, cold := newMapTier(), storage.NewMemoryStore()
	s := NewTieredStore(hot, cold, Options{WriteBehind: true, WriteBehindInterval: time.Hour})
	defer s.Close()

	id := world.NewChunkID(0, 0, 0)
	src := stoneVoxels(5)
	require.NoError(t, s.Save(ctx, id, "lvl", src, 5))
	src[0] = 0 // очередь хранит собственную копию

	assert.Equal(t, 0, cold.Len())
	ok, err := s.Exists(ctx, id, "lvl")
	require.NoError(t, err)
	assert.True(t, ok)

	voxels, solid, err := s.Load(ctx, id, "lvl")
	require.NoError(t, err)
	assert.Equal(t, 5, solid)
	assert.Equal(t, byte(1), voxels[0])
	assert.EqualValues(t, 1, s.Metrics().PendingWrites)

	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 1, cold.Len())
	assert.EqualValues(t, 0, s.Metrics().PendingWrites)
	assert.EqualValues(t, 1, s.Metrics().Flushed)
}

func TestWriteBehindFlushesFullBatch(t *testing.T) {
	ctx := context.Background()
	cold := storage.NewMemoryStore()
	s := NewTieredStore(newMapTier(), cold, Options{WriteBehind: true, WriteBehindInterval: time.Hour, WriteBehindBatch: 2})
	defer s.Close()

	require.NoError(t, s.Save(ctx, world.NewChunkID(0, 0, 0), "lvl", nil, 0))
	require.NoError(t, s.Save(ctx, world.NewChunkID(1, 0, 0), "lvl", stoneVoxels(1), 1))

	assert.Eventually(t, func() bool { return cold.Len() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestCloseFlushesAndRejectsWrites(t *testing.T) {
	ctx := context.Background()
	hot, cold := newMapTier(), storage.NewMemoryStore()
	s := NewTieredStore(hot, cold, Options{WriteBehind: true, WriteBehindInterval: time.Hour})

	id := world.NewChunkID(2, 0, 2)
	require.NoError(t, s.Save(ctx, id, "lvl", stoneVoxels(3), 3))
	require.NoError(t, s.Close())

	assert.Equal(t, 1, cold.Len())
	assert.True(t, hot.closed)
	assert.ErrorIs(t, s.Save(ctx, id, "lvl", nil, 0), ErrClosed)
	assert.NoError(t, s.Close())
}

func TestFailedFlushRequeues(t *testing.T) {
	ctx := context.Background()
	cold := &flakyStore{MemoryStore: storage.NewMemoryStore()}
	s := NewTieredStore(newMapTier(), cold, Options{WriteBehind: true, WriteBehindInterval: time.Hour})
	defer s.Close()

	cold.fail.Store(true)
	require.NoError(t, s.Save(ctx, world.NewChunkID(0, 1, 0), "lvl", stoneVoxels(2), 2))
	assert.Error(t, s.Flush(ctx))
	assert.EqualValues(t, 1, s.Metrics().PendingWrites)
	assert.EqualValues(t, 1, s.Metrics().FlushErrors)

	cold.fail.Store(false)
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 1, cold.Len())
}

func TestWriteThrough(t *testing.T) {
	ctx := context.Background()
	hot, cold := newMapTier(), storage.NewMemoryStore()
	s := NewTieredStore(hot, cold, Options{})
	defer s.Close()

	id := world.NewChunkID(3, 3, 3)
	require.NoError(t, s.Save(ctx, id, "lvl", stoneVoxels(7), 7))
	assert.Equal(t, 1, cold.Len())
	assert.True(t, hot.has(storage.ChunkKey("lvl", id)))
}

func TestHotTierFailuresFallBackToCold(t *testing.T) {
	ctx := context.Background()
	hot, cold := newMapTier(), storage.NewMemoryStore()
	id := world.NewChunkID(0, 0, 1)
	require.NoError(t, cold.Save(ctx, id, "lvl", stoneVoxels(4), 4))

	s := NewTieredStore(hot, cold, Options{})
	defer s.Close()

	// повреждённый блоб удаляется и перечитывается из постоянного слоя
	require.NoError(t, hot.Set(ctx, storage.ChunkKey("lvl", id), []byte("garbage"), 0))
	_, solid, err := s.Load(ctx, id, "lvl")
	require.NoError(t, err)
	assert.Equal(t, 4, solid)

	hot.getErr = errors.New("connection refused")
	ok, err := s.Exists(ctx, id, "lvl")
	require.NoError(t, err)
	assert.True(t, ok)
	_, solid, err = s.Load(ctx, id, "lvl")
	require.NoError(t, err)
	assert.Equal(t, 4, solid)
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewTieredStore(newMapTier(), storage.NewMemoryStore(), Options{WriteBehind: true, WriteBehindInterval: time.Hour})
	defer s.Close()
	require.NoError(t, s.RegisterMetrics(reg))

	require.NoError(t, s.Save(context.Background(), world.NewChunkID(0, 0, 0), "lvl", nil, 0))
	n, err := testutil.GatherAndCount(reg, "voxel_cache_pending_writes")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 1, s.Metrics().PendingWrites)
}
