package streamer

import (
	"context"
	"testing"
	"time"

	"github.com/annel0/voxel-stream/internal/config"
	"github.com/annel0/voxel-stream/internal/events"
	"github.com/annel0/voxel-stream/internal/scheduler"
	"github.com/annel0/voxel-stream/internal/storage"
	"github.com/annel0/voxel-stream/internal/terrain"
	"github.com/annel0/voxel-stream/internal/vec"
	"github.com/annel0/voxel-stream/internal/world"
	"github.com/annel0/voxel-stream/internal/world/voxel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(bounds [3]int, voxelR, meshR, activeR int) *config.Config {
	cfg := config.Default()
	cfg.Level.Name = "test"
	cfg.Level.Bounds = bounds
	cfg.Level.Generator = "flat"
	cfg.Apertures[0].Radius, cfg.Apertures[0].HeightRadius = voxelR, 0
	cfg.Apertures[1].Radius, cfg.Apertures[1].HeightRadius = meshR, 0
	cfg.Apertures[2].Radius, cfg.Apertures[2].HeightRadius = activeR, 0
	cfg.Scheduler.TickRate = 2 * time.Millisecond
	cfg.Scheduler.IdleInterval = time.Millisecond
	return cfg
}

func newTestRuntime(t *testing.T, cfg *config.Config, exec scheduler.Executor) (*Runtime, *storage.MemoryStore, *events.Recorder) {
	t.Helper()
	store := storage.NewMemoryStore()
	rec := &events.Recorder{}
	r, err := New(cfg, Options{Store: store, Sink: rec, Executor: exec})
	require.NoError(t, err)
	return r, store, rec
}

func settle(t *testing.T, r *Runtime) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.Settle(ctx))
}

func TestRuntimeResolvesSingleChunk(t *testing.T) {
	r, _, rec := newTestRuntime(t, testConfig([3]int{1, 1, 1}, 2, 1, 0), scheduler.InlineExecutor{})

	fid, focus := r.AddFocus(vec.New(4, 4, 4))
	assert.Equal(t, 0, fid)
	id := world.NewChunkID(0, 0, 0)
	assert.Equal(t, id, focus.CurrentChunk())

	settle(t, r)

	assert.Equal(t, []world.ChunkID{id}, r.ActiveChunks())
	assert.Equal(t, 1, rec.Count(events.ChunkActivate, id))

	stats := r.Stats()
	assert.Equal(t, 1, stats.Level.Loaded)
	assert.Equal(t, 1, stats.Level.Meshed)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Scheduler.Foci)
}

func TestSetVoxelRemeshes(t *testing.T) {
	r, _, rec := newTestRuntime(t, testConfig([3]int{1, 1, 1}, 1, 1, 0), scheduler.InlineExecutor{})
	r.AddFocus(vec.Zero)
	settle(t, r)

	id := world.NewChunkID(0, 0, 0)
	require.Equal(t, 1, rec.Count(events.MeshReady, id))

	pos := vec.New(3, 12, 3)
	r.SetVoxel(pos, voxel.Stone)
	settle(t, r)

	assert.Equal(t, voxel.Stone, r.Level().GetVoxel(pos))
	assert.Equal(t, 2, rec.Count(events.MeshReady, id))
	assert.Equal(t, 1, rec.Count(events.ChunkActivate, id))
}

func TestSetVoxelTogglesPresence(t *testing.T) {
	cfg := testConfig([3]int{1, 2, 1}, 1, 1, 0)
	cfg.Level.FlatHeight = 8
	r, _, rec := newTestRuntime(t, cfg, scheduler.InlineExecutor{})

	pos := vec.New(4, 20, 4)
	id := world.ChunkIDFromWorld(pos)
	require.Equal(t, world.NewChunkID(0, 1, 0), id)
	r.AddFocus(pos)
	settle(t, r)
	require.Empty(t, r.ActiveChunks(), "чанк над поверхностью пуст")

	// правка даёт непустой меш: чанк становится активным
	r.SetVoxel(pos, voxel.Stone)
	settle(t, r)
	c, ok := r.Level().Chunk(id)
	require.True(t, ok)
	assert.True(t, c.MeshIsGenerated())
	assert.False(t, c.MeshIsEmpty())
	assert.Equal(t, []world.ChunkID{id}, r.ActiveChunks())
	assert.Equal(t, 1, rec.Count(events.ChunkActivate, id))

	// правка опустошает меш: чанк снимается
	r.SetVoxel(pos, voxel.Empty)
	settle(t, r)
	assert.True(t, c.MeshIsEmpty())
	assert.Empty(t, r.ActiveChunks())
	assert.Equal(t, 1, rec.Count(events.ChunkDeactivate, id))
}

func TestSetVoxelInUnloadedChunkIsDropped(t *testing.T) {
	r, _, rec := newTestRuntime(t, testConfig([3]int{4, 1, 1}, 0, 0, 0), scheduler.InlineExecutor{})
	r.AddFocus(vec.Zero)
	settle(t, r)
	before := rec.CountType(events.MeshReady)

	pos := vec.New(50, 1, 1)
	r.SetVoxel(pos, voxel.Stone)
	settle(t, r)

	assert.Equal(t, voxel.Empty, r.Level().GetVoxel(pos))
	assert.Equal(t, before, rec.CountType(events.MeshReady))
}

func TestAffectedChunks(t *testing.T) {
	assert.Equal(t, []world.ChunkID{world.NewChunkID(1, 0, 0)}, affectedChunks(vec.New(17, 5, 5)))

	assert.ElementsMatch(t, []world.ChunkID{
		world.NewChunkID(1, 0, 0),
		world.NewChunkID(0, 0, 0),
	}, affectedChunks(vec.New(16, 5, 5)))

	// угол чанка: сам чанк и все семь соседей позади
	corner := affectedChunks(vec.New(16, 16, 16))
	assert.Len(t, corner, 8)
	assert.Contains(t, corner, world.NewChunkID(0, 0, 0))
	assert.Contains(t, corner, world.NewChunkID(1, 0, 1))
}

func TestFocusLifecycle(t *testing.T) {
	r, store, rec := newTestRuntime(t, testConfig([3]int{4, 1, 1}, 1, 0, 0), scheduler.InlineExecutor{})

	fid, focus := r.AddFocus(vec.Zero)
	settle(t, r)
	assert.Equal(t, 2, r.Level().ChunkCount())

	require.NoError(t, r.MoveFocus(fid, vec.New(3*world.Diameter, 0, 0)))
	assert.Equal(t, world.NewChunkID(3, 0, 0), focus.CurrentChunk())
	settle(t, r)

	assert.Equal(t, []world.ChunkID{world.NewChunkID(3, 0, 0)}, r.ActiveChunks())
	assert.Equal(t, 2, store.Len())

	require.NoError(t, r.RemoveFocus(fid))
	settle(t, r)
	assert.Zero(t, r.Level().ChunkCount())
	assert.Equal(t, rec.CountType(events.ChunkActivate), rec.CountType(events.ChunkDeactivate))

	assert.ErrorIs(t, r.MoveFocus(fid, vec.Zero), ErrFocusNotFound)
	assert.ErrorIs(t, r.RemoveFocus(fid), ErrFocusNotFound)
}

func TestStopSavesLoadedChunks(t *testing.T) {
	r, store, _ := newTestRuntime(t, testConfig([3]int{2, 1, 2}, 1, 0, 0), scheduler.InlineExecutor{})
	r.AddFocus(vec.Zero)
	settle(t, r)
	require.Equal(t, 4, r.Level().ChunkCount())
	require.Zero(t, store.Len())

	ctx := context.Background()
	require.NoError(t, r.Stop(ctx))
	assert.Equal(t, 4, store.Len())

	ok, err := store.Exists(ctx, world.NewChunkID(1, 0, 1), "test")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, r.Stop(ctx))
}

func TestRunDrivesResolution(t *testing.T) {
	r, _, rec := newTestRuntime(t, testConfig([3]int{3, 1, 3}, 1, 1, 0), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.AddFocus(vec.New(world.Diameter, 0, world.Diameter))
	center := world.NewChunkID(1, 0, 1)
	require.Eventually(t, func() bool {
		return rec.Count(events.ChunkActivate, center) == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run не завершился")
	}
	require.NoError(t, r.Stop(context.Background()))
}

func TestStopJoinsRun(t *testing.T) {
	r, store, _ := newTestRuntime(t, testConfig([3]int{3, 1, 3}, 1, 1, 0), nil)

	// контекст Run не отменяется: Stop сам останавливает обе роли
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	r.AddFocus(vec.New(world.Diameter, 0, world.Diameter))
	require.Eventually(t, func() bool {
		return r.Level().ChunkCount() == 9
	}, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run не завершился после Stop")
	}
	assert.True(t, r.Scheduler().Stopped())
	assert.Equal(t, 9, store.Len())
	assert.Zero(t, r.Tick(ctx))

	assert.ErrorIs(t, r.Run(context.Background()), scheduler.ErrStopped)
}

func TestNewSource(t *testing.T) {
	src, err := NewSource(config.LevelConfig{Generator: "flat", FlatHeight: 4})
	require.NoError(t, err)
	assert.Equal(t, terrain.Flat{Height: 4}, src)

	src, err = NewSource(config.LevelConfig{})
	require.NoError(t, err)
	assert.IsType(t, &terrain.PerlinSource{}, src)

	_, err = NewSource(config.LevelConfig{Generator: "caves"})
	assert.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig([3]int{1, 1, 1}, 1, 1, 0)
	cfg.Apertures = cfg.Apertures[:2]
	_, err := New(cfg, Options{Store: storage.NewMemoryStore()})
	assert.Error(t, err)

	_, err = New(testConfig([3]int{1, 1, 1}, 1, 1, 0), Options{})
	assert.Error(t, err)
}
