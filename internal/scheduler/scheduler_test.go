package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/annel0/voxel-stream/internal/aperture"
	"github.com/annel0/voxel-stream/internal/events"
	"github.com/annel0/voxel-stream/internal/storage"
	"github.com/annel0/voxel-stream/internal/terrain"
	"github.com/annel0/voxel-stream/internal/vec"
	"github.com/annel0/voxel-stream/internal/world"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	level  *world.Level
	store  *storage.MemoryStore
	rec    *events.Recorder
	voxels *aperture.VoxelData
	meshes *aperture.MeshGeneration
	active *aperture.ActiveChunkObject
}

func newStack(bounds vec.Vec3, voxelR, meshR, activeR int) *stack {
	st := &stack{
		level: world.NewLevel("test", 3, bounds),
		store: storage.NewMemoryStore(),
		rec:   &events.Recorder{},
	}
	st.voxels = aperture.NewVoxelData(st.level, aperture.Config{Radius: voxelR, TrackExits: true}, st.store, terrain.Flat{Height: 8}, st.rec)
	st.meshes = aperture.NewMeshGeneration(st.level, aperture.Config{Radius: meshR, TrackExits: true}, st.rec)
	st.active = aperture.NewActiveChunkObject(st.level, aperture.Config{Radius: activeR, TrackExits: true}, st.meshes, st.rec)
	return st
}

func (st *stack) apertures() []aperture.Aperture {
	return []aperture.Aperture{st.voxels, st.meshes, st.active}
}

func settle(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Settle(ctx))
}

func TestWorkPriorityOrdering(t *testing.T) {
	near := WorkPriority{Stage: aperture.StageMesh, Distance: 1, Direction: aperture.InFocus}
	far := WorkPriority{Stage: aperture.StageMesh, Distance: 4, Direction: aperture.InFocus}
	assert.True(t, near.Less(far))
	assert.False(t, far.Less(near))

	// стадия доминирует над расстоянием в пределах запаса
	voxel := WorkPriority{Stage: aperture.StageVoxelData, Distance: 2, Direction: aperture.InFocus}
	active := WorkPriority{Stage: aperture.StageActive, Distance: 0, Direction: aperture.InFocus}
	assert.True(t, voxel.Less(active))
	assert.Equal(t, 6, active.Value())

	// с OutOfFocus сравнение обращено: дальние раньше
	out := WorkPriority{Stage: aperture.StageMesh, Distance: 5, Direction: aperture.OutOfFocus}
	in := WorkPriority{Stage: aperture.StageMesh, Distance: 2, Direction: aperture.InFocus}
	assert.True(t, out.Less(in))
	assert.False(t, in.Less(out))

	outNear := WorkPriority{Stage: aperture.StageMesh, Distance: 1, Direction: aperture.OutOfFocus}
	assert.True(t, out.Less(outNear))

	same := WorkPriority{Stage: aperture.StageMesh, Distance: 5, Direction: aperture.InFocus}
	assert.False(t, out.Less(same))
	assert.False(t, same.Less(out))
}

func TestWorkQueuePopsByPriority(t *testing.T) {
	var q workQueue
	adj := func(x int) aperture.Adjustment {
		return aperture.Adjustment{Chunk: world.NewChunkID(x, 0, 0), Direction: aperture.InFocus}
	}
	q.push(WorkPriority{Stage: aperture.StageVoxelData, Distance: 3}, adj(3))
	q.push(WorkPriority{Stage: aperture.StageVoxelData, Distance: 1}, adj(1))
	q.push(WorkPriority{Stage: aperture.StageVoxelData, Distance: 2}, adj(2))
	q.push(WorkPriority{Stage: aperture.StageVoxelData, Distance: 1}, adj(10))

	var got []int
	for {
		it, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, it.adj.Chunk.X)
	}
	assert.Equal(t, []int{1, 10, 2, 3}, got)
	assert.Equal(t, 0, q.len())
}

func TestNearestFocusDistance(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(16, 16, 16))
	id := world.NewChunkID(5, 2, 5)
	assert.Equal(t, 0, NearestFocusDistance(level, id, 5))

	level.AddFocus(world.NewTrackedFocusAtChunk(world.NewChunkID(0, 0, 0)))
	level.AddFocus(world.NewTrackedFocusAtChunk(world.NewChunkID(5, 0, 5)))

	// ближний фокус: dy=2 с весом 5
	assert.Equal(t, 10, NearestFocusDistance(level, id, 5))
	assert.Equal(t, 2, NearestFocusDistance(level, id, 1))
}

func TestNewRejectsMisorderedApertures(t *testing.T) {
	st := newStack(vec.New(1, 1, 1), 1, 1, 0)
	_, err := New(st.level, []aperture.Aperture{st.meshes, st.voxels, st.active}, nil, Options{})
	assert.Error(t, err)

	_, err = New(st.level, nil, nil, Options{})
	assert.Error(t, err)
}

func TestSingleChunkScenario(t *testing.T) {
	st := newStack(vec.New(1, 1, 1), 2, 1, 0)
	s, err := New(st.level, st.apertures(), InlineExecutor{}, Options{})
	require.NoError(t, err)

	id := world.NewChunkID(0, 0, 0)
	s.AddFocus(world.NewTrackedFocusAtChunk(id))
	settle(t, s)

	c, ok := st.level.Chunk(id)
	require.True(t, ok)
	assert.True(t, c.IsLoaded())
	assert.True(t, c.MeshIsGenerated())
	assert.False(t, c.MeshIsEmpty())
	assert.Equal(t, 1, st.rec.Count(events.ChunkActivate, id))
	assert.Equal(t, 1, st.rec.Count(events.MeshReady, id))

	stats := s.Stats()
	assert.Zero(t, stats.Queued)
	assert.Zero(t, stats.InFlight)
	assert.Equal(t, 1, stats.Foci)

	// повторные проходы ничего не меняют
	settle(t, s)
	assert.Equal(t, 1, st.rec.Count(events.ChunkActivate, id))
}

func TestSingleChunkScenarioOnPool(t *testing.T) {
	st := newStack(vec.New(1, 1, 1), 2, 1, 0)
	exec := NewPoolExecutor(0)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s, err := New(st.level, st.apertures(), exec, Options{Metrics: metrics})
	require.NoError(t, err)
	defer s.Stop()

	id := world.NewChunkID(0, 0, 0)
	s.AddFocus(world.NewTrackedFocusAtChunk(id))
	settle(t, s)

	c, ok := st.level.Chunk(id)
	require.True(t, ok)
	assert.True(t, c.MeshIsGenerated())
	assert.Equal(t, 1, st.rec.Count(events.ChunkActivate, id))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.jobsStarted.WithLabelValues("voxel_data", "in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.jobsCompleted.WithLabelValues("active_chunk_object", "in", "ok")))
	assert.Zero(t, testutil.ToFloat64(metrics.inFlight))
}

func TestFocusMoveEvictsBehind(t *testing.T) {
	st := newStack(vec.New(4, 1, 1), 1, 0, 0)
	s, err := New(st.level, st.apertures(), InlineExecutor{}, Options{})
	require.NoError(t, err)

	origin := world.NewChunkID(0, 0, 0)
	focus := world.NewTrackedFocusAtChunk(origin)
	s.AddFocus(focus)
	settle(t, s)

	assert.Equal(t, 2, st.level.ChunkCount())
	assert.True(t, st.active.IsActive(origin))

	target := world.NewChunkID(3, 0, 0)
	focus.SetChunk(target)
	settle(t, s)

	_, ok := st.level.Chunk(origin)
	assert.False(t, ok, "чанк позади фокуса выгружен")
	_, ok = st.level.Chunk(world.NewChunkID(1, 0, 0))
	assert.False(t, ok)
	assert.Equal(t, 2, st.store.Len())

	c, ok := st.level.Chunk(target)
	require.True(t, ok)
	assert.True(t, c.MeshIsGenerated())
	assert.True(t, st.active.IsActive(target))
	assert.False(t, st.active.IsActive(origin))

	assert.Equal(t, 1, st.rec.Count(events.ChunkDeactivate, origin))
	assert.Equal(t, 1, st.rec.Count(events.MeshRemoved, origin))
	assert.Equal(t, 1, st.rec.Count(events.ChunkActivate, target))
	assert.Equal(t, target, focus.PreviousChunk())
}

func TestRemoveFocusReleasesRegion(t *testing.T) {
	st := newStack(vec.New(2, 1, 2), 1, 1, 0)
	s, err := New(st.level, st.apertures(), InlineExecutor{}, Options{})
	require.NoError(t, err)

	fid := s.AddFocus(world.NewTrackedFocusAtChunk(world.NewChunkID(0, 0, 0)))
	settle(t, s)
	require.Equal(t, 4, st.level.ChunkCount())
	require.Equal(t, 1, st.rec.CountType(events.ChunkActivate))

	assert.True(t, s.RemoveFocus(fid))
	settle(t, s)

	assert.Zero(t, st.level.ChunkCount())
	assert.Equal(t, 4, st.store.Len())
	assert.Equal(t, 1, st.rec.CountType(events.ChunkDeactivate))
	assert.Equal(t, st.rec.CountType(events.MeshReady), st.rec.CountType(events.MeshRemoved))
	assert.Zero(t, s.Stats().Foci)
}

func TestRequeueRemeshesDirtyChunk(t *testing.T) {
	st := newStack(vec.New(1, 1, 1), 1, 1, 0)
	s, err := New(st.level, st.apertures(), InlineExecutor{}, Options{})
	require.NoError(t, err)

	id := world.NewChunkID(0, 0, 0)
	s.AddFocus(world.NewTrackedFocusAtChunk(id))
	settle(t, s)
	require.Equal(t, 1, st.rec.Count(events.MeshReady, id))

	// без пометки повторное изменение отбрасывается
	s.Requeue(aperture.StageMesh, aperture.Adjustment{Chunk: id, Direction: aperture.InFocus})
	settle(t, s)
	assert.Equal(t, 1, st.rec.Count(events.MeshReady, id))

	require.NoError(t, st.level.SetVoxel(vec.New(3, 12, 3), 1))
	st.meshes.MarkDirty(id)
	s.Requeue(aperture.StageMesh, aperture.Adjustment{Chunk: id, Direction: aperture.InFocus})
	settle(t, s)
	assert.Equal(t, 2, st.rec.Count(events.MeshReady, id))
	assert.Equal(t, 1, st.rec.Count(events.ChunkActivate, id))
}

func TestRunStopsOnCancel(t *testing.T) {
	st := newStack(vec.New(1, 1, 1), 1, 1, 0)
	s, err := New(st.level, st.apertures(), NewPoolExecutor(2), Options{IdleInterval: time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	id := world.NewChunkID(0, 0, 0)
	s.AddFocus(world.NewTrackedFocusAtChunk(id))

	require.Eventually(t, func() bool {
		s.Tick(ctx)
		return st.rec.Count(events.ChunkActivate, id) == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("планировщик не остановился")
	}
	s.Stop()
}

func TestTickAfterStopDoesNotDispatch(t *testing.T) {
	st := newStack(vec.New(1, 1, 1), 1, 1, 0)
	s, err := New(st.level, st.apertures(), NewPoolExecutor(2), Options{IdleInterval: time.Millisecond})
	require.NoError(t, err)

	s.AddFocus(world.NewTrackedFocusAtChunk(world.NewChunkID(0, 0, 0)))
	require.True(t, s.Step())
	require.Equal(t, 1, s.Stats().Accepted)

	s.Stop()
	assert.True(t, s.Stopped())
	assert.Zero(t, s.Stats().Accepted)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		assert.Zero(t, s.Tick(ctx))
	})
	assert.False(t, s.Step())
	assert.ErrorIs(t, s.Settle(ctx), ErrStopped)
	assert.Zero(t, st.level.ChunkCount())

	// повторная остановка безопасна
	assert.NotPanics(t, s.Stop)
}
