package aperture

import (
	"context"
	"testing"

	"github.com/annel0/voxel-stream/internal/events"
	"github.com/annel0/voxel-stream/internal/mesh"
	"github.com/annel0/voxel-stream/internal/storage"
	"github.com/annel0/voxel-stream/internal/terrain"
	"github.com/annel0/voxel-stream/internal/vec"
	"github.com/annel0/voxel-stream/internal/world"
	"github.com/annel0/voxel-stream/internal/world/voxel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidVoxels() []byte {
	v := make([]byte, world.VoxelCount)
	for i := range v {
		v[i] = byte(voxel.Stone)
	}
	return v
}

// putChunk кладёт в уровень загруженный чанк: solid: полностью твёрдый, иначе пустой
func putChunk(level *world.Level, id world.ChunkID, solid bool) *world.Chunk {
	c := world.NewChunk(id)
	if solid {
		c.SetVoxels(solidVoxels(), world.VoxelCount)
	}
	c.SetLoaded(true)
	level.AddChunk(c)
	return c
}

func adjustmentSet(adjs []Adjustment) map[Adjustment]int {
	out := make(map[Adjustment]int)
	for _, a := range adjs {
		out[a]++
	}
	return out
}

func TestBoxAroundClampsToBounds(t *testing.T) {
	bounds := vec.New(10, 4, 10)

	box := BoxAround(world.NewChunkID(0, 0, 0), 2, 1, bounds)
	assert.Equal(t, vec.New(0, 0, 0), box.Min)
	assert.Equal(t, vec.New(3, 2, 3), box.Max)
	assert.Equal(t, 18, box.Volume())

	box = BoxAround(world.NewChunkID(9, 3, 9), 2, 1, bounds)
	assert.Equal(t, vec.New(7, 2, 7), box.Min)
	assert.Equal(t, vec.New(10, 4, 10), box.Max)

	box = BoxAround(world.NewChunkID(0, 0, 0), 0, 0, vec.New(1, 1, 1))
	assert.True(t, box.Contains(world.NewChunkID(0, 0, 0)))
	assert.Equal(t, 1, box.Volume())
}

func TestRegionDeltasInitAndMove(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(10, 10, 10))
	focus := world.NewTrackedFocusAtChunk(world.NewChunkID(5, 5, 5))
	fid := level.AddFocus(focus)

	a := NewMeshGeneration(level, Config{Radius: 1, TrackExits: true}, nil)

	init := a.RegionDeltasForFocusInit(fid)
	assert.Len(t, init, 27)
	for adj, n := range adjustmentSet(init) {
		assert.Equal(t, 1, n, "дубликат %s", adj)
		assert.Equal(t, InFocus, adj.Direction)
	}

	// без движения разность пуста
	assert.Empty(t, a.RegionDeltasForFocusMove(fid))

	focus.SetChunk(world.NewChunkID(6, 5, 5))
	moved := a.RegionDeltasForFocusMove(fid)
	set := adjustmentSet(moved)
	assert.Len(t, moved, 18)
	assert.Len(t, set, 18)
	assert.Contains(t, set, Adjustment{Chunk: world.NewChunkID(7, 5, 5), Direction: InFocus})
	assert.Contains(t, set, Adjustment{Chunk: world.NewChunkID(4, 5, 5), Direction: OutOfFocus})

	assert.Empty(t, a.RegionDeltasForFocusMove(fid))
}

func TestRegionDeltasWithoutExitTracking(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(10, 10, 10))
	focus := world.NewTrackedFocusAtChunk(world.NewChunkID(5, 5, 5))
	fid := level.AddFocus(focus)

	a := NewMeshGeneration(level, Config{Radius: 1}, nil)
	a.RegionDeltasForFocusInit(fid)

	focus.SetChunk(world.NewChunkID(6, 5, 5))
	for _, adj := range a.RegionDeltasForFocusMove(fid) {
		assert.Equal(t, InFocus, adj.Direction)
	}
	assert.Empty(t, a.ReleaseFocus(fid))
}

func TestUnknownFocusPanics(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(4, 4, 4))
	a := NewMeshGeneration(level, Config{Radius: 1}, nil)

	assert.PanicsWithError(t, "mesh_generation: focus 42: "+ErrUnknownFocus.Error(), func() {
		a.RegionDeltasForFocusInit(42)
	})
}

func TestReleaseFocusEmitsExits(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(4, 4, 4))
	fid := level.AddFocus(world.NewTrackedFocusAtChunk(world.NewChunkID(0, 0, 0)))

	a := NewMeshGeneration(level, Config{Radius: 1, TrackExits: true}, nil)
	a.RegionDeltasForFocusInit(fid)
	assert.True(t, a.Tracks(fid))

	exits := a.ReleaseFocus(fid)
	assert.Len(t, exits, 8)
	for _, adj := range exits {
		assert.Equal(t, OutOfFocus, adj.Direction)
	}
	assert.False(t, a.Tracks(fid))
	assert.False(t, a.Contains(world.NewChunkID(0, 0, 0)))
}

func TestIsValidAdjustmentChecksContainment(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(10, 10, 10))
	fid := level.AddFocus(world.NewTrackedFocusAtChunk(world.NewChunkID(1, 1, 1)))

	a := NewVoxelData(level, Config{Radius: 1, TrackExits: true}, storage.NewMemoryStore(), terrain.Flat{Height: 8}, nil)
	a.RegionDeltasForFocusInit(fid)

	inside := world.NewChunkID(1, 1, 1)
	outside := world.NewChunkID(8, 8, 8)

	assert.True(t, a.IsValidAdjustment(Adjustment{Chunk: inside, Direction: InFocus}))
	assert.False(t, a.IsValidAdjustment(Adjustment{Chunk: outside, Direction: InFocus}))
	assert.False(t, a.IsValidAdjustment(Adjustment{Chunk: inside, Direction: OutOfFocus}))

	// выгружать нечего, пока чанк не загружен
	assert.False(t, a.IsValidAdjustment(Adjustment{Chunk: outside, Direction: OutOfFocus}))
	putChunk(level, outside, false)
	assert.True(t, a.IsValidAdjustment(Adjustment{Chunk: outside, Direction: OutOfFocus}))

	// уже загруженный чанк повторно не грузится
	putChunk(level, inside, false)
	assert.False(t, a.IsValidAdjustment(Adjustment{Chunk: inside, Direction: InFocus}))
}

func TestMeshReadinessWaitsForForwardNeighbors(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(4, 4, 4))
	a := NewMeshGeneration(level, Config{Radius: 1}, nil)

	id := world.NewChunkID(1, 1, 1)
	assert.False(t, a.IsReady(id), "чанк ещё не загружен")

	putChunk(level, id, true)
	for i, off := range mesh.ForwardNeighborOffsets {
		assert.False(t, a.IsReady(id), "готов до загрузки соседа %d", i)
		putChunk(level, id.Offset(off), false)
	}
	assert.True(t, a.IsReady(id))
}

func TestMeshReadinessAtLevelEdge(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(1, 1, 1))
	a := NewMeshGeneration(level, Config{Radius: 1}, nil)

	id := world.NewChunkID(0, 0, 0)
	c := world.NewChunk(id)
	voxels, solid, err := terrain.Flat{Height: 8}.Generate(id, 0)
	require.NoError(t, err)
	c.SetVoxels(voxels, solid)
	c.SetLoaded(true)
	level.AddChunk(c)

	// соседи за границей считаются загруженными
	assert.True(t, a.IsReady(id))
	valid, got := a.ValidateChunk(id)
	assert.True(t, valid)
	assert.Same(t, c, got)
}

func TestSolidChunkSurroundedBySolidIsInvalid(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(3, 3, 3))
	a := NewMeshGeneration(level, Config{Radius: 1}, nil)

	center := world.NewChunkID(1, 1, 1)
	putChunk(level, center, true)
	for _, off := range faceNeighborOffsets {
		putChunk(level, center.Offset(off), true)
	}

	valid, _ := a.ValidateChunk(center)
	assert.False(t, valid)

	// одна пустая грань открывает поверхность
	putChunk(level, center.Offset(vec.New(0, 1, 0)), false)
	valid, _ = a.ValidateChunk(center)
	assert.True(t, valid)
}

func TestEmptyChunkSeamRules(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(2, 2, 2))
	a := NewMeshGeneration(level, Config{Radius: 1}, nil)

	id := world.NewChunkID(0, 0, 0)
	putChunk(level, id, false)

	// соседи не загружены: пустой чанк может понадобиться для шва
	valid, _ := a.ValidateChunk(id)
	assert.True(t, valid)
	assert.False(t, a.IsReady(id))

	for _, off := range mesh.ForwardNeighborOffsets {
		putChunk(level, id.Offset(off), false)
	}
	// все соседи пусты: меш не нужен
	valid, _ = a.ValidateChunk(id)
	assert.False(t, valid)

	// сосед сверху непуст: пустой чанк строит нижнюю грань соседа
	putChunk(level, id.Offset(vec.New(0, 1, 0)), true)
	valid, _ = a.ValidateChunk(id)
	assert.True(t, valid)
	assert.True(t, a.IsReady(id))
}

func TestMeshJobRequiresPreparedData(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(1, 1, 1))
	a := NewMeshGeneration(level, Config{Radius: 1}, nil)
	id := world.NewChunkID(0, 0, 0)

	assert.Panics(t, func() { a.JobFor(id, InFocus) })

	putChunk(level, id, true)
	a.PrepareJobData(id, InFocus)
	job := a.JobFor(id, InFocus)
	assert.Equal(t, StageMesh, job.Stage())

	// подготовленные данные расходуются
	assert.Panics(t, func() { a.JobFor(id, InFocus) })

	_, ok := a.JobFor(id, OutOfFocus).(DemeshJob)
	assert.True(t, ok)
}

func TestMeshCompletionEmitsEvents(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(1, 1, 1))
	fid := level.AddFocus(world.NewTrackedFocusAtChunk(world.NewChunkID(0, 0, 0)))
	rec := &events.Recorder{}
	a := NewMeshGeneration(level, Config{Radius: 0, TrackExits: true}, rec)
	a.RegionDeltasForFocusInit(fid)

	id := world.NewChunkID(0, 0, 0)
	putChunk(level, id, true)
	require.True(t, a.IsValidAdjustment(Adjustment{Chunk: id, Direction: InFocus}))

	a.PrepareJobData(id, InFocus)
	res := a.JobFor(id, InFocus).Run(context.Background())
	require.NoError(t, res.Err())
	a.OnJobComplete(res)

	st, _ := level.Chunk(id)
	assert.True(t, st.MeshIsGenerated())
	assert.False(t, st.MeshIsEmpty())
	assert.Equal(t, 1, rec.Count(events.MeshReady, id))

	// построенный меш не строится повторно, пока чанк не помечен
	assert.False(t, a.IsValidAdjustment(Adjustment{Chunk: id, Direction: InFocus}))
	a.MarkDirty(id)
	assert.True(t, a.IsValidAdjustment(Adjustment{Chunk: id, Direction: InFocus}))

	// снятие фокуса снимает меш
	for _, adj := range a.ReleaseFocus(fid) {
		require.True(t, a.IsValidAdjustment(adj))
		a.OnJobComplete(a.JobFor(adj.Chunk, adj.Direction).Run(context.Background()))
	}
	assert.False(t, st.MeshIsGenerated())
	assert.Equal(t, 1, rec.Count(events.MeshRemoved, id))
}

func TestVoxelDataLoadAndEvict(t *testing.T) {
	ctx := context.Background()
	level := world.NewLevel("test", 7, vec.New(4, 4, 4))
	focus := world.NewTrackedFocusAtChunk(world.NewChunkID(0, 0, 0))
	fid := level.AddFocus(focus)
	store := storage.NewMemoryStore()
	a := NewVoxelData(level, Config{Radius: 0, TrackExits: true}, store, terrain.Flat{Height: 8}, nil)
	a.RegionDeltasForFocusInit(fid)

	id := world.NewChunkID(0, 0, 0)
	res := a.JobFor(id, InFocus).Run(ctx)
	require.NoError(t, res.Err())
	assert.False(t, res.(*LoadResult).FromStore)
	a.OnJobComplete(res)

	c, ok := level.Chunk(id)
	require.True(t, ok)
	assert.True(t, c.IsLoaded())
	assert.Equal(t, 8*world.Diameter*world.Diameter, c.SolidVoxelCount())

	// фокус ушёл: чанк сохраняется и выгружается
	focus.SetChunk(world.NewChunkID(2, 0, 0))
	exits := a.RegionDeltasForFocusMove(fid)
	require.Contains(t, exits, Adjustment{Chunk: id, Direction: OutOfFocus})
	require.True(t, a.IsValidAdjustment(Adjustment{Chunk: id, Direction: OutOfFocus}))

	a.PrepareJobData(id, OutOfFocus)
	a.OnJobComplete(a.JobFor(id, OutOfFocus).Run(ctx))
	_, ok = level.Chunk(id)
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len())

	// повторная загрузка берёт данные из хранилища
	focus.SetChunk(id)
	a.RegionDeltasForFocusMove(fid)
	res = a.JobFor(id, InFocus).Run(ctx)
	assert.True(t, res.(*LoadResult).FromStore)
}

func TestVoxelDataCompletionRevalidates(t *testing.T) {
	ctx := context.Background()
	level := world.NewLevel("test", 7, vec.New(4, 4, 4))
	focus := world.NewTrackedFocusAtChunk(world.NewChunkID(0, 0, 0))
	fid := level.AddFocus(focus)
	a := NewVoxelData(level, Config{Radius: 0, TrackExits: true}, storage.NewMemoryStore(), terrain.Flat{Height: 8}, nil)
	a.RegionDeltasForFocusInit(fid)

	id := world.NewChunkID(0, 0, 0)
	job := a.JobFor(id, InFocus)

	// фокус ушёл, пока задача выполнялась: результат отбрасывается
	focus.SetChunk(world.NewChunkID(3, 0, 0))
	a.RegionDeltasForFocusMove(fid)
	a.OnJobComplete(job.Run(ctx))
	_, ok := level.Chunk(id)
	assert.False(t, ok)

	// выгрузка чанка, вернувшегося в фокус, отменяется
	c := putChunk(level, id, true)
	a.PrepareJobData(id, OutOfFocus)
	persist := a.JobFor(id, OutOfFocus)

	// снимок уже снят: правка не проходит, а не теряется молча
	assert.ErrorIs(t, level.SetVoxel(vec.New(1, 1, 1), voxel.Empty), world.ErrChunkFrozen)
	assert.Equal(t, world.VoxelCount, c.SolidVoxelCount())

	focus.SetChunk(id)
	a.RegionDeltasForFocusMove(fid)
	a.OnJobComplete(persist.Run(ctx))
	_, ok = level.Chunk(id)
	assert.True(t, ok)
	assert.False(t, c.IsFrozen())
	assert.NoError(t, level.SetVoxel(vec.New(1, 1, 1), voxel.Empty))
}

func TestMeshRemeshClearsDirtyBeforeGather(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(1, 1, 1))
	fid := level.AddFocus(world.NewTrackedFocusAtChunk(world.NewChunkID(0, 0, 0)))
	a := NewMeshGeneration(level, Config{Radius: 0, TrackExits: true}, nil)
	a.RegionDeltasForFocusInit(fid)

	var remeshed []world.ChunkID
	a.OnRemesh(func(id world.ChunkID) { remeshed = append(remeshed, id) })

	id := world.NewChunkID(0, 0, 0)
	putChunk(level, id, true)
	build := func() {
		a.PrepareJobData(id, InFocus)
		res := a.JobFor(id, InFocus).Run(context.Background())
		require.NoError(t, res.Err())
		a.OnJobComplete(res)
	}

	// первый меш не перестройка
	build()
	assert.Empty(t, remeshed)

	a.MarkDirty(id)
	a.PrepareJobData(id, InFocus)
	assert.False(t, a.isDirty(id), "пометка снимается при подготовке")

	// правка после сбора блока снова помечает чанк
	a.MarkDirty(id)
	a.OnJobComplete(a.JobFor(id, InFocus).Run(context.Background()))
	assert.Equal(t, []world.ChunkID{id}, remeshed)
	assert.True(t, a.IsValidAdjustment(Adjustment{Chunk: id, Direction: InFocus}))

	build()
	assert.Len(t, remeshed, 2)
	assert.False(t, a.IsValidAdjustment(Adjustment{Chunk: id, Direction: InFocus}))
}

func TestMeshRebuildsDirtyChunkThatBecameEmpty(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(1, 1, 1))
	fid := level.AddFocus(world.NewTrackedFocusAtChunk(world.NewChunkID(0, 0, 0)))
	rec := &events.Recorder{}
	a := NewMeshGeneration(level, Config{Radius: 0, TrackExits: true}, rec)
	a.RegionDeltasForFocusInit(fid)

	id := world.NewChunkID(0, 0, 0)
	c := putChunk(level, id, false)
	c.SetMeshState(true, false)

	// пустой чанк без шва обычно не мешится, но устаревший меш надо заменить
	a.MarkDirty(id)
	assert.True(t, a.IsValidAdjustment(Adjustment{Chunk: id, Direction: InFocus}))
	require.True(t, a.IsReady(id))

	a.PrepareJobData(id, InFocus)
	a.OnJobComplete(a.JobFor(id, InFocus).Run(context.Background()))
	assert.True(t, c.MeshIsGenerated())
	assert.True(t, c.MeshIsEmpty())
	assert.Equal(t, 1, rec.Count(events.MeshReady, id))
}

func TestActiveChunkEmitsOnce(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(1, 1, 1))
	fid := level.AddFocus(world.NewTrackedFocusAtChunk(world.NewChunkID(0, 0, 0)))
	rec := &events.Recorder{}
	meshes := NewMeshGeneration(level, Config{Radius: 1}, rec)
	a := NewActiveChunkObject(level, Config{Radius: 0, TrackExits: true}, meshes, rec)
	a.RegionDeltasForFocusInit(fid)

	id := world.NewChunkID(0, 0, 0)
	c := putChunk(level, id, true)
	adj := Adjustment{Chunk: id, Direction: InFocus}

	assert.True(t, a.IsValidAdjustment(adj))
	assert.False(t, a.IsReady(id), "меш ещё не построен")

	c.SetMeshState(true, false)
	require.True(t, a.IsReady(id))
	a.OnJobComplete(a.JobFor(id, InFocus).Run(context.Background()))
	assert.True(t, a.IsActive(id))
	assert.Equal(t, []world.ChunkID{id}, a.ActiveChunks())

	// повторная активация отбрасывается
	assert.False(t, a.IsValidAdjustment(adj))
	a.OnJobComplete(a.JobFor(id, InFocus).Run(context.Background()))
	assert.Equal(t, 1, rec.Count(events.ChunkActivate, id))

	for _, exit := range a.ReleaseFocus(fid) {
		require.True(t, a.IsValidAdjustment(exit))
		require.True(t, a.IsReady(exit.Chunk))
		a.OnJobComplete(a.JobFor(exit.Chunk, exit.Direction).Run(context.Background()))
	}
	assert.False(t, a.IsActive(id))
	assert.Equal(t, 1, rec.Count(events.ChunkDeactivate, id))
}

func TestActiveChunkFollowsRemesh(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(1, 1, 1))
	fid := level.AddFocus(world.NewTrackedFocusAtChunk(world.NewChunkID(0, 0, 0)))
	rec := &events.Recorder{}
	meshes := NewMeshGeneration(level, Config{Radius: 1}, rec)
	a := NewActiveChunkObject(level, Config{Radius: 0, TrackExits: true}, meshes, rec)
	a.RegionDeltasForFocusInit(fid)

	id := world.NewChunkID(0, 0, 0)
	adj := Adjustment{Chunk: id, Direction: InFocus}
	c := putChunk(level, id, false)
	c.SetMeshState(true, true)
	assert.False(t, a.IsValidAdjustment(adj))

	// меш перестроен непустым: чанк становится активным
	c.SetMeshState(true, false)
	require.True(t, a.IsValidAdjustment(adj))
	require.True(t, a.IsReady(id))
	a.OnJobComplete(a.JobFor(id, InFocus).Run(context.Background()))
	assert.True(t, a.IsActive(id))

	// меш опустел: тот же InFocus снимает активность
	c.SetMeshState(true, true)
	require.True(t, a.IsValidAdjustment(adj))
	require.True(t, a.IsReady(id))
	a.OnJobComplete(a.JobFor(id, InFocus).Run(context.Background()))
	assert.False(t, a.IsActive(id))
	assert.Equal(t, 1, rec.Count(events.ChunkActivate, id))
	assert.Equal(t, 1, rec.Count(events.ChunkDeactivate, id))
}

func TestActiveChunkRejectsEmptyMesh(t *testing.T) {
	level := world.NewLevel("test", 1, vec.New(1, 1, 1))
	fid := level.AddFocus(world.NewTrackedFocusAtChunk(world.NewChunkID(0, 0, 0)))
	meshes := NewMeshGeneration(level, Config{Radius: 1}, nil)
	a := NewActiveChunkObject(level, Config{Radius: 0}, meshes, nil)
	a.RegionDeltasForFocusInit(fid)

	id := world.NewChunkID(0, 0, 0)
	c := putChunk(level, id, true)
	c.SetMeshState(true, true)

	assert.False(t, a.IsValidAdjustment(Adjustment{Chunk: id, Direction: InFocus}))
	assert.False(t, a.IsReady(id))
}

func TestStageNames(t *testing.T) {
	assert.Equal(t, "voxel_data", StageVoxelData.String())
	assert.Equal(t, "mesh_generation", StageMesh.String())
	assert.Equal(t, "active_chunk_object", StageActive.String())
	assert.Equal(t, "out", OutOfFocus.String())
	assert.Equal(t, DefaultYWeight, Config{}.yWeight())
	assert.Equal(t, 3, Config{Radius: 3}.heightRadius())
}
