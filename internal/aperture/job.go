package aperture

import (
	"context"
	"fmt"

	"github.com/annel0/voxel-stream/internal/mesh"
	"github.com/annel0/voxel-stream/internal/storage"
	"github.com/annel0/voxel-stream/internal/terrain"
	"github.com/annel0/voxel-stream/internal/world"
)

// Job единица работы стадии. Набор реализаций закрыт: LoadJob, PersistJob,
// MeshJob, DemeshJob, ActivationJob.
type Job interface {
	Stage() Stage
	Chunk() world.ChunkID
	Direction() Direction
	// Run выполняется на пуле воркеров и не трогает уровень
	Run(ctx context.Context) Result
	sealedJob()
}

// Result результат задачи. Набор реализаций закрыт, OnJobComplete
// разбирает его через type switch.
type Result interface {
	Chunk() world.ChunkID
	Err() error
	sealedResult()
}

type jobHeader struct {
	id  world.ChunkID
	dir Direction
}

func (h jobHeader) Chunk() world.ChunkID { return h.id }
func (h jobHeader) Direction() Direction { return h.dir }
func (jobHeader) sealedJob() {}

//================ VoxelData =================//

// LoadJob загружает воксели из хранилища, а если их там нет, генерирует
type LoadJob struct {
	jobHeader
	level  string
	seed   int64
	store  storage.ChunkStore
	source terrain.Source
}

func (LoadJob) Stage() Stage { return StageVoxelData }

func (j LoadJob) Run(ctx context.Context) Result {
	res := &LoadResult{ID: j.id}

	exists, err := j.store.Exists(ctx, j.id, j.level)
	if err != nil {
		res.Error = fmt.Errorf("exists %s: %w", j.id, err)
		return res
	}

	if exists {
		res.Voxels, res.Solid, res.Error = j.store.Load(ctx, j.id, j.level)
		res.FromStore = true
		return res
	}

	res.Voxels, res.Solid, res.Error = j.source.Generate(j.id, j.seed)
	return res
}

// LoadResult воксели загруженного или сгенерированного чанка
type LoadResult struct {
	ID        world.ChunkID
	Voxels    []byte
	Solid     int
	FromStore bool
	Error     error
}

func (r *LoadResult) Chunk() world.ChunkID { return r.ID }
func (r *LoadResult) Err() error { return r.Error }
func (*LoadResult) sealedResult() {}

// PersistJob сохраняет снимок вокселей перед выгрузкой чанка
type PersistJob struct {
	jobHeader
	level  string
	voxels []byte
	solid  int
	store  storage.ChunkStore
}

func (PersistJob) Stage() Stage { return StageVoxelData }

func (j PersistJob) Run(ctx context.Context) Result {
	return &PersistResult{ID: j.id, Error: j.store.Save(ctx, j.id, j.level, j.voxels, j.solid)}
}

// PersistResult итог сохранения
type PersistResult struct {
	ID    world.ChunkID
	Error error
}

func (r *PersistResult) Chunk() world.ChunkID { return r.ID }
func (r *PersistResult) Err() error { return r.Error }
func (*PersistResult) sealedResult() {}

//================ MeshGeneration =================//

// MeshJob извлекает поверхность из подготовленного блока вокселей
type MeshJob struct {
	jobHeader
	block []byte
}

func (MeshJob) Stage() Stage { return StageMesh }

func (j MeshJob) Run(ctx context.Context) Result {
	m, err := mesh.Extract(j.id, j.block)
	return &MeshResult{ID: j.id, Mesh: m, Error: err}
}

// MeshResult готовый меш чанка
type MeshResult struct {
	ID    world.ChunkID
	Mesh  *mesh.VoxelMeshData
	Error error
}

func (r *MeshResult) Chunk() world.ChunkID { return r.ID }
func (r *MeshResult) Err() error { return r.Error }
func (*MeshResult) sealedResult() {}

// DemeshJob снимает меш чанка; вся работа делается при завершении
type DemeshJob struct {
	jobHeader
}

func (DemeshJob) Stage() Stage { return StageMesh }

func (j DemeshJob) Run(ctx context.Context) Result {
	return &DemeshResult{ID: j.id}
}

// DemeshResult подтверждение снятия меша
type DemeshResult struct {
	ID world.ChunkID
}

func (r *DemeshResult) Chunk() world.ChunkID { return r.ID }
func (r *DemeshResult) Err() error { return nil }
func (*DemeshResult) sealedResult() {}

//================ ActiveChunkObject =================//

// ActivationJob уведомление об активации или деактивации чанка
type ActivationJob struct {
	jobHeader
}

func (ActivationJob) Stage() Stage { return StageActive }

func (j ActivationJob) Run(ctx context.Context) Result {
	return &ActivationResult{ID: j.id, Direction: j.dir}
}

// ActivationResult направление смены активности
type ActivationResult struct {
	ID        world.ChunkID
	Direction Direction
}

func (r *ActivationResult) Chunk() world.ChunkID { return r.ID }
func (r *ActivationResult) Err() error { return nil }
func (*ActivationResult) sealedResult() {}
