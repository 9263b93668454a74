package aperture

import (
	"fmt"
	"sync"

	"github.com/annel0/voxel-stream/internal/events"
	"github.com/annel0/voxel-stream/internal/storage"
	"github.com/annel0/voxel-stream/internal/terrain"
	"github.com/annel0/voxel-stream/internal/world"
)

// VoxelData стадия данных: загрузка или генерация вокселей при входе в
// область, сохранение и выгрузка при выходе.
type VoxelData struct {
	base
	store  storage.ChunkStore
	source terrain.Source

	mu       sync.Mutex
	snapshot map[world.ChunkID]voxelSnapshot
}

type voxelSnapshot struct {
	voxels []byte
	solid  int
}

// NewVoxelData создаёт стадию данных
func NewVoxelData(level *world.Level, cfg Config, store storage.ChunkStore, source terrain.Source, sink events.Sink) *VoxelData {
	return &VoxelData{
		base:     newBase(StageVoxelData, level, cfg, sink),
		store:    store,
		source:   source,
		snapshot: make(map[world.ChunkID]voxelSnapshot),
	}
}

func (a *VoxelData) IsValidAdjustment(adj Adjustment) bool {
	return a.isValid(adj, a.ValidateChunk, a.canEvict)
}

// ValidateChunk загружать нечего, если чанк уже загружен
func (a *VoxelData) ValidateChunk(id world.ChunkID) (bool, *world.Chunk) {
	c, ok := a.level.Chunk(id)
	if ok && c.IsLoaded() {
		return false, c
	}
	return true, c
}

func (a *VoxelData) canEvict(id world.ChunkID) bool {
	c, ok := a.level.Chunk(id)
	return ok && c.IsLoaded()
}

// IsReady данные можно грузить и выгружать в любой момент
func (a *VoxelData) IsReady(id world.ChunkID) bool {
	return true
}

// PrepareJobData снимает копию вокселей перед сохранением и замораживает
// чанк: правка после снимка не попала бы в хранилище
func (a *VoxelData) PrepareJobData(id world.ChunkID, dir Direction) {
	if dir != OutOfFocus {
		return
	}
	c, ok := a.level.Chunk(id)
	if !ok {
		return
	}
	voxels, solid := c.Freeze()

	a.mu.Lock()
	a.snapshot[id] = voxelSnapshot{voxels: voxels, solid: solid}
	a.mu.Unlock()
}

func (a *VoxelData) JobFor(id world.ChunkID, dir Direction) Job {
	if dir == InFocus {
		return LoadJob{
			jobHeader: a.header(id, dir),
			level:     a.level.Name,
			seed:      a.level.Seed,
			store:     a.store,
			source:    a.source,
		}
	}

	a.mu.Lock()
	snap, ok := a.snapshot[id]
	delete(a.snapshot, id)
	a.mu.Unlock()
	if !ok {
		panic(fmt.Errorf("%s: persist %s: %w", a.stage, id, ErrMissingJobData))
	}
	return PersistJob{
		jobHeader: a.header(id, dir),
		level:     a.level.Name,
		voxels:    snap.voxels,
		solid:     snap.solid,
		store:     a.store,
	}
}

func (a *VoxelData) OnJobComplete(res Result) {
	switch r := res.(type) {
	case *LoadResult:
		a.completeLoad(r)
	case *PersistResult:
		a.completePersist(r)
	default:
		panic(fmt.Sprintf("%s: unexpected result %T", a.stage, res))
	}
}

func (a *VoxelData) completeLoad(r *LoadResult) {
	if r.Error != nil {
		a.log.Error("❌ Не удалось получить воксели чанка %s: %v", r.ID, r.Error)
		return
	}
	// область могла уйти, пока задача выполнялась
	if !a.region.contains(r.ID) {
		a.log.Debug("🗑️ Загрузка %s отброшена: чанк вне области", r.ID)
		return
	}
	if c, ok := a.level.Chunk(r.ID); ok && c.IsLoaded() {
		return
	}

	c := world.NewChunk(r.ID)
	c.SetVoxels(r.Voxels, r.Solid)
	c.SetLoaded(true)
	a.level.AddChunk(c)

	source := "сгенерирован"
	if r.FromStore {
		source = "загружен"
	}
	a.log.Trace("📦 Чанк %s %s (%d твёрдых)", r.ID, source, r.Solid)
}

func (a *VoxelData) completePersist(r *PersistResult) {
	if r.Error != nil {
		a.log.Error("❌ Не удалось сохранить чанк %s, чанк остаётся в памяти: %v", r.ID, r.Error)
		a.thaw(r.ID)
		return
	}
	if a.region.contains(r.ID) {
		a.log.Debug("↩️ Чанк %s снова в области, выгрузка отменена", r.ID)
		a.thaw(r.ID)
		return
	}
	if _, ok := a.level.RemoveChunk(r.ID); !ok {
		panic(fmt.Sprintf("%s: evicted chunk %s is missing from the level", a.stage, r.ID))
	}
	a.log.Trace("💾 Чанк %s сохранён и выгружен", r.ID)
}

func (a *VoxelData) thaw(id world.ChunkID) {
	if c, ok := a.level.Chunk(id); ok {
		c.Thaw()
	}
}
