package aperture

import (
	"fmt"
	"sync"

	"github.com/annel0/voxel-stream/internal/events"
	"github.com/annel0/voxel-stream/internal/mesh"
	"github.com/annel0/voxel-stream/internal/world"
)

// MeshGeneration стадия меша: извлечение поверхности по блоку вокселей
// чанка и его передних соседей.
type MeshGeneration struct {
	base

	mu       sync.Mutex
	prepared map[world.ChunkID][]byte
	// dirty чанки, чей меш устарел после правки вокселей
	dirty map[world.ChunkID]struct{}
	// meshed чанки, о чьём меше объявлено событием MeshReady. Снятие меша
	// не зависит от того, выгружены ли уже воксели чанка.
	meshed map[world.ChunkID]struct{}
	// remeshing чанки, чей меш перестраивается после правки
	remeshing map[world.ChunkID]struct{}
	remeshed  func(world.ChunkID)
}

// NewMeshGeneration создаёт стадию меша
func NewMeshGeneration(level *world.Level, cfg Config, sink events.Sink) *MeshGeneration {
	return &MeshGeneration{
		base:      newBase(StageMesh, level, cfg, sink),
		prepared:  make(map[world.ChunkID][]byte),
		dirty:     make(map[world.ChunkID]struct{}),
		meshed:    make(map[world.ChunkID]struct{}),
		remeshing: make(map[world.ChunkID]struct{}),
	}
}

// OnRemesh задаёт обработчик, вызываемый ведущей ролью после применения
// меша, перестроенного по MarkDirty
func (a *MeshGeneration) OnRemesh(fn func(world.ChunkID)) {
	a.mu.Lock()
	a.remeshed = fn
	a.mu.Unlock()
}

// MarkDirty помечает меш чанка устаревшим, чтобы повторный InFocus
// для уже построенного меша прошёл проверку
func (a *MeshGeneration) MarkDirty(id world.ChunkID) {
	a.mu.Lock()
	a.dirty[id] = struct{}{}
	a.mu.Unlock()
}

func (a *MeshGeneration) isDirty(id world.ChunkID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.dirty[id]
	return ok
}

func (a *MeshGeneration) IsValidAdjustment(adj Adjustment) bool {
	return a.isValid(adj, a.ValidateChunk, a.HasMesh)
}

// ValidateChunk отбрасывает загруженные пустые чанки, не нужные для шва,
// и твёрдые чанки, закрытые твёрдыми соседями. Пока чанк не загружен,
// решать рано.
func (a *MeshGeneration) ValidateChunk(id world.ChunkID) (bool, *world.Chunk) {
	c, ok := a.level.Chunk(id)
	if !ok {
		return true, nil
	}
	st := c.State()
	if !st.Loaded {
		return true, c
	}
	if st.MeshGenerated {
		// устаревший меш заменяется всегда, даже пустым
		return a.isDirty(id), c
	}
	if st.IsEmpty() && !isSeamNeighbor(a.level, id) {
		return false, c
	}
	if st.IsSolid() && (faceNeighborsSolid(a.level, id) || forwardNeighborsSolid(a.level, id)) {
		return false, c
	}
	return true, c
}

// HasMesh объявлен ли меш чанка
func (a *MeshGeneration) HasMesh(id world.ChunkID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.meshed[id]
	return ok
}

// IsReady чанк загружен и его передние соседи тоже; пустой чанк готов,
// только если он нужен для шва. Объявленный меш вне области всегда
// можно снять.
func (a *MeshGeneration) IsReady(id world.ChunkID) bool {
	if a.HasMesh(id) && !a.region.contains(id) {
		return true
	}
	c, ok := a.level.Chunk(id)
	if !ok {
		return false
	}
	st := c.State()
	if !st.Loaded || !forwardNeighborsLoaded(a.level, id) {
		return false
	}
	if st.IsEmpty() && !st.MeshGenerated {
		return isSeamNeighbor(a.level, id)
	}
	return true
}

// PrepareJobData собирает блок вокселей для марширования
func (a *MeshGeneration) PrepareJobData(id world.ChunkID, dir Direction) {
	if dir != InFocus {
		return
	}
	// пометка снимается до чтения вокселей: правка во время сбора снова
	// пометит чанк и не потеряется
	a.mu.Lock()
	if _, ok := a.dirty[id]; ok {
		delete(a.dirty, id)
		a.remeshing[id] = struct{}{}
	}
	a.mu.Unlock()

	block := mesh.GatherBlock(a.level, id)

	a.mu.Lock()
	a.prepared[id] = block
	a.mu.Unlock()
}

func (a *MeshGeneration) JobFor(id world.ChunkID, dir Direction) Job {
	if dir == OutOfFocus {
		return DemeshJob{jobHeader: a.header(id, dir)}
	}

	a.mu.Lock()
	block, ok := a.prepared[id]
	delete(a.prepared, id)
	a.mu.Unlock()
	if !ok {
		panic(fmt.Errorf("%s: mesh %s: %w", a.stage, id, ErrMissingJobData))
	}
	return MeshJob{jobHeader: a.header(id, dir), block: block}
}

func (a *MeshGeneration) OnJobComplete(res Result) {
	switch r := res.(type) {
	case *MeshResult:
		a.completeMesh(r)
	case *DemeshResult:
		a.completeDemesh(r)
	default:
		panic(fmt.Sprintf("%s: unexpected result %T", a.stage, res))
	}
}

func (a *MeshGeneration) completeMesh(r *MeshResult) {
	a.mu.Lock()
	_, remesh := a.remeshing[r.ID]
	delete(a.remeshing, r.ID)
	notify := a.remeshed
	a.mu.Unlock()

	if r.Error != nil {
		a.log.Error("❌ Ошибка построения меша %s: %v", r.ID, r.Error)
		return
	}
	c, ok := a.level.Chunk(r.ID)
	if !ok || !a.region.contains(r.ID) {
		a.log.Debug("🗑️ Меш %s отброшен: чанк вне области", r.ID)
		return
	}

	c.SetMeshState(true, r.Mesh.IsEmpty)
	a.mu.Lock()
	a.meshed[r.ID] = struct{}{}
	a.mu.Unlock()
	a.emit(events.MeshReady, r.ID, events.Event{Mesh: r.Mesh})
	a.log.Trace("🔺 Меш %s готов: %d треугольников", r.ID, r.Mesh.TriangleCount())

	if remesh && notify != nil {
		notify(r.ID)
	}
}

func (a *MeshGeneration) completeDemesh(r *DemeshResult) {
	if a.region.contains(r.ID) || !a.HasMesh(r.ID) {
		return
	}
	a.mu.Lock()
	delete(a.meshed, r.ID)
	a.mu.Unlock()
	if c, ok := a.level.Chunk(r.ID); ok {
		c.SetMeshState(false, true)
	}
	a.emit(events.MeshRemoved, r.ID, events.Event{})
}
