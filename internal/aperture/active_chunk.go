package aperture

import (
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/voxel-stream/internal/events"
	"github.com/annel0/voxel-stream/internal/world"
)

// ActiveChunkObject стадия присутствия: сообщает представлению, какие
// чанки с непустым мешем должны быть видимы.
type ActiveChunkObject struct {
	base
	meshes *MeshGeneration

	mu     sync.RWMutex
	active map[world.ChunkID]struct{}
}

// NewActiveChunkObject создаёт стадию присутствия. Проверка чанка
// опирается на стадию меша.
func NewActiveChunkObject(level *world.Level, cfg Config, meshes *MeshGeneration, sink events.Sink) *ActiveChunkObject {
	return &ActiveChunkObject{
		base:   newBase(StageActive, level, cfg, sink),
		meshes: meshes,
		active: make(map[world.ChunkID]struct{}),
	}
}

// IsActive объявлен ли чанк активным
func (a *ActiveChunkObject) IsActive(id world.ChunkID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.active[id]
	return ok
}

// ActiveChunks отсортированный список активных чанков
func (a *ActiveChunkObject) ActiveChunks() []world.ChunkID {
	a.mu.RLock()
	out := make([]world.ChunkID, 0, len(a.active))
	for id := range a.active {
		out = append(out, id)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Z != out[j].Z {
			return out[i].Z < out[j].Z
		}
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

func (a *ActiveChunkObject) IsValidAdjustment(adj Adjustment) bool {
	return a.isValid(adj, a.ValidateChunk, a.IsActive)
}

// ValidateChunk годен для меша и не имеет пустого меша. Уже активный
// чанк повторно не активируется, но снимается, если после перестройки
// его меш опустел.
func (a *ActiveChunkObject) ValidateChunk(id world.ChunkID) (bool, *world.Chunk) {
	c, ok := a.level.Chunk(id)
	if a.IsActive(id) {
		return ok && c.MeshIsGenerated() && c.MeshIsEmpty(), c
	}
	if !ok {
		return true, nil
	}
	st := c.State()
	if st.MeshGenerated {
		// готовый меш: мешу проверка уже не нужна
		return !st.MeshEmpty, c
	}
	valid, _ := a.meshes.ValidateChunk(id)
	return valid, c
}

// IsReady меш построен и не пуст. Активный чанк всегда можно деактивировать.
func (a *ActiveChunkObject) IsReady(id world.ChunkID) bool {
	if a.IsActive(id) {
		return true
	}
	c, ok := a.level.Chunk(id)
	if !ok {
		return false
	}
	st := c.State()
	return st.MeshGenerated && !st.MeshEmpty
}

func (a *ActiveChunkObject) PrepareJobData(id world.ChunkID, dir Direction) {}

func (a *ActiveChunkObject) JobFor(id world.ChunkID, dir Direction) Job {
	return ActivationJob{jobHeader: a.header(id, dir)}
}

func (a *ActiveChunkObject) OnJobComplete(res Result) {
	r, ok := res.(*ActivationResult)
	if !ok {
		panic(fmt.Sprintf("%s: unexpected result %T", a.stage, res))
	}

	inside := a.region.contains(r.ID)
	switch r.Direction {
	case InFocus:
		if !inside {
			return
		}
		c, ok := a.level.Chunk(r.ID)
		if !ok {
			return
		}
		st := c.State()
		if !st.MeshGenerated {
			return
		}
		switch active := a.IsActive(r.ID); {
		case active && st.MeshEmpty:
			a.deactivate(r.ID)
		case !active && !st.MeshEmpty:
			a.mu.Lock()
			a.active[r.ID] = struct{}{}
			a.mu.Unlock()
			a.emit(events.ChunkActivate, r.ID, events.Event{})
		}
	case OutOfFocus:
		if inside || !a.IsActive(r.ID) {
			return
		}
		a.deactivate(r.ID)
	}
}

func (a *ActiveChunkObject) deactivate(id world.ChunkID) {
	a.mu.Lock()
	delete(a.active, id)
	a.mu.Unlock()
	a.emit(events.ChunkDeactivate, id, events.Event{})
}
