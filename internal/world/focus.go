package world

import (
	"sync"

	"github.com/annel0/voxel-stream/internal/vec"
)

// Focus точка наблюдения, вокруг которой разрешаются чанки.
// CurrentChunk обновляет хост, PreviousChunk: последний чанк,
// подтверждённый планировщиком через Acknowledge.
type Focus interface {
	CurrentChunk() ChunkID
	PreviousChunk() ChunkID
	Acknowledge(chunk ChunkID)
}

// TrackedFocus потокобезопасная реализация Focus, управляемая мировой позицией
type TrackedFocus struct {
	mu       sync.RWMutex
	position vec.Vec3
	current  ChunkID
	previous ChunkID
}

// NewTrackedFocus создаёт фокус в мировой позиции. Предыдущий чанк совпадает
// с текущим, так что первое движение определяется только после SetPosition.
func NewTrackedFocus(worldPos vec.Vec3) *TrackedFocus {
	id := ChunkIDFromWorld(worldPos)
	return &TrackedFocus{position: worldPos, current: id, previous: id}
}

// NewTrackedFocusAtChunk создаёт фокус в минимальном углу чанка
func NewTrackedFocusAtChunk(id ChunkID) *TrackedFocus {
	return NewTrackedFocus(id.ToWorldLocation())
}

// SetPosition перемещает фокус в мировую позицию
func (f *TrackedFocus) SetPosition(worldPos vec.Vec3) {
	f.mu.Lock()
	f.position = worldPos
	f.current = ChunkIDFromWorld(worldPos)
	f.mu.Unlock()
}

// SetChunk перемещает фокус в минимальный угол чанка
func (f *TrackedFocus) SetChunk(id ChunkID) {
	f.SetPosition(id.ToWorldLocation())
}

// Position текущая мировая позиция
func (f *TrackedFocus) Position() vec.Vec3 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.position
}

func (f *TrackedFocus) CurrentChunk() ChunkID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

func (f *TrackedFocus) PreviousChunk() ChunkID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.previous
}

func (f *TrackedFocus) Acknowledge(chunk ChunkID) {
	f.mu.Lock()
	f.previous = chunk
	f.mu.Unlock()
}
