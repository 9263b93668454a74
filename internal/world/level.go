package world

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/voxel-stream/internal/logging"
	"github.com/annel0/voxel-stream/internal/vec"
	"github.com/annel0/voxel-stream/internal/world/voxel"
)

var (
	// ErrChunkNotLoaded запись вокселя в отсутствующий чанк
	ErrChunkNotLoaded = errors.New("chunk not loaded")
	// ErrChunkFrozen запись вокселя в чанк, который сохраняется перед выгрузкой
	ErrChunkFrozen = errors.New("chunk is being evicted")
)

// Level владеет картой чанков, границами мира в чанках и реестром фокусов.
// Карта чанков изменяется только ролью драйвера; планировщик её читает.
type Level struct {
	Name        string
	Seed        int64
	ChunkBounds vec.Vec3 // размер мира в чанках, [0, ChunkBounds)

	mu     sync.RWMutex
	chunks map[ChunkID]*Chunk

	fociMu      sync.RWMutex
	foci        map[int]Focus
	nextFocusID int

	logger *logging.Logger
}

// LevelStats сводка состояния уровня
type LevelStats struct {
	Chunks      int `json:"chunks"`
	Loaded      int `json:"loaded"`
	Empty       int `json:"empty"`
	Solid       int `json:"solid"`
	Meshed      int `json:"meshed"`
	EmptyMeshes int `json:"empty_meshes"`
	Foci        int `json:"foci"`
}

// NewLevel создаёт пустой уровень
func NewLevel(name string, seed int64, chunkBounds vec.Vec3) *Level {
	return &Level{
		Name:        name,
		Seed:        seed,
		ChunkBounds: chunkBounds,
		chunks:      make(map[ChunkID]*Chunk),
		foci:        make(map[int]Focus),
		logger:      logging.GetComponentLogger("level"),
	}
}

// WithinBounds проверяет, лежит ли чанк внутри границ уровня
func (l *Level) WithinBounds(id ChunkID) bool {
	return id.Coordinate().Within(vec.Zero, l.ChunkBounds)
}

// Chunk возвращает чанк, если он есть в карте
func (l *Level) Chunk(id ChunkID) (*Chunk, bool) {
	l.mu.RLock()
	c, ok := l.chunks[id]
	l.mu.RUnlock()
	return c, ok
}

// AddChunk добавляет (или заменяет) чанк
func (l *Level) AddChunk(c *Chunk) {
	l.mu.Lock()
	l.chunks[c.ID] = c
	l.mu.Unlock()
}

// RemoveChunk удаляет чанк из карты
func (l *Level) RemoveChunk(id ChunkID) (*Chunk, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.chunks[id]
	if ok {
		delete(l.chunks, id)
	}
	return c, ok
}

// ChunkCount количество чанков в карте
func (l *Level) ChunkCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chunks)
}

// Chunks возвращает срез всех чанков (снимок карты)
func (l *Level) Chunks() []*Chunk {
	l.mu.RLock()
	out := make([]*Chunk, 0, len(l.chunks))
	for _, c := range l.chunks {
		out = append(out, c)
	}
	l.mu.RUnlock()
	return out
}

// GetVoxel читает воксель по мировой координате. Отсутствующий чанк: пустота
func (l *Level) GetVoxel(world vec.Vec3) voxel.ID {
	c, ok := l.Chunk(ChunkIDFromWorld(world))
	if !ok {
		return voxel.Empty
	}
	return c.Voxel(LocalInChunk(world))
}

// SetVoxel пишет воксель по мировой координате. Запись в отсутствующий чанк
// отбрасывается с предупреждением и возвращает ErrChunkNotLoaded, запись в
// выгружаемый чанк возвращает ErrChunkFrozen.
func (l *Level) SetVoxel(world vec.Vec3, value voxel.ID) error {
	id := ChunkIDFromWorld(world)
	c, ok := l.Chunk(id)
	if !ok {
		l.logger.Warn("⚠️ Запись вокселя %v в незагруженный чанк %s отброшена", world, id)
		return fmt.Errorf("set voxel %v: chunk %s: %w", world, id, ErrChunkNotLoaded)
	}
	if _, err := c.WriteVoxel(LocalInChunk(world), value); err != nil {
		l.logger.Warn("⚠️ Запись вокселя %v отброшена: чанк %s выгружается", world, id)
		return fmt.Errorf("set voxel %v: %w", world, err)
	}
	return nil
}

// AddFocus регистрирует фокус и возвращает его ID
func (l *Level) AddFocus(f Focus) int {
	l.fociMu.Lock()
	defer l.fociMu.Unlock()

	id := l.nextFocusID
	l.nextFocusID++
	l.foci[id] = f
	return id
}

// RemoveFocus снимает фокус с регистрации
func (l *Level) RemoveFocus(id int) bool {
	l.fociMu.Lock()
	defer l.fociMu.Unlock()

	if _, ok := l.foci[id]; !ok {
		return false
	}
	delete(l.foci, id)
	return true
}

// Focus возвращает фокус по ID
func (l *Level) Focus(id int) (Focus, bool) {
	l.fociMu.RLock()
	defer l.fociMu.RUnlock()
	f, ok := l.foci[id]
	return f, ok
}

// FocusIDs возвращает отсортированные ID фокусов
func (l *Level) FocusIDs() []int {
	l.fociMu.RLock()
	ids := make([]int, 0, len(l.foci))
	for id := range l.foci {
		ids = append(ids, id)
	}
	l.fociMu.RUnlock()
	sort.Ints(ids)
	return ids
}

// ForEachFocus обходит фокусы в порядке возрастания ID
func (l *Level) ForEachFocus(fn func(id int, f Focus)) {
	for _, id := range l.FocusIDs() {
		if f, ok := l.Focus(id); ok {
			fn(id, f)
		}
	}
}

// Stats возвращает сводку по чанкам и фокусам
func (l *Level) Stats() LevelStats {
	var s LevelStats
	for _, c := range l.Chunks() {
		st := c.State()
		s.Chunks++
		if st.Loaded {
			s.Loaded++
		}
		if st.IsEmpty() {
			s.Empty++
		}
		if st.IsSolid() {
			s.Solid++
		}
		if st.MeshGenerated {
			s.Meshed++
			if st.MeshEmpty {
				s.EmptyMeshes++
			}
		}
	}
	s.Foci = len(l.FocusIDs())
	return s
}
