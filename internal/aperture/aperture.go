// Package aperture содержит стадии разрешения чанков. Каждая стадия (апертура)
// следит за областью вокруг каждого фокуса, выдаёт изменения области при
// движении фокуса, решает, готов ли чанк к работе, и применяет результат
// работы к уровню.
package aperture

import (
	"errors"
	"fmt"

	"github.com/annel0/voxel-stream/internal/world"
)

var (
	// ErrUnknownFocus фокус не зарегистрирован в уровне
	ErrUnknownFocus = errors.New("focus is not registered with the level")
	// ErrMissingJobData для чанка не подготовлены данные задачи
	ErrMissingJobData = errors.New("job data was not prepared")
)

// Stage стадия разрешения. Значение совпадает с приоритетом стадии:
// меньше: раньше.
type Stage int

const (
	StageVoxelData Stage = iota
	StageMesh
	StageActive
)

// StageCount количество стадий
const StageCount = 3

func (s Stage) String() string {
	switch s {
	case StageVoxelData:
		return "voxel_data"
	case StageMesh:
		return "mesh_generation"
	case StageActive:
		return "active_chunk_object"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Direction направление изменения области
type Direction int

const (
	InFocus Direction = iota
	OutOfFocus
)

func (d Direction) String() string {
	if d == OutOfFocus {
		return "out"
	}
	return "in"
}

// Adjustment чанк вошёл в область стадии или покинул её
type Adjustment struct {
	Chunk     world.ChunkID
	Direction Direction
}

func (a Adjustment) String() string {
	return fmt.Sprintf("%s:%s", a.Chunk, a.Direction)
}

// Config параметры области стадии
type Config struct {
	Radius       int     // по X и Z
	HeightRadius int     // по Y, 0: как Radius
	YWeight      float64 // вес Y в расстоянии до фокуса
	TrackExits   bool    // выдавать OutOfFocus при выходе из области
}

// DefaultYWeight вес Y по умолчанию
const DefaultYWeight = 5.0

func (c Config) heightRadius() int {
	if c.HeightRadius == 0 {
		return c.Radius
	}
	return c.HeightRadius
}

func (c Config) yWeight() float64 {
	if c.YWeight == 0 {
		return DefaultYWeight
	}
	return c.YWeight
}

// Aperture контракт стадии разрешения.
//
// RegionDeltas* и ReleaseFocus вызывает роль планировщика; IsValidAdjustment,
// ValidateChunk, IsReady, PrepareJobData и JobFor тоже. OnJobComplete вызывает
// только роль драйвера, это единственное место, где стадия меняет уровень.
type Aperture interface {
	Stage() Stage
	YWeight() float64

	RegionDeltasForFocusInit(focusID int) []Adjustment
	RegionDeltasForFocusMove(focusID int) []Adjustment
	ReleaseFocus(focusID int) []Adjustment
	Contains(id world.ChunkID) bool

	IsValidAdjustment(adj Adjustment) bool
	ValidateChunk(id world.ChunkID) (bool, *world.Chunk)
	IsReady(id world.ChunkID) bool
	PrepareJobData(id world.ChunkID, dir Direction)
	JobFor(id world.ChunkID, dir Direction) Job
	OnJobComplete(res Result)
}
