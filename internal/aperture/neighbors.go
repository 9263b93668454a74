package aperture

import (
	"github.com/annel0/voxel-stream/internal/mesh"
	"github.com/annel0/voxel-stream/internal/vec"
	"github.com/annel0/voxel-stream/internal/world"
)

// faceNeighborOffsets шесть соседей по граням
var faceNeighborOffsets = [6]vec.Vec3{
	{X: 1}, {X: -1},
	{Y: 1}, {Y: -1},
	{Z: 1}, {Z: -1},
}

// neighborState состояние соседа. Соседи за границей уровня считаются
// загруженными, пустыми и не твёрдыми.
type neighborState struct {
	inBounds bool
	present  bool
	state    world.ChunkState
}

func (n neighborState) loaded() bool {
	return !n.inBounds || (n.present && n.state.Loaded)
}

func (n neighborState) solid() bool {
	return n.inBounds && n.present && n.state.IsSolid()
}

func (n neighborState) nonEmpty() bool {
	return n.inBounds && n.present && n.state.Loaded && !n.state.IsEmpty()
}

func neighbor(level *world.Level, id world.ChunkID, offset vec.Vec3) neighborState {
	nid := id.Offset(offset)
	if !level.WithinBounds(nid) {
		return neighborState{}
	}
	c, ok := level.Chunk(nid)
	if !ok {
		return neighborState{inBounds: true}
	}
	return neighborState{inBounds: true, present: true, state: c.State()}
}

// forwardNeighborsLoaded загружены ли все семь передних соседей
func forwardNeighborsLoaded(level *world.Level, id world.ChunkID) bool {
	for _, off := range mesh.ForwardNeighborOffsets {
		if !neighbor(level, id, off).loaded() {
			return false
		}
	}
	return true
}

// forwardNeighborsSolid все семь передних соседей твёрдые: марширование
// такого твёрдого чанка не даст ни одного треугольника
func forwardNeighborsSolid(level *world.Level, id world.ChunkID) bool {
	for _, off := range mesh.ForwardNeighborOffsets {
		if !neighbor(level, id, off).solid() {
			return false
		}
	}
	return true
}

// faceNeighborsSolid все шесть соседей по граням твёрдые
func faceNeighborsSolid(level *world.Level, id world.ChunkID) bool {
	for _, off := range faceNeighborOffsets {
		if !neighbor(level, id, off).solid() {
			return false
		}
	}
	return true
}

// isSeamNeighbor нужен ли пустой чанк для шва: кубы на его передней
// границе читают воксели передних соседей. Пока сосед не загружен,
// считаем, что нужен.
func isSeamNeighbor(level *world.Level, id world.ChunkID) bool {
	for _, off := range mesh.ForwardNeighborOffsets {
		n := neighbor(level, id, off)
		if !n.inBounds {
			continue
		}
		if !n.loaded() || n.nonEmpty() {
			return true
		}
	}
	return false
}
