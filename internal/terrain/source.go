package terrain

import (
	"github.com/annel0/voxel-stream/internal/vec"
	"github.com/annel0/voxel-stream/internal/world"
	"github.com/annel0/voxel-stream/internal/world/voxel"
)

// Source процедурный источник вокселей чанка.
// Возвращает массив длины world.VoxelCount (или nil для пустого чанка)
// и количество непустых вокселей.
type Source interface {
	Generate(id world.ChunkID, seed int64) ([]byte, int, error)
}

// SourceFunc адаптер функции к Source
type SourceFunc func(id world.ChunkID, seed int64) ([]byte, int, error)

func (f SourceFunc) Generate(id world.ChunkID, seed int64) ([]byte, int, error) {
	return f(id, seed)
}

// VoxelFunc значение вокселя по мировой координате
type VoxelFunc func(pos vec.Vec3) voxel.ID

// FillChunk заполняет чанк значениями fn и считает твёрдые воксели.
// Для пустого чанка возвращается nil.
func FillChunk(id world.ChunkID, fn VoxelFunc) ([]byte, int) {
	origin := id.ToWorldLocation()
	voxels := make([]byte, world.VoxelCount)
	solid := 0

	vec.Zero.Until(vec.Splat(world.Diameter), func(local vec.Vec3) {
		v := fn(origin.Add(local))
		if v == voxel.Empty {
			return
		}
		voxels[local.Flatten(world.Diameter)] = byte(v)
		solid++
	})

	if solid == 0 {
		return nil, 0
	}
	return voxels, solid
}

// Flat ровная поверхность: всё ниже Height заполнено типом Fill
type Flat struct {
	Height int
	Fill   voxel.ID
}

func (f Flat) Generate(id world.ChunkID, _ int64) ([]byte, int, error) {
	fill := f.Fill
	if fill == voxel.Empty {
		fill = voxel.Stone
	}
	voxels, solid := FillChunk(id, func(p vec.Vec3) voxel.ID {
		if p.Y < f.Height {
			return fill
		}
		return voxel.Empty
	})
	return voxels, solid, nil
}
