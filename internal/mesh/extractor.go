package mesh

import (
	"fmt"

	"github.com/annel0/voxel-stream/internal/vec"
	"github.com/annel0/voxel-stream/internal/world"
	"github.com/annel0/voxel-stream/internal/world/voxel"
	"github.com/go-gl/mathgl/mgl32"
)

// MarchDiameter сторона блока вокселей, по которому идёт марширование:
// чанк плюс один слой передних соседей
const MarchDiameter = world.Diameter + 1

// BlockSize размер вокселя в единицах меша
const BlockSize float32 = 1

// Octants смещения восьми вершин единичного куба. Номер вершины:
// номер бита в маске твёрдости
var Octants = [8]vec.Vec3{
	{X: 0, Y: 0, Z: 0},
	{X: 1, Y: 0, Z: 0},
	{X: 1, Y: 1, Z: 0},
	{X: 0, Y: 1, Z: 0},
	{X: 0, Y: 0, Z: 1},
	{X: 1, Y: 0, Z: 1},
	{X: 1, Y: 1, Z: 1},
	{X: 0, Y: 1, Z: 1},
}

// ForwardNeighborOffsets семь соседних чанков, в которые заглядывает
// марширование: восток, верх, север и их комбинации
var ForwardNeighborOffsets = [7]vec.Vec3{
	{X: 1, Y: 0, Z: 0}, // восток
	{X: 0, Y: 1, Z: 0}, // верх
	{X: 0, Y: 0, Z: 1}, // север
	{X: 1, Y: 0, Z: 1}, // восток+север
	{X: 0, Y: 1, Z: 1}, // верх+север
	{X: 1, Y: 1, Z: 0}, // восток+верх
	{X: 1, Y: 1, Z: 1}, // восток+север+верх
}

// VoxelMeshData результат извлечения поверхности для одного чанка
type VoxelMeshData struct {
	ChunkID   world.ChunkID
	IsEmpty   bool
	Vertices  []mgl32.Vec3
	Triangles []uint32
	Colors    []mgl32.Vec4
}

// TriangleCount количество треугольников
func (m *VoxelMeshData) TriangleCount() int {
	return len(m.Triangles) / 3
}

// ChunkSource источник чанков для сборки блока
type ChunkSource interface {
	Chunk(id world.ChunkID) (*world.Chunk, bool)
}

// GatherBlock собирает блок MarchDiameter³ вокселей: сам чанк и первый слой
// семи передних соседей. Отсутствующие соседи читаются как пустота.
func GatherBlock(src ChunkSource, id world.ChunkID) []byte {
	block := make([]byte, MarchDiameter*MarchDiameter*MarchDiameter)

	copyFrom := func(offset vec.Vec3) {
		c, ok := src.Chunk(id.Offset(offset))
		if !ok {
			return
		}
		voxels, _ := c.Voxels()
		if voxels == nil {
			return
		}

		// диапазон локальных координат соседа, попадающих в блок
		lo := vec.Zero
		hi := vec.Splat(world.Diameter)
		if offset.X == 1 {
			hi.X = 1
		}
		if offset.Y == 1 {
			hi.Y = 1
		}
		if offset.Z == 1 {
			hi.Z = 1
		}
		base := offset.Scale(world.Diameter)
		lo.Until(hi, func(local vec.Vec3) {
			block[base.Add(local).Flatten(MarchDiameter)] = voxels[local.Flatten(world.Diameter)]
		})
	}

	copyFrom(vec.Zero)
	for _, offset := range ForwardNeighborOffsets {
		copyFrom(offset)
	}
	return block
}

// Extract строит поверхность по бинарной заполненности блока вокселей.
// Вершины ставятся в середины рёбер, цвет: смешение цветов двух углов.
func Extract(id world.ChunkID, block []byte) (*VoxelMeshData, error) {
	if len(block) != MarchDiameter*MarchDiameter*MarchDiameter {
		return nil, fmt.Errorf("extract %s: длина блока %d, ожидалось %d", id, len(block), MarchDiameter*MarchDiameter*MarchDiameter)
	}

	out := &VoxelMeshData{ChunkID: id}

	var (
		edgeVertices [12]mgl32.Vec3
		edgeColors   [12]mgl32.Vec4
		cornerTypes  [8]voxel.Type
		cornerPos    [8]mgl32.Vec3
	)

	vec.Zero.Until(vec.Splat(world.Diameter), func(p vec.Vec3) {
		mask := 0
		for i, o := range Octants {
			corner := p.Add(o)
			cornerPos[i] = mgl32.Vec3{float32(corner.X), float32(corner.Y), float32(corner.Z)}.Mul(BlockSize)
			cornerTypes[i] = voxel.Get(voxel.ID(block[corner.Flatten(MarchDiameter)]))
			if cornerTypes[i].Solid {
				mask |= 1 << i
			}
		}

		edges := EdgeTable[mask]
		if edges == 0 {
			return
		}
		for e := 0; e < 12; e++ {
			if edges&(1<<e) == 0 {
				continue
			}
			a, b := EdgeIndexTable[e][0], EdgeIndexTable[e][1]
			edgeVertices[e] = midpoint(cornerPos[a], cornerPos[b])
			edgeColors[e] = blendColor(cornerTypes[a], cornerTypes[b])
		}

		row := TriangleTable[mask]
		for t := 0; t+2 < len(row); t += 3 {
			for k := 0; k < 3; k++ {
				e := row[t+k]
				out.Vertices = append(out.Vertices, edgeVertices[e])
				out.Colors = append(out.Colors, edgeColors[e])
				out.Triangles = append(out.Triangles, uint32(len(out.Vertices)-1))
			}
		}
	})

	out.IsEmpty = len(out.Triangles) == 0
	return out, nil
}

func midpoint(a, b mgl32.Vec3) mgl32.Vec3 {
	return a.Add(b.Sub(a).Mul(0.5))
}

// blendColor если один из углов пустой, берётся цвет твёрдого угла
func blendColor(a, b voxel.Type) mgl32.Vec4 {
	if !a.Solid {
		return b.Color
	}
	if !b.Solid {
		return a.Color
	}
	return a.Color.Add(b.Color.Sub(a.Color).Mul(0.5))
}
