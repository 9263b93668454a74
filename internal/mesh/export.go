package mesh

import (
	"fmt"
	"io"
	"math"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// WriteGLB кодирует непустые меши в один бинарный glTF. Каждый чанк
// становится отдельным узлом со смещением в мировых координатах.
func WriteGLB(w io.Writer, meshes ...*VoxelMeshData) error {
	doc := gltf.NewDocument()
	doc.Asset.Generator = "voxel-stream meshdump"

	pbr := &gltf.PBRMetallicRoughness{BaseColorFactor: &[4]float64{1, 1, 1, 1}, MetallicFactor: gltf.Float(0), RoughnessFactor: gltf.Float(1)}
	doc.Materials = []*gltf.Material{{PBRMetallicRoughness: pbr, AlphaMode: gltf.AlphaOpaque}}

	for _, m := range meshes {
		if m == nil || m.IsEmpty {
			continue
		}

		positions := make([][3]float32, len(m.Vertices))
		for i, v := range m.Vertices {
			positions[i] = [3]float32(v)
		}
		colors := make([][4]float32, len(m.Colors))
		for i, c := range m.Colors {
			colors[i] = [4]float32(c)
		}
		indices := make([]uint32, len(m.Triangles))
		copy(indices, m.Triangles)

		prim := &gltf.Primitive{
			Attributes: gltf.PrimitiveAttributes{
				gltf.POSITION: modeler.WritePosition(doc, positions),
				gltf.NORMAL:   modeler.WriteNormal(doc, flatNormals(positions, indices)),
				gltf.COLOR_0:  modeler.WriteColor(doc, colors),
			},
			Indices:  gltf.Index(modeler.WriteIndices(doc, indices)),
			Material: gltf.Index(0),
		}

		doc.Meshes = append(doc.Meshes, &gltf.Mesh{
			Name:       fmt.Sprintf("chunk_%s", m.ChunkID),
			Primitives: []*gltf.Primitive{prim},
		})
		origin := m.ChunkID.ToWorldLocation()
		doc.Nodes = append(doc.Nodes, &gltf.Node{
			Name:        fmt.Sprintf("chunk_%s", m.ChunkID),
			Mesh:        gltf.Index(len(doc.Meshes) - 1),
			Translation: [3]float64{float64(origin.X) * float64(BlockSize), float64(origin.Y) * float64(BlockSize), float64(origin.Z) * float64(BlockSize)},
		})
		doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, len(doc.Nodes)-1)
	}

	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("ошибка кодирования glb: %w", err)
	}
	return nil
}

// flatNormals нормаль грани для каждой вершины треугольника
func flatNormals(positions [][3]float32, indices []uint32) [][3]float32 {
	normals := make([][3]float32, len(positions))
	for i := 0; i+2 < len(indices); i += 3 {
		v0, v1, v2 := indices[i], indices[i+1], indices[i+2]
		p0, p1, p2 := positions[v0], positions[v1], positions[v2]
		a := [3]float32{p1[0] - p0[0], p1[1] - p0[1], p1[2] - p0[2]}
		b := [3]float32{p2[0] - p0[0], p2[1] - p0[1], p2[2] - p0[2]}
		n := [3]float32{
			a[1]*b[2] - a[2]*b[1],
			a[2]*b[0] - a[0]*b[2],
			a[0]*b[1] - a[1]*b[0],
		}
		if l := float32(math.Sqrt(float64(n[0]*n[0] + n[1]*n[1] + n[2]*n[2]))); l > 0 {
			n[0] /= l
			n[1] /= l
			n[2] /= l
		}
		normals[v0], normals[v1], normals[v2] = n, n, n
	}
	return normals
}
