package terrain

import (
	"math"
	"sync"

	"github.com/annel0/voxel-stream/internal/vec"
	"github.com/annel0/voxel-stream/internal/world"
	"github.com/annel0/voxel-stream/internal/world/voxel"
	"github.com/aquilax/go-perlin"
)

// Параметры шума Перлина
const (
	perlinAlpha       = 2.0 // Сглаживание шума
	perlinBeta        = 2.0 // Частота шума
	perlinOctaves     = 3   // Количество октав
	defaultNoiseScale = 0.02
)

// PerlinConfig параметры ландшафта
type PerlinConfig struct {
	BaseHeight int     // средняя высота поверхности в вокселях
	Amplitude  float64 // размах высот
	NoiseScale float64 // масштаб шума по горизонтали
	SeaLevel   int     // ниже уровня моря пустота заполняется водой
	DirtDepth  int     // толщина слоя земли под травой
}

// DefaultPerlinConfig конфигурация по умолчанию
func DefaultPerlinConfig() PerlinConfig {
	return PerlinConfig{
		BaseHeight: 24,
		Amplitude:  16,
		NoiseScale: defaultNoiseScale,
		SeaLevel:   12,
		DirtDepth:  3,
	}
}

// PerlinSource карта высот на шуме Перлина со слоями трава/земля/камень,
// песком у воды и водой ниже уровня моря
type PerlinSource struct {
	cfg PerlinConfig

	mu    sync.Mutex
	noise map[int64]*perlin.Perlin
}

// NewPerlinSource создаёт источник
func NewPerlinSource(cfg PerlinConfig) *PerlinSource {
	if cfg.NoiseScale <= 0 {
		cfg.NoiseScale = defaultNoiseScale
	}
	if cfg.DirtDepth < 0 {
		cfg.DirtDepth = 0
	}
	return &PerlinSource{
		cfg:   cfg,
		noise: make(map[int64]*perlin.Perlin),
	}
}

// generator возвращает генератор шума для сида; генераторы кешируются
func (ps *PerlinSource) generator(seed int64) *perlin.Perlin {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	p, ok := ps.noise[seed]
	if !ok {
		p = perlin.NewPerlin(perlinAlpha, perlinBeta, perlinOctaves, seed)
		ps.noise[seed] = p
	}
	return p
}

// HeightAt высота поверхности в колонке (x, z)
func (ps *PerlinSource) HeightAt(p *perlin.Perlin, x, z int) int {
	n := p.Noise2D(float64(x)*ps.cfg.NoiseScale, float64(z)*ps.cfg.NoiseScale)
	return ps.cfg.BaseHeight + int(math.Round(n*ps.cfg.Amplitude))
}

// Generate генерирует воксели чанка
func (ps *PerlinSource) Generate(id world.ChunkID, seed int64) ([]byte, int, error) {
	p := ps.generator(seed)
	origin := id.ToWorldLocation()

	// высоты считаются один раз на колонку
	var heights [world.Diameter][world.Diameter]int
	for x := 0; x < world.Diameter; x++ {
		for z := 0; z < world.Diameter; z++ {
			heights[x][z] = ps.HeightAt(p, origin.X+x, origin.Z+z)
		}
	}

	voxels, solid := FillChunk(id, func(w vec.Vec3) voxel.ID {
		local := w.Sub(origin)
		return ps.voxelAt(w.Y, heights[local.X][local.Z])
	})
	return voxels, solid, nil
}

func (ps *PerlinSource) voxelAt(y, height int) voxel.ID {
	switch {
	case y >= height:
		if y < ps.cfg.SeaLevel {
			return voxel.Water
		}
		return voxel.Empty
	case y == height-1:
		if height <= ps.cfg.SeaLevel+1 {
			return voxel.Sand
		}
		return voxel.Grass
	case y >= height-1-ps.cfg.DirtDepth:
		return voxel.Dirt
	default:
		return voxel.Stone
	}
}
