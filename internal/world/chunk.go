package world

import (
	"fmt"
	"sync"

	"github.com/annel0/voxel-stream/internal/vec"
	"github.com/annel0/voxel-stream/internal/world/voxel"
)

const (
	// DiameterBits log2 стороны чанка
	DiameterBits = 4
	// Diameter сторона чанка в вокселях
	Diameter = 1 << DiameterBits
	// VoxelCount количество вокселей в чанке
	VoxelCount = Diameter * Diameter * Diameter
	localMask  = Diameter - 1
)

// ChunkID координата чанка в сетке чанков
type ChunkID vec.Vec3

// NewChunkID создаёт ID чанка
func NewChunkID(x, y, z int) ChunkID {
	return ChunkID{X: x, Y: y, Z: z}
}

// ChunkIDFromWorld возвращает ID чанка, содержащего мировую координату
func ChunkIDFromWorld(world vec.Vec3) ChunkID {
	return ChunkID(world.Shr(DiameterBits))
}

// LocalInChunk возвращает локальную координату вокселя внутри чанка
func LocalInChunk(world vec.Vec3) vec.Vec3 {
	return world.Mask(localMask)
}

// Coordinate возвращает ID как вектор
func (id ChunkID) Coordinate() vec.Vec3 {
	return vec.Vec3(id)
}

// ToWorldLocation мировая координата минимального угла чанка
func (id ChunkID) ToWorldLocation() vec.Vec3 {
	return vec.Vec3(id).Shl(DiameterBits)
}

// Offset сдвигает ID на вектор
func (id ChunkID) Offset(d vec.Vec3) ChunkID {
	return ChunkID(vec.Vec3(id).Add(d))
}

// String "x,y,z"
func (id ChunkID) String() string {
	return vec.Vec3(id).String()
}

// ChunkState согласованный снимок флагов чанка
type ChunkState struct {
	Loaded          bool
	MeshGenerated   bool
	MeshEmpty       bool
	SolidVoxelCount int
}

// IsEmpty чанк без твёрдых вокселей
func (s ChunkState) IsEmpty() bool { return s.SolidVoxelCount == 0 }

// IsSolid чанк полностью заполнен
func (s ChunkState) IsSolid() bool { return s.SolidVoxelCount == VoxelCount }

// Chunk куб Diameter³ вокселей. voxels == nil тогда и только тогда, когда
// solidVoxelCount == 0. Массив вокселей заменяется целиком под мьютексом,
// читатели получают копию.
type Chunk struct {
	ID ChunkID

	mu              sync.RWMutex
	voxels          []byte
	solidVoxelCount int
	loaded          bool
	meshGenerated   bool
	meshEmpty       bool
	// frozen воксели сохраняются перед выгрузкой, правки отклоняются
	frozen bool
}

// NewChunk создаёт пустой незагруженный чанк
func NewChunk(id ChunkID) *Chunk {
	return &Chunk{
		ID:        id,
		meshEmpty: true,
	}
}

// Voxel возвращает значение по локальной координате
func (c *Chunk) Voxel(local vec.Vec3) voxel.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.voxels == nil {
		return voxel.Empty
	}
	return voxel.ID(c.voxels[local.Flatten(Diameter)])
}

// SetVoxel записывает значение по локальной координате и поддерживает счётчик
// твёрдых вокселей. Возвращает true, если значение изменилось. Замороженный
// чанк не меняется.
func (c *Chunk) SetVoxel(local vec.Vec3, value voxel.ID) bool {
	changed, _ := c.WriteVoxel(local, value)
	return changed
}

// WriteVoxel как SetVoxel, но отказ замороженного чанка возвращается
// ошибкой ErrChunkFrozen
func (c *Chunk) WriteVoxel(local vec.Vec3, value voxel.ID) (bool, error) {
	index := local.Flatten(Diameter)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return false, fmt.Errorf("chunk %s: %w", c.ID, ErrChunkFrozen)
	}

	var old voxel.ID
	if c.voxels != nil {
		old = voxel.ID(c.voxels[index])
	}
	if old == value {
		return false, nil
	}

	if value != voxel.Empty {
		if c.voxels == nil {
			c.voxels = make([]byte, VoxelCount)
		}
		if old == voxel.Empty {
			c.solidVoxelCount++
		}
		c.voxels[index] = byte(value)
		return true, nil
	}

	c.voxels[index] = byte(voxel.Empty)
	c.solidVoxelCount--
	if c.solidVoxelCount == 0 {
		c.voxels = nil
	}
	return true, nil
}

// Freeze снимает копию вокселей для сохранения перед выгрузкой и
// запрещает правки до Thaw. Копия и заморозка атомарны.
func (c *Chunk) Freeze() ([]byte, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frozen = true
	if c.voxels == nil {
		return nil, 0
	}
	out := make([]byte, len(c.voxels))
	copy(out, c.voxels)
	return out, c.solidVoxelCount
}

// Thaw снова разрешает правки, если выгрузка отменена
func (c *Chunk) Thaw() {
	c.mu.Lock()
	c.frozen = false
	c.mu.Unlock()
}

// IsFrozen чанк ждёт выгрузки
func (c *Chunk) IsFrozen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frozen
}

// SetVoxels заменяет массив вокселей целиком. Чанк забирает владение срезом.
// При solidCount == 0 массив сбрасывается в nil.
func (c *Chunk) SetVoxels(voxels []byte, solidCount int) {
	if solidCount > 0 && len(voxels) != VoxelCount {
		panic(fmt.Sprintf("chunk %s: длина массива вокселей %d, ожидалось %d", c.ID, len(voxels), VoxelCount))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if solidCount <= 0 {
		c.voxels = nil
		c.solidVoxelCount = 0
		return
	}
	c.voxels = voxels
	c.solidVoxelCount = solidCount
}

// Voxels возвращает копию массива вокселей и счётчик твёрдых вокселей
func (c *Chunk) Voxels() ([]byte, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.voxels == nil {
		return nil, 0
	}
	out := make([]byte, len(c.voxels))
	copy(out, c.voxels)
	return out, c.solidVoxelCount
}

// SolidVoxelCount количество непустых вокселей
func (c *Chunk) SolidVoxelCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.solidVoxelCount
}

// IsEmpty чанк без твёрдых вокселей
func (c *Chunk) IsEmpty() bool { return c.SolidVoxelCount() == 0 }

// IsSolid чанк полностью заполнен
func (c *Chunk) IsSolid() bool { return c.SolidVoxelCount() == VoxelCount }

// IsLoaded данные вокселей загружены
func (c *Chunk) IsLoaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// SetLoaded помечает чанк загруженным
func (c *Chunk) SetLoaded(loaded bool) {
	c.mu.Lock()
	c.loaded = loaded
	c.mu.Unlock()
}

// MeshIsGenerated меш построен
func (c *Chunk) MeshIsGenerated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meshGenerated
}

// MeshIsEmpty построенный меш не содержит треугольников
func (c *Chunk) MeshIsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meshEmpty
}

// SetMeshState обновляет флаги меша
func (c *Chunk) SetMeshState(generated, empty bool) {
	c.mu.Lock()
	c.meshGenerated = generated
	c.meshEmpty = empty
	c.mu.Unlock()
}

// State возвращает согласованный снимок флагов
func (c *Chunk) State() ChunkState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ChunkState{
		Loaded:          c.loaded,
		MeshGenerated:   c.meshGenerated,
		MeshEmpty:       c.meshEmpty,
		SolidVoxelCount: c.solidVoxelCount,
	}
}
