package aperture

import (
	"sync"

	"github.com/annel0/voxel-stream/internal/vec"
	"github.com/annel0/voxel-stream/internal/world"
)

// Box область в сетке чанков: Min включительно, Max исключительно
type Box struct {
	Min, Max vec.Vec3
}

// BoxAround область вокруг центра, обрезанная границами уровня
func BoxAround(center world.ChunkID, radius, heightRadius int, bounds vec.Vec3) Box {
	c := center.Coordinate()
	r := vec.New(radius, heightRadius, radius)
	return Box{
		Min: c.Sub(r).Max(vec.Zero),
		Max: c.Add(r).Add(vec.Splat(1)).Min(bounds),
	}
}

// Contains проверяет, лежит ли чанк в области
func (b Box) Contains(id world.ChunkID) bool {
	return id.Coordinate().Within(b.Min, b.Max)
}

// Volume количество чанков в области
func (b Box) Volume() int {
	return b.Min.Volume(b.Max)
}

// Each обходит чанки области
func (b Box) Each(fn func(id world.ChunkID)) {
	b.Min.Until(b.Max, func(v vec.Vec3) {
		fn(world.ChunkID(v))
	})
}

// EachNotIn обходит чанки b, не лежащие в other
func (b Box) EachNotIn(other Box, fn func(id world.ChunkID)) {
	b.Each(func(id world.ChunkID) {
		if !other.Contains(id) {
			fn(id)
		}
	})
}

// region хранит области стадии по ID фокуса
type region struct {
	mu           sync.RWMutex
	boxes        map[int]Box
	radius       int
	heightRadius int
	bounds       vec.Vec3
}

func newRegion(radius, heightRadius int, bounds vec.Vec3) *region {
	return &region{
		boxes:        make(map[int]Box),
		radius:       radius,
		heightRadius: heightRadius,
		bounds:       bounds,
	}
}

func (r *region) boxAround(center world.ChunkID) Box {
	return BoxAround(center, r.radius, r.heightRadius, r.bounds)
}

// init запоминает область нового фокуса и возвращает все её чанки
func (r *region) init(focusID int, center world.ChunkID) []Adjustment {
	box := r.boxAround(center)

	r.mu.Lock()
	r.boxes[focusID] = box
	r.mu.Unlock()

	out := make([]Adjustment, 0, box.Volume())
	box.Each(func(id world.ChunkID) {
		out = append(out, Adjustment{Chunk: id, Direction: InFocus})
	})
	return out
}

// move заменяет область фокуса и возвращает разность областей. Повторный
// вызов без движения возвращает пустой срез.
func (r *region) move(focusID int, center world.ChunkID, trackExits bool) []Adjustment {
	next := r.boxAround(center)

	r.mu.Lock()
	prev := r.boxes[focusID]
	r.boxes[focusID] = next
	r.mu.Unlock()

	if prev == next {
		return nil
	}

	var out []Adjustment
	next.EachNotIn(prev, func(id world.ChunkID) {
		out = append(out, Adjustment{Chunk: id, Direction: InFocus})
	})
	if trackExits {
		prev.EachNotIn(next, func(id world.ChunkID) {
			out = append(out, Adjustment{Chunk: id, Direction: OutOfFocus})
		})
	}
	return out
}

// release забывает область фокуса и возвращает её чанки как OutOfFocus
func (r *region) release(focusID int, trackExits bool) []Adjustment {
	r.mu.Lock()
	prev, ok := r.boxes[focusID]
	delete(r.boxes, focusID)
	r.mu.Unlock()

	if !ok || !trackExits {
		return nil
	}
	out := make([]Adjustment, 0, prev.Volume())
	prev.Each(func(id world.ChunkID) {
		out = append(out, Adjustment{Chunk: id, Direction: OutOfFocus})
	})
	return out
}

func (r *region) tracks(focusID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.boxes[focusID]
	return ok
}

// contains лежит ли чанк хотя бы в одной области
func (r *region) contains(id world.ChunkID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.boxes {
		if b.Contains(id) {
			return true
		}
	}
	return false
}
