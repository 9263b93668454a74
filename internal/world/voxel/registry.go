package voxel

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// ID идентификатор типа вокселя. 0 всегда означает пустоту
type ID byte

// Константы встроенных типов
const (
	Empty ID = iota // 0
	Stone           // 1
	Dirt            // 2
	Grass           // 3
	Sand            // 4
	Water           // 5
)

// Type описывает тип вокселя
type Type struct {
	ID    ID
	Name  string
	Solid bool       // участвует в построении поверхности
	Color mgl32.Vec4 // RGBA в диапазоне 0..1
}

var (
	registryMu sync.RWMutex
	registry   = map[ID]Type{
		Empty: {ID: Empty, Name: "empty", Solid: false, Color: mgl32.Vec4{0, 0, 0, 0}},
		Stone: {ID: Stone, Name: "stone", Solid: true, Color: mgl32.Vec4{0.50, 0.50, 0.52, 1}},
		Dirt:  {ID: Dirt, Name: "dirt", Solid: true, Color: mgl32.Vec4{0.45, 0.30, 0.18, 1}},
		Grass: {ID: Grass, Name: "grass", Solid: true, Color: mgl32.Vec4{0.30, 0.65, 0.20, 1}},
		Sand:  {ID: Sand, Name: "sand", Solid: true, Color: mgl32.Vec4{0.85, 0.80, 0.55, 1}},
		Water: {ID: Water, Name: "water", Solid: true, Color: mgl32.Vec4{0.15, 0.35, 0.80, 0.8}},
	}
)

// unknownColor подсвечивает незарегистрированные типы
var unknownColor = mgl32.Vec4{1, 0, 1, 1}

// Register добавляет или заменяет тип вокселя. Пустой тип заменить нельзя
func Register(t Type) bool {
	if t.ID == Empty {
		return false
	}
	registryMu.Lock()
	registry[t.ID] = t
	registryMu.Unlock()
	return true
}

// Get возвращает тип по ID. Для незарегистрированного ID возвращается
// твёрдый тип "unknown"
func Get(id ID) Type {
	registryMu.RLock()
	t, ok := registry[id]
	registryMu.RUnlock()
	if ok {
		return t
	}
	return Type{ID: id, Name: "unknown", Solid: id != Empty, Color: unknownColor}
}

// IsSolid проверяет, твёрдый ли воксель
func IsSolid(id ID) bool {
	if id == Empty {
		return false
	}
	return Get(id).Solid
}

// IsRegistered проверяет, известен ли тип
func IsRegistered(id ID) bool {
	registryMu.RLock()
	_, ok := registry[id]
	registryMu.RUnlock()
	return ok
}
