package vec

import (
	"fmt"
	"math"
)

// Vec3 представляет трехмерный вектор с целочисленными координатами
type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Zero нулевой вектор
var Zero = Vec3{}

// New создаёт вектор из трёх координат
func New(x, y, z int) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

// Splat создаёт вектор с одинаковыми координатами
func Splat(v int) Vec3 {
	return Vec3{X: v, Y: v, Z: v}
}

// String возвращает строку вида "x,y,z"
func (v Vec3) String() string {
	return fmt.Sprintf("%d,%d,%d", v.X, v.Y, v.Z)
}

// DistanceTo возвращает квадрат расстояния до другого вектора
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return float64(dx*dx + dy*dy + dz*dz)
}

// DistanceYFlattened возвращает евклидово расстояние, в котором разница по Y
// умножена на yWeight
func (v Vec3) DistanceYFlattened(other Vec3, yWeight float64) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y-other.Y) * yWeight
	dz := float64(v.Z - other.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Sub вычитает вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{
		X: v.X - other.X,
		Y: v.Y - other.Y,
		Z: v.Z - other.Z,
	}
}

// Scale умножает все координаты на k
func (v Vec3) Scale(k int) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Shl сдвигает координаты влево (умножение на степень двойки)
func (v Vec3) Shl(bits uint) Vec3 {
	return Vec3{X: v.X << bits, Y: v.Y << bits, Z: v.Z << bits}
}

// Shr арифметически сдвигает координаты вправо (деление с округлением вниз)
func (v Vec3) Shr(bits uint) Vec3 {
	return Vec3{X: v.X >> bits, Y: v.Y >> bits, Z: v.Z >> bits}
}

// Mask применяет побитовую маску к каждой координате
func (v Vec3) Mask(mask int) Vec3 {
	return Vec3{X: v.X & mask, Y: v.Y & mask, Z: v.Z & mask}
}

// Min покоординатный минимум
func (v Vec3) Min(other Vec3) Vec3 {
	return Vec3{X: min(v.X, other.X), Y: min(v.Y, other.Y), Z: min(v.Z, other.Z)}
}

// Max покоординатный максимум
func (v Vec3) Max(other Vec3) Vec3 {
	return Vec3{X: max(v.X, other.X), Y: max(v.Y, other.Y), Z: max(v.Z, other.Z)}
}

// Flatten переводит координату в линейный индекс внутри куба со стороной diameter
func (v Vec3) Flatten(diameter int) int {
	return Flatten(v.X, v.Y, v.Z, diameter)
}

// Flatten линейный индекс (x,y,z) в кубе со стороной diameter
func Flatten(x, y, z, diameter int) int {
	return x + diameter*(y+diameter*z)
}

// Unflatten обратная к Flatten операция
func Unflatten(index, diameter int) Vec3 {
	return Vec3{
		X: index % diameter,
		Y: (index / diameter) % diameter,
		Z: index / (diameter * diameter),
	}
}

// Within проверяет, что v лежит в [lo, hi) по всем осям
func (v Vec3) Within(lo, hi Vec3) bool {
	return v.X >= lo.X && v.X < hi.X &&
		v.Y >= lo.Y && v.Y < hi.Y &&
		v.Z >= lo.Z && v.Z < hi.Z
}

// Volume количество точек в полуоткрытом боксе [v, hi)
func (v Vec3) Volume(hi Vec3) int {
	dx, dy, dz := hi.X-v.X, hi.Y-v.Y, hi.Z-v.Z
	if dx <= 0 || dy <= 0 || dz <= 0 {
		return 0
	}
	return dx * dy * dz
}

// Until обходит все точки полуоткрытого бокса [v, hi) в порядке x, y, z
func (v Vec3) Until(hi Vec3, fn func(Vec3)) {
	for z := v.Z; z < hi.Z; z++ {
		for y := v.Y; y < hi.Y; y++ {
			for x := v.X; x < hi.X; x++ {
				fn(Vec3{X: x, Y: y, Z: z})
			}
		}
	}
}
