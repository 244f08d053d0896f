package vec

import (
	"fmt"
	"math"
)

// Vec3 представляет трехмерный вектор с целочисленными координатами.
// Используется как координата вокселя или блока в сетке LOD.
type Vec3 struct {
	X int
	Y int
	Z int
}

// Vec3Float представляет трехмерный вектор с плавающими координатами
type Vec3Float struct {
	X float64
	Y float64
	Z float64
}

// Side - направление грани куба. Порядок совпадает с битами маски перехода.
type Side int

const (
	SideNegativeX Side = iota
	SidePositiveX
	SideNegativeY
	SidePositiveY
	SideNegativeZ
	SidePositiveZ
	SideCount
)

// SideNormals - единичные нормали граней в порядке Side
var SideNormals = [SideCount]Vec3{
	{X: -1}, {X: 1},
	{Y: -1}, {Y: 1},
	{Z: -1}, {Z: 1},
}

// Opposite возвращает противоположную грань
func (s Side) Opposite() Side {
	return s ^ 1
}

func (s Side) String() string {
	switch s {
	case SideNegativeX:
		return "-X"
	case SidePositiveX:
		return "+X"
	case SideNegativeY:
		return "-Y"
	case SidePositiveY:
		return "+Y"
	case SideNegativeZ:
		return "-Z"
	case SidePositiveZ:
		return "+Z"
	default:
		return "?"
	}
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%d, %d, %d)", v.X, v.Y, v.Z)
}

// DistanceTo возвращает квадрат расстояния до другого вектора
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return float64(dx*dx + dy*dy + dz*dz)
}

// ChebyshevDistance возвращает max(|dx|, |dy|, |dz|)
func (v Vec3) ChebyshevDistance(other Vec3) int {
	return max(abs(v.X-other.X), abs(v.Y-other.Y), abs(v.Z-other.Z))
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
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Mul умножает все компоненты на скаляр
func (v Vec3) Mul(k int) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Shr выполняет арифметический сдвиг вправо (деление с округлением вниз на 2^n).
// Для отрицательных координат результат корректен: -1 >> 1 == -1.
func (v Vec3) Shr(n uint) Vec3 {
	return Vec3{X: v.X >> n, Y: v.Y >> n, Z: v.Z >> n}
}

// Shl выполняет сдвиг влево (умножение на 2^n)
func (v Vec3) Shl(n uint) Vec3 {
	return Vec3{X: v.X << n, Y: v.Y << n, Z: v.Z << n}
}

// ToFloat преобразует в Vec3Float
func (v Vec3) ToFloat() Vec3Float {
	return Vec3Float{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}

// Volume возвращает произведение компонент
func (v Vec3) Volume() int {
	return v.X * v.Y * v.Z
}

// Add складывает два вектора
func (v Vec3Float) Add(other Vec3Float) Vec3Float {
	return Vec3Float{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub вычитает вектор
func (v Vec3Float) Sub(other Vec3Float) Vec3Float {
	return Vec3Float{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Scale умножает вектор на скаляр
func (v Vec3Float) Scale(k float64) Vec3Float {
	return Vec3Float{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// DistanceSquaredTo возвращает квадрат расстояния
func (v Vec3Float) DistanceSquaredTo(other Vec3Float) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return dx*dx + dy*dy + dz*dz
}

// Floor округляет компоненты вниз
func (v Vec3Float) Floor() Vec3 {
	return Vec3{
		X: int(math.Floor(v.X)),
		Y: int(math.Floor(v.Y)),
		Z: int(math.Floor(v.Z)),
	}
}

// IsFinite сообщает, что все компоненты конечны (не NaN и не Inf)
func (v Vec3Float) IsFinite() bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
