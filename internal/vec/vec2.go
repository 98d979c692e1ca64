package vec

import (
	"fmt"
	"math"
)

// Vec2 представляет 2D координаты клетки в мировом пространстве
type Vec2 struct {
	X, Y int
}

// FloorDiv делит с округлением к минус бесконечности.
// Для отрицательных координат обычное деление Go округляет к нулю, что ломает адресацию чанков.
func FloorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// FloorMod возвращает остаток в диапазоне [0, b) для положительного b
func FloorMod(a, b int) int {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub вычитает вектор
func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{X: v.X - other.X, Y: v.Y - other.Y}
}

// Manhattan возвращает манхэттенское расстояние до другой точки
func (v Vec2) Manhattan(other Vec2) int {
	return abs(v.X-other.X) + abs(v.Y-other.Y)
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

func (v Vec2) String() string {
	return fmt.Sprintf("(%d,%d)", v.X, v.Y)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
