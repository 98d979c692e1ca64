package chunk

import (
	"fmt"

	"github.com/annel0/worldstream/internal/vec"
)

const (
	// Width размер стороны чанка в клетках
	Width = 16
	// Area количество клеток в чанке
	Area = Width * Width
)

// Cell идентификатор тайла клетки
type Cell uint16

const (
	Void Cell = iota
	Floor
	Grass
	Sand
	Water
	DeepWater
	Tree
	Rock
	Wall
)

// Walkable сообщает, можно ли пройти через клетку (используется поиском пути)
func (c Cell) Walkable() bool {
	switch c {
	case Floor, Grass, Sand, Water:
		return true
	default:
		return false
	}
}

func (c Cell) String() string {
	switch c {
	case Void:
		return "void"
	case Floor:
		return "floor"
	case Grass:
		return "grass"
	case Sand:
		return "sand"
	case Water:
		return "water"
	case DeepWater:
		return "deep_water"
	case Tree:
		return "tree"
	case Rock:
		return "rock"
	case Wall:
		return "wall"
	default:
		return fmt.Sprintf("cell(%d)", uint16(c))
	}
}

// Index координаты чанка в пространстве чанков
type Index struct {
	X, Y int
}

// FromWorldPos возвращает индекс чанка, содержащего мировую позицию.
// Деление с округлением вниз: (-1,-1) и (-16,-16) лежат в чанке (-1,-1).
func FromWorldPos(pos vec.Vec2) Index {
	return Index{X: vec.FloorDiv(pos.X, Width), Y: vec.FloorDiv(pos.Y, Width)}
}

// Origin возвращает мировую позицию левого верхнего угла чанка
func (i Index) Origin() vec.Vec2 {
	return vec.Vec2{X: i.X * Width, Y: i.Y * Width}
}

// Contains сообщает, лежит ли мировая позиция внутри чанка
func (i Index) Contains(pos vec.Vec2) bool {
	return FromWorldPos(pos) == i
}

// Local переводит мировую позицию в локальные координаты чанка
func Local(pos vec.Vec2) vec.Vec2 {
	return vec.Vec2{X: vec.FloorMod(pos.X, Width), Y: vec.FloorMod(pos.Y, Width)}
}

// WorldPos переводит локальные координаты обратно в мировые
func (i Index) WorldPos(local vec.Vec2) vec.Vec2 {
	return i.Origin().Add(local)
}

// Add смещает индекс
func (i Index) Add(dx, dy int) Index {
	return Index{X: i.X + dx, Y: i.Y + dy}
}

func (i Index) String() string {
	return fmt.Sprintf("chunk(%d,%d)", i.X, i.Y)
}

// Chunk участок мира размером Width x Width.
// Чанк ничего не знает о соседях и сущностях.
type Chunk struct {
	Index Index
	Cells [Area]Cell
}

// New создаёт пустой чанк (все клетки Void)
func New(idx Index) *Chunk {
	return &Chunk{Index: idx}
}

// Filled создаёт чанк, заполненный одним тайлом
func Filled(idx Index, cell Cell) *Chunk {
	c := New(idx)
	for i := range c.Cells {
		c.Cells[i] = cell
	}
	return c
}

func offset(local vec.Vec2) (int, bool) {
	if local.X < 0 || local.X >= Width || local.Y < 0 || local.Y >= Width {
		return 0, false
	}
	return local.Y*Width + local.X, true
}

// Get возвращает клетку по локальным координатам
func (c *Chunk) Get(local vec.Vec2) (Cell, bool) {
	i, ok := offset(local)
	if !ok {
		return Void, false
	}
	return c.Cells[i], true
}

// Set устанавливает клетку по локальным координатам
func (c *Chunk) Set(local vec.Vec2, cell Cell) bool {
	i, ok := offset(local)
	if !ok {
		return false
	}
	c.Cells[i] = cell
	return true
}

// Equal сравнивает содержимое двух чанков
func (c *Chunk) Equal(other *Chunk) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Index == other.Index && c.Cells == other.Cells
}
