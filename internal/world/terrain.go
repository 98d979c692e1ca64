package world

import (
	"fmt"
	"sort"

	"github.com/annel0/worldstream/internal/vec"
	"github.com/annel0/worldstream/internal/world/chunk"
)

// Bounds границы мира: бесконечный или прямоугольник [0,w)x[0,h)
type Bounds struct {
	Finite bool `json:"finite"`
	Width  int  `json:"width,omitempty"`
	Height int  `json:"height,omitempty"`
}

// Unbounded бесконечный мир
func Unbounded() Bounds {
	return Bounds{}
}

// Bounded прямоугольный мир размером w x h клеток
func Bounded(w, h int) Bounds {
	if w <= 0 || h <= 0 {
		panic(fmt.Sprintf("world: некорректные границы %dx%d", w, h))
	}
	return Bounds{Finite: true, Width: w, Height: h}
}

// Contains проверяет, что позиция лежит в пределах мира
func (b Bounds) Contains(pos vec.Vec2) bool {
	if !b.Finite {
		return true
	}
	return pos.X >= 0 && pos.X < b.Width && pos.Y >= 0 && pos.Y < b.Height
}

// IntersectsChunk истинно, если хотя бы одна клетка чанка внутри границ
func (b Bounds) IntersectsChunk(idx chunk.Index) bool {
	if !b.Finite {
		return true
	}
	o := idx.Origin()
	return o.X < b.Width && o.X+chunk.Width > 0 && o.Y < b.Height && o.Y+chunk.Width > 0
}

func (b Bounds) String() string {
	if !b.Finite {
		return "unbounded"
	}
	return fmt.Sprintf("%dx%d", b.Width, b.Height)
}

// TerrainQuery поверхность чтения для поиска пути, ИИ и отрисовки
type TerrainQuery interface {
	Cell(pos vec.Vec2) (chunk.Cell, bool)
	PosLoaded(pos vec.Vec2) bool
	InBounds(pos vec.Vec2) bool
}

// TerrainMutate изменение клеток и резидентности
type TerrainMutate interface {
	SetCell(pos vec.Vec2, cell chunk.Cell) bool
	InsertChunk(ch *chunk.Chunk)
	RemoveChunk(idx chunk.Index) (*chunk.Chunk, bool)
}

// Terrain набор резидентных чанков. О сущностях не знает:
// вызывающий обязан согласовать вставку и удаление чанков с регионами и индексом.
type Terrain struct {
	bounds Bounds
	chunks map[chunk.Index]*chunk.Chunk
}

var (
	_ TerrainQuery  = (*Terrain)(nil)
	_ TerrainMutate = (*Terrain)(nil)
)

// NewTerrain создаёт пустой ландшафт
func NewTerrain(bounds Bounds) *Terrain {
	return &Terrain{bounds: bounds, chunks: make(map[chunk.Index]*chunk.Chunk)}
}

func (t *Terrain) Bounds() Bounds {
	return t.bounds
}

// Cell возвращает клетку; false, если позиция вне границ или чанк не загружен
func (t *Terrain) Cell(pos vec.Vec2) (chunk.Cell, bool) {
	if !t.bounds.Contains(pos) {
		return chunk.Void, false
	}
	ch, ok := t.chunks[chunk.FromWorldPos(pos)]
	if !ok {
		return chunk.Void, false
	}
	return ch.Get(chunk.Local(pos))
}

// SetCell меняет клетку загруженного чанка
func (t *Terrain) SetCell(pos vec.Vec2, cell chunk.Cell) bool {
	if !t.bounds.Contains(pos) {
		return false
	}
	ch, ok := t.chunks[chunk.FromWorldPos(pos)]
	if !ok {
		return false
	}
	return ch.Set(chunk.Local(pos), cell)
}

// PosLoaded истинно, если чанк позиции резидентен
func (t *Terrain) PosLoaded(pos vec.Vec2) bool {
	return t.IsLoaded(chunk.FromWorldPos(pos))
}

func (t *Terrain) InBounds(pos vec.Vec2) bool {
	return t.bounds.Contains(pos)
}

func (t *Terrain) IsLoaded(idx chunk.Index) bool {
	_, ok := t.chunks[idx]
	return ok
}

func (t *Terrain) Chunk(idx chunk.Index) (*chunk.Chunk, bool) {
	ch, ok := t.chunks[idx]
	return ch, ok
}

// InsertChunk делает чанк резидентным. Повторная вставка считается ошибкой программиста.
func (t *Terrain) InsertChunk(ch *chunk.Chunk) {
	if _, ok := t.chunks[ch.Index]; ok {
		panic(fmt.Sprintf("world: %s уже загружен", ch.Index))
	}
	t.chunks[ch.Index] = ch
}

func (t *Terrain) RemoveChunk(idx chunk.Index) (*chunk.Chunk, bool) {
	ch, ok := t.chunks[idx]
	if ok {
		delete(t.chunks, idx)
	}
	return ch, ok
}

// Indices резидентные чанки в порядке (Y, X)
func (t *Terrain) Indices() []chunk.Index {
	out := make([]chunk.Index, 0, len(t.chunks))
	for idx := range t.chunks {
		out = append(out, idx)
	}
	sortIndices(out)
	return out
}

func (t *Terrain) Len() int {
	return len(t.chunks)
}

func sortIndices(out []chunk.Index) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
}
