package chunk

import (
	"fmt"
	"math/rand"

	"github.com/aquilax/go-perlin"
)

// Generator процедурно создаёт чанк по индексу
type Generator interface {
	Generate(idx Index) (*Chunk, error)
	Kind() string
}

const (
	KindPerlin = "perlin"
	KindFlat   = "flat"
	KindCave   = "cave"
)

// NewGenerator создаёт генератор по имени из конфигурации или метаданных мира
func NewGenerator(kind string, seed int64) (Generator, error) {
	switch kind {
	case "", KindPerlin:
		return NewPerlinGenerator(seed), nil
	case KindFlat:
		return NewFlatGenerator(Floor), nil
	case KindCave:
		return NewCaveGenerator(seed), nil
	default:
		return nil, fmt.Errorf("неизвестный генератор %q", kind)
	}
}

// Константы высот для генерации
const (
	DeepWaterMax    = 0.20 // Ниже - глубинная вода
	ShallowWaterMax = 0.30 // Ниже - мелководье
	MountainStart   = 0.80 // Выше - скалы
)

// PerlinGenerator генерирует ландшафт поверхности по шуму Перлина
type PerlinGenerator struct {
	Seed          int64   // Сид для генерации шума
	NoiseScale    float64 // Масштаб основного шума (высота)
	BiomeScale    float64 // Масштаб шума биомов
	ForestDensity float64 // Плотность лесов (от 0 до 1)

	height *perlin.Perlin
	biome  *perlin.Perlin
}

// NewPerlinGenerator создаёт генератор поверхности
func NewPerlinGenerator(seed int64) *PerlinGenerator {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав

	return &PerlinGenerator{
		Seed:          seed,
		NoiseScale:    0.05,
		BiomeScale:    0.02,
		ForestDensity: 0.05,
		height:        perlin.NewPerlin(alpha, beta, n, seed),
		biome:         perlin.NewPerlin(alpha, beta, n, seed+42),
	}
}

func (g *PerlinGenerator) Kind() string { return KindPerlin }

// Generate детерминирован для пары (seed, idx)
func (g *PerlinGenerator) Generate(idx Index) (*Chunk, error) {
	ch := New(idx)
	rng := rand.New(rand.NewSource(chunkSeed(g.Seed, idx)))
	origin := idx.Origin()

	for y := 0; y < Width; y++ {
		for x := 0; x < Width; x++ {
			gx := float64(origin.X + x)
			gy := float64(origin.Y + y)

			// Шум в диапазоне [0,1]
			h := (g.height.Noise2D(gx*g.NoiseScale, gy*g.NoiseScale) + 1) / 2
			b := g.biome.Noise2D(gx*g.BiomeScale, gy*g.BiomeScale)

			ch.Cells[y*Width+x] = g.cellFor(h, b, rng)
		}
	}

	return ch, nil
}

func (g *PerlinGenerator) cellFor(height, biome float64, rng *rand.Rand) Cell {
	switch {
	case height < DeepWaterMax:
		return DeepWater
	case height < ShallowWaterMax:
		return Water
	case height > MountainStart:
		return Rock
	}

	switch {
	case biome < -0.3:
		return Sand
	case biome > 0.3:
		if rng.Float64() < 0.15 { // 15% шанс дерева в лесу
			return Tree
		}
		return Grass
	default:
		if rng.Float64() < g.ForestDensity {
			return Tree
		}
		return Grass
	}
}

// CaveGenerator генерирует подземелья: стены и пол по шуму
type CaveGenerator struct {
	Seed  int64
	Scale float64
	noise *perlin.Perlin
}

// NewCaveGenerator создаёт генератор пещер
func NewCaveGenerator(seed int64) *CaveGenerator {
	return &CaveGenerator{
		Seed:  seed,
		Scale: 0.12,
		noise: perlin.NewPerlin(1.5, 2.0, 2, seed),
	}
}

func (g *CaveGenerator) Kind() string { return KindCave }

func (g *CaveGenerator) Generate(idx Index) (*Chunk, error) {
	ch := New(idx)
	origin := idx.Origin()
	for y := 0; y < Width; y++ {
		for x := 0; x < Width; x++ {
			v := g.noise.Noise2D(float64(origin.X+x)*g.Scale, float64(origin.Y+y)*g.Scale)
			if v > 0.15 {
				ch.Cells[y*Width+x] = Wall
			} else {
				ch.Cells[y*Width+x] = Floor
			}
		}
	}
	return ch, nil
}

// FlatGenerator заполняет чанк одним тайлом (города, тесты)
type FlatGenerator struct {
	Cell Cell
}

func NewFlatGenerator(cell Cell) *FlatGenerator {
	return &FlatGenerator{Cell: cell}
}

func (g *FlatGenerator) Kind() string { return KindFlat }

func (g *FlatGenerator) Generate(idx Index) (*Chunk, error) {
	return Filled(idx, g.Cell), nil
}

// chunkSeed уникальный сид чанка на основе глобального сида и координат
func chunkSeed(seed int64, idx Index) int64 {
	return seed + int64(idx.X)*73856093 + int64(idx.Y)*19349663
}
