package chunk

import (
	"testing"

	"github.com/annel0/worldstream/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromWorldPosNegativeCoordinates(t *testing.T) {
	assert.Equal(t, Index{X: -1, Y: -1}, FromWorldPos(vec.Vec2{X: -1, Y: -1}))
	assert.Equal(t, Index{X: -1, Y: -1}, FromWorldPos(vec.Vec2{X: -16, Y: -16}))
	assert.Equal(t, Index{X: -2, Y: -2}, FromWorldPos(vec.Vec2{X: -17, Y: -17}))
	assert.Equal(t, Index{X: 0, Y: 0}, FromWorldPos(vec.Vec2{X: 0, Y: 15}))
	assert.Equal(t, Index{X: 1, Y: -1}, FromWorldPos(vec.Vec2{X: 16, Y: -3}))
}

func TestLocalAndWorldPosRoundTrip(t *testing.T) {
	positions := []vec.Vec2{
		{X: 0, Y: 0}, {X: -1, Y: -1}, {X: -16, Y: 31}, {X: -17, Y: -33}, {X: 100, Y: -100},
	}

	for _, pos := range positions {
		idx := FromWorldPos(pos)
		local := Local(pos)

		assert.True(t, local.X >= 0 && local.X < Width, "локальный X вне чанка для %v", pos)
		assert.True(t, local.Y >= 0 && local.Y < Width, "локальный Y вне чанка для %v", pos)
		assert.Equal(t, pos, idx.WorldPos(local))
		assert.True(t, idx.Contains(pos))
	}
}

func TestChunkGetSetBounds(t *testing.T) {
	ch := New(Index{X: 2, Y: 3})
	assert.Len(t, ch.Cells, Area)

	ok := ch.Set(vec.Vec2{X: 15, Y: 15}, Wall)
	require.True(t, ok)

	cell, ok := ch.Get(vec.Vec2{X: 15, Y: 15})
	require.True(t, ok)
	assert.Equal(t, Wall, cell)

	assert.False(t, ch.Set(vec.Vec2{X: 16, Y: 0}, Wall))
	_, ok = ch.Get(vec.Vec2{X: -1, Y: 0})
	assert.False(t, ok)
}

func TestCellWalkable(t *testing.T) {
	assert.True(t, Floor.Walkable())
	assert.True(t, Grass.Walkable())
	assert.False(t, Wall.Walkable())
	assert.False(t, DeepWater.Walkable())
	assert.Equal(t, "tree", Tree.String())
}

func TestCodecRoundTripIsByteIdentical(t *testing.T) {
	codec, err := NewCodec(0)
	require.NoError(t, err)
	defer codec.Close()

	gen := NewPerlinGenerator(99)
	original, err := gen.Generate(Index{X: -3, Y: 7})
	require.NoError(t, err)

	payload, err := codec.Encode(original)
	require.NoError(t, err)

	decoded, err := codec.Decode(original.Index, payload)
	require.NoError(t, err)
	assert.True(t, original.Equal(decoded))

	again, err := codec.Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, payload, again)
}

func TestCodecRejectsGarbage(t *testing.T) {
	codec, err := NewCodec(1)
	require.NoError(t, err)
	defer codec.Close()

	_, err = codec.Decode(Index{}, []byte("definitely not zstd"))
	assert.ErrorIs(t, err, ErrBadPayload)

	short := codec.encoder.EncodeAll([]byte{payloadVersion, 1, 2}, nil)
	_, err = codec.Decode(Index{}, short)
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestGeneratorsAreDeterministic(t *testing.T) {
	for _, kind := range []string{KindPerlin, KindCave, KindFlat} {
		a, err := NewGenerator(kind, 7)
		require.NoError(t, err)
		b, err := NewGenerator(kind, 7)
		require.NoError(t, err)
		assert.Equal(t, kind, a.Kind())

		idx := Index{X: -5, Y: 4}
		ca, err := a.Generate(idx)
		require.NoError(t, err)
		cb, err := b.Generate(idx)
		require.NoError(t, err)
		assert.True(t, ca.Equal(cb), "генератор %s не детерминирован", kind)
	}

	_, err := NewGenerator("voronoi", 1)
	assert.Error(t, err)
}
