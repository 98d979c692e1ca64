package world

import (
	"testing"

	"github.com/annel0/worldstream/internal/vec"
	"github.com/annel0/worldstream/internal/world/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpatialIndexInsertTwicePanics(t *testing.T) {
	si := NewSpatialIndex()
	si.InsertAt(1, vec.Vec2{X: 1, Y: 1})

	assert.Panics(t, func() { si.InsertAt(1, vec.Vec2{X: 2, Y: 2}) })
	assert.Panics(t, func() { si.InsertUnloaded(1, vec.Vec2{X: 2, Y: 2}) })
	assert.Panics(t, func() { si.InsertIn(2, 99) }, "контейнер должен существовать")
	assert.Panics(t, func() { si.Remove(42) }, "удаление отсутствующей сущности")
}

func TestSpatialIndexRecursiveRemove(t *testing.T) {
	si := NewSpatialIndex()
	si.InsertAt(1, vec.Vec2{X: 0, Y: 0})
	si.InsertIn(2, 1)
	si.InsertIn(3, 2)
	si.InsertIn(4, 1)
	si.InsertAt(5, vec.Vec2{X: 0, Y: 0})

	assert.Equal(t, []EntityID{2, 4}, si.EntitiesIn(1))
	assert.Equal(t, []EntityID{2, 3, 4}, si.Contents(1))

	removed := si.Remove(1)
	assert.Equal(t, []EntityID{1, 2, 3, 4}, removed)
	assert.Equal(t, 1, si.Len())
	assert.Equal(t, []EntityID{5}, si.EntitiesAt(vec.Vec2{X: 0, Y: 0}))
}

func TestSpatialIndexRemoveIsCycleSafe(t *testing.T) {
	si := NewSpatialIndex()
	si.InsertAt(1, vec.Vec2{})
	si.InsertIn(2, 1)
	// Цикл через восстановление из сохранения: MoveInto его не допускает
	si.set(1, In(2))

	removed := si.Remove(1)
	assert.ElementsMatch(t, []EntityID{1, 2}, removed)
	assert.Equal(t, 0, si.Len())

	_, _, ok := si.Root(1)
	assert.False(t, ok)
}

func TestSpatialIndexMoveIntoRejectsCycles(t *testing.T) {
	si := NewSpatialIndex()
	si.InsertAt(1, vec.Vec2{})
	si.InsertIn(2, 1)
	si.InsertIn(3, 2)

	assert.Panics(t, func() { si.MoveInto(1, 3) })
	assert.Panics(t, func() { si.MoveInto(1, 1) })

	si.MoveInto(3, 1)
	p, ok := si.Place(3)
	require.True(t, ok)
	assert.Equal(t, In(1), p)
}

func TestSpatialIndexFreezeIsIdempotent(t *testing.T) {
	si := NewSpatialIndex()
	pos := vec.Vec2{X: -3, Y: 20}
	idx := chunk.FromWorldPos(pos)
	si.InsertAt(7, pos)

	assert.True(t, si.Freeze(7))
	assert.False(t, si.Freeze(7), "повторная заморозка ничего не делает")
	assert.False(t, si.Freeze(100), "заморозка отсутствующей сущности ничего не делает")

	p, _ := si.Place(7)
	assert.Equal(t, Unloaded(pos), p)
	assert.Empty(t, si.ActiveInChunk(idx))
	assert.Equal(t, []EntityID{7}, si.FrozenInChunk(idx))
	assert.Empty(t, si.EntitiesAt(pos), "замороженные не видны на позиции")

	assert.True(t, si.Unfreeze(7))
	assert.False(t, si.Unfreeze(7), "разморозка активной сущности ничего не делает")
	assert.Equal(t, []EntityID{7}, si.ActiveInChunk(idx))
	assert.Empty(t, si.FrozenInChunk(idx))
}

func TestSpatialIndexMoveUpdatesChunkBuckets(t *testing.T) {
	si := NewSpatialIndex()
	si.InsertAt(1, vec.Vec2{X: 1, Y: 1})
	si.MoveTo(1, vec.Vec2{X: -1, Y: -1})

	assert.Empty(t, si.ActiveInChunk(chunk.Index{X: 0, Y: 0}))
	assert.Equal(t, []EntityID{1}, si.ActiveInChunk(chunk.Index{X: -1, Y: -1}))

	si.InsertAt(2, vec.Vec2{})
	si.MoveInto(1, 2)
	assert.Empty(t, si.ActiveInChunk(chunk.Index{X: -1, Y: -1}))

	root, p, ok := si.Root(1)
	require.True(t, ok)
	assert.Equal(t, EntityID(2), root)
	assert.Equal(t, At(vec.Vec2{}), p)
}
