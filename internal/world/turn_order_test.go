package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnSchedulerFairness(t *testing.T) {
	const a, b EntityID = 1, 2
	ts := NewTurnScheduler()
	ts.Insert(b, 10)
	ts.Insert(a, 0)

	next, ok := ts.Next()
	require.True(t, ok)
	assert.Equal(t, a, next)

	ts.Advance(100)
	ticksA, _ := ts.TicksUntil(a)
	ticksB, _ := ts.TicksUntil(b)
	assert.Equal(t, int64(-100), ticksA)
	assert.Equal(t, int64(-90), ticksB)

	next, _ = ts.Next()
	assert.Equal(t, a, next)

	// Равные остатки: выигрывает наименьший id
	ts.Reschedule(b, -100)
	next, _ = ts.Next()
	assert.Equal(t, a, next)
}

func TestTurnSchedulerTiesByLowestID(t *testing.T) {
	ts := NewTurnScheduler()
	for _, e := range []EntityID{9, 5, 3, 7} {
		ts.Insert(e, 4)
	}
	ts.Advance(10)

	next, ok := ts.Next()
	require.True(t, ok)
	assert.Equal(t, EntityID(3), next)

	ts.Remove(3)
	next, _ = ts.Next()
	assert.Equal(t, EntityID(5), next)
}

func TestTurnSchedulerPauseResume(t *testing.T) {
	ts := NewTurnScheduler()
	ts.Insert(1, 5)
	ts.Insert(2, 7)

	ts.Pause(1)
	assert.True(t, ts.IsPaused(1))
	assert.Equal(t, 1, ts.ActiveLen())
	assert.Equal(t, 1, ts.PausedLen())

	next, _ := ts.Next()
	assert.Equal(t, EntityID(2), next, "приостановленная сущность не ходит")

	ts.Advance(50)
	remaining, _ := ts.TicksUntil(1)
	assert.Equal(t, int64(5), remaining, "пауза сохраняет остаток")

	ts.Resume(1)
	next, _ = ts.Next()
	assert.Equal(t, EntityID(2), next)
	remaining, _ = ts.TicksUntil(1)
	assert.Equal(t, int64(5), remaining)
}

func TestTurnSchedulerMisusePanics(t *testing.T) {
	ts := NewTurnScheduler()
	ts.Insert(1, 0)

	assert.Panics(t, func() { ts.Insert(1, 3) }, "двойная вставка")
	assert.Panics(t, func() { ts.Resume(1) }, "возобновление активной")

	ts.Pause(1)
	assert.Panics(t, func() { ts.Pause(1) }, "двойная пауза")
	assert.Panics(t, func() { ts.Insert(1, 3) }, "вставка приостановленной")
	assert.Panics(t, func() { ts.Reschedule(2, 1) })
}

func TestTurnSchedulerEntriesRestore(t *testing.T) {
	ts := NewTurnScheduler()
	ts.Insert(4, 3)
	ts.Insert(2, -1)
	ts.Pause(4)
	ts.Advance(2)

	entries := ts.Entries()
	assert.Equal(t, []TurnEntry{{ID: 2, Ticks: -3}, {ID: 4, Ticks: 3, Paused: true}}, entries)

	restored := NewTurnScheduler()
	restored.Restore(entries)
	assert.Equal(t, entries, restored.Entries())

	_, ok := NewTurnScheduler().Next()
	assert.False(t, ok)
}
