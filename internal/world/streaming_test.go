package world

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/annel0/worldstream/internal/storage"
	"github.com/annel0/worldstream/internal/vec"
	"github.com/annel0/worldstream/internal/world/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	passes      int
	regionsOpen int
	resident    int
}

func (o *recordingObserver) ObservePass(_ PassReport, regionsOpen, chunksResident int) {
	o.passes++
	o.regionsOpen = regionsOpen
	o.resident = chunksResident
}

func TestRelevantSetIsDiamond(t *testing.T) {
	for _, r := range []int{0, 1, 2, 3, 5} {
		s := NewStreamer(r, nil, nil)
		set := s.RelevantSet(Unbounded(), vec.Vec2{X: -5, Y: 40})
		assert.Len(t, set, 2*r*r+2*r+1, "радиус %d", r)

		center := chunk.FromWorldPos(vec.Vec2{X: -5, Y: 40})
		for _, idx := range set {
			d := vec.Vec2{X: idx.X, Y: idx.Y}.Manhattan(vec.Vec2{X: center.X, Y: center.Y})
			assert.LessOrEqual(t, d, r)
		}
	}
}

func TestRelevantSetClippedByBounds(t *testing.T) {
	s := NewStreamer(2, nil, nil)
	set := s.RelevantSet(Bounded(32, 32), vec.Vec2{X: 0, Y: 0})
	assert.Equal(t, []chunk.Index{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}}, set)
}

func TestStreamingKeepsResidencyInvariant(t *testing.T) {
	w := newTestWorld(t, 2)
	rng := rand.New(rand.NewSource(7))

	hero := w.Spawn(Bundle{Kind: KindPlayer, Speed: 1}, At(vec.Vec2{X: 0, Y: 0}))
	w.SetPlayer(hero)
	_, err := w.Tick()
	require.NoError(t, err)

	var creatures []EntityID
	for i := 0; i < 40; i++ {
		pos := vec.Vec2{X: rng.Intn(400) - 200, Y: rng.Intn(400) - 200}
		creatures = append(creatures, w.Spawn(Bundle{Kind: KindCreature, Speed: Speed(1 + i%5)}, At(pos)))
	}
	assert.Empty(t, w.CheckResidency())

	pos := vec.Vec2{}
	for step := 0; step < 60; step++ {
		pos = pos.Add(vec.Vec2{X: rng.Intn(33) - 16, Y: rng.Intn(33) - 16})
		w.Move(hero, pos)

		_, err := w.Tick()
		require.NoError(t, err)
		require.Empty(t, w.CheckResidency(), "шаг %d", step)

		for _, e := range creatures {
			assert.Equal(t, !w.IsActive(e), w.Turns().IsPaused(e), "очередь ходов рассинхронизирована для %s", e)
		}
		assert.True(t, w.IsActive(hero), "игрок не замораживается")
	}
}

func TestUnloadReloadRoundTrip(t *testing.T) {
	w := newTestWorld(t, 1)
	_, err := w.Stream(vec.Vec2{X: 8, Y: 8})
	require.NoError(t, err)

	idx := chunk.Index{X: 0, Y: 0}
	ch, ok := w.Terrain().Chunk(idx)
	require.True(t, ok)
	ch.Set(vec.Vec2{X: 0, Y: 0}, chunk.Rock)
	ch.Set(vec.Vec2{X: 15, Y: 15}, chunk.Water)
	original := *ch

	report, err := w.Stream(vec.Vec2{X: 16 * 100, Y: 8})
	require.NoError(t, err)
	assert.Contains(t, report.Unloaded, idx)
	assert.False(t, w.Terrain().IsLoaded(idx))

	report, err = w.Stream(vec.Vec2{X: 8, Y: 8})
	require.NoError(t, err)
	assert.Contains(t, report.Loaded, idx)
	assert.NotContains(t, report.Generated, idx)

	reloaded, ok := w.Terrain().Chunk(idx)
	require.True(t, ok)
	assert.True(t, original.Equal(reloaded), "клетки после перезагрузки должны совпадать")
}

func TestRegionPruningAndReopen(t *testing.T) {
	w := newTestWorld(t, 1)
	obs := &recordingObserver{}
	w.streamer.observer = obs

	_, err := w.Stream(vec.Vec2{X: 8, Y: 8})
	require.NoError(t, err)
	home := storage.RegionOf(chunk.Index{X: -1, Y: 0})
	require.True(t, w.Regions().IsOpen(home))
	assert.Equal(t, 3, w.Regions().OpenCount())

	far := vec.Vec2{X: 16*40 + 8, Y: 8}
	report, err := w.Stream(far)
	require.NoError(t, err)
	assert.Equal(t, 3, report.RegionsClosed)
	assert.False(t, w.Regions().IsOpen(home), "регион без резидентных чанков закрыт")
	assert.Equal(t, 2, obs.regionsOpen)
	assert.Equal(t, 5, obs.resident)

	report, err = w.Stream(vec.Vec2{X: -8, Y: 8})
	require.NoError(t, err)
	assert.True(t, w.Regions().IsOpen(home))
	assert.Contains(t, report.Loaded, chunk.Index{X: -1, Y: 0})
	assert.Equal(t, 3, obs.passes)
}

func TestFreezeThawAcrossPasses(t *testing.T) {
	w := newTestWorld(t, 1)
	_, err := w.Stream(vec.Vec2{X: 8, Y: 8})
	require.NoError(t, err)

	owl := w.Spawn(Bundle{Kind: KindCreature, Speed: 3}, At(vec.Vec2{X: 10, Y: 10}))
	egg := w.Spawn(Bundle{Kind: KindItem, Speed: 9}, In(owl))

	report, err := w.Stream(vec.Vec2{X: 16 * 50, Y: 0})
	require.NoError(t, err)
	assert.Equal(t, []EntityID{owl}, report.Frozen)
	p, _ := w.Place(owl)
	assert.Equal(t, Unloaded(vec.Vec2{X: 10, Y: 10}), p)
	assert.True(t, w.Turns().IsPaused(owl))
	assert.True(t, w.Turns().IsPaused(egg))

	report, err = w.Stream(vec.Vec2{X: 8, Y: 8})
	require.NoError(t, err)
	assert.Equal(t, []EntityID{owl}, report.Thawed)
	assert.False(t, w.Turns().IsPaused(owl))
	assert.False(t, w.Turns().IsPaused(egg))
	ticks, _ := w.Turns().TicksUntil(owl)
	assert.Equal(t, int64(3), ticks)
}

func TestFailedPassLeavesWorldUntouched(t *testing.T) {
	w := newTestWorld(t, 1)
	_, err := w.Stream(vec.Vec2{X: 8, Y: 8})
	require.NoError(t, err)
	rat := w.Spawn(Bundle{Kind: KindCreature, Speed: 2}, At(vec.Vec2{X: 3, Y: 3}))

	// Уходим, регион (0,0) сбрасывается и закрывается
	_, err = w.Stream(vec.Vec2{X: 16 * 40, Y: 8})
	require.NoError(t, err)
	home := storage.RegionIndex{X: 0, Y: 0}
	require.False(t, w.Regions().IsOpen(home))

	path := filepath.Join(w.Dir(), "regions", home.FileName())
	require.NoError(t, os.WriteFile(path, []byte("not a region"), 0o644))

	before := w.Terrain().Indices()
	placeBefore, _ := w.Place(rat)

	_, err = w.Stream(vec.Vec2{X: 8, Y: 8})
	require.Error(t, err)
	var serr *storage.SerialError
	assert.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, storage.ErrCorrupt)

	assert.Equal(t, before, w.Terrain().Indices(), "ландшафт не изменился")
	placeAfter, _ := w.Place(rat)
	assert.Equal(t, placeBefore, placeAfter)
	assert.True(t, w.Turns().IsPaused(rat))
	assert.Empty(t, w.CheckResidency())
}

func TestPlayerChunkAlwaysRelevant(t *testing.T) {
	w := newTestWorld(t, 0)
	require.Equal(t, 0, w.Streamer().Radius(), "нулевой радиус не заменяется значением по умолчанию")
	hero := w.Spawn(Bundle{Kind: KindPlayer}, At(vec.Vec2{X: 100, Y: 100}))
	w.SetPlayer(hero)

	_, err := w.Stream(vec.Vec2{X: 0, Y: 0})
	require.NoError(t, err)
	assert.True(t, w.Terrain().IsLoaded(chunk.FromWorldPos(vec.Vec2{X: 100, Y: 100})))
	assert.True(t, w.Terrain().IsLoaded(chunk.Index{}))
	assert.Equal(t, 2, w.Terrain().Len())
	assert.True(t, w.IsActive(hero))
}
