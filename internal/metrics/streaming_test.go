package metrics

import (
	"testing"
	"time"

	"github.com/annel0/worldstream/internal/world"
	"github.com/annel0/worldstream/internal/world/chunk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePass(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewStreaming(reg)

	s.ObservePass(world.PassReport{
		Loaded:        []chunk.Index{{X: 0, Y: 0}},
		Generated:     []chunk.Index{{X: 1, Y: 0}, {X: 2, Y: 0}},
		Unloaded:      []chunk.Index{{X: 9, Y: 9}},
		Frozen:        []world.EntityID{4, 5},
		RegionsClosed: 1,
		Duration:      3 * time.Millisecond,
	}, 2, 7)
	s.ObservePass(world.PassReport{Generated: []chunk.Index{{X: 3, Y: 0}}}, 3, 8)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.chunksLoaded))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.chunksGenerated))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.chunksUnloaded))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.entitiesFrozen))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.entitiesThawed))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.regionsOpen))
	assert.Equal(t, 8.0, testutil.ToFloat64(s.chunksResident))

	count, err := testutil.GatherAndCount(reg, "worldstream_pass_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestObserveTransition(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewStreaming(reg)

	s.ObserveTransition("ok")
	s.ObserveTransition("ok")
	s.ObserveTransition("aborted")

	assert.Equal(t, 2.0, testutil.ToFloat64(s.transitions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.transitions.WithLabelValues("aborted")))
}

func TestUnregisteredStreaming(t *testing.T) {
	s := NewStreaming(nil)
	assert.NotPanics(t, func() {
		s.ObservePass(world.PassReport{}, 0, 0)
	})
}
