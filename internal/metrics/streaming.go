package metrics

import (
	"github.com/annel0/worldstream/internal/world"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "worldstream"

// Streaming инкапсулирует Prometheus-метрики стриминга чанков и переходов между картами.
// Реализует world.PassObserver.
type Streaming struct {
	chunksLoaded    prometheus.Counter
	chunksGenerated prometheus.Counter
	chunksUnloaded  prometheus.Counter
	entitiesFrozen  prometheus.Counter
	entitiesThawed  prometheus.Counter
	regionsClosed   prometheus.Counter
	transitions     *prometheus.CounterVec

	regionsOpen    prometheus.Gauge
	chunksResident prometheus.Gauge
	passSeconds    prometheus.Histogram
}

var _ world.PassObserver = (*Streaming)(nil)

// NewStreaming создаёт метрики и регистрирует их в reg (nil: без регистрации)
func NewStreaming(reg prometheus.Registerer) *Streaming {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	s := &Streaming{
		chunksLoaded:    counter("chunks_loaded_total", "Чанков, прочитанных из регионов."),
		chunksGenerated: counter("chunks_generated_total", "Чанков, созданных генератором."),
		chunksUnloaded:  counter("chunks_unloaded_total", "Чанков, выгруженных в регионы."),
		entitiesFrozen:  counter("entities_frozen_total", "Сущностей, замороженных при выгрузке чанка."),
		entitiesThawed:  counter("entities_thawed_total", "Сущностей, размороженных при загрузке чанка."),
		regionsClosed:   counter("regions_closed_total", "Регионов, закрытых после прохода."),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Переходов между картами по результату.",
		}, []string{"result"}),
		regionsOpen:    gauge("regions_open", "Открытых регионов после последнего прохода."),
		chunksResident: gauge("chunks_resident", "Резидентных чанков после последнего прохода."),
		passSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_seconds",
			Help:      "Длительность прохода стриминга.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			s.chunksLoaded, s.chunksGenerated, s.chunksUnloaded,
			s.entitiesFrozen, s.entitiesThawed, s.regionsClosed, s.transitions,
			s.regionsOpen, s.chunksResident, s.passSeconds,
		)
	}
	return s
}

// ObservePass учитывает итоги прохода стриминга
func (s *Streaming) ObservePass(report world.PassReport, regionsOpen, chunksResident int) {
	s.chunksLoaded.Add(float64(len(report.Loaded)))
	s.chunksGenerated.Add(float64(len(report.Generated)))
	s.chunksUnloaded.Add(float64(len(report.Unloaded)))
	s.entitiesFrozen.Add(float64(len(report.Frozen)))
	s.entitiesThawed.Add(float64(len(report.Thawed)))
	s.regionsClosed.Add(float64(report.RegionsClosed))

	s.regionsOpen.Set(float64(regionsOpen))
	s.chunksResident.Set(float64(chunksResident))
	s.passSeconds.Observe(report.Duration.Seconds())
}

// ObserveTransition учитывает переход между картами (result: ok или aborted)
func (s *Streaming) ObserveTransition(result string) {
	s.transitions.WithLabelValues(result).Inc()
}
