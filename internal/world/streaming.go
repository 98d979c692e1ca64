package world

import (
	"fmt"
	"time"

	"github.com/annel0/worldstream/internal/logging"
	"github.com/annel0/worldstream/internal/storage"
	"github.com/annel0/worldstream/internal/vec"
	"github.com/annel0/worldstream/internal/world/chunk"
)

// PassReport итог одного прохода стриминга
type PassReport struct {
	Loaded        []chunk.Index // Прочитаны из регионов
	Generated     []chunk.Index // Созданы генератором
	Unloaded      []chunk.Index // Выгружены в регионы
	Frozen        []EntityID
	Thawed        []EntityID
	RegionsClosed int
	Duration      time.Duration
}

func (r PassReport) Empty() bool {
	return len(r.Loaded) == 0 && len(r.Generated) == 0 && len(r.Unloaded) == 0 && r.RegionsClosed == 0
}

func (r PassReport) String() string {
	return fmt.Sprintf("загружено %d, создано %d, выгружено %d, заморожено %d, разморожено %d, закрыто регионов %d за %s",
		len(r.Loaded), len(r.Generated), len(r.Unloaded), len(r.Frozen), len(r.Thawed), r.RegionsClosed, r.Duration)
}

// PassObserver получает итоги проходов (метрики)
type PassObserver interface {
	ObservePass(report PassReport, regionsOpen, chunksResident int)
}

// Streamer держит резидентным окно чанков вокруг фокуса
type Streamer struct {
	radius   int
	logger   *logging.Logger
	observer PassObserver
}

// NewStreamer создаёт контроллер с радиусом окна в чанках
func NewStreamer(radius int, logger *logging.Logger, observer PassObserver) *Streamer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Streamer{radius: radius, logger: logger, observer: observer}
}

func (s *Streamer) Radius() int {
	return s.radius
}

// RelevantSet чанк фокуса и четыре симметричных обхода квадрантов радиуса R:
// ромб |dx|+|dy| <= R, обрезанный по границам мира.
func (s *Streamer) RelevantSet(bounds Bounds, focal vec.Vec2) []chunk.Index {
	center := chunk.FromWorldPos(focal)
	seen := make(map[chunk.Index]struct{})
	var out []chunk.Index

	add := func(idx chunk.Index) {
		if _, ok := seen[idx]; ok || !bounds.IntersectsChunk(idx) {
			return
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}

	add(center)
	quadrants := [4][2]int{{1, 1}, {-1, 1}, {-1, -1}, {1, -1}}
	for _, q := range quadrants {
		for dx := 0; dx <= s.radius; dx++ {
			for dy := 0; dy <= s.radius-dx; dy++ {
				add(center.Add(q[0]*dx, q[1]*dy))
			}
		}
	}

	sortIndices(out)
	return out
}

type incomingChunk struct {
	chunk     *chunk.Chunk
	payload   []byte
	generated bool
}

type outgoingChunk struct {
	index   chunk.Index
	payload []byte
}

// passPlan результат подготовки: весь ввод-вывод уже выполнен
type passPlan struct {
	load  []incomingChunk
	evict []outgoingChunk
}

// Update один проход: подготовка (чтение, декодирование, генерация, кодирование),
// затем применение изменений, затем закрытие пустых регионов.
// Ошибка подготовки прерывает проход до любых изменений мира.
func (s *Streamer) Update(w *World, focal vec.Vec2) (PassReport, error) {
	if w.closed {
		return PassReport{}, ErrWorldClosed
	}
	start := time.Now()

	want := make(map[chunk.Index]struct{})
	for _, idx := range s.RelevantSet(w.terrain.Bounds(), focal) {
		want[idx] = struct{}{}
	}
	if w.player != 0 {
		if pos, ok := w.Position(w.player); ok && w.terrain.Bounds().IntersectsChunk(chunk.FromWorldPos(pos)) {
			want[chunk.FromWorldPos(pos)] = struct{}{}
		}
	}

	plan, err := s.stage(w, want)
	if err != nil {
		s.logger.Warn("проход стриминга прерван: %v", err)
		return PassReport{}, err
	}

	report, err := s.commit(w, plan)
	if err != nil {
		return report, err
	}

	closed, err := w.regions.PruneEmptyRegions()
	report.RegionsClosed = closed
	report.Duration = time.Since(start)
	s.observe(w, report)

	if err != nil {
		return report, fmt.Errorf("закрытие пустых регионов: %w", err)
	}
	if !report.Empty() {
		s.logger.Debug("проход вокруг %v: %s", focal, report)
	}
	return report, nil
}

func (s *Streamer) observe(w *World, report PassReport) {
	if s.observer != nil {
		s.observer.ObservePass(report, w.regions.OpenCount(), w.terrain.Len())
	}
}

func (s *Streamer) stage(w *World, want map[chunk.Index]struct{}) (passPlan, error) {
	var plan passPlan

	missing := make([]chunk.Index, 0, len(want))
	for idx := range want {
		if !w.terrain.IsLoaded(idx) {
			missing = append(missing, idx)
		}
	}
	sortIndices(missing)

	for _, idx := range missing {
		in, err := s.fetch(w, idx)
		if err != nil {
			return passPlan{}, err
		}
		plan.load = append(plan.load, in)
	}

	for _, idx := range w.terrain.Indices() {
		if _, ok := want[idx]; ok {
			continue
		}
		out, err := s.encode(w, idx)
		if err != nil {
			return passPlan{}, err
		}
		plan.evict = append(plan.evict, out)
	}

	return plan, nil
}

// fetch читает чанк из региона, а если его там нет, генерирует
func (s *Streamer) fetch(w *World, idx chunk.Index) (incomingChunk, error) {
	payload, ok, err := w.regions.ReadChunk(idx)
	if err != nil {
		return incomingChunk{}, err
	}

	if ok {
		ch, err := w.codec.Decode(idx, payload)
		if err != nil {
			if s.logger.Enabled(logging.DEBUG) {
				s.logger.Debug("не разобран %s:\n%s", idx, logging.HexDump(payload))
			}
			return incomingChunk{}, &storage.SerialError{Op: "decode", Region: storage.RegionOf(idx), Err: err}
		}
		return incomingChunk{chunk: ch}, nil
	}

	ch, err := w.generator.Generate(idx)
	if err != nil {
		return incomingChunk{}, fmt.Errorf("генерация %s: %w", idx, err)
	}
	payload, err = w.codec.Encode(ch)
	if err != nil {
		return incomingChunk{}, fmt.Errorf("кодирование %s: %w", idx, err)
	}
	return incomingChunk{chunk: ch, payload: payload, generated: true}, nil
}

func (s *Streamer) encode(w *World, idx chunk.Index) (outgoingChunk, error) {
	ch, _ := w.terrain.Chunk(idx)
	payload, err := w.codec.Encode(ch)
	if err != nil {
		return outgoingChunk{}, fmt.Errorf("кодирование %s: %w", idx, err)
	}
	return outgoingChunk{index: idx, payload: payload}, nil
}

// commit применяет подготовленный план. Регионы резидентных и только что
// прочитанных чанков уже открыты, поэтому обращения к менеджеру регионов здесь
// не выполняют ввода-вывода.
func (s *Streamer) commit(w *World, plan passPlan) (PassReport, error) {
	var report PassReport

	for _, out := range plan.evict {
		// Заморозка до того, как нагрузка чанка станет окончательной
		for _, e := range w.index.ActiveInChunk(out.index) {
			if e == w.player {
				continue
			}
			w.index.Freeze(e)
			w.syncTurns(e)
			report.Frozen = append(report.Frozen, e)
		}

		w.terrain.RemoveChunk(out.index)
		if err := w.regions.UnloadChunk(out.index, out.payload); err != nil {
			return report, err
		}
		report.Unloaded = append(report.Unloaded, out.index)
	}

	for _, in := range plan.load {
		idx := in.chunk.Index
		w.terrain.InsertChunk(in.chunk)

		var err error
		if in.generated {
			err = w.regions.MarkGenerated(idx, in.payload)
			report.Generated = append(report.Generated, idx)
		} else {
			err = w.regions.MarkResident(idx)
			report.Loaded = append(report.Loaded, idx)
		}
		if err != nil {
			return report, err
		}

		for _, e := range w.index.FrozenInChunk(idx) {
			w.index.Unfreeze(e)
			w.syncTurns(e)
			report.Thawed = append(report.Thawed, e)
		}
	}

	return report, nil
}

// unloadAll выгружает все резидентные чанки (сохранение мира)
func (s *Streamer) unloadAll(w *World) (PassReport, error) {
	plan, err := s.stage(w, map[chunk.Index]struct{}{})
	if err != nil {
		return PassReport{}, err
	}
	return s.commit(w, plan)
}
