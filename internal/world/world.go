package world

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/annel0/worldstream/internal/config"
	"github.com/annel0/worldstream/internal/logging"
	"github.com/annel0/worldstream/internal/storage"
	"github.com/annel0/worldstream/internal/vec"
	"github.com/annel0/worldstream/internal/world/chunk"
)

// MapID идентификатор карты (экземпляра мира)
type MapID uint32

// ErrWorldClosed операция над сохранённым или отброшенным миром
var ErrWorldClosed = errors.New("мир закрыт")

// Options параметры создания и открытия мира
type Options struct {
	Dir       string   // Каталог карты
	ID        MapID    // Идентификатор карты
	Seed      int64    // Сид генерации
	Generator string   // Вид генератора (perlin, cave, flat)
	Bounds    Bounds   // Границы мира
	Spawn     vec.Vec2 // Точка появления игрока

	Radius           int     // Радиус окна стриминга в чанках (0: только чанк фокуса)
	Backend          string  // Хранилище регионов: file или badger
	CompressionLevel int     // Уровень zstd
	CompactionFactor float64 // Порог сжатия файлов регионов

	Logger   *logging.Logger
	Observer PassObserver
}

// World экземпляр мира: ландшафт, пространственный индекс, очередь ходов,
// регионы и компоненты. Однопоточный: все операции выполняются в вызывающей горутине.
type World struct {
	id        MapID
	dir       string
	seed      int64
	generator chunk.Generator
	spawn     vec.Vec2

	terrain  *Terrain
	index    *SpatialIndex
	turns    *TurnScheduler
	regions  *storage.RegionManager
	codec    *chunk.Codec
	streamer *Streamer

	kinds  *ComponentStore[Kind]
	names  *ComponentStore[string]
	health *ComponentStore[Health]
	speed  *ComponentStore[Speed]

	player EntityID
	nextID EntityID
	tick   uint64
	closed bool
	logger *logging.Logger
}

// Create создаёт новую карту в пустом каталоге
func Create(opts Options) (*World, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("не указан каталог карты")
	}
	if Exists(opts.Dir) {
		return nil, fmt.Errorf("карта %d уже существует в %s", opts.ID, opts.Dir)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("создание каталога карты: %w", err)
	}

	w, err := newWorld(opts)
	if err != nil {
		return nil, err
	}
	w.nextID = 1
	w.logger.Info("создана карта %d (%s, сид %d, %s)", w.id, w.generator.Kind(), w.seed, w.terrain.Bounds())
	return w, nil
}

func newWorld(opts Options) (*World, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	if opts.Radius < 0 {
		return nil, fmt.Errorf("отрицательный радиус окна: %d", opts.Radius)
	}

	gen, err := chunk.NewGenerator(opts.Generator, opts.Seed)
	if err != nil {
		return nil, err
	}

	codec, err := chunk.NewCodec(opts.CompressionLevel)
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(opts, logger.With("regions"))
	if err != nil {
		codec.Close()
		return nil, err
	}

	return &World{
		id:        opts.ID,
		dir:       opts.Dir,
		seed:      opts.Seed,
		generator: gen,
		spawn:     opts.Spawn,
		terrain:   NewTerrain(opts.Bounds),
		index:     NewSpatialIndex(),
		turns:     NewTurnScheduler(),
		regions:   storage.NewRegionManager(backend, logger.With("regions")),
		codec:     codec,
		streamer:  NewStreamer(opts.Radius, logger.With("stream"), opts.Observer),
		kinds:     NewComponentStore[Kind](),
		names:     NewComponentStore[string](),
		health:    NewComponentStore[Health](),
		speed:     NewComponentStore[Speed](),
		logger:    logger,
	}, nil
}

func openBackend(opts Options, logger *logging.Logger) (storage.Backend, error) {
	dir := filepath.Join(opts.Dir, "regions")
	switch opts.Backend {
	case "", config.BackendFile:
		return storage.NewFileBackend(dir, opts.CompactionFactor, logger)
	case config.BackendBadger:
		return storage.NewBadgerBackend(dir, logger)
	default:
		return nil, fmt.Errorf("неизвестное хранилище регионов %q", opts.Backend)
	}
}

func (w *World) ID() MapID { return w.id }
func (w *World) Dir() string { return w.dir }
func (w *World) Seed() int64 { return w.seed }
func (w *World) GeneratorKind() string { return w.generator.Kind() }
func (w *World) Terrain() *Terrain { return w.terrain }
func (w *World) Index() *SpatialIndex { return w.index }
func (w *World) Turns() *TurnScheduler { return w.turns }
func (w *World) Regions() *storage.RegionManager { return w.regions }
func (w *World) Streamer() *Streamer { return w.streamer }
func (w *World) Ticks() uint64 { return w.tick }
func (w *World) Closed() bool { return w.closed }

// SpawnPoint позиция, где появляется игрок при входе на карту
func (w *World) SpawnPoint() vec.Vec2 {
	return w.spawn
}

func (w *World) SetSpawnPoint(pos vec.Vec2) {
	w.spawn = pos
}

// Player постоянная сущность, которая не замораживается; 0 если её нет
func (w *World) Player() EntityID {
	return w.player
}

// SetPlayer назначает постоянную сущность
func (w *World) SetPlayer(e EntityID) {
	if e != 0 && !w.index.Has(e) {
		panic(fmt.Sprintf("world: игрок %s не существует", e))
	}
	w.player = e
}

func (w *World) allocID() EntityID {
	id := w.nextID
	w.nextID++
	return id
}

// Spawn создаёт сущность из набора компонентов вместе с содержимым.
// Позиция в незагруженном чанке даёт замороженную сущность.
func (w *World) Spawn(b Bundle, p Place) EntityID {
	id := w.allocID()

	w.kinds.Set(id, b.Kind)
	if b.Name != "" {
		w.names.Set(id, b.Name)
	}
	if b.Health != nil {
		w.health.Set(id, *b.Health)
	}
	if b.Speed > 0 {
		w.speed.Set(id, b.Speed)
	}

	switch p.Kind {
	case PlaceIn:
		w.index.InsertIn(id, p.Container)
	default:
		if w.terrain.PosLoaded(p.Pos) {
			w.index.InsertAt(id, p.Pos)
		} else {
			w.index.InsertUnloaded(id, p.Pos)
		}
	}

	if b.Speed > 0 {
		w.turns.Insert(id, int64(b.Speed))
		if !w.IsActive(id) {
			w.turns.Pause(id)
		}
	}

	for _, content := range b.Contents {
		w.Spawn(content, In(id))
	}
	return id
}

// Despawn удаляет сущность и её содержимое из всех таблиц
func (w *World) Despawn(e EntityID) []EntityID {
	removed := w.index.Remove(e)
	for _, id := range removed {
		w.kinds.Remove(id)
		w.names.Remove(id)
		w.health.Remove(id)
		w.speed.Remove(id)
		w.turns.Remove(id)
		if id == w.player {
			w.player = 0
		}
	}
	return removed
}

// Capture снимает набор компонентов сущности с вложенным содержимым
func (w *World) Capture(e EntityID) (Bundle, bool) {
	if !w.index.Has(e) {
		return Bundle{}, false
	}
	return w.capture(e, map[EntityID]bool{}), true
}

func (w *World) capture(e EntityID, seen map[EntityID]bool) Bundle {
	seen[e] = true
	b := w.components(e)
	for _, content := range w.index.EntitiesIn(e) {
		if seen[content] {
			continue
		}
		b.Contents = append(b.Contents, w.capture(content, seen))
	}
	return b
}

func (w *World) components(e EntityID) Bundle {
	var b Bundle
	b.Kind, _ = w.kinds.Get(e)
	b.Name, _ = w.names.Get(e)
	if h, ok := w.health.Get(e); ok {
		b.Health = &h
	}
	b.Speed, _ = w.speed.Get(e)
	return b
}

func (w *World) Kind(e EntityID) (Kind, bool) { return w.kinds.Get(e) }
func (w *World) Name(e EntityID) (string, bool) { return w.names.Get(e) }
func (w *World) Health(e EntityID) *Health { return w.health.GetMut(e) }
func (w *World) Speed(e EntityID) (Speed, bool) { return w.speed.Get(e) }
func (w *World) Place(e EntityID) (Place, bool) { return w.index.Place(e) }
func (w *World) EntitiesAt(pos vec.Vec2) []EntityID { return w.index.EntitiesAt(pos) }

// IsAlive сущность существует и её здоровье положительно (или компонента здоровья нет)
func (w *World) IsAlive(e EntityID) bool {
	if !w.index.Has(e) {
		return false
	}
	h, ok := w.health.Get(e)
	return !ok || h.Current > 0
}

// IsActive сущность участвует в симуляции: она или её внешний контейнер стоит At
func (w *World) IsActive(e EntityID) bool {
	_, p, ok := w.index.Root(e)
	return ok && p.Kind == PlaceAt
}

// Position позиция сущности или её внешнего контейнера
func (w *World) Position(e EntityID) (vec.Vec2, bool) {
	_, p, ok := w.index.Root(e)
	if !ok {
		return vec.Vec2{}, false
	}
	return p.Pos, true
}

// Move переносит сущность. Позиция вне границ мира отклоняется (false).
// Переход в незагруженный чанк замораживает сущность
// (кроме игрока: его чанк догрузит следующий проход стриминга).
func (w *World) Move(e EntityID, pos vec.Vec2) bool {
	if !w.terrain.InBounds(pos) {
		return false
	}
	w.index.MoveTo(e, pos)
	if e != w.player && !w.terrain.PosLoaded(pos) {
		w.index.Freeze(e)
	}
	w.syncTurns(e)
	return true
}

// PutInto кладёт сущность в контейнер
func (w *World) PutInto(e, container EntityID) {
	w.index.MoveInto(e, container)
	w.syncTurns(e)
}

// syncTurns приводит очередь ходов сущности и её содержимого в соответствие с активностью
func (w *World) syncTurns(e EntityID) {
	active := w.IsActive(e)
	ids := append([]EntityID{e}, w.index.Contents(e)...)
	for _, id := range ids {
		if !w.turns.IsScheduled(id) {
			continue
		}
		paused := w.turns.IsPaused(id)
		switch {
		case active && paused:
			w.turns.Resume(id)
		case !active && !paused:
			w.turns.Pause(id)
		}
	}
}

// Stream выполняет один проход стриминга вокруг focal
func (w *World) Stream(focal vec.Vec2) (PassReport, error) {
	return w.streamer.Update(w, focal)
}

// Tick проход стриминга вокруг игрока (или точки появления) и переход к следующему тику.
// При ошибке тик не засчитывается.
func (w *World) Tick() (PassReport, error) {
	focal := w.spawn
	if w.player != 0 {
		if pos, ok := w.Position(w.player); ok {
			focal = pos
		}
	}

	report, err := w.Stream(focal)
	if err != nil {
		return report, err
	}
	w.tick++
	return report, nil
}

// Violation нарушение согласованности места сущности и резидентности чанка
type Violation struct {
	Entity   EntityID
	Place    Place
	Resident bool
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s при резидентности чанка %t", v.Entity, v.Place, v.Resident)
}

// CheckResidency проверяет: Unloaded тогда и только тогда, когда чанк не загружен
func (w *World) CheckResidency() []Violation {
	var out []Violation
	for _, e := range w.index.Entities() {
		p, _ := w.index.Place(e)
		if p.Kind == PlaceIn {
			continue
		}
		resident := w.terrain.PosLoaded(p.Pos)
		if (p.Kind == PlaceUnloaded) == resident {
			out = append(out, Violation{Entity: e, Place: p, Resident: resident})
		}
	}
	return out
}
