package transition

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/annel0/worldstream/internal/logging"
	"github.com/annel0/worldstream/internal/storage"
	"github.com/annel0/worldstream/internal/vec"
	"github.com/annel0/worldstream/internal/world"
	"github.com/google/uuid"
)

// Результаты перехода для наблюдателя
const (
	ResultCommitted = "ok"
	ResultAborted   = "aborted"
)

var (
	// ErrInTransit переход уже выполняется
	ErrInTransit = errors.New("переход между картами уже выполняется")
	// ErrUnknownMap карта назначения не выделялась или не сохранена
	ErrUnknownMap = errors.New("неизвестная карта")
	// ErrNoPlayer в живом мире нет игрока
	ErrNoPlayer = errors.New("в мире нет игрока")
	// ErrBadSpawn точка появления вне границ карты назначения
	ErrBadSpawn = errors.New("недопустимая точка появления")
)

// State состояние менеджера
type State int

const (
	Resident  State = iota // Живой мир один, переходов нет
	InTransit              // Снимок извлечён, старый мир ещё не сохранён
)

func (s State) String() string {
	if s == InTransit {
		return "in-transit"
	}
	return "resident"
}

// Snapshot капсула игрока между картами. Внедряется ровно один раз.
type Snapshot struct {
	ID     uuid.UUID
	From   world.MapID
	Player world.Bundle
	Flags  map[string]int
}

// Blueprint параметры генерации новой карты
type Blueprint struct {
	Seed      int64
	Generator string
	Bounds    world.Bounds
	Spawn     vec.Vec2
}

// Destination куда переходить: существующая карта (Map != 0) или новая по Blueprint
type Destination struct {
	Map       world.MapID
	Blueprint Blueprint
	Spawn     *vec.Vec2 // Переопределяет точку появления карты
}

// Observer получает результаты переходов (метрики)
type Observer interface {
	ObserveTransition(result string)
}

// Options параметры менеджера переходов
type Options struct {
	Root     string       // Корень сохранения: manifest.json и maps/<id>
	StartMap world.MapID  // id первой карты при пустом корне (0 = 1)
	Start    Blueprint    // Стартовая карта
	Player   world.Bundle // Игрок при первом запуске

	Radius           int
	Backend          string
	CompressionLevel int
	CompactionFactor float64

	Logger       *logging.Logger
	PassObserver world.PassObserver
	Observer     Observer
}

// Manager владеет живым миром и переносит игрока между картами.
// Однопоточный, как и сам мир.
type Manager struct {
	opts     Options
	live     *world.World
	state    State
	manifest storage.Manifest
	consumed map[uuid.UUID]struct{}
	logger   *logging.Logger
}

// NewManager возобновляет сессию по манифесту или создаёт стартовую карту с игроком
func NewManager(opts Options) (*Manager, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("не указан корень сохранения")
	}
	if opts.StartMap == 0 {
		opts.StartMap = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	m := &Manager{
		opts:     opts,
		consumed: make(map[uuid.UUID]struct{}),
		logger:   logger,
	}

	manifest, ok, err := storage.LoadManifest(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("чтение манифеста: %w", err)
	}
	if ok {
		if err := m.resume(manifest); err != nil {
			return nil, err
		}
	} else if err := m.bootstrap(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) resume(manifest storage.Manifest) error {
	id := world.MapID(manifest.CurrentMap)
	w, err := world.Open(m.worldOptions(id, Blueprint{}))
	if err != nil {
		return fmt.Errorf("открытие текущей карты %d: %w", id, err)
	}
	if uint64(w.Player()) != manifest.Player {
		m.logger.Warn("игрок карты %d (%s) не совпадает с манифестом (#%d)", id, w.Player(), manifest.Player)
	}
	if w.Player() == 0 {
		w.Discard()
		return fmt.Errorf("карта %d: %w", id, ErrNoPlayer)
	}

	m.live = w
	m.manifest = manifest
	m.logger.Info("сессия возобновлена: карта %d, максимальный id %d", id, manifest.MaxMapID)
	return nil
}

func (m *Manager) bootstrap() error {
	id := m.opts.StartMap
	if err := os.RemoveAll(m.MapDir(id)); err != nil {
		return fmt.Errorf("очистка каталога карты %d: %w", id, err)
	}
	w, err := world.Create(m.worldOptions(id, m.opts.Start))
	if err != nil {
		return fmt.Errorf("создание стартовой карты %d: %w", id, err)
	}
	if err := m.verify(w, Destination{}); err != nil {
		m.abandon(w, true)
		return err
	}

	player := w.Spawn(m.opts.Player, world.At(w.SpawnPoint()))
	w.SetPlayer(player)

	m.live = w
	m.manifest = storage.Manifest{
		MaxMapID:   uint32(id),
		CurrentMap: uint32(id),
		Player:     uint64(player),
		Flags:      make(map[string]int),
	}
	if err := storage.SaveManifest(m.opts.Root, m.manifest); err != nil {
		return fmt.Errorf("запись манифеста: %w", err)
	}
	m.logger.Info("новая сессия: стартовая карта %d", id)
	return nil
}

// MapDir каталог карты
func (m *Manager) MapDir(id world.MapID) string {
	return filepath.Join(m.opts.Root, "maps", strconv.FormatUint(uint64(id), 10))
}

func (m *Manager) worldOptions(id world.MapID, bp Blueprint) world.Options {
	return world.Options{
		Dir:              m.MapDir(id),
		ID:               id,
		Seed:             bp.Seed,
		Generator:        bp.Generator,
		Bounds:           bp.Bounds,
		Spawn:            bp.Spawn,
		Radius:           m.opts.Radius,
		Backend:          m.opts.Backend,
		CompressionLevel: m.opts.CompressionLevel,
		CompactionFactor: m.opts.CompactionFactor,
		Logger:           m.logger.With(fmt.Sprintf("map-%d", id)),
		Observer:         m.opts.PassObserver,
	}
}

func (m *Manager) Live() *world.World { return m.live }
func (m *Manager) State() State { return m.state }
func (m *Manager) MaxMapID() world.MapID { return world.MapID(m.manifest.MaxMapID) }

// Manifest копия текущего манифеста
func (m *Manager) Manifest() storage.Manifest {
	out := m.manifest
	out.Flags = copyFlags(m.manifest.Flags)
	return out
}

// Flag значение глобального флага
func (m *Manager) Flag(name string) (int, bool) {
	v, ok := m.manifest.Flags[name]
	return v, ok
}

// SetFlag задаёт глобальный флаг; он переживает переходы и перезапуск
func (m *Manager) SetFlag(name string, value int) {
	if m.manifest.Flags == nil {
		m.manifest.Flags = make(map[string]int)
	}
	m.manifest.Flags[name] = value
}

// Transition переносит игрока в dest. Ошибка подготовки карты назначения
// прерывает переход до любых изменений живого мира.
func (m *Manager) Transition(dest Destination) (world.PassReport, error) {
	if m.state == InTransit {
		return world.PassReport{}, ErrInTransit
	}
	m.state = InTransit
	defer func() { m.state = Resident }()

	start := time.Now()
	report, committed, err := m.transition(dest)
	if !committed {
		m.observe(ResultAborted)
		m.logger.Warn("переход с карты %d прерван: %v", m.live.ID(), err)
		return report, err
	}
	m.observe(ResultCommitted)
	if err != nil {
		// Игрок уже на новой карте, откатывать нечего
		m.logger.Error("переход на карту %d выполнен с ошибкой: %v", m.live.ID(), err)
		return report, err
	}
	m.logger.Info("переход на карту %d за %s", m.live.ID(), time.Since(start))
	return report, nil
}

// transition возвращает committed=true, если живой мир уже заменён:
// ошибка после этого не отменяет переход.
func (m *Manager) transition(dest Destination) (world.PassReport, bool, error) {
	from := m.live

	snap, err := m.extract()
	if err != nil {
		return world.PassReport{}, false, err
	}

	next, created, err := m.prepare(dest)
	if err != nil {
		return world.PassReport{}, false, err
	}

	spawn := next.SpawnPoint()
	if dest.Spawn != nil {
		spawn = *dest.Spawn
	}

	if err := m.leave(from); err != nil {
		m.abandon(next, created)
		return world.PassReport{}, false, err
	}

	m.live = next
	player := m.inject(snap, spawn)

	if created {
		m.manifest.MaxMapID = uint32(next.ID())
	}
	m.manifest.CurrentMap = uint32(next.ID())
	m.manifest.Player = uint64(player)
	if err := storage.SaveManifest(m.opts.Root, m.manifest); err != nil {
		return world.PassReport{}, true, fmt.Errorf("запись манифеста: %w", err)
	}

	report, err := next.Tick()
	if err != nil {
		return report, true, fmt.Errorf("проход стриминга после перехода: %w", err)
	}
	return report, true, nil
}

// extract снимает набор компонентов игрока, не изменяя мир
func (m *Manager) extract() (Snapshot, error) {
	player := m.live.Player()
	if player == 0 {
		return Snapshot{}, ErrNoPlayer
	}
	bundle, ok := m.live.Capture(player)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNoPlayer, player)
	}
	return Snapshot{
		ID:     uuid.New(),
		From:   m.live.ID(),
		Player: bundle,
		Flags:  copyFlags(m.manifest.Flags),
	}, nil
}

// prepare открывает существующую карту или строит новую. id новой карты
// фиксируется в манифесте только после успешного перехода.
func (m *Manager) prepare(dest Destination) (*world.World, bool, error) {
	if dest.Map != 0 {
		w, err := m.openExisting(dest)
		return w, false, err
	}

	id := world.MapID(m.manifest.MaxMapID + 1)
	dir := m.MapDir(id)
	if world.Exists(dir) {
		return nil, false, fmt.Errorf("карта %d уже сохранена, но не учтена в манифесте", id)
	}
	// Остатки прерванного перехода
	if err := os.RemoveAll(dir); err != nil {
		return nil, false, fmt.Errorf("очистка каталога карты %d: %w", id, err)
	}

	w, err := world.Create(m.worldOptions(id, dest.Blueprint))
	if err != nil {
		os.RemoveAll(dir)
		return nil, false, fmt.Errorf("создание карты %d: %w", id, err)
	}
	if err := m.verify(w, dest); err != nil {
		m.abandon(w, true)
		return nil, false, err
	}
	return w, true, nil
}

func (m *Manager) openExisting(dest Destination) (*world.World, error) {
	id := dest.Map
	if id == m.live.ID() {
		return nil, fmt.Errorf("%w: карта %d уже живая", ErrUnknownMap, id)
	}
	if uint32(id) > m.manifest.MaxMapID || !world.Exists(m.MapDir(id)) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMap, id)
	}

	w, err := world.Open(m.worldOptions(id, Blueprint{}))
	if err != nil {
		return nil, fmt.Errorf("открытие карты %d: %w", id, err)
	}
	if err := m.verify(w, dest); err != nil {
		m.abandon(w, false)
		return nil, err
	}
	return w, nil
}

// verify материализует окно вокруг той точки, куда будет внедрён игрок:
// ошибки генерации и чтения регионов всплывают до сохранения живого мира.
// Следующий за внедрением проход обходит то же окно.
func (m *Manager) verify(w *world.World, dest Destination) error {
	spawn := w.SpawnPoint()
	if dest.Spawn != nil {
		spawn = *dest.Spawn
	}
	if !w.Terrain().InBounds(spawn) {
		return fmt.Errorf("%w: точка появления %v вне границ карты %d (%s)", ErrBadSpawn, spawn, w.ID(), w.Terrain().Bounds())
	}
	if _, err := w.Stream(spawn); err != nil {
		return fmt.Errorf("подготовка карты %d: %w", w.ID(), err)
	}
	return nil
}

// leave убирает игрока из живого мира и сохраняет его целиком.
// При ошибке игрок возвращается на место без отката выгрузки: чанки уже
// выгружены в регионы, игрок стоит замороженным, и следующий Tick
// загружает его окно заново.
func (m *Manager) leave(from *world.World) error {
	player := from.Player()
	pos, _ := from.Position(player)
	bundle, _ := from.Capture(player)
	prevSpawn := from.SpawnPoint()

	// Возвращение на карту приводит игрока туда, откуда он ушёл
	from.SetSpawnPoint(pos)
	from.Despawn(player)

	if err := from.Save(); err != nil {
		from.SetSpawnPoint(prevSpawn)
		restored := from.Spawn(bundle, world.At(pos))
		from.SetPlayer(restored)
		m.manifest.Player = uint64(restored)
		return fmt.Errorf("сохранение карты %d: %w", from.ID(), err)
	}
	return nil
}

// inject создаёт игрока из снимка в живом мире
func (m *Manager) inject(snap Snapshot, spawn vec.Vec2) world.EntityID {
	if _, used := m.consumed[snap.ID]; used {
		panic(fmt.Sprintf("transition: снимок %s уже внедрён", snap.ID))
	}
	m.consumed[snap.ID] = struct{}{}

	player := m.live.Spawn(snap.Player, world.At(spawn))
	m.live.SetPlayer(player)
	m.manifest.Flags = copyFlags(snap.Flags)
	m.logger.Debug("снимок %s с карты %d внедрён как %s в %v", snap.ID, snap.From, player, spawn)
	return player
}

// abandon закрывает неудавшуюся карту назначения; новая карта удаляется с диска
func (m *Manager) abandon(w *world.World, created bool) {
	if err := w.Discard(); err != nil {
		m.logger.Warn("закрытие карты %d: %v", w.ID(), err)
	}
	if created {
		if err := os.RemoveAll(w.Dir()); err != nil {
			m.logger.Warn("удаление каталога карты %d: %v", w.ID(), err)
		}
	}
}

func (m *Manager) observe(result string) {
	if m.opts.Observer != nil {
		m.opts.Observer.ObserveTransition(result)
	}
}

// Close сохраняет живой мир и манифест
func (m *Manager) Close() error {
	if m.live.Closed() {
		return nil
	}
	m.manifest.Player = uint64(m.live.Player())
	if err := m.live.Save(); err != nil {
		return fmt.Errorf("сохранение карты %d: %w", m.live.ID(), err)
	}
	return storage.SaveManifest(m.opts.Root, m.manifest)
}

func copyFlags(flags map[string]int) map[string]int {
	out := make(map[string]int, len(flags))
	for k, v := range flags {
		out[k] = v
	}
	return out
}
