package world

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/annel0/worldstream/internal/storage"
	"github.com/annel0/worldstream/internal/vec"
)

// MetaFile имя файла метаданных мира в каталоге карты
const MetaFile = "world.json"

const metaVersion = 1

// ErrNoWorld в каталоге нет сохранённой карты
var ErrNoWorld = errors.New("карта не найдена")

type worldMeta struct {
	Version   int            `json:"version"`
	ID        MapID          `json:"id"`
	Seed      int64          `json:"seed"`
	Generator string         `json:"generator"`
	Bounds    Bounds         `json:"bounds"`
	Spawn     vec.Vec2       `json:"spawn"`
	Tick      uint64         `json:"tick"`
	NextID    EntityID       `json:"next_id"`
	Player    EntityID       `json:"player,omitempty"`
	Entities  []entityRecord `json:"entities"`
	Turns     []TurnEntry    `json:"turns"`
	SavedAt   time.Time      `json:"saved_at"`
}

type entityRecord struct {
	ID     EntityID `json:"id"`
	Place  Place    `json:"place"`
	Kind   Kind     `json:"kind"`
	Name   string   `json:"name,omitempty"`
	Health *Health  `json:"health,omitempty"`
	Speed  Speed    `json:"speed,omitempty"`
}

// Exists истинно, если в каталоге есть сохранённая карта
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, MetaFile))
	return err == nil
}

// Open загружает карту из каталога opts.Dir. Параметры генерации берутся из файла.
// Ландшафт не загружается: его материализует первый проход стриминга.
func Open(opts Options) (*World, error) {
	var meta worldMeta
	ok, err := storage.ReadJSON(filepath.Join(opts.Dir, MetaFile), &meta)
	if err != nil {
		return nil, fmt.Errorf("чтение метаданных карты: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoWorld, opts.Dir)
	}
	if meta.Version != metaVersion {
		return nil, fmt.Errorf("неподдерживаемая версия карты %d", meta.Version)
	}

	opts.ID = meta.ID
	opts.Seed = meta.Seed
	opts.Generator = meta.Generator
	opts.Bounds = meta.Bounds
	opts.Spawn = meta.Spawn

	w, err := newWorld(opts)
	if err != nil {
		return nil, err
	}

	w.tick = meta.Tick
	w.nextID = meta.NextID
	for _, rec := range meta.Entities {
		w.restoreEntity(rec)
	}
	w.turns.Restore(meta.Turns)
	if meta.Player != 0 {
		w.SetPlayer(meta.Player)
	}
	for _, e := range w.index.Entities() {
		w.syncTurns(e)
	}

	w.logger.Info("открыта карта %d: %d сущностей, тик %d", w.id, w.index.Len(), w.tick)
	return w, nil
}

func (w *World) restoreEntity(rec entityRecord) {
	if w.index.Has(rec.ID) {
		panic(fmt.Sprintf("world: сущность %s сохранена дважды", rec.ID))
	}
	// Свежая карта без резидентных чанков: игрок сохраняется At и тоже замораживается до первого прохода
	place := rec.Place
	if place.Kind == PlaceAt {
		place = Unloaded(place.Pos)
	}
	w.index.set(rec.ID, place)
	w.kinds.Set(rec.ID, rec.Kind)
	if rec.Name != "" {
		w.names.Set(rec.ID, rec.Name)
	}
	if rec.Health != nil {
		w.health.Set(rec.ID, *rec.Health)
	}
	if rec.Speed > 0 {
		w.speed.Set(rec.ID, rec.Speed)
	}
}

// Save выгружает все чанки, сбрасывает и закрывает регионы, затем атомарно
// пишет метаданные. После успеха мир закрыт. Сохраняется весь мир целиком.
func (w *World) Save() error {
	if w.closed {
		return ErrWorldClosed
	}

	report, err := w.streamer.unloadAll(w)
	if err != nil {
		return fmt.Errorf("выгрузка карты %d: %w", w.id, err)
	}

	if err := w.regions.CloseRegions(); err != nil {
		return fmt.Errorf("закрытие регионов карты %d: %w", w.id, err)
	}

	// До записи метаданных бэкенд открыт: при отказе мир остаётся рабочим
	if err := storage.WriteJSONAtomic(filepath.Join(w.dir, MetaFile), w.meta()); err != nil {
		return fmt.Errorf("запись метаданных карты %d: %w", w.id, err)
	}

	if err := w.regions.Close(); err != nil {
		return fmt.Errorf("закрытие хранилища карты %d: %w", w.id, err)
	}

	w.codec.Close()
	w.closed = true
	w.logger.Info("карта %d сохранена: выгружено %d чанков, %d сущностей", w.id, len(report.Unloaded), w.index.Len())
	return nil
}

// Discard закрывает мир без записи метаданных (отказ от перехода)
func (w *World) Discard() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.codec.Close()
	return w.regions.Close()
}

func (w *World) meta() worldMeta {
	meta := worldMeta{
		Version:   metaVersion,
		ID:        w.id,
		Seed:      w.seed,
		Generator: w.generator.Kind(),
		Bounds:    w.terrain.Bounds(),
		Spawn:     w.spawn,
		Tick:      w.tick,
		NextID:    w.nextID,
		Player:    w.player,
		Turns:     w.turns.Entries(),
		SavedAt:   time.Now().UTC(),
	}

	for _, e := range w.index.Entities() {
		p, _ := w.index.Place(e)
		b := w.components(e)
		meta.Entities = append(meta.Entities, entityRecord{
			ID:     e,
			Place:  p,
			Kind:   b.Kind,
			Name:   b.Name,
			Health: b.Health,
			Speed:  b.Speed,
		})
	}
	return meta
}
