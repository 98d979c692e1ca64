package storage

import (
	"fmt"
	"sort"

	"github.com/annel0/worldstream/internal/vec"
	"github.com/annel0/worldstream/internal/world/chunk"
)

// RegionSpan количество чанков по одной стороне региона
const RegionSpan = 16

// RegionSlots количество слотов чанков в регионе
const RegionSlots = RegionSpan * RegionSpan

// RegionIndex координаты региона в пространстве регионов
type RegionIndex struct {
	X, Y int
}

// RegionOf возвращает регион, которому принадлежит чанк (деление с округлением вниз)
func RegionOf(idx chunk.Index) RegionIndex {
	return RegionIndex{X: vec.FloorDiv(idx.X, RegionSpan), Y: vec.FloorDiv(idx.Y, RegionSpan)}
}

// Slot возвращает локальный слот чанка в регионе.
// Чанк из чужого региона считается ошибкой программиста.
func (r RegionIndex) Slot(idx chunk.Index) int {
	if RegionOf(idx) != r {
		panic(fmt.Sprintf("storage: %s не принадлежит региону %s", idx, r))
	}
	return vec.FloorMod(idx.Y, RegionSpan)*RegionSpan + vec.FloorMod(idx.X, RegionSpan)
}

// IndexAt обратное преобразование слота в индекс чанка
func (r RegionIndex) IndexAt(slot int) chunk.Index {
	if slot < 0 || slot >= RegionSlots {
		panic(fmt.Sprintf("storage: слот %d вне региона", slot))
	}
	return chunk.Index{
		X: r.X*RegionSpan + slot%RegionSpan,
		Y: r.Y*RegionSpan + slot/RegionSpan,
	}
}

// Members перечисляет все чанки региона в порядке слотов
func (r RegionIndex) Members() []chunk.Index {
	out := make([]chunk.Index, RegionSlots)
	for slot := range out {
		out[slot] = r.IndexAt(slot)
	}
	return out
}

// FileName имя файла региона
func (r RegionIndex) FileName() string {
	return fmt.Sprintf("r.%d.%d.wreg", r.X, r.Y)
}

func (r RegionIndex) String() string {
	return fmt.Sprintf("region(%d,%d)", r.X, r.Y)
}

// Region открытый регион: дескриптор контейнера, резидентные чанки и несохранённые данные
type Region struct {
	Index     RegionIndex
	container Container
	resident  map[int]struct{}
	dirty     map[int][]byte
}

func newRegion(idx RegionIndex, c Container) *Region {
	return &Region{
		Index:     idx,
		container: c,
		resident:  make(map[int]struct{}),
		dirty:     make(map[int][]byte),
	}
}

// ResidentCount количество чанков региона, загруженных в Terrain
func (r *Region) ResidentCount() int {
	return len(r.resident)
}

// DirtyCount количество чанков, изменённых с последнего сброса
func (r *Region) DirtyCount() int {
	return len(r.dirty)
}

// DirtyIndices возвращает несохранённые чанки по возрастанию слота
func (r *Region) DirtyIndices() []chunk.Index {
	slots := make([]int, 0, len(r.dirty))
	for slot := range r.dirty {
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	out := make([]chunk.Index, len(slots))
	for i, slot := range slots {
		out[i] = r.Index.IndexAt(slot)
	}
	return out
}

// Stage помечает чанк изменённым; данные будут записаны при Flush
func (r *Region) Stage(idx chunk.Index, payload []byte) {
	r.dirty[r.Index.Slot(idx)] = payload
}

// Flush записывает все изменённые чанки и синхронизирует контейнер
func (r *Region) Flush() error {
	if len(r.dirty) == 0 {
		return nil
	}

	slots := make([]int, 0, len(r.dirty))
	for slot := range r.dirty {
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	for _, slot := range slots {
		if err := r.container.Write(slot, r.dirty[slot]); err != nil {
			return &SerialError{Op: "write", Region: r.Index, Err: err}
		}
	}
	if err := r.container.Sync(); err != nil {
		return &SerialError{Op: "sync", Region: r.Index, Err: err}
	}

	// Очищаем только после успешной синхронизации
	r.dirty = make(map[int][]byte)
	return nil
}

func (r *Region) read(idx chunk.Index) ([]byte, bool, error) {
	slot := r.Index.Slot(idx)
	if payload, ok := r.dirty[slot]; ok {
		return payload, true, nil
	}

	payload, ok, err := r.container.Read(slot)
	if err != nil {
		return nil, false, &SerialError{Op: "read", Region: r.Index, Err: err}
	}
	return payload, ok, nil
}
