package storage

import (
	"errors"
	"sort"
	"sync"

	"github.com/annel0/worldstream/internal/logging"
	"github.com/annel0/worldstream/internal/world/chunk"
)

// RegionManager управляет открытыми регионами одной карты:
// знает, какие чанки резидентны, и держит несохранённые нагрузки до сброса.
type RegionManager struct {
	backend Backend
	regions map[RegionIndex]*Region
	mutex   sync.Mutex
	logger  *logging.Logger
}

// NewRegionManager создаёт менеджер поверх бэкенда
func NewRegionManager(backend Backend, logger *logging.Logger) *RegionManager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &RegionManager{
		backend: backend,
		regions: make(map[RegionIndex]*Region),
		logger:  logger,
	}
}

// Backend возвращает используемый бэкенд
func (rm *RegionManager) Backend() Backend {
	return rm.backend
}

// Load возвращает открытый регион, открывая или создавая контейнер при необходимости
func (rm *RegionManager) Load(idx RegionIndex) (*Region, error) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	return rm.load(idx)
}

func (rm *RegionManager) load(idx RegionIndex) (*Region, error) {
	if region, ok := rm.regions[idx]; ok {
		return region, nil
	}

	c, err := rm.backend.Open(idx)
	if err != nil {
		return nil, &SerialError{Op: "open", Region: idx, Err: err}
	}

	region := newRegion(idx, c)
	rm.regions[idx] = region
	rm.logger.Debug("регион %s открыт (%d чанков на диске)", idx, c.Len())
	return region, nil
}

// ReadChunk возвращает сохранённую нагрузку чанка; ok=false, если чанк не сохранялся.
// Несброшенная нагрузка имеет приоритет над данными в контейнере.
func (rm *RegionManager) ReadChunk(idx chunk.Index) ([]byte, bool, error) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	region, err := rm.load(RegionOf(idx))
	if err != nil {
		return nil, false, err
	}
	return region.read(idx)
}

// MarkResident отмечает чанк загруженным в Terrain
func (rm *RegionManager) MarkResident(idx chunk.Index) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	ri := RegionOf(idx)
	region, err := rm.load(ri)
	if err != nil {
		return err
	}
	region.resident[ri.Slot(idx)] = struct{}{}
	return nil
}

// MarkGenerated отмечает новый чанк: он резидентен и будет записан
// при следующем сбросе, даже если ни разу не читался с диска.
func (rm *RegionManager) MarkGenerated(idx chunk.Index, payload []byte) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	ri := RegionOf(idx)
	region, err := rm.load(ri)
	if err != nil {
		return err
	}
	region.resident[ri.Slot(idx)] = struct{}{}
	region.Stage(idx, payload)
	return nil
}

// UnloadChunk снимает резидентность и ставит нагрузку в очередь на запись
func (rm *RegionManager) UnloadChunk(idx chunk.Index, payload []byte) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	ri := RegionOf(idx)
	region, err := rm.load(ri)
	if err != nil {
		return err
	}
	delete(region.resident, ri.Slot(idx))
	region.Stage(idx, payload)
	return nil
}

// IsOpen истинно, если регион открыт
func (rm *RegionManager) IsOpen(idx RegionIndex) bool {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	_, ok := rm.regions[idx]
	return ok
}

// OpenCount количество открытых регионов
func (rm *RegionManager) OpenCount() int {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	return len(rm.regions)
}

// OpenRegions открытые регионы в детерминированном порядке
func (rm *RegionManager) OpenRegions() []RegionIndex {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	return rm.sortedIndices()
}

// ResidentCount число резидентных чанков региона (0 для закрытого)
func (rm *RegionManager) ResidentCount(idx RegionIndex) int {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	if region, ok := rm.regions[idx]; ok {
		return region.ResidentCount()
	}
	return 0
}

func (rm *RegionManager) sortedIndices() []RegionIndex {
	out := make([]RegionIndex, 0, len(rm.regions))
	for idx := range rm.regions {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

// PruneEmptyRegions сбрасывает и закрывает регионы без резидентных чанков.
// Регион, который не удалось сбросить, остаётся открытым со своими данными.
// Пустые контейнеры (ни одного сохранённого чанка) удаляются.
func (rm *RegionManager) PruneEmptyRegions() (int, error) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	closed := 0
	var errs []error
	for _, idx := range rm.sortedIndices() {
		region := rm.regions[idx]
		if region.ResidentCount() > 0 {
			continue
		}
		if err := rm.closeRegion(region); err != nil {
			errs = append(errs, err)
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

func (rm *RegionManager) closeRegion(region *Region) error {
	if err := region.Flush(); err != nil {
		return err
	}

	empty := region.container.Len() == 0
	if err := region.container.Close(); err != nil {
		return &SerialError{Op: "close", Region: region.Index, Err: err}
	}
	delete(rm.regions, region.Index)

	if empty {
		if err := rm.backend.Remove(region.Index); err != nil {
			rm.logger.Warn("не удалось удалить пустой %s: %v", region.Index, err)
		}
	}
	rm.logger.Debug("регион %s закрыт", region.Index)
	return nil
}

// FlushAll сбрасывает несохранённые данные всех открытых регионов
func (rm *RegionManager) FlushAll() error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	var errs []error
	for _, idx := range rm.sortedIndices() {
		if err := rm.regions[idx].Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CloseRegions сбрасывает и закрывает все регионы; бэкенд остаётся открытым
func (rm *RegionManager) CloseRegions() error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	var errs []error
	for _, idx := range rm.sortedIndices() {
		if err := rm.closeRegion(rm.regions[idx]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close сбрасывает и закрывает все регионы, затем бэкенд
func (rm *RegionManager) Close() error {
	if err := rm.CloseRegions(); err != nil {
		return err
	}
	return rm.backend.Close()
}
