package world

import (
	"fmt"

	"github.com/annel0/worldstream/internal/vec"
	"github.com/annel0/worldstream/internal/world/chunk"
)

// PlaceKind состояние местоположения сущности
type PlaceKind uint8

const (
	PlaceUnloaded PlaceKind = iota // Чанк не загружен, сущность заморожена
	PlaceAt                        // Активна на позиции
	PlaceIn                        // Вложена в другую сущность
)

func (k PlaceKind) String() string {
	switch k {
	case PlaceUnloaded:
		return "unloaded"
	case PlaceAt:
		return "at"
	case PlaceIn:
		return "in"
	default:
		return fmt.Sprintf("place(%d)", uint8(k))
	}
}

// Place местоположение сущности. Pos значим для Unloaded и At, Container для In.
type Place struct {
	Kind      PlaceKind `json:"kind"`
	Pos       vec.Vec2  `json:"pos"`
	Container EntityID  `json:"container,omitempty"`
}

func At(pos vec.Vec2) Place       { return Place{Kind: PlaceAt, Pos: pos} }
func Unloaded(pos vec.Vec2) Place { return Place{Kind: PlaceUnloaded, Pos: pos} }
func In(container EntityID) Place { return Place{Kind: PlaceIn, Container: container} }

func (p Place) String() string {
	if p.Kind == PlaceIn {
		return fmt.Sprintf("in(%s)", p.Container)
	}
	return fmt.Sprintf("%s%s", p.Kind, p.Pos)
}

// SpatialIndex двусторонняя связь сущностей и их мест.
// Сущности At и Unloaded дополнительно разложены по чанкам.
type SpatialIndex struct {
	places map[EntityID]Place
	active map[chunk.Index]map[EntityID]struct{}
	frozen map[chunk.Index]map[EntityID]struct{}
}

// NewSpatialIndex создаёт пустой индекс
func NewSpatialIndex() *SpatialIndex {
	return &SpatialIndex{
		places: make(map[EntityID]Place),
		active: make(map[chunk.Index]map[EntityID]struct{}),
		frozen: make(map[chunk.Index]map[EntityID]struct{}),
	}
}

func (si *SpatialIndex) bucket(kind PlaceKind) map[chunk.Index]map[EntityID]struct{} {
	switch kind {
	case PlaceAt:
		return si.active
	case PlaceUnloaded:
		return si.frozen
	}
	return nil
}

func (si *SpatialIndex) unbucket(e EntityID) {
	old, ok := si.places[e]
	if !ok {
		return
	}
	if b := si.bucket(old.Kind); b != nil {
		idx := chunk.FromWorldPos(old.Pos)
		delete(b[idx], e)
		if len(b[idx]) == 0 {
			delete(b, idx)
		}
	}
}

func (si *SpatialIndex) set(e EntityID, p Place) {
	si.unbucket(e)
	si.places[e] = p
	if b := si.bucket(p.Kind); b != nil {
		idx := chunk.FromWorldPos(p.Pos)
		if b[idx] == nil {
			b[idx] = make(map[EntityID]struct{})
		}
		b[idx][e] = struct{}{}
	}
}

func (si *SpatialIndex) insert(e EntityID, p Place) {
	if _, ok := si.places[e]; ok {
		panic(fmt.Sprintf("world: сущность %s уже в пространственном индексе", e))
	}
	si.set(e, p)
}

func (si *SpatialIndex) mustGet(e EntityID) Place {
	p, ok := si.places[e]
	if !ok {
		panic(fmt.Sprintf("world: сущности %s нет в пространственном индексе", e))
	}
	return p
}

// InsertAt добавляет активную сущность на позицию
func (si *SpatialIndex) InsertAt(e EntityID, pos vec.Vec2) {
	si.insert(e, At(pos))
}

// InsertUnloaded добавляет замороженную сущность
func (si *SpatialIndex) InsertUnloaded(e EntityID, pos vec.Vec2) {
	si.insert(e, Unloaded(pos))
}

// InsertIn помещает сущность внутрь контейнера
func (si *SpatialIndex) InsertIn(e, container EntityID) {
	si.mustGet(container)
	if e == container {
		panic(fmt.Sprintf("world: сущность %s не может содержать саму себя", e))
	}
	si.insert(e, In(container))
}

// MoveTo переносит сущность на позицию как активную
func (si *SpatialIndex) MoveTo(e EntityID, pos vec.Vec2) {
	si.mustGet(e)
	si.set(e, At(pos))
}

// MoveInto перекладывает сущность в контейнер. Цикл вложенности считается ошибкой программиста.
func (si *SpatialIndex) MoveInto(e, container EntityID) {
	si.mustGet(e)
	si.mustGet(container)
	if e == container || si.contains(e, container) {
		panic(fmt.Sprintf("world: вложение %s в %s образует цикл", e, container))
	}
	si.set(e, In(container))
}

// Place возвращает место сущности
func (si *SpatialIndex) Place(e EntityID) (Place, bool) {
	p, ok := si.places[e]
	return p, ok
}

func (si *SpatialIndex) Has(e EntityID) bool {
	_, ok := si.places[e]
	return ok
}

// Remove удаляет сущность и всё, что транзитивно в ней лежит.
// Возвращает удалённые id по возрастанию. Отсутствие сущности считается ошибкой программиста.
func (si *SpatialIndex) Remove(e EntityID) []EntityID {
	si.mustGet(e)

	removed := append([]EntityID{e}, si.Contents(e)...)
	for _, id := range removed {
		si.unbucket(id)
		delete(si.places, id)
	}
	sortIDs(removed)
	return removed
}

// Freeze At -> Unloaded на той же позиции. Для отсутствующих и уже замороженных ничего не делает.
func (si *SpatialIndex) Freeze(e EntityID) bool {
	p, ok := si.places[e]
	if !ok || p.Kind != PlaceAt {
		return false
	}
	si.set(e, Unloaded(p.Pos))
	return true
}

// Unfreeze Unloaded -> At; для остальных состояний ничего не делает
func (si *SpatialIndex) Unfreeze(e EntityID) bool {
	p, ok := si.places[e]
	if !ok || p.Kind != PlaceUnloaded {
		return false
	}
	si.set(e, At(p.Pos))
	return true
}

// EntitiesAt активные сущности на позиции
func (si *SpatialIndex) EntitiesAt(pos vec.Vec2) []EntityID {
	var out []EntityID
	for e := range si.active[chunk.FromWorldPos(pos)] {
		if si.places[e].Pos == pos {
			out = append(out, e)
		}
	}
	sortIDs(out)
	return out
}

// EntitiesIn прямое содержимое контейнера.
// Линейный проход по всему индексу: контейнеры малы, отдельный обратный индекс не ведётся.
func (si *SpatialIndex) EntitiesIn(container EntityID) []EntityID {
	var out []EntityID
	for e, p := range si.places {
		if p.Kind == PlaceIn && p.Container == container {
			out = append(out, e)
		}
	}
	sortIDs(out)
	return out
}

// Contents транзитивное содержимое без самого контейнера
func (si *SpatialIndex) Contents(container EntityID) []EntityID {
	seen := map[EntityID]bool{container: true}
	queue := []EntityID{container}
	var out []EntityID

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range si.EntitiesIn(cur) {
			if seen[e] {
				continue
			}
			seen[e] = true
			out = append(out, e)
			queue = append(queue, e)
		}
	}
	sortIDs(out)
	return out
}

// contains проверяет, лежит ли target транзитивно внутри container
func (si *SpatialIndex) contains(container, target EntityID) bool {
	for _, e := range si.Contents(container) {
		if e == target {
			return true
		}
	}
	return false
}

// Root поднимается по цепочке In до сущности с позицией.
// Для цикла или оборванной цепочки возвращает false.
func (si *SpatialIndex) Root(e EntityID) (EntityID, Place, bool) {
	seen := make(map[EntityID]bool)
	for {
		p, ok := si.places[e]
		if !ok || seen[e] {
			return 0, Place{}, false
		}
		if p.Kind != PlaceIn {
			return e, p, true
		}
		seen[e] = true
		e = p.Container
	}
}

// ActiveInChunk сущности At внутри чанка
func (si *SpatialIndex) ActiveInChunk(idx chunk.Index) []EntityID {
	return collect(si.active[idx])
}

// FrozenInChunk сущности Unloaded внутри чанка
func (si *SpatialIndex) FrozenInChunk(idx chunk.Index) []EntityID {
	return collect(si.frozen[idx])
}

// Entities все сущности по возрастанию id
func (si *SpatialIndex) Entities() []EntityID {
	out := make([]EntityID, 0, len(si.places))
	for e := range si.places {
		out = append(out, e)
	}
	sortIDs(out)
	return out
}

func (si *SpatialIndex) Len() int {
	return len(si.places)
}

func collect(set map[EntityID]struct{}) []EntityID {
	out := make([]EntityID, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sortIDs(out)
	return out
}
