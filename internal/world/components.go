package world

import "sort"

// ComponentStore типизированное хранилище одного компонента по сущностям
type ComponentStore[T any] struct {
	data map[EntityID]*T
}

func NewComponentStore[T any]() *ComponentStore[T] {
	return &ComponentStore[T]{data: make(map[EntityID]*T)}
}

// Set сохраняет копию значения
func (s *ComponentStore[T]) Set(id EntityID, v T) {
	s.data[id] = &v
}

func (s *ComponentStore[T]) Get(id EntityID) (T, bool) {
	c, ok := s.data[id]
	if !ok {
		var zero T
		return zero, false
	}
	return *c, true
}

// GetMut возвращает указатель на хранимое значение или nil
func (s *ComponentStore[T]) GetMut(id EntityID) *T {
	return s.data[id]
}

func (s *ComponentStore[T]) Has(id EntityID) bool {
	_, ok := s.data[id]
	return ok
}

func (s *ComponentStore[T]) Remove(id EntityID) bool {
	_, ok := s.data[id]
	delete(s.data, id)
	return ok
}

func (s *ComponentStore[T]) Len() int {
	return len(s.data)
}

// Each обходит компоненты по возрастанию id
func (s *ComponentStore[T]) Each(fn func(EntityID, *T)) {
	ids := make([]EntityID, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sortIDs(ids)
	for _, id := range ids {
		fn(id, s.data[id])
	}
}

func sortIDs(ids []EntityID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
