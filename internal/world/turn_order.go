package world

import (
	"container/heap"
	"fmt"
	"sort"
)

// TurnEntry запись очереди ходов для сохранения
type TurnEntry struct {
	ID     EntityID `json:"id"`
	Ticks  int64    `json:"ticks"`
	Paused bool     `json:"paused,omitempty"`
}

type turnItem struct {
	id    EntityID
	due   int64
	index int
}

type turnHeap []*turnItem

func (h turnHeap) Len() int { return len(h) }

func (h turnHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].id < h[j].id
}

func (h turnHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *turnHeap) Push(x any) {
	item := x.(*turnItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *turnHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// TurnScheduler очередь ходов: сколько тиков осталось каждой сущности до хода.
// Активные записи хранят момент хода относительно внутренних часов, поэтому
// Advance не трогает кучу. Приостановленные хранят остаток тиков.
type TurnScheduler struct {
	clock  int64
	queue  turnHeap
	active map[EntityID]*turnItem
	paused map[EntityID]int64
}

// NewTurnScheduler создаёт пустую очередь
func NewTurnScheduler() *TurnScheduler {
	return &TurnScheduler{
		active: make(map[EntityID]*turnItem),
		paused: make(map[EntityID]int64),
	}
}

// Insert ставит сущность в очередь. Повторная вставка считается ошибкой программиста.
func (ts *TurnScheduler) Insert(e EntityID, ticks int64) {
	if ts.IsScheduled(e) {
		panic(fmt.Sprintf("world: сущность %s уже в очереди ходов", e))
	}
	item := &turnItem{id: e, due: ts.clock + ticks}
	heap.Push(&ts.queue, item)
	ts.active[e] = item
}

// Remove убирает сущность из очереди в любом состоянии
func (ts *TurnScheduler) Remove(e EntityID) bool {
	if item, ok := ts.active[e]; ok {
		heap.Remove(&ts.queue, item.index)
		delete(ts.active, e)
		return true
	}
	if _, ok := ts.paused[e]; ok {
		delete(ts.paused, e)
		return true
	}
	return false
}

// Pause переводит активную запись в приостановленные
func (ts *TurnScheduler) Pause(e EntityID) {
	item, ok := ts.active[e]
	if !ok {
		panic(fmt.Sprintf("world: пауза неактивной сущности %s", e))
	}
	heap.Remove(&ts.queue, item.index)
	delete(ts.active, e)
	ts.paused[e] = item.due - ts.clock
}

// Resume возвращает приостановленную запись с сохранённым остатком тиков
func (ts *TurnScheduler) Resume(e EntityID) {
	remaining, ok := ts.paused[e]
	if !ok {
		panic(fmt.Sprintf("world: возобновление не приостановленной сущности %s", e))
	}
	delete(ts.paused, e)
	item := &turnItem{id: e, due: ts.clock + remaining}
	heap.Push(&ts.queue, item)
	ts.active[e] = item
}

// Next активная сущность с наименьшим остатком; при равенстве с наименьшим id
func (ts *TurnScheduler) Next() (EntityID, bool) {
	if len(ts.queue) == 0 {
		return 0, false
	}
	return ts.queue[0].id, true
}

// TicksUntil остаток тиков до хода (может быть отрицательным)
func (ts *TurnScheduler) TicksUntil(e EntityID) (int64, bool) {
	if item, ok := ts.active[e]; ok {
		return item.due - ts.clock, true
	}
	if remaining, ok := ts.paused[e]; ok {
		return remaining, true
	}
	return 0, false
}

// Advance уменьшает остаток всех активных записей на n
func (ts *TurnScheduler) Advance(n int64) {
	ts.clock += n
}

// Reschedule задаёт новый остаток тиков
func (ts *TurnScheduler) Reschedule(e EntityID, ticks int64) {
	if item, ok := ts.active[e]; ok {
		item.due = ts.clock + ticks
		heap.Fix(&ts.queue, item.index)
		return
	}
	if _, ok := ts.paused[e]; ok {
		ts.paused[e] = ticks
		return
	}
	panic(fmt.Sprintf("world: сущности %s нет в очереди ходов", e))
}

func (ts *TurnScheduler) IsScheduled(e EntityID) bool {
	_, active := ts.active[e]
	_, paused := ts.paused[e]
	return active || paused
}

func (ts *TurnScheduler) IsPaused(e EntityID) bool {
	_, ok := ts.paused[e]
	return ok
}

func (ts *TurnScheduler) ActiveLen() int {
	return len(ts.active)
}

func (ts *TurnScheduler) PausedLen() int {
	return len(ts.paused)
}

// Entries снимок очереди по возрастанию id
func (ts *TurnScheduler) Entries() []TurnEntry {
	out := make([]TurnEntry, 0, len(ts.active)+len(ts.paused))
	for e, item := range ts.active {
		out = append(out, TurnEntry{ID: e, Ticks: item.due - ts.clock})
	}
	for e, remaining := range ts.paused {
		out = append(out, TurnEntry{ID: e, Ticks: remaining, Paused: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore заполняет пустую очередь сохранёнными записями
func (ts *TurnScheduler) Restore(entries []TurnEntry) {
	for _, entry := range entries {
		ts.Insert(entry.ID, entry.Ticks)
		if entry.Paused {
			ts.Pause(entry.ID)
		}
	}
}
