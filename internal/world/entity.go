package world

import "fmt"

// EntityID уникальный в пределах мира идентификатор сущности. 0 не используется.
type EntityID uint64

func (e EntityID) String() string {
	return fmt.Sprintf("#%d", uint64(e))
}

// Kind определяет тип сущности
type Kind string

const (
	KindPlayer   Kind = "player"   // Игрок
	KindCreature Kind = "creature" // Существо
	KindItem     Kind = "item"     // Предмет
)

// Health компонент здоровья; сущность без него считается живой
type Health struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// Speed количество тиков между ходами; 0 означает, что сущность не ходит
type Speed int64

// Bundle набор компонентов сущности вместе с вложенным содержимым.
// Используется для сохранения мира и снапшота при переходе между картами.
type Bundle struct {
	Kind     Kind     `json:"kind"`
	Name     string   `json:"name,omitempty"`
	Health   *Health  `json:"health,omitempty"`
	Speed    Speed    `json:"speed,omitempty"`
	Contents []Bundle `json:"contents,omitempty"`
}

// Equal сравнивает наборы компонентов вместе с содержимым
func (b Bundle) Equal(other Bundle) bool {
	if b.Kind != other.Kind || b.Name != other.Name || b.Speed != other.Speed {
		return false
	}
	if (b.Health == nil) != (other.Health == nil) {
		return false
	}
	if b.Health != nil && *b.Health != *other.Health {
		return false
	}
	if len(b.Contents) != len(other.Contents) {
		return false
	}
	for i := range b.Contents {
		if !b.Contents[i].Equal(other.Contents[i]) {
			return false
		}
	}
	return true
}
