package storage

// Container хранилище полезных нагрузок одного региона, адресуемых слотом.
// Write может откладывать запись индекса до Sync; после успешного Sync
// данные переживают перезапуск, а оборванная запись не портит ранее сохранённые чанки.
type Container interface {
	Read(slot int) ([]byte, bool, error)
	Write(slot int, payload []byte) error
	Sync() error
	Close() error
	// Len количество сохранённых чанков
	Len() int
	// Size занимаемый объём в байтах
	Size() int64
}

// Backend открывает контейнеры регионов одной карты
type Backend interface {
	Open(idx RegionIndex) (Container, error)
	Exists(idx RegionIndex) (bool, error)
	Remove(idx RegionIndex) error
	Close() error
	Kind() string
}
