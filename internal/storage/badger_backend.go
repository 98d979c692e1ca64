package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/worldstream/internal/logging"
	"github.com/dgraph-io/badger/v3"
)

// BadgerBackend хранит все регионы карты в одной BadgerDB.
// Ключ чанка: region:<x>:<y>:<slot>. Sync пишет все отложенные
// нагрузки региона одной транзакцией.
type BadgerBackend struct {
	db     *badger.DB
	dbPath string
	mutex  sync.RWMutex
	closed bool
	logger *logging.Logger
}

// NewBadgerBackend открывает базу в каталоге dir
func NewBadgerBackend(dir string, logger *logging.Logger) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &BadgerBackend{db: db, dbPath: dir, logger: logger}, nil
}

func regionPrefix(idx RegionIndex) []byte {
	return []byte(fmt.Sprintf("region:%d:%d:", idx.X, idx.Y))
}

func slotKey(idx RegionIndex, slot int) []byte {
	return []byte(fmt.Sprintf("region:%d:%d:%03d", idx.X, idx.Y, slot))
}

func (b *BadgerBackend) Open(idx RegionIndex) (Container, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	c := &badgerContainer{backend: b, region: idx, pending: make(map[int][]byte)}
	if err := c.scan(); err != nil {
		return nil, err
	}
	b.logger.Trace("открыт %s в BadgerDB (%d чанков)", idx, c.count)
	return c, nil
}

func (b *BadgerBackend) Exists(idx RegionIndex) (bool, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if b.closed {
		return false, ErrClosed
	}

	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = regionPrefix(idx)
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Rewind()
		found = it.Valid()
		return nil
	})
	return found, err
}

func (b *BadgerBackend) Remove(idx RegionIndex) error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if b.closed {
		return ErrClosed
	}
	return b.db.DropPrefix(regionPrefix(idx))
}

// Close закрывает базу
func (b *BadgerBackend) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func (b *BadgerBackend) Kind() string {
	return "badger"
}

type badgerContainer struct {
	backend *BadgerBackend
	region  RegionIndex
	pending map[int][]byte
	count   int
	size    int64
	closed  bool
}

func (c *badgerContainer) scan() error {
	c.count = 0
	c.size = 0
	return c.backend.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = regionPrefix(c.region)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			c.count++
			c.size += it.Item().ValueSize()
		}
		return nil
	})
}

func (c *badgerContainer) Read(slot int) ([]byte, bool, error) {
	if c.closed {
		return nil, false, ErrClosed
	}
	if payload, ok := c.pending[slot]; ok {
		return payload, true, nil
	}

	var data []byte
	err := c.backend.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(slotKey(c.region, slot))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	// Отсутствующий ключ означает, что чанк ещё не сохранялся
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return data, true, nil
}

func (c *badgerContainer) Write(slot int, payload []byte) error {
	if c.closed {
		return ErrClosed
	}
	if len(payload) == 0 {
		return fmt.Errorf("пустая полезная нагрузка для слота %d", slot)
	}
	c.pending[slot] = payload
	return nil
}

func (c *badgerContainer) Sync() error {
	if c.closed {
		return ErrClosed
	}
	if len(c.pending) == 0 {
		return nil
	}

	err := c.backend.db.Update(func(txn *badger.Txn) error {
		for slot, payload := range c.pending {
			if err := txn.Set(slotKey(c.region, slot), payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}

	c.pending = make(map[int][]byte)
	return c.scan()
}

func (c *badgerContainer) Close() error {
	if c.closed {
		return nil
	}
	err := c.Sync()
	c.closed = true
	return err
}

func (c *badgerContainer) Len() int {
	n := c.count
	for slot := range c.pending {
		if ok, _ := c.stored(slot); !ok {
			n++
		}
	}
	return n
}

func (c *badgerContainer) stored(slot int) (bool, error) {
	err := c.backend.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(slotKey(c.region, slot))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (c *badgerContainer) Size() int64 {
	return c.size
}
