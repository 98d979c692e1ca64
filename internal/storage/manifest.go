package storage

import (
	"fmt"
	"path/filepath"
	"time"
)

// ManifestFile имя файла глобальных флагов в корне сохранения
const ManifestFile = "manifest.json"

const manifestVersion = 1

// Manifest глобальное состояние между картами: процесс возобновляется
// по нему без загрузки всех карт.
type Manifest struct {
	Version    int            `json:"version"`
	MaxMapID   uint32         `json:"max_map_id"`  // Наибольший когда-либо выделенный id карты
	CurrentMap uint32         `json:"current_map"` // Карта, где находится игрок
	Player     uint64         `json:"player"`      // Сущность игрока в текущей карте
	Flags      map[string]int `json:"flags,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// LoadManifest читает манифест из каталога root. ok=false, если его ещё нет.
func LoadManifest(root string) (Manifest, bool, error) {
	var m Manifest
	ok, err := ReadJSON(filepath.Join(root, ManifestFile), &m)
	if err != nil || !ok {
		return Manifest{}, ok, err
	}
	if m.Version != manifestVersion {
		return Manifest{}, false, fmt.Errorf("%w: версия манифеста %d", ErrCorrupt, m.Version)
	}
	if m.CurrentMap == 0 || m.CurrentMap > m.MaxMapID {
		return Manifest{}, false, fmt.Errorf("%w: текущая карта %d при максимальной %d", ErrCorrupt, m.CurrentMap, m.MaxMapID)
	}
	if m.Flags == nil {
		m.Flags = make(map[string]int)
	}
	return m, true, nil
}

// SaveManifest атомарно записывает манифест
func SaveManifest(root string, m Manifest) error {
	m.Version = manifestVersion
	m.UpdatedAt = time.Now().UTC()
	return WriteJSONAtomic(filepath.Join(root, ManifestFile), m)
}
