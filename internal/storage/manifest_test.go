package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestRoundTrip(t *testing.T) {
	root := t.TempDir()

	_, ok, err := LoadManifest(root)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SaveManifest(root, Manifest{
		MaxMapID:   6,
		CurrentMap: 5,
		Player:     12,
		Flags:      map[string]int{"depth": 2},
	}))

	m, ok, err := LoadManifest(root)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(6), m.MaxMapID)
	assert.Equal(t, uint32(5), m.CurrentMap)
	assert.Equal(t, uint64(12), m.Player)
	assert.Equal(t, 2, m.Flags["depth"])
	assert.False(t, m.UpdatedAt.IsZero())
}

func TestManifestRejectsInconsistentState(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, SaveManifest(root, Manifest{MaxMapID: 2, CurrentMap: 3}))

	_, _, err := LoadManifest(root)
	assert.ErrorIs(t, err, ErrCorrupt)

	require.NoError(t, os.WriteFile(filepath.Join(root, ManifestFile), []byte(`{"version":9,"max_map_id":1,"current_map":1}`), 0o644))
	_, _, err = LoadManifest(root)
	assert.ErrorIs(t, err, ErrCorrupt)
}
