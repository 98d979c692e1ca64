package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutPath(t *testing.T) {
	t.Setenv("WORLDSTREAM_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendFile, cfg.Storage.Backend)
	assert.Equal(t, "perlin", cfg.World.Generator)
	assert.Nil(t, cfg.Streaming.Radius)
	assert.Equal(t, defaultRadius, cfg.Streaming.GetRadius())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.yaml")
	data := []byte(`
world:
  seed: 42
  generator: flat
  width: 128
  height: 64
streaming:
  radius: 5
storage:
  save_dir: /tmp/saves
  backend: badger
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.World.Seed)
	assert.Equal(t, "flat", cfg.World.Generator)
	assert.Equal(t, 128, cfg.World.Width)
	assert.Equal(t, 64, cfg.World.Height)
	assert.Equal(t, 5, cfg.Streaming.GetRadius())
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/saves", cfg.Storage.GetSaveDir())
	// незаданные поля остаются по умолчанию
	assert.Equal(t, 2.0, cfg.Storage.CompactionFactor)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: mysql\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("WORLDSTREAM_RADIUS", "7")
	t.Setenv("WORLDSTREAM_SAVE_DIR", "/data/worlds")

	var s StreamingConfig
	assert.Equal(t, 7, s.GetRadius())

	var st StorageConfig
	assert.Equal(t, "/data/worlds", st.GetSaveDir())

	s.Radius = intPtr(2)
	assert.Equal(t, 2, s.GetRadius(), "значение из конфига важнее env")

	s.Radius = intPtr(0)
	assert.Equal(t, 0, s.GetRadius(), "нулевой радиус задан явно")

	t.Setenv("WORLDSTREAM_RADIUS", "0")
	var unset StreamingConfig
	assert.Equal(t, 0, unset.GetRadius(), "ноль из env тоже допустим")
}

func TestValidateBounds(t *testing.T) {
	cfg := Default()
	cfg.World.Width = 10
	assert.Error(t, cfg.Validate())

	cfg.World.Height = 10
	assert.NoError(t, cfg.Validate())

	cfg.Streaming.Radius = intPtr(0)
	assert.NoError(t, cfg.Validate())

	cfg.Streaming.Radius = intPtr(-1)
	assert.Error(t, cfg.Validate())
}

func TestLoadZeroRadius(t *testing.T) {
	path := filepath.Join(t.TempDir(), "focal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("streaming:\n  radius: 0\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Streaming.Radius)
	assert.Equal(t, 0, cfg.Streaming.GetRadius())
}

func intPtr(v int) *int {
	return &v
}
