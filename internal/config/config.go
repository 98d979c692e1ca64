package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации симуляции.
type Config struct {
	World     WorldConfig     `yaml:"world"`
	Streaming StreamingConfig `yaml:"streaming"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// WorldConfig описывает стартовую карту
type WorldConfig struct {
	Seed      int64  `yaml:"seed"`
	Generator string `yaml:"generator"`
	Width     int    `yaml:"width"`  // 0 = неограниченный мир
	Height    int    `yaml:"height"` // 0 = неограниченный мир
}

type StreamingConfig struct {
	Radius *int `yaml:"radius"` // nil: не задан, 0: только чанк фокуса
}

type StorageConfig struct {
	SaveDir          string  `yaml:"save_dir"`
	Backend          string  `yaml:"backend"` // file | badger
	CompressionLevel int     `yaml:"compression_level"`
	CompactionFactor float64 `yaml:"compaction_factor"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

const (
	BackendFile   = "file"
	BackendBadger = "badger"

	defaultRadius = 3
)

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		World: WorldConfig{
			Seed:      1337,
			Generator: "perlin",
		},
		Storage: StorageConfig{
			SaveDir:          "saves",
			Backend:          BackendFile,
			CompressionLevel: 2,
			CompactionFactor: 2.0,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// GetSaveDir возвращает директорию сохранений с поддержкой fallback значений
func (s *StorageConfig) GetSaveDir() string {
	return getStringWithEnvFallback(s.SaveDir, "WORLDSTREAM_SAVE_DIR", "saves")
}

// GetRadius возвращает радиус окна стриминга с поддержкой fallback значений
func (s *StreamingConfig) GetRadius() int {
	return getIntWithEnvFallback(s.Radius, "WORLDSTREAM_RADIUS", defaultRadius)
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default.
// Ноль из конфига или env считается заданным значением.
func getIntWithEnvFallback(configValue *int, envVar string, defaultValue int) int {
	if configValue != nil {
		return *configValue
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v >= 0 {
			return v
		}
	}

	return defaultValue
}

func getStringWithEnvFallback(configValue, envVar, defaultValue string) string {
	if configValue != "" {
		return configValue
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultValue
}

// Validate проверяет значения, которые нельзя исправить молча
func (c *Config) Validate() error {
	if c.Streaming.Radius != nil && *c.Streaming.Radius < 0 {
		return fmt.Errorf("streaming.radius не может быть отрицательным: %d", *c.Streaming.Radius)
	}
	if c.World.Width < 0 || c.World.Height < 0 {
		return fmt.Errorf("размеры мира не могут быть отрицательными: %dx%d", c.World.Width, c.World.Height)
	}
	if (c.World.Width == 0) != (c.World.Height == 0) {
		return fmt.Errorf("ограниченный мир требует и width, и height: %dx%d", c.World.Width, c.World.Height)
	}
	switch c.Storage.Backend {
	case "", BackendFile, BackendBadger:
	default:
		return fmt.Errorf("неизвестный storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.CompactionFactor != 0 && c.Storage.CompactionFactor < 1 {
		return fmt.Errorf("storage.compaction_factor должен быть >= 1, получено %v", c.Storage.CompactionFactor)
	}
	return nil
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV WORLDSTREAM_CONFIG, иначе возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("WORLDSTREAM_CONFIG")
		if path == "" {
			return cfg, nil // конфиг не задан, используем дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
