package logging

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// LoggerManager раздаёт логгеры компонентов с общим выводом.
// Создаётся в main и передаётся дальше, а не хранится в глобальной переменной.
type LoggerManager struct {
	mu           sync.RWMutex
	out          io.Writer
	defaultLevel LogLevel
	loggers      map[string]*Logger
}

// NewLoggerManager создаёт менеджер логгеров
func NewLoggerManager(out io.Writer, defaultLevel LogLevel) *LoggerManager {
	return &LoggerManager{
		out:          out,
		defaultLevel: defaultLevel,
		loggers:      make(map[string]*Logger),
	}
}

// GetLogger возвращает логгер для компонента, создавая его при необходимости
func (lm *LoggerManager) GetLogger(component string) *Logger {
	lm.mu.RLock()
	if logger, exists := lm.loggers[component]; exists {
		lm.mu.RUnlock()
		return logger
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	// Проверяем еще раз под блокировкой записи
	if logger, exists := lm.loggers[component]; exists {
		return logger
	}

	logger := New(component, lm.out, lm.defaultLevel)
	lm.loggers[component] = logger
	return logger
}

// ListComponents возвращает список всех зарегистрированных компонентов
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

// SetLogLevel устанавливает уровень логирования для компонента
func (lm *LoggerManager) SetLogLevel(component string, level LogLevel) error {
	lm.mu.RLock()
	logger, exists := lm.loggers[component]
	lm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("logger for component %s not found", component)
	}

	lm.mu.Lock()
	logger.minLevel = level
	lm.mu.Unlock()
	return nil
}
