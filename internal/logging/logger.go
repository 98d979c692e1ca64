package logging

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strings"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	OFF
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case OFF:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из конфигурации (регистр не важен)
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "OFF", "NONE":
		return OFF, nil
	default:
		return INFO, fmt.Errorf("неизвестный уровень логирования %q", s)
	}
}

// Logger пишет сообщения компонента с минимальным уровнем.
// Логгер передаётся в конструкторы явно, глобального экземпляра нет.
type Logger struct {
	component string
	minLevel  LogLevel
	out       *log.Logger
}

// New создаёт логгер компонента поверх writer
func New(component string, w io.Writer, level LogLevel) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{
		component: component,
		minLevel:  level,
		out:       log.New(w, "", log.LstdFlags),
	}
}

// Nop возвращает логгер, который ничего не пишет
func Nop() *Logger {
	return New("nop", io.Discard, OFF)
}

// With возвращает логгер дочернего компонента с тем же выводом
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{
		component: l.component + "." + component,
		minLevel:  l.minLevel,
		out:       l.out,
	}
}

// Component возвращает имя компонента
func (l *Logger) Component() string {
	return l.component
}

// Enabled сообщает, будет ли записано сообщение уровня level
func (l *Logger) Enabled(level LogLevel) bool {
	return l != nil && level >= l.minLevel && l.minLevel != OFF
}

// Trace логирует сообщение уровня TRACE
func (l *Logger) Trace(format string, args ...interface{}) {
	l.logMessage(TRACE, format, args...)
}

// Debug логирует сообщение уровня DEBUG
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logMessage(DEBUG, format, args...)
}

// Info логирует сообщение уровня INFO
func (l *Logger) Info(format string, args ...interface{}) {
	l.logMessage(INFO, format, args...)
}

// Warn логирует сообщение уровня WARN
func (l *Logger) Warn(format string, args ...interface{}) {
	l.logMessage(WARN, format, args...)
}

// Error логирует сообщение уровня ERROR
func (l *Logger) Error(format string, args ...interface{}) {
	l.logMessage(ERROR, format, args...)
}

func (l *Logger) logMessage(level LogLevel, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	l.out.Printf("[%s] %s: %s", level.String(), l.component, fmt.Sprintf(format, args...))
}

// HexDump создает hex дамп данных
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}

	// Ограничиваем размер дампа до 256 байт
	size := len(data)
	if size > 256 {
		size = 256
	}

	return hex.Dump(data[:size])
}
