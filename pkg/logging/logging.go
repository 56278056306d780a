// Package logging provides the small logger contract used across the
// datastore packages plus adapters for zerolog and zap.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.uber.org/zap"
)

// Level mirrors the usual severity ladder.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel converts a config string into a Level, defaulting to info.
func ParseLevel(value string) Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Event describes a single log entry.
type Event struct {
	Level     Level
	Component string
	Message   string
	Fields    map[string]any
	Err       error
}

// Logger records events.
type Logger interface {
	Log(Event)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(Event)

// Log implements Logger.
func (f LoggerFunc) Log(event Event) {
	if f != nil {
		f(event)
	}
}

type nopLogger struct{}

func (nopLogger) Log(Event) {}

// Nop returns a logger that discards every event.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns logger, or a no-op logger when logger is nil.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return nopLogger{}
	}
	return logger
}

type zerologLogger struct {
	logger zerolog.Logger
}

// Zerolog adapts a zerolog.Logger.
func Zerolog(logger zerolog.Logger) Logger {
	return zerologLogger{logger: logger}
}

func (l zerologLogger) Log(event Event) {
	var entry *zerolog.Event
	switch event.Level {
	case LevelDebug:
		entry = l.logger.Debug()
	case LevelWarn:
		entry = l.logger.Warn()
	case LevelError:
		entry = l.logger.Error()
	default:
		entry = l.logger.Info()
	}
	if event.Component != "" {
		entry = entry.Str("component", event.Component)
	}
	if len(event.Fields) > 0 {
		entry = entry.Fields(event.Fields)
	}
	if event.Err != nil {
		entry = entry.Err(event.Err)
	}
	entry.Msg(event.Message)
}

type zapLogger struct {
	logger *zap.Logger
}

// Zap adapts a zap.Logger. A nil logger is replaced by zap.NewNop.
func Zap(logger *zap.Logger) Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return zapLogger{logger: logger}
}

func (l zapLogger) Log(event Event) {
	fields := make([]zap.Field, 0, len(event.Fields)+2)
	if event.Component != "" {
		fields = append(fields, zap.String("component", event.Component))
	}
	for key, value := range event.Fields {
		fields = append(fields, zap.Any(key, value))
	}
	if event.Err != nil {
		fields = append(fields, zap.Error(event.Err))
	}
	switch event.Level {
	case LevelDebug:
		l.logger.Debug(event.Message, fields...)
	case LevelWarn:
		l.logger.Warn(event.Message, fields...)
	case LevelError:
		l.logger.Error(event.Message, fields...)
	default:
		l.logger.Info(event.Message, fields...)
	}
}

// NewZerolog builds a zerolog.Logger for the given level and format
// ("json" or "console"). A nil writer logs to stderr.
func NewZerolog(level, format string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(zerologLevel(ParseLevel(level)))
}

// New builds a Logger backed by zerolog.
func New(level, format string, w io.Writer) Logger {
	return Zerolog(NewZerolog(level, format, w))
}

func zerologLevel(level Level) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
