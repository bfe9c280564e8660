package log

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Logger defines the interface for a logging component, providing methods for
// structured logging at various levels.
type Logger interface {
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
}

// AgentLogger is the Logger implementation returned by NewLogger.
// It owns the log file handle, if any.
type AgentLogger struct {
	zerolog.Logger
	file *os.File
}

var _ Logger = (*AgentLogger)(nil)

var _defaultLogger atomic.Pointer[AgentLogger]

func init() {
	_defaultLogger.Store(New(os.Stderr, InfoLevel))
}

// New creates a logger writing JSON lines to w at the given minimum level.
func New(w io.Writer, level Level) *AgentLogger {
	return &AgentLogger{
		Logger: zerolog.New(w).Level(level.zerologLevel()).With().Timestamp().Logger(),
	}
}

// NewLogger builds a logger from cfg. If cfg is nil the default configuration is used.
func NewLogger(cfg *LogCfg) (*AgentLogger, error) {
	if cfg == nil {
		cfg = DefaultLogCfg()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		writers []io.Writer
		file    *os.File
	)
	if cfg.FileAppender {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.LogPath, err)
		}
		file = f
		writers = append(writers, f)
	}
	if cfg.ConsoleAppender {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05.000"})
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(cfg.LogLevel.zerologLevel()).
		With().Timestamp()
	if cfg.EnabledCallerInfo {
		ctx = ctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + cfg.CallerSkip)
	}

	return &AgentLogger{Logger: ctx.Logger(), file: file}, nil
}

// Close releases the log file, if one was opened.
func (l *AgentLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Initialize configures the default logger with the given configuration.
// If cfg is nil, the default configuration will be used.
func Initialize(cfg *LogCfg) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	SetDefaultLogger(logger)
	return nil
}

// SetDefaultLogger replaces the default logger used by the package-level functions.
func SetDefaultLogger(logger *AgentLogger) {
	if logger == nil {
		return
	}
	_defaultLogger.Store(logger)
}

// Default returns the current default logger.
func Default() *AgentLogger {
	return _defaultLogger.Load()
}

// Close closes the default logger's file.
func Close() error {
	return Default().Close()
}

// Debug creates a new debug-level event on the default logger.
func Debug() *zerolog.Event {
	return Default().Debug()
}

// Info creates a new info-level event on the default logger.
func Info() *zerolog.Event {
	return Default().Info()
}

// Warn creates a new warn-level event on the default logger.
func Warn() *zerolog.Event {
	return Default().Warn()
}

// Error creates a new error-level event on the default logger.
func Error() *zerolog.Event {
	return Default().Error()
}
