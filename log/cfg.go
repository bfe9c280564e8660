package log

import (
	"fmt"
	"path/filepath"
)

// LogCfg represents the logging configuration of the agent.
type LogCfg struct {
	// LogPath specifies the target log file for file-based logging.
	LogPath string `mapstructure:"path"`

	// LogLevel is the minimum level written. Accepts the names understood by ParseLevel
	// when loaded from a config file.
	LogLevel Level `mapstructure:"level"`

	// FileAppender enables writing to LogPath.
	FileAppender bool `mapstructure:"fileAppender"`

	// ConsoleAppender enables human-readable output on stdout.
	ConsoleAppender bool `mapstructure:"consoleAppender"`

	// EnabledCallerInfo adds file:line of the call site to every entry.
	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo"`

	// CallerSkip is the number of extra stack frames skipped when computing caller info.
	CallerSkip int `mapstructure:"callerSkip"`
}

// Validate validates the logging configuration for correctness and consistency.
func (cfg *LogCfg) Validate() error {
	if cfg.LogLevel < TraceLevel || cfg.LogLevel > FatalLevel {
		return fmt.Errorf("invalid log level: %d, must be between %d (Trace) and %d (Fatal)",
			cfg.LogLevel, TraceLevel, FatalLevel)
	}

	if cfg.CallerSkip < 0 {
		return fmt.Errorf("caller skip must be non-negative, got %d", cfg.CallerSkip)
	}

	if cfg.FileAppender && cfg.LogPath == "" {
		return fmt.Errorf("log path cannot be empty when file appender is enabled")
	}

	if cfg.FileAppender {
		cfg.LogPath = filepath.Clean(cfg.LogPath)
	}

	if !cfg.FileAppender && !cfg.ConsoleAppender {
		return fmt.Errorf("at least one appender (file or console) must be enabled")
	}

	return nil
}

// DefaultLogCfg returns the configuration used when none is supplied:
// console output at info level.
func DefaultLogCfg() *LogCfg {
	return &LogCfg{
		LogPath:         "./apmcore.log",
		LogLevel:        InfoLevel,
		ConsoleAppender: true,
	}
}
