package log

import (
	"strings"

	"github.com/rs/zerolog"
)

// Level defines the logging levels used by the agent core.
// Levels are ordered by severity, with higher values indicating more critical issues.
type Level int8

const (
	// TraceLevel provides extremely detailed diagnostic information, such as every
	// segment visited during a transaction walk.
	TraceLevel Level = iota + 1

	// DebugLevel contains debugging information useful during development and troubleshooting.
	DebugLevel

	// InfoLevel contains general informational messages about normal operation.
	InfoLevel

	// WarnLevel indicates recoverable problems: skipped subtrees, failed recordings.
	WarnLevel

	// ErrorLevel indicates serious problems that require attention.
	ErrorLevel

	// FatalLevel terminates the process after the message is written.
	// The metrics core never logs at this level.
	FatalLevel
)

// String returns the upper-case name of the level.
func (l Level) String() string {
	switch l {
	case TraceLevel:
		return "TRACE"
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name to a Level.
// Returns InfoLevel for unrecognized input.
func ParseLevel(levelStr string) Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return TraceLevel
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	}
	return InfoLevel
}

// zerologLevel maps a Level onto the backend's level type.
func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case TraceLevel:
		return zerolog.TraceLevel
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
