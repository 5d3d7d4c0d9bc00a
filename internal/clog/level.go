// Package clog provides leveled operational logging for signrelay.
// User-facing output lives in internal/term.
//
// Levels:
//   - Debug: diagnostic detail, enabled with --debug or log.level=debug
//   - Info: normal relay events (upload, sign, download)
//   - Warn: conditions that do not change the outcome (failed remote cleanup)
//   - Error: failures of a request
//
// Destinations:
//   - File: every enabled level
//   - Stderr: Warn and Error only, and never in daemon mode
package clog

import (
	"fmt"
	"strings"
)

// Level is the severity of a log line.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case level name used in log lines.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a case-insensitive level name.
// An empty string yields LevelInfo.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error", "err":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
