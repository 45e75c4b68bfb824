package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level is the verbosity threshold used by the logger.
//
// Lower values are more verbose.
type Level int32

const (
	// LevelTrace enables extremely verbose logs (wire frames, FSM inputs, etc).
	LevelTrace Level = iota
	// LevelDebug enables verbose logs intended for debugging.
	LevelDebug
	// LevelInfo enables informational logs (default).
	LevelInfo
	// LevelWarn enables only warnings and errors.
	LevelWarn
	// LevelError enables only error logs.
	LevelError
)

var (
	level  atomic.Int32
	output = log.New(os.Stderr, "", log.LstdFlags)
)

func init() {
	level.Store(int32(LevelInfo))
}

// ParseLevel parses a log level string into a Level.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

// SetOutput replaces the writer used by the global logger.
func SetOutput(w io.Writer) {
	output.SetOutput(w)
}

// SetFlags sets the underlying log flags used for all output.
func SetFlags(flags int) {
	output.SetFlags(flags)
}

// SetLevel sets the global log level threshold.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// Enabled reports whether a level would be emitted by the current configuration.
func Enabled(l Level) bool {
	return int32(l) >= level.Load()
}

func emit(l Level, tag, format string, args ...any) {
	if !Enabled(l) {
		return
	}
	output.Printf(tag+" "+format, args...)
}

// Tracef logs at TRACE level.
func Tracef(format string, args ...any) {
	emit(LevelTrace, "TRC", format, args...)
}

// Debugf logs at DEBUG level.
func Debugf(format string, args ...any) {
	emit(LevelDebug, "DBG", format, args...)
}

// Infof logs at INFO level.
func Infof(format string, args ...any) {
	emit(LevelInfo, "INF", format, args...)
}

// Warnf logs at WARN level.
func Warnf(format string, args ...any) {
	emit(LevelWarn, "WRN", format, args...)
}

// Errorf logs at ERROR level.
func Errorf(format string, args ...any) {
	emit(LevelError, "ERR", format, args...)
}
