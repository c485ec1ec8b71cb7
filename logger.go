package jsonrpc

import (
	"fmt"
	"io"
	"os"
)

// Logger defines the interface for logging operations
type Logger interface {
	// Errorf logs an error message with formatting
	Errorf(format string, args ...interface{})
}

// LeveledLogger extends Logger with the info/debug levels the broker uses
// for operational logging (connect/disconnect, transport lifecycle).
type LeveledLogger interface {
	Logger
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Level controls which LeveledLogger calls are actually written.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps the MCP_BROKER_LOG_LEVEL values to a Level, defaulting to
// LevelInfo for anything unrecognized.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// StdLogger is a simple logger that writes to an io.Writer
type StdLogger struct {
	writer io.Writer
	level  Level
}

// Errorf implements Logger.Errorf by writing a formatted error message to the writer
func (l *StdLogger) Errorf(format string, args ...interface{}) {
	l.writeAt(LevelError, "ERROR", format, args...)
}

// Infof writes an informational line when the configured level permits it.
func (l *StdLogger) Infof(format string, args ...interface{}) {
	l.writeAt(LevelInfo, "INFO", format, args...)
}

// Debugf writes a debug line when the configured level permits it.
func (l *StdLogger) Debugf(format string, args ...interface{}) {
	l.writeAt(LevelDebug, "DEBUG", format, args...)
}

func (l *StdLogger) writeAt(level Level, tag, format string, args ...interface{}) {
	if l.writer == nil || level < l.level {
		return
	}
	fmt.Fprintf(l.writer, tag+": "+format+"\n", args...)
}

// NewStdLogger creates a new StdLogger with the specified writer
// If writer is nil, os.Stderr is used as the default
func NewStdLogger(writer io.Writer) *StdLogger {
	if writer == nil {
		writer = os.Stderr
	}
	return &StdLogger{
		writer: writer,
		level:  LevelInfo,
	}
}

// NewLeveledLogger creates a StdLogger writing to writer (os.Stderr if nil)
// that only emits messages at or above level.
func NewLeveledLogger(writer io.Writer, level Level) *StdLogger {
	l := NewStdLogger(writer)
	l.level = level
	return l
}

// DefaultLogger is the default logger instance that writes to os.Stderr
var DefaultLogger Logger = NewStdLogger(os.Stderr)
