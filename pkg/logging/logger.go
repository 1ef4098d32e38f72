// Package logging provides the severity-filtered, append-only log sink
// every other component writes through. Lines follow a fixed
// `TIMESTAMP LEVEL op=... path=... decision=... detail=...` shape so a
// test harness can grep decision traces out of them.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level is one of the four severities the driver recognizes.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l Level) tag() string {
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
		return "INFO"
	}
}

// Logger is the driver's structured, append-only log sink. It wraps a
// zerolog.Logger configured with a ConsoleWriter whose time/level/field
// formatting is overridden to produce the fixed line shape above;
// zerolog's own Write path is what guarantees a line is never
// interleaved with another.
type Logger struct {
	zlog   zerolog.Logger
	file   *os.File
	level  Level
	fields map[string]string
}

func newConsoleWriter(w io.Writer) zerolog.ConsoleWriter {
	cw := zerolog.ConsoleWriter{Out: w, NoColor: true}
	cw.PartsOrder = []string{zerolog.MessageFieldName}
	cw.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("%s", i)
	}
	return cw
}

// Open opens path for append and returns a Logger at the given level.
// The caller should treat a non-nil error as a startup error.
func Open(path string, level Level) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	zlog := zerolog.New(newConsoleWriter(f)).Level(level.zerolog())
	return &Logger{zlog: zlog, file: f, level: level}, nil
}

// NewWriter builds a Logger over an arbitrary writer (used by tests and by
// anything that also wants console output).
func NewWriter(w io.Writer, level Level) *Logger {
	zlog := zerolog.New(newConsoleWriter(w)).Level(level.zerolog())
	return &Logger{zlog: zlog, level: level}
}

// Close closes the underlying log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// WithFields returns a child logger that prefixes every line with the
// given constant fields (e.g. a run ID), without touching the receiver.
func (l *Logger) WithFields(fields map[string]string) *Logger {
	merged := make(map[string]string, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{zlog: l.zlog, file: l.file, level: l.level, fields: merged}
}

// line builds the wire format:
// "YYYY-MM-DDTHH:MM:SS.mmmZ LEVEL op=<name> path=<p> decision=<action> detail=<...>"
func (l *Logger) line(level Level, op, path, decision, detail string) string {
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	b.WriteByte(' ')
	b.WriteString(level.tag())
	for k, v := range l.fields {
		fmt.Fprintf(&b, " %s=%s", k, v)
	}
	if op != "" {
		fmt.Fprintf(&b, " op=%s", op)
	}
	if path != "" {
		fmt.Fprintf(&b, " path=%s", path)
	}
	if decision != "" {
		fmt.Fprintf(&b, " decision=%s", decision)
	}
	if detail != "" {
		fmt.Fprintf(&b, " detail=%s", detail)
	}
	return b.String()
}

func (l *Logger) emit(level Level, op, path, decision, detail string) {
	event := l.zlog.WithLevel(level.zerolog())
	// Best-effort: a write failure on the underlying file is swallowed
	// and never cascades into the caller.
	event.Msg(l.line(level, op, path, decision, detail))
}

// Debug logs a bare debug message with no operation context.
func (l *Logger) Debug(msg string) { l.emit(LevelDebug, "", "", "", msg) }

// Info logs a bare info message with no operation context.
func (l *Logger) Info(msg string) { l.emit(LevelInfo, "", "", "", msg) }

// Warn logs a bare warning message with no operation context.
func (l *Logger) Warn(msg string) { l.emit(LevelWarn, "", "", "", msg) }

// Error logs a bare error message with no operation context.
func (l *Logger) Error(msg string) { l.emit(LevelError, "", "", "", msg) }

// Op logs an operation-tagged line: `op=<name> path=<p> decision=<action>
// detail=<...>`, at the given severity.
func (l *Logger) Op(level Level, op, path, decision, detail string) {
	l.emit(level, op, path, decision, detail)
}
