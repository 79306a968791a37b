package util

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

// Logger is the leveled logging handle passed into every component. It wraps
// a pterm logger and an optional tag such as "[tcp]" or "[0a1b2c3d]".
// A nil *Logger discards everything.
type Logger struct {
	base   *pterm.Logger
	level  Level
	prefix string
}

// Level selects how chatty a Logger is.
type Level int

const (
	LevelInfo Level = iota
	LevelDebug
	LevelQuiet // warnings and errors only
)

// NewLogger creates a time-stamped pterm logger writing to w.
func NewLogger(w io.Writer, level Level) *Logger {
	base := pterm.DefaultLogger.WithWriter(w)
	base.ShowTime = true
	base.TimeFormat = "02 Jan 15:04:05"
	base.MaxWidth = 1000

	switch level {
	case LevelDebug:
		base.Level = pterm.LogLevelDebug
	case LevelQuiet:
		base.Level = pterm.LogLevelWarn
	default:
		base.Level = pterm.LogLevelInfo
	}

	return &Logger{base: base, level: level}
}

// Discard returns a Logger that drops all output.
func Discard() *Logger {
	return NewLogger(io.Discard, LevelQuiet)
}

// With returns a child logger whose lines are tagged with "[tag] ".
func (l *Logger) With(format string, args ...interface{}) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		base:   l.base,
		level:  l.level,
		prefix: l.prefix + "[" + fmt.Sprintf(format, args...) + "] ",
	}
}

// DebugEnabled reports whether Debug lines are printed, so callers can skip
// building expensive messages.
func (l *Logger) DebugEnabled() bool {
	return l != nil && l.level == LevelDebug
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.base.Debug(l.prefix + fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.base.Info(l.prefix + fmt.Sprintf(format, args...))
}

func (l *Logger) Success(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.base.Info(l.prefix + fmt.Sprintf(format, args...))
}

func (l *Logger) Warning(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.base.Warn(l.prefix + fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.base.Error(l.prefix + fmt.Sprintf(format, args...))
}
