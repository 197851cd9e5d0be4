// Package elog is the engine's injected logging sink. Components take a
// Logger as a constructor argument rather than reaching for a package-level
// global, so the engine is usable without a terminal attached.
package elog

import (
	"io"
	"log"
)

// Logger is the minimal sink the engine and its components report through.
// It deliberately has no Error level: failures are reported through Warnf,
// and those that abort the download are also returned to the caller as
// errors.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type stdLogger struct {
	info *log.Logger
	warn *log.Logger
}

// NewStd wraps w with two *log.Logger writers, one per level, rather than
// gating everything behind a single verbose toggle.
func NewStd(w io.Writer) Logger {
	return &stdLogger{
		info: log.New(w, "INFO  ", log.LstdFlags),
		warn: log.New(w, "WARN  ", log.LstdFlags),
	}
}

func (l *stdLogger) Infof(format string, args ...any) { l.info.Printf(format, args...) }
func (l *stdLogger) Warnf(format string, args ...any) { l.warn.Printf(format, args...) }

type noop struct{}

// NoOp discards every message. It is the default for components built in
// tests or run without a logger attached.
func NoOp() Logger { return noop{} }

func (noop) Infof(string, ...any) {}
func (noop) Warnf(string, ...any) {}
