// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package plog is PENUT's ambient logging layer. It mirrors the shape of
// saferwall/pe's internal "log" package (itself modeled on go-kratos'
// log.Logger / log.Helper / log.NewFilter triad): a minimal Logger
// interface callers can adapt any backend to, a level filter, and a Helper
// that adds printf-style convenience on top. It was not included in the
// retrieval pack, so it is reconstructed here in the same idiom rather than
// imported.
package plog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Level is a log severity, ordered least to most severe.
type Level int

// Severity levels, matching the go-kratos ordering.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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

// Logger is the minimal sink PENUT logs through. Callers adapt their own
// backend (zap, zerolog, the standard library, ...) to this interface.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

// stdLogger writes key/value pairs to an io.Writer, one line per call.
type stdLogger struct {
	mu  sync.Mutex
	out io.Writer
}

// NewStdLogger returns a Logger that formats each call as a single line of
// "key=value" pairs written to w.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{out: w}
}

func (l *stdLogger) Log(level Level, keyvals ...interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "level=%s", level)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 < len(keyvals) {
			fmt.Fprintf(l.out, " %v=%v", keyvals[i], keyvals[i+1])
		} else {
			fmt.Fprintf(l.out, " %v=MISSING", keyvals[i])
		}
	}
	fmt.Fprintln(l.out)
	return nil
}

// filter drops log calls below a minimum level.
type filter struct {
	Logger
	level Level
}

// FilterOption configures a level filter built by NewFilter.
type FilterOption func(*filter)

// FilterLevel sets the minimum level that passes through the filter.
func FilterLevel(level Level) FilterOption {
	return func(f *filter) { f.level = level }
}

// NewFilter wraps logger so that only calls at or above the configured
// level (default LevelDebug, i.e. everything) are forwarded.
func NewFilter(logger Logger, opts ...FilterOption) Logger {
	f := &filter{Logger: logger, level: LevelDebug}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.level {
		return nil
	}
	return f.Logger.Log(level, keyvals...)
}

// Helper adds printf-style convenience methods on top of a Logger.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger in a Helper.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

func (h *Helper) log(level Level, format string, args ...interface{}) {
	if h == nil || h.logger == nil {
		return
	}
	h.logger.Log(level, "msg", fmt.Sprintf(format, args...))
}

// Debugf logs at LevelDebug.
func (h *Helper) Debugf(format string, args ...interface{}) { h.log(LevelDebug, format, args...) }

// Infof logs at LevelInfo.
func (h *Helper) Infof(format string, args ...interface{}) { h.log(LevelInfo, format, args...) }

// Warnf logs at LevelWarn.
func (h *Helper) Warnf(format string, args ...interface{}) { h.log(LevelWarn, format, args...) }

// Errorf logs at LevelError.
func (h *Helper) Errorf(format string, args ...interface{}) { h.log(LevelError, format, args...) }

// Default returns a Helper writing to stderr, filtered to warnings and
// above, suitable as the zero-configuration default.
func Default() *Helper {
	return NewHelper(NewFilter(NewStdLogger(os.Stderr), FilterLevel(LevelWarn)))
}
