// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log provides the small structured-logging facade every component
// in this repository logs through: a Logger sink, a level Filter, and a
// Helper that callers embed instead of calling a global logger directly.
package log

import (
	"fmt"

	"go.uber.org/zap"
)

// Level is a log severity, ordered from most to least verbose.
type Level int8

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

// Logger is the sink every component logs through. Log receives a level
// and alternating key/value pairs, mirroring the shape of structured
// logging libraries in the Go ecosystem (zap's SugaredLogger, kit/log).
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

// stdLogger backs Logger with a zap.Logger, so every message gets zap's
// usual timestamp/caller encoding for free.
type stdLogger struct {
	zl *zap.Logger
}

// NewStdLogger returns a Logger backed by a production zap configuration.
// It never returns an error: a zap construction failure falls back to a
// no-op core rather than panicking a caller that only wanted a logger.
func NewStdLogger() Logger {
	zl, err := zap.NewProduction()
	if err != nil {
		zl = zap.NewNop()
	}
	return &stdLogger{zl: zl}
}

func (s *stdLogger) Log(level Level, keyvals ...interface{}) error {
	fields := make([]zap.Field, 0, len(keyvals)/2)
	msg := ""
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		if key == "msg" {
			msg, _ = keyvals[i+1].(string)
			continue
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	switch level {
	case LevelDebug:
		s.zl.Debug(msg, fields...)
	case LevelInfo:
		s.zl.Info(msg, fields...)
	case LevelWarn:
		s.zl.Warn(msg, fields...)
	default:
		s.zl.Error(msg, fields...)
	}
	return nil
}

// filter wraps a Logger and drops any record below a minimum level.
type filter struct {
	next Logger
	min  Level
}

// FilterOption configures a Filter.
type FilterOption func(*filter)

// FilterLevel sets the minimum level a filtered Logger passes through.
func FilterLevel(level Level) FilterOption {
	return func(f *filter) { f.min = level }
}

// NewFilter returns a Logger that forwards to next only records at or above
// the configured minimum level (LevelError by default).
func NewFilter(next Logger, opts ...FilterOption) Logger {
	f := &filter{next: next, min: LevelError}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.min {
		return nil
	}
	return f.next.Log(level, keyvals...)
}

// Helper is the type components embed to log without depending on Logger
// directly. A nil *Helper is valid and silently discards every call, so
// components can hold one unconditionally.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger in a Helper.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

func (h *Helper) log(level Level, template string, args ...interface{}) {
	if h == nil || h.logger == nil {
		return
	}
	_ = h.logger.Log(level, "msg", fmt.Sprintf(template, args...))
}

func (h *Helper) Debugf(template string, args ...interface{}) { h.log(LevelDebug, template, args...) }
func (h *Helper) Infof(template string, args ...interface{})  { h.log(LevelInfo, template, args...) }
func (h *Helper) Warnf(template string, args ...interface{})  { h.log(LevelWarn, template, args...) }
func (h *Helper) Errorf(template string, args ...interface{}) { h.log(LevelError, template, args...) }
