// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package logger

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"
)

// stampFormat renders UTC with constant width and microsecond resolution.
const stampFormat = "2006-01-02T15:04:05.000000Z07:00"

// Logger is the shared logging interface used across gravel.
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Panicf(format string, v ...interface{})
	// WithPrefix returns a Logger with the same configuration that
	// prepends prefix to every message.
	WithPrefix(prefix string) Logger
}

type level int

const (
	levelPanic level = iota
	levelError
	levelWarn
	levelInfo
	levelDebug
)

// String returns the fixed-width line prefix for the level.
func (l level) String() string {
	switch l {
	case levelPanic:
		return "PANIC: "
	case levelError:
		return "ERROR: "
	case levelWarn:
		return "WARN:  "
	case levelInfo:
		return "INFO:  "
	}
	return "DEBUG: "
}

// NopLogger discards everything sent to it.
var NopLogger Logger = nopLogger{}

var _ Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Printf(format string, v ...interface{}) {}
func (nopLogger) Debugf(format string, v ...interface{}) {}
func (nopLogger) Infof(format string, v ...interface{})  {}
func (nopLogger) Warnf(format string, v ...interface{})  {}
func (nopLogger) Errorf(format string, v ...interface{}) {}
func (nopLogger) Panicf(format string, v ...interface{}) {}

func (n nopLogger) WithPrefix(prefix string) Logger { return n }

// textLogger writes timestamped, level-prefixed lines to a writer.
// Lines below the configured verbosity are dropped.
type textLogger struct {
	mu        sync.Mutex
	w         io.Writer
	verbosity level
	prefix    string
}

// NewStandardLogger returns a Logger that writes info and above to w.
func NewStandardLogger(w io.Writer) *textLogger {
	return &textLogger{w: w, verbosity: levelInfo}
}

// NewVerboseLogger returns a Logger that also writes debug lines to w.
func NewVerboseLogger(w io.Writer) *textLogger {
	return &textLogger{w: w, verbosity: levelDebug}
}

func (t *textLogger) logf(lv level, format string, v ...interface{}) {
	if lv > t.verbosity {
		return
	}
	msg := fmt.Sprintf(format, v...)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	stamp := time.Now().UTC().Format(stampFormat)

	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "%s %s%s%s", stamp, t.prefix, lv, msg)
}

func (t *textLogger) Printf(format string, v ...interface{}) { t.logf(levelInfo, format, v...) }
func (t *textLogger) Debugf(format string, v ...interface{}) { t.logf(levelDebug, format, v...) }
func (t *textLogger) Infof(format string, v ...interface{})  { t.logf(levelInfo, format, v...) }
func (t *textLogger) Warnf(format string, v ...interface{})  { t.logf(levelWarn, format, v...) }
func (t *textLogger) Errorf(format string, v ...interface{}) { t.logf(levelError, format, v...) }
func (t *textLogger) Panicf(format string, v ...interface{}) { t.logf(levelPanic, format, v...) }

func (t *textLogger) WithPrefix(prefix string) Logger {
	return &textLogger{w: t.w, verbosity: t.verbosity, prefix: prefix}
}

// bufferLogger holds log messages in memory for review, mostly in tests.
// Debug lines are dropped so assertions see the same stream a standard
// logger would emit.
type bufferLogger struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewBufferLogger returns a new instance of bufferLogger.
func NewBufferLogger() *bufferLogger {
	return &bufferLogger{}
}

func (b *bufferLogger) Printf(format string, v ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintf(&b.buf, format, v...)
}

func (b *bufferLogger) Debugf(format string, v ...interface{}) {}

func (b *bufferLogger) Infof(format string, v ...interface{}) {
	b.Printf(levelInfo.String()+format, v...)
}

func (b *bufferLogger) Warnf(format string, v ...interface{}) {
	b.Printf(levelWarn.String()+format, v...)
}

func (b *bufferLogger) Errorf(format string, v ...interface{}) {
	b.Printf(levelError.String()+format, v...)
}

func (b *bufferLogger) Panicf(format string, v ...interface{}) {
	b.Printf(levelPanic.String()+format, v...)
}

func (b *bufferLogger) WithPrefix(prefix string) Logger { return b }

// ReadAll drains and returns everything logged so far.
func (b *bufferLogger) ReadAll() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return io.ReadAll(&b.buf)
}

// Logfer is the part of testing.TB a logfLogger forwards to.
type Logfer interface {
	Logf(format string, v ...interface{})
}

// logfLogger routes every line through a Logf method, so tests can
// collect loader output with testing.T.
type logfLogger struct {
	logf   Logfer
	prefix string
}

// NewLogfLogger returns a Logger forwarding to lf.Logf.
func NewLogfLogger(lf Logfer) Logger {
	return &logfLogger{logf: lf}
}

func (l *logfLogger) Printf(format string, v ...interface{}) {
	l.logf.Logf(l.prefix+format, v...)
}

func (l *logfLogger) Debugf(format string, v ...interface{}) {
	l.Printf(levelDebug.String()+format, v...)
}

func (l *logfLogger) Infof(format string, v ...interface{}) {
	l.Printf(levelInfo.String()+format, v...)
}

func (l *logfLogger) Warnf(format string, v ...interface{}) {
	l.Printf(levelWarn.String()+format, v...)
}

func (l *logfLogger) Errorf(format string, v ...interface{}) {
	l.Printf(levelError.String()+format, v...)
}

func (l *logfLogger) Panicf(format string, v ...interface{}) {
	l.Printf(levelPanic.String()+format, v...)
}

func (l *logfLogger) WithPrefix(prefix string) Logger {
	return &logfLogger{logf: l.logf, prefix: prefix}
}
