// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package esdm

import (
	"bytes"
	"io"

	log "github.com/sirupsen/logrus"
)

// Logger is the logging contract used throughout the esdm package. It is
// satisfied by *logrus.Logger, so callers may plug in their own configured
// instance instead of accepting the package defaults.
type Logger interface {
	Info(...interface{})
	Warn(...interface{})
	Debug(...interface{})
	Error(...interface{})
	Infof(string, ...interface{})
	Warnf(string, ...interface{})
	Debugf(string, ...interface{})
	Errorf(string, ...interface{})
	SetLevel(level log.Level)
	GetLevel() log.Level
	SetOutput(writer io.Writer)
	SetFormatter(formatter log.Formatter)
	WithField(key string, value interface{}) *log.Entry
}

// NewLogger returns a logrus-backed Logger with the package's default
// formatter and level (info).
func NewLogger() Logger {
	l := log.New()
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return l
}

// NewNullLogger returns a Logger that discards all output; used as the
// default for components that receive no explicit logger, and useful in
// tests that don't want log noise.
func NewNullLogger() Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

// NewBufferLogger returns a Logger that writes all output into b, useful
// for tests that assert on emitted log lines.
func NewBufferLogger(b *bytes.Buffer) Logger {
	l := log.New()
	l.SetOutput(b)
	return l
}
