// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package gaslog provides the structured, leveled logging surface every
// package in this module imports, mirroring the call shape the teacher
// lineage's own (unretrieved) "log" package exposes: Trace/Debug/Info/
// Warn/Error/Crit, each taking a message followed by alternating
// key/value pairs. The concrete engine is logrus.
package gaslog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// root is the process-wide logger. Callers that need an isolated logger
// (tests, multiple embedders in one process) should use New instead.
var root = New()

// Logger wraps a logrus.Entry to provide the key/value call surface.
type Logger struct {
	entry *logrus.Entry
}

// New creates a standalone Logger writing logfmt-style output to stderr.
func New() *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		DisableColors:   false,
		QuoteEmptyFields: true,
	})
	l.SetLevel(logrus.DebugLevel)
	return &Logger{entry: logrus.NewEntry(l)}
}

// New returns a child logger with ctx key/value pairs attached to every
// subsequent message, following the teacher's log.New(ctx ...interface{})
// idiom (e.g. consensus/pob/pob.go's log.New("engine", "pob")).
func (l *Logger) New(ctx ...interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fieldsFrom(ctx))}
}

func fieldsFrom(ctx []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		key, ok := ctx[i].(string)
		if !ok {
			continue
		}
		f[key] = ctx[i+1]
	}
	return f
}

func (l *Logger) Trace(msg string, ctx ...interface{}) {
	l.entry.WithFields(fieldsFrom(ctx)).Trace(msg)
}
func (l *Logger) Debug(msg string, ctx ...interface{}) {
	l.entry.WithFields(fieldsFrom(ctx)).Debug(msg)
}
func (l *Logger) Info(msg string, ctx ...interface{}) {
	l.entry.WithFields(fieldsFrom(ctx)).Info(msg)
}
func (l *Logger) Warn(msg string, ctx ...interface{}) {
	l.entry.WithFields(fieldsFrom(ctx)).Warn(msg)
}
func (l *Logger) Error(msg string, ctx ...interface{}) {
	l.entry.WithFields(fieldsFrom(ctx)).Error(msg)
}

// Crit logs at the highest severity and terminates the process, matching
// the teacher lineage's log.Crit (used for unrecoverable startup failures,
// never for ordinary per-dispatch faults — spec.md §7's internal
// invariant violations abort the block, they do not call Crit).
func (l *Logger) Crit(msg string, ctx ...interface{}) {
	l.entry.WithFields(fieldsFrom(ctx)).Fatal(msg)
}

// Package-level convenience functions operating on the root logger.
func Trace(msg string, ctx ...interface{}) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { root.Crit(msg, ctx...) }

// Root returns the process-wide root logger.
func Root() *Logger { return root }
