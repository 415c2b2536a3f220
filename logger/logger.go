/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package logger wraps logrus behind a small interface so components never
// import logrus directly and every log line carries a module/component
// scope as structured fields instead of interpolated text.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type Format string

const (
	FormatText Format = "text"
	FormatJson Format = "json"
)

// Logger is the scoped logging surface every component depends on. With
// adds fields and returns a new Logger; it never mutates the receiver, so a
// component can hold its own scoped Logger without affecting siblings.
type Logger interface {
	With(fields map[string]interface{}) Logger

	Trace(args ...interface{})
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})

	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type wrap struct {
	entry *logrus.Entry
}

// New builds the root Logger. level must parse via logrus.ParseLevel
// ("trace".."panic"); an unparsable level falls back to info. format
// selects the text or json formatter; out defaults to os.Stderr when nil.
func New(level string, format Format, out io.Writer) Logger {
	l := logrus.New()

	if out == nil {
		out = os.Stderr
	}
	l.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if format == FormatJson {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &wrap{entry: logrus.NewEntry(l)}
}

func (w *wrap) With(fields map[string]interface{}) Logger {
	return &wrap{entry: w.entry.WithFields(fields)}
}

func (w *wrap) Trace(args ...interface{}) { w.entry.Trace(args...) }
func (w *wrap) Debug(args ...interface{}) { w.entry.Debug(args...) }
func (w *wrap) Info(args ...interface{})  { w.entry.Info(args...) }
func (w *wrap) Warn(args ...interface{})  { w.entry.Warn(args...) }
func (w *wrap) Error(args ...interface{}) { w.entry.Error(args...) }
func (w *wrap) Fatal(args ...interface{}) { w.entry.Fatal(args...) }

func (w *wrap) Tracef(format string, args ...interface{}) { w.entry.Tracef(format, args...) }
func (w *wrap) Debugf(format string, args ...interface{}) { w.entry.Debugf(format, args...) }
func (w *wrap) Infof(format string, args ...interface{})  { w.entry.Infof(format, args...) }
func (w *wrap) Warnf(format string, args ...interface{})  { w.entry.Warnf(format, args...) }
func (w *wrap) Errorf(format string, args ...interface{}) { w.entry.Errorf(format, args...) }

// Component is sugar for With(map[string]interface{}{"module": module,
// "component": component}) — the scoping every subsystem log line uses.
// A nil l falls back to a default stderr/info logger so components can be
// constructed without a logger wired in (tests, standalone tools).
func Component(l Logger, module, component string) Logger {
	if l == nil {
		l = New("info", FormatText, nil)
	}
	return l.With(map[string]interface{}{
		"module":    module,
		"component": component,
	})
}
