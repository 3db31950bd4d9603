// Package monitoring holds the process-wide diagnostic loggers.
package monitoring

import (
	"io"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger or UseLogrus. Tests can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf receives chatty playback diagnostics such as discarded stale loads.
// It is muted until UseLogrus or SetDebugLogger installs a sink.
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// Warnf receives recoverable anomalies found in input files.
var Warnf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	log.Printf("WARN "+format, v...)
}

func noop(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = noop
		return
	}
	Logf = f
}

// SetDebugLogger replaces the debug logger. Passing nil mutes it.
func SetDebugLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Debugf = noop
		return
	}
	Debugf = f
}

// SetWarnLogger replaces the warning logger. Passing nil mutes it.
func SetWarnLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Warnf = noop
		return
	}
	Warnf = f
}

// NewLogger builds a logrus logger writing to w. Level falls back to info when
// it cannot be parsed; format "json" selects the JSON formatter, anything else
// the text formatter.
func NewLogger(level, format string, w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// UseLogrus routes Logf, Debugf and Warnf through l.
func UseLogrus(l *logrus.Logger) {
	if l == nil {
		SetLogger(nil)
		SetDebugLogger(nil)
		SetWarnLogger(nil)
		return
	}
	Logf = l.Infof
	Debugf = l.Debugf
	Warnf = l.Warnf
}
