// Package logging provides the leveled logger used across meshy, backed by
// logrus the same way the rest of the dependency stack favors real
// ecosystem libraries over hand-rolled wrappers.
package logging

import (
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Logger is the leveled sink every meshy component logs through.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	// ToggleDebug enables or disables Debug/Debugf output and returns the
	// new state, mirroring the original's runtime -v toggle.
	ToggleDebug(enabled bool) bool
}

// logrusLogger adapts a *logrus.Entry to Logger, with debug output gated by
// a runtime-togglable flag so -v and BE_VERBOSE can be applied after
// construction.
type logrusLogger struct {
	entry *logrus.Entry
	debug atomic.Bool
}

// New builds the default Logger, tagging every line with the node's role
// and port the way the original prefixed every debug line with
// "Node <role> <port>: ".
func New(rolePrefix string, verbose bool) Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	// Debug lines are gated by l.debug, so logrus itself must pass them.
	base.SetLevel(logrus.DebugLevel)

	l := &logrusLogger{entry: base.WithField("node", rolePrefix)}
	l.debug.Store(verbose)
	return l
}

func (l *logrusLogger) Debug(args ...interface{}) {
	if l.debug.Load() {
		l.entry.Debug(args...)
	}
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) {
	if l.debug.Load() {
		l.entry.Debugf(format, args...)
	}
}

func (l *logrusLogger) Info(args ...interface{})                 { l.entry.Info(args...) }
func (l *logrusLogger) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warn(args ...interface{})                 { l.entry.Warn(args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Error(args ...interface{})                { l.entry.Error(args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *logrusLogger) Fatal(args ...interface{}) {
	l.entry.Error(args...)
	os.Exit(1)
}

func (l *logrusLogger) Fatalf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
	os.Exit(1)
}

func (l *logrusLogger) ToggleDebug(enabled bool) bool {
	l.debug.Store(enabled)
	return enabled
}

// Nop is a Logger that discards everything, used as a zero-friction default
// in tests that do not care about log output.
type nopLogger struct{}

// Nop returns a Logger that discards all output except Fatal, which still
// terminates the process (matching the interface contract).
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debug(args ...interface{})                  {}
func (nopLogger) Debugf(format string, args ...interface{})  {}
func (nopLogger) Info(args ...interface{})                   {}
func (nopLogger) Infof(format string, args ...interface{})   {}
func (nopLogger) Warn(args ...interface{})                   {}
func (nopLogger) Warnf(format string, args ...interface{})   {}
func (nopLogger) Error(args ...interface{})                  {}
func (nopLogger) Errorf(format string, args ...interface{})  {}
func (nopLogger) Fatal(args ...interface{})                  { os.Exit(1) }
func (nopLogger) Fatalf(format string, args ...interface{})  { os.Exit(1) }
func (nopLogger) ToggleDebug(enabled bool) bool              { return enabled }
