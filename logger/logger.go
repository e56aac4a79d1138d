package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the diagnostic channel used throughout upcheck. Query results go
// to the caller; anything a human should know about a run goes here.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// New returns a logrus-backed Logger writing to stderr at the given level.
// Unknown level strings fall back to info.
func New(level string) Logger {
	return NewWithOutput(level, os.Stderr)
}

// NewWithOutput is New with an explicit sink.
func NewWithOutput(level string, out io.Writer) Logger {
	l := logrus.New()
	l.SetOutput(out)
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		lv = logrus.InfoLevel
	}
	l.SetLevel(lv)
	return l
}

// FromLogrus exposes an existing logrus logger through the Logger interface.
// Tests pair this with the logrus test hook to assert on emitted diagnostics.
func FromLogrus(l *logrus.Logger) Logger {
	return l
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
