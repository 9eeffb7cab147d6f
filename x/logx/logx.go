// Package logx builds the firmware's structured logger.
package logx

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a text logger without timestamps; the console has its own clock.
// An unknown level falls back to info.
func New(level string, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stderr
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	return &logrus.Logger{
		Formatter: &logrus.TextFormatter{DisableTimestamp: true},
		Level:     lvl,
		Out:       out,
		Hooks:     make(logrus.LevelHooks),
	}
}

// Service derives a child entry tagged with the service name.
func Service(l logrus.FieldLogger, name string) logrus.FieldLogger {
	if l == nil {
		l = Discard()
	}
	return l.WithField("svc", name)
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	l := New("panic", io.Discard)
	return l
}
