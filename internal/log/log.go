// Package log is a thin wrapper around logrus, matching the shape the
// teacher's internal/cli/common.CreateLogger hands down to the rest of the
// application: a small leveled interface rather than a bare *logrus.Logger,
// so call sites don't depend on the concrete logging library directly.
package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Modular is the logging surface passed down into the scheduler, the
// partition workers and the façade.
type Modular interface {
	WithFields(fields map[string]any) Modular
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type logger struct {
	entry *logrus.Entry
}

// New builds a Modular logger writing JSON lines to w at the given level
// ("debug", "info", "warn", "error"). An unrecognised level falls back to
// "info", matching logrus's own DefaultLevel behaviour.
func New(w io.Writer, level string) Modular {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return &logger{entry: logrus.NewEntry(l)}
}

// Noop returns a logger writing to io.Discard, useful for tests that don't
// care about log output.
func Noop() Modular {
	return New(io.Discard, "error")
}

// Default returns a logger writing to stderr at info level, the supplier's
// construction-time default when the caller supplies no logger.
func Default() Modular {
	return New(os.Stderr, "info")
}

func (l *logger) WithFields(fields map[string]any) Modular {
	return &logger{entry: l.entry.WithFields(fields)}
}

func (l *logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
