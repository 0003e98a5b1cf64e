// Package logger wraps logrus with the small leveled-logging surface the
// rest of this module consumes (Debugf/Infof/Warnf/Errorf), plus With for
// attaching structured fields such as peer/seq/event.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a structured logger bound to a base set of fields. Calling
// With returns a derived Logger carrying additional fields; the base
// Logger itself is safe for concurrent use because logrus.Logger is.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger writing to stderr at the given level ("debug",
// "info", "warn", "error"). An unrecognized level falls back to "info".
func New(level string) *Logger {
	base := logrus.New()
	base.Out = os.Stderr
	base.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)
	return &Logger{entry: logrus.NewEntry(base)}
}

// With returns a derived Logger that attaches the given key/value pairs to
// every message it logs. kv must alternate string keys and values.
func (l *Logger) With(kv ...interface{}) *Logger {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return &Logger{entry: l.entry.WithFields(fields)}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Fatalf logs at fatal level and exits the process. Reserved for cmd/
// entrypoints that cannot proceed past a startup failure.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}
