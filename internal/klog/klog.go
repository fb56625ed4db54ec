// Package klog provides the leveled logging calls used throughout the
// kernel. It wraps logrus the way runsc/boot and runsc/cli do, but exposes
// the call shape (Debugf/Infof/Warningf) that gVisor's own pkg/log
// expects, so call sites elsewhere in this tree read the same regardless
// of which logging backend ends up underneath.
package klog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the minimum level that will be emitted. level follows
// logrus's naming: "debug", "info", "warn", "error".
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	std.SetLevel(lvl)
	return nil
}

// Debugf logs at debug level.
func Debugf(format string, args ...any) { std.Debugf(format, args...) }

// Infof logs at info level.
func Infof(format string, args ...any) { std.Infof(format, args...) }

// Warningf logs at warning level.
func Warningf(format string, args ...any) { std.Warnf(format, args...) }

// Fatalf logs at fatal level and terminates the process. Reserved for
// boot-time failures that leave the kernel in no usable state.
func Fatalf(format string, args ...any) { std.Fatalf(format, args...) }

// WithField returns an entry for structured log lines, mirroring logrus's
// own idiom for attaching context (thread id, priority level, etc).
func WithField(key string, value any) *logrus.Entry {
	return std.WithField(key, value)
}
