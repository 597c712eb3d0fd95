// Package dlog is the structured logging sink used throughout the
// dbus package. It wraps logrus so that connection-level events (read
// loop errors, including transport failures, and match rule
// registration) show
// up with consistent fields instead of bare stderr lines.
package dlog

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu  sync.RWMutex
	log = defaultLogger()
)

func defaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

// SetLogger replaces the package-wide logger. Passing nil restores
// the default (a plain logrus.Logger at WarnLevel).
func SetLogger(l *logrus.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		log = defaultLogger()
		return
	}
	log = l
}

func current() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Conn returns a logger entry scoped to a connection, identified by
// its local bus name once known.
func Conn(localName string) *logrus.Entry {
	return current().WithField("conn", localName)
}

// Debugf logs at debug level with no field scoping, for
// package-internal plumbing that isn't tied to a particular
// connection.
func Debugf(format string, args ...any) {
	current().Debugf(format, args...)
}

// Warnf logs at warn level with no field scoping.
func Warnf(format string, args ...any) {
	current().Warnf(format, args...)
}
