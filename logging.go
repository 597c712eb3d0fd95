package dbus

import (
	"github.com/riftbus/dbus/internal/dlog"
	"github.com/sirupsen/logrus"
)

// SetLogger replaces the logger used for connection-level events
// (read loop errors, including transport failures, and match rule
// registration)
// across every [Conn] in the process. Passing nil restores the
// default logger, a plain *logrus.Logger at WarnLevel writing to
// stderr.
func SetLogger(l *logrus.Logger) {
	dlog.SetLogger(l)
}
