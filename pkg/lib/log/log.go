// Package log exposes the logger accepted by the orca SDK.
//
// Any [Logger] implementation can be set on the client config, [Noop] is used when
// none is set. An adapter over logrus could look like this:
//
//	type logrusLogger struct{ *logrus.Entry }
//
//	func (l logrusLogger) WithValues(kv log.Kv) log.Logger {
//		return logrusLogger{l.WithFields(logrus.Fields(kv))}
//	}
//	// ... remaining methods
package log

import "github.com/slok/orca/internal/log"

// Logger is the SDK logger, task and step values are set with WithValues.
type Logger = log.Logger

// Kv are structured logging values.
type Kv = log.Kv

// Noop discards everything.
var Noop = log.Noop
