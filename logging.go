package joinabletask

// logging.go wires github.com/joeycumines/logiface into the pump/factory,
// using the library's own typed Logger rather than a hand-rolled
// Logger/LogEntry pair: a nil *logiface.Logger[logiface.Event] is a valid,
// fully inert "disabled" logger (see logiface.Logger.canWrite), which gives
// the same "package works with no logger configured" property the teacher's
// globalLogger default provides, without needing our own no-op shim.

import (
	"fmt"
	"sync"

	"github.com/joeycumines/logiface"
)

var (
	globalLoggerMu sync.RWMutex
	globalLogger   *logiface.Logger[logiface.Event]
)

// SetStructuredLogger installs the package-level default logger used by any
// Context constructed without its own WithLogger option, mirroring the
// teacher's package-global globalLogger guarded by a sync.RWMutex. Passing
// nil restores the no-op default.
func SetStructuredLogger(logger *logiface.Logger[logiface.Event]) {
	globalLoggerMu.Lock()
	globalLogger = logger
	globalLoggerMu.Unlock()
}

func defaultLogger() *logiface.Logger[logiface.Event] {
	globalLoggerMu.RLock()
	defer globalLoggerMu.RUnlock()
	return globalLogger
}

// logDebugf emits a Debug-level message if the logger is enabled at that
// level. The message is formatted with fmt.Sprintf and attached as a single
// "msg" field; nothing is formatted when the logger is nil or not enabled at
// that level.
func logDebugf(logger *logiface.Logger[logiface.Event], format string, args ...any) {
	logAtf(logger, logiface.LevelDebug, format, args...)
}

// logTracef emits a Trace-level message. Nothing in this package calls it.
func logTracef(logger *logiface.Logger[logiface.Event], format string, args ...any) {
	logAtf(logger, logiface.LevelTrace, format, args...)
}

func logAtf(logger *logiface.Logger[logiface.Event], level logiface.Level, format string, args ...any) {
	if logger == nil || logger.Level() == logiface.LevelDisabled || logger.Level() < level {
		return
	}
	b := logger.Build(level)
	if b == nil {
		return
	}
	b.Str("msg", fmt.Sprintf(format, args...)).Log("")
}
