package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with its stack. It must be
// called directly in a defer statement. The panic is not re-raised.
//
//	func worker() {
//	    defer observability.RecoverPanic(logger, "maintenance job")
//	    ...
//	}
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
	}
}

// LogPanic logs a value already obtained from recover().
func LogPanic(logger *Logger, context string, r interface{}) {
	if r != nil {
		logPanic(logger, context, r)
	}
}

func logPanic(logger *Logger, context string, r interface{}) {
	logger.WithField("panic", fmt.Sprint(r)).
		WithField("stack", string(debug.Stack())).
		WithField("context", context).
		Error("PANIC recovered")
}

// MustRecover converts a recovered value into an error, or nil when there
// was no panic.
//
//	defer func() {
//	    err = observability.MustRecover(recover())
//	}()
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
