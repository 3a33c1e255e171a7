// Package recovery provides panic containment for calls into pluggable,
// caller-supplied code: index implementations, background dump tasks, and
// catalog/blob backends. A panic inside one of those must not take down the
// process; it is converted into a logged error instead.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// ToError wraps fn with panic recovery, converting a panic into an error.
// Use this around calls into user-provided Index/IndexBuilder/Catalog code.
func ToError(logger *slog.Logger, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.Error("panic recovered",
				"operation", operation,
				"panic", r,
				"stack", string(stack),
			)
			err = fmt.Errorf("%s panicked: %v", operation, r)
		}
	}()

	return fn()
}

// ToValue wraps fn with panic recovery, returning the zero value and an
// error on panic.
func ToValue[T any](logger *slog.Logger, operation string, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.Error("panic recovered",
				"operation", operation,
				"panic", r,
				"stack", string(stack),
			)
			var zero T
			result = zero
			err = fmt.Errorf("%s panicked: %v", operation, r)
		}
	}()

	return fn()
}

// Run executes fn and logs (without returning) any recovered panic. Use for
// best-effort cleanup paths where there is no error to propagate, e.g.
// deleting a partially-written blob after a failed dump.
func Run(logger *slog.Logger, operation string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered in cleanup",
				"operation", operation,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	fn()
}
