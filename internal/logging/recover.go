package logging

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover runs fn and converts a panic into an error record instead of
// crashing the control loop. It reports whether fn panicked.
func Recover(logger *slog.Logger, where string, fn func()) (panicked bool) {
	defer func() {
		if v := recover(); v != nil {
			panicked = true
			logger.Error("recovered panic",
				"where", where,
				"panic", fmt.Sprint(v),
				"stack", string(debug.Stack()))
		}
	}()
	fn()
	return false
}
