package observability

import "runtime/debug"

// RecoverPanic recovers from a panic and logs it with the stack trace.
//
// Call it in a defer statement. The panic is not re-raised, so use it only
// where the surrounding state stays consistent (cron jobs, background refreshes).
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}
