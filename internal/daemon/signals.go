package daemon

import (
	"context"
	"os/signal"
	"syscall"
)

// signalContext derives a context cancelled on the first SIGINT or SIGTERM.
// The returned stop function restores default signal handling, so a second
// signal terminates the process.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
}
