package runtime

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// SignalContext is cancelled on SIGINT, SIGTERM or any extra signal, or when
// parent is done.
func SignalContext(parent context.Context, extra ...os.Signal) (context.Context, context.CancelFunc) {
	sigs := append([]os.Signal{os.Interrupt, syscall.SIGTERM}, extra...)
	return signal.NotifyContext(parent, sigs...)
}

// ShutdownContext bounds cleanup that runs after the signal context is gone.
func ShutdownContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
