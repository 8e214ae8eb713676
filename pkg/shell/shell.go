package shell

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WaitSignal blocks until SIGINT or SIGTERM. It returns nil when ctx is done first.
func WaitSignal(ctx context.Context) os.Signal {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		return sig
	case <-ctx.Done():
		return nil
	}
}
