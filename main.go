package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"pagecapture/cmd"
	"pagecapture/logging"
)

func main() {
	// Interrupts cancel the run; the deferred browser and Docker cleanup
	// still happens on the way out.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := cmd.Execute(ctx)
	stop()
	logging.Sync()

	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}
