package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// CreateContextWithShutdown returns a context that is cancelled on the first SIGINT or SIGTERM, letting a run
// deliver what it already holds. A second signal exits the process straight away.
func CreateContextWithShutdown() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		log.Warnf("Received %s, stopping; send it again to exit immediately", sig)
		cancel()
		sig = <-signals
		log.Errorf("Received %s again, exiting", sig)
		os.Exit(1)
	}()
	return ctx
}
