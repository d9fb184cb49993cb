package main

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// sig_handler cancels the root context on the first termination signal.
func sig_handler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	log.WithField("signal", sig.String()).Info("shutting down")
	stop()
}
