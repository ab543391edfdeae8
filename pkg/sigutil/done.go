// Package sigutil adapts OS interrupt signals to shutdown primitives.
package sigutil

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Done returns a channel closed on the first SIGINT or SIGTERM.
func Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		close(done)
	}()
	return done
}

// Context derives a context canceled on the first SIGINT or SIGTERM.
func Context(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
