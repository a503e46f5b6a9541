package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

type Entrypoint interface {
	io.Closer
	Init(ctx context.Context) error
	Run(ctx context.Context) error
}

// Run initializes e and runs it until it returns or the process is
// interrupted. Close is called once Run has returned, never concurrently
// with it.
func Run(ctx context.Context, e Entrypoint) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := e.Init(ctx); err != nil {
		return errors.Join(fmt.Errorf("entrypoint init error: %w", err), e.Close())
	}

	eg, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	eg.Go(func() error {
		defer close(done)
		return e.Run(ctx)
	})

	// graceful shutdown
	eg.Go(func() error {
		select {
		case <-ctx.Done():
			fmt.Printf("gracefully shutting down app...\n")
			<-done
		case <-done:
		}

		return e.Close()
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app was shut down: %w", err)
	}

	return nil
}
