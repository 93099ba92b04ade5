// Package app is helper for simple cli apps.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"
)

// Run executes run with a development logger and a context that is
// cancelled on interrupt.
func Run(run func(ctx context.Context, lg *zap.Logger) error) {
	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, lg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(2)
	}
}
