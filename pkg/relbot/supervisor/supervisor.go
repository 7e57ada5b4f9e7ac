// Package supervisor runs long-lived component goroutines (in this tree,
// the control plane's periodic apisync loop) under panic recovery and
// automatic restart, mirroring the Start/watchLoopCompletions goroutine-per-component
// pattern in processor/workflow-orchestrator/component.go.
package supervisor

import (
	"context"
	"log/slog"
	"time"
)

// Run launches fn in a goroutine. If fn panics or returns, it is restarted
// after backoff unless ctx has been cancelled. fn should itself select on
// ctx.Done() to exit cleanly.
func Run(ctx context.Context, logger *slog.Logger, name string, backoff time.Duration, fn func(ctx context.Context) error) {
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			runOnce(ctx, logger, name, fn)
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}()
}

func runOnce(ctx context.Context, logger *slog.Logger, name string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("supervisor: recovered panic", "component", name, "panic", r)
		}
	}()
	if err := fn(ctx); err != nil && ctx.Err() == nil {
		logger.Error("supervisor: component loop returned error", "component", name, "error", err)
	}
}
