package ticker

import (
	"context"
	"log/slog"
	"time"
)

// Periodically runs task once immediately and then every interval until ctx
// is done, at which point it returns nil. A failing run is logged and the
// schedule continues.
func Periodically(ctx context.Context, name string, interval time.Duration, task func(context.Context) error) error {
	logger := slog.Default().With("task", name)

	run := func() {
		start := time.Now()
		if err := task(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			taskRuns.WithLabelValues(name, "error").Inc()
			logger.Error("periodic task failed", "err", err)
			return
		}
		taskRuns.WithLabelValues(name, "ok").Inc()
		logger.Debug("periodic task finished", "duration", time.Since(start))
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			run()
		}
	}
}
