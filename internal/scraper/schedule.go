package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

// Info logs cron bookkeeping at debug level.
func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

// Error logs a cron failure.
func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Schedule runs task on the cron expression (with a leading seconds
// field) until ctx is cancelled. A tick that fires while the previous run
// is still going is skipped. Schedule waits for a running task to finish
// before returning.
func Schedule(ctx context.Context, expr string, logger *slog.Logger, task func(ctx context.Context)) error {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{l: logger}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(expr, func() { task(ctx) }); err != nil {
		return fmt.Errorf("register scrape schedule %q: %w", expr, err)
	}

	c.Start()
	logger.Info("scrape scheduler started", "schedule", expr)

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("scrape scheduler stopped")
	return nil
}
