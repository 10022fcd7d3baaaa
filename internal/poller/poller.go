package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"cryptocrawler/internal/fetcher"
	"cryptocrawler/internal/metrics"
	"cryptocrawler/internal/model"
	"cryptocrawler/internal/retry"
	"cryptocrawler/internal/series"
	"cryptocrawler/internal/storage"
)

// Reason describes why Run returned.
type Reason string

const (
	ReasonCancelled        Reason = "cancelled"
	ReasonFailureThreshold Reason = "failure_threshold"
)

// PollSummary is the outcome of a Run.
type PollSummary struct {
	Polls         int
	Failures      int // consecutive failures when the loop stopped
	TotalFailures int
	Reason        Reason
	LastErr       error
	Last          *model.PricePoint
}

// Config controls the polling loop.
type Config struct {
	Interval               time.Duration
	MaxConsecutiveFailures int
	Window                 int
	WarmStart              bool
	Quote                  string // currency shown in the report line
	Policy                 retry.Policy
}

// withDefaults fills zero fields with the default poller settings.
func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.Window <= 0 {
		c.Window = 10
	}
	if c.Quote == "" {
		c.Quote = "USD"
	}
	c.Quote = strings.ToUpper(c.Quote)
	if c.Policy == (retry.Policy{}) {
		c.Policy = retry.DefaultPolicy()
	}
	return c
}

// Sleeper blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(p *Poller) { p.logger = l } }

// WithOutput sets where report lines are printed (stdout by default).
func WithOutput(w io.Writer) Option { return func(p *Poller) { p.out = w } }

// WithSleeper replaces the interruptible sleep used between polls.
func WithSleeper(s Sleeper) Option { return func(p *Poller) { p.sleep = s } }

// Poller repeatedly fetches a price, keeps a moving average and persists
// each point.
type Poller struct {
	cfg    Config
	src    fetcher.PriceFetcher
	sink   storage.PriceSink
	series *series.Series
	logger *slog.Logger
	out    io.Writer
	sleep  Sleeper
}

// New creates a poller that reads from src and persists to sink.
func New(cfg Config, src fetcher.PriceFetcher, sink storage.PriceSink, opts ...Option) *Poller {
	p := &Poller{
		cfg:    cfg.withDefaults(),
		src:    src,
		sink:   sink,
		series: series.New(),
		logger: slog.Default(),
		out:    os.Stdout,
		sleep:  sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("fetcher", src.Key())
	return p
}

// Run polls until ctx is cancelled or the consecutive-failure threshold
// is reached. A poll already in flight when ctx is cancelled completes
// before Run returns. Run never returns an error; the outcome is in the
// summary.
func (p *Poller) Run(ctx context.Context) PollSummary {
	var summary PollSummary

	if p.cfg.WarmStart {
		p.warmStart(ctx)
	}

	p.logger.Info("price poller started",
		"interval", p.cfg.Interval,
		"window", p.cfg.Window,
		"max_failures", p.cfg.MaxConsecutiveFailures,
	)

	failures := 0
	for ctx.Err() == nil {
		point, err := p.pollOnce(context.WithoutCancel(ctx))
		summary.Polls++

		if err != nil {
			failures++
			summary.TotalFailures++
			summary.LastErr = err
			metrics.PollAttempts.WithLabelValues("failure").Inc()
			metrics.ConsecutiveFailures.Set(float64(failures))

			p.logger.Warn("price poll failed", "attempt", failures, "error", err)

			if failures >= p.cfg.MaxConsecutiveFailures {
				summary.Failures = failures
				summary.Reason = ReasonFailureThreshold
				p.logger.Error("stopping price poller after repeated failures",
					"failures", failures, "last_error", err)
				fmt.Fprintf(p.out, "ERROR: %d consecutive failures. Last error: %v\n", failures, err)
				return summary
			}

			delay := p.cfg.Policy.Delay(failures)
			p.logger.Info("waiting before retry", "delay", delay)
			if p.sleep(ctx, delay) != nil {
				break
			}
			continue
		}

		failures = 0
		summary.Last = &point
		metrics.PollAttempts.WithLabelValues("success").Inc()
		metrics.ConsecutiveFailures.Set(0)
		metrics.LastPrice.WithLabelValues(point.Symbol).Set(point.Price)
		if point.HasSMA() {
			metrics.MovingAverage.WithLabelValues(point.Symbol).Set(*point.SMA)
		}

		fmt.Fprintln(p.out, p.report(point))

		if p.sleep(ctx, p.cfg.Interval) != nil {
			break
		}
	}

	summary.Failures = failures
	summary.Reason = ReasonCancelled
	p.logger.Info("price poller stopped", "polls", summary.Polls, "failures", summary.TotalFailures)
	return summary
}

// pollOnce fetches one price, attaches the moving average and writes it.
// The point joins the series only once it is stored.
func (p *Poller) pollOnce(ctx context.Context) (model.PricePoint, error) {
	point, err := p.src.FetchPrice(ctx)
	if err != nil {
		return model.PricePoint{}, err
	}

	avg, err := p.series.SMAWith(point.Price, p.cfg.Window)
	switch {
	case err == nil:
		point.SMA = &avg
	case errors.Is(err, series.ErrInsufficientData):
		point.SMA = nil
	default:
		return model.PricePoint{}, err
	}

	if err := p.sink.WritePrice(ctx, point); err != nil {
		return model.PricePoint{}, fmt.Errorf("store price: %w", err)
	}
	p.series.Append(point)
	p.logger.Debug("price stored", "symbol", point.Symbol, "price", point.Price)
	return point, nil
}

// warmStart seeds the series with the most recent stored prices.
func (p *Poller) warmStart(ctx context.Context) {
	symbol := p.src.Symbol()
	points, err := p.sink.RecentPrices(ctx, symbol, p.cfg.Window)
	if err != nil {
		p.logger.Warn("warm start failed, starting with an empty series", "error", err)
		return
	}
	for _, pt := range points {
		p.series.Append(pt)
	}
	p.logger.Info("warm start loaded history", "symbol", symbol, "points", len(points))
}

// report formats the console line for a stored point.
func (p *Poller) report(pt model.PricePoint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s → %s: $%s",
		pt.Timestamp.Format("2006-01-02T15:04:05"),
		strings.ToUpper(pt.Symbol),
		p.cfg.Quote,
		humanize.FormatFloat("#,###.##", pt.Price),
	)
	if pt.HasSMA() {
		fmt.Fprintf(&b, " SMA(%d): $%s", p.cfg.Window, humanize.FormatFloat("#,###.##", *pt.SMA))
	}
	return b.String()
}
