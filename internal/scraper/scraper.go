package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"cryptocrawler/internal/fetcher"
	"cryptocrawler/internal/metrics"
	"cryptocrawler/internal/storage"
)

// ErrNoPages is returned when a run is asked to scrape zero pages.
var ErrNoPages = errors.New("no pages to scrape")

// Job describes one scrape run: which fetcher, how many pages, and the
// pause between page requests.
type Job struct {
	Fetcher fetcher.ListingFetcher
	Pages   int
	Delay   time.Duration
}

// Result summarizes a scrape run.
type Result struct {
	RunID       string
	Method      string
	Pages       int
	Records     int
	FailedPages []int
	Duration    time.Duration
}

// RecordsPerSecond is the run's throughput, 0 for an instant run.
func (r Result) RecordsPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Records) / r.Duration.Seconds()
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scraper) { s.logger = l } }

// WithOutput sets where progress lines are printed.
func WithOutput(w io.Writer) Option { return func(s *Scraper) { s.out = w } }

// WithSleeper replaces the interruptible sleep used between pages.
func WithSleeper(sl Sleeper) Option { return func(s *Scraper) { s.sleep = sl } }

// WithClock overrides the clock used to time runs.
func WithClock(now func() time.Time) Option { return func(s *Scraper) { s.now = now } }

// Scraper fetches listing pages one at a time and forwards each page's
// records to a sink.
type Scraper struct {
	sink   storage.ListingSink
	kind   string
	logger *slog.Logger
	out    io.Writer
	sleep  Sleeper
	now    func() time.Time
}

// New creates a scraper that forwards every page to sink.
func New(sink storage.ListingSink, opts ...Option) *Scraper {
	s := &Scraper{
		sink:   sink,
		kind:   "unknown",
		logger: slog.Default(),
		out:    os.Stdout,
		sleep:  sleep,
		now:    time.Now,
	}
	if k, ok := sink.(interface{ Kind() storage.Kind }); ok {
		s.kind = string(k.Kind())
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run scrapes pages 1..job.Pages in order. A page that fails to fetch is
// logged and recorded in FailedPages; a sink failure aborts the run. When
// ctx is cancelled the page in flight completes and the run stops with
// ctx.Err().
func (s *Scraper) Run(ctx context.Context, job Job) (res Result, err error) {
	method := job.Fetcher.Method()
	res = Result{RunID: uuid.NewString(), Method: method}
	if job.Pages <= 0 {
		return res, ErrNoPages
	}

	logger := s.logger.With("run_id", res.RunID, "method", method)
	logger.Info("scrape started", "pages", job.Pages, "delay", job.Delay)
	fmt.Fprintf(s.out, "Scraping CoinMarketCap %s (pages 1-%d)...\n", strings.ToUpper(method), job.Pages)

	start := s.now()
	defer func() { res.Duration = s.now().Sub(start) }()

	for page := 1; page <= job.Pages; page++ {
		if err := ctx.Err(); err != nil {
			logger.Info("scrape interrupted", "page", page)
			return res, err
		}

		n, perr := s.scrapePage(context.WithoutCancel(ctx), logger, job.Fetcher, page)
		res.Pages++
		res.Records += n
		var se *sinkError
		switch {
		case errors.As(perr, &se):
			logger.Error("storage write failed, aborting scrape", "page", page, "error", perr)
			return res, perr
		case perr != nil:
			res.FailedPages = append(res.FailedPages, page)
			metrics.PageErrors.WithLabelValues(method).Inc()
			logger.Error("page scrape failed", "page", page, "error", perr)
			fmt.Fprintf(s.out, "Error scraping page %d: %v\n", page, perr)
		}

		if page < job.Pages {
			if err := s.sleep(ctx, job.Delay); err != nil {
				logger.Info("scrape interrupted", "page", page)
				return res, err
			}
		}
	}

	logger.Info("scrape finished",
		"records", res.Records,
		"failed_pages", len(res.FailedPages),
		"elapsed", s.now().Sub(start),
	)
	fmt.Fprintf(s.out, "Scraped %d coins via %s\n", res.Records, strings.ToUpper(method))
	return res, nil
}

// sinkError marks a storage failure, which aborts the run.
type sinkError struct{ err error }

func (e *sinkError) Error() string { return "store listings: " + e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

// scrapePage fetches and stores a single page, returning the record count.
func (s *Scraper) scrapePage(ctx context.Context, logger *slog.Logger, f fetcher.ListingFetcher, page int) (int, error) {
	pageStart := time.Now()
	records, err := f.FetchListings(ctx, page)
	metrics.PageDuration.WithLabelValues(f.Method()).Observe(time.Since(pageStart).Seconds())
	if err != nil {
		return 0, err
	}
	logger.Debug("page scraped", "page", page, "records", len(records))
	metrics.ListingsScraped.WithLabelValues(f.Method()).Add(float64(len(records)))

	if err := s.sink.WriteListings(ctx, records); err != nil {
		return 0, &sinkError{err: err}
	}
	metrics.RecordsWritten.WithLabelValues(s.kind, "listing").Add(float64(len(records)))
	return len(records), nil
}
