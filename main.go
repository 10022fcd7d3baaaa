package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"cryptocrawler/internal/coingecko"
	"cryptocrawler/internal/coinmarketcap"
	"cryptocrawler/internal/config"
	"cryptocrawler/internal/fetcher"
	"cryptocrawler/internal/logging"
	"cryptocrawler/internal/metrics"
	"cryptocrawler/internal/poller"
	"cryptocrawler/internal/ratelimit"
	"cryptocrawler/internal/retry"
	"cryptocrawler/internal/scraper"
	"cryptocrawler/internal/storage"
)

const (
	comparePages       = 2
	compareJSONPerPage = 50
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run parses flags, loads configuration and runs the requested phases,
// returning the process exit code.
func run(args []string, stdout io.Writer) int {
	fs := pflag.NewFlagSet("cryptocrawler", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	phase := fs.String("phase", "both", "which phase to run: 1, 2 or both")
	verbose := fs.BoolP("verbose", "v", false, "enable debug logging")
	noCompare := fs.Bool("no-compare", false, "skip the HTML vs JSON comparison in phase 2")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	switch *phase {
	case "1", "2", "both":
	default:
		fmt.Fprintf(os.Stderr, "invalid --phase %q (want 1, 2 or both)\n", *phase)
		return 2
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *verbose && !fs.Changed("log-level") {
		cfg.LogLevel = "DEBUG"
	}

	logger, closeLog, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	defer closeLog()

	logger.Info("crypto crawler starting",
		"phase", *phase,
		"storage", cfg.StorageType,
		"timeout", cfg.Timeout(),
		"retries", cfg.HTTPMaxRetries,
	)

	rootCtx, stopRoot := context.WithCancel(context.Background())
	defer stopRoot()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(rootCtx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	a := newApp(cfg, logger, stdout)
	exit := 0

	if *phase == "1" || *phase == "both" {
		fmt.Fprintln(stdout, "=== PHASE 1: Price Pulse ===")
		ctx, stop := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
		summary, err := a.runPriceFeed(ctx)
		stop()
		switch {
		case err != nil:
			logger.Error("price feed failed", "error", err)
			exit = 1
		case summary.Reason == poller.ReasonFailureThreshold:
			exit = 1
		}
	}

	if *phase == "2" || *phase == "both" {
		fmt.Fprintln(stdout, "\n=== PHASE 2: CoinMarketCap Watchlist ===")
		ctx, stop := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
		err := a.runWatchlist(ctx, !*noCompare)
		stop()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("watchlist scrape failed", "error", err)
			exit = 1
		}
	}

	logger.Info("crypto crawler finished", "exit_code", exit)
	return exit
}

// app wires configuration into fetchers, sinks and runners.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	out     io.Writer
	limiter *ratelimit.Limiter
}

func newApp(cfg *config.Config, logger *slog.Logger, out io.Writer) *app {
	return &app{
		cfg:     cfg,
		logger:  logger,
		out:     out,
		limiter: ratelimit.New(cfg.RequestsPerSecond),
	}
}

// clientOptions builds HTTP client settings from the configuration.
func (a *app) clientOptions() fetcher.ClientOptions {
	return fetcher.ClientOptions{
		Timeout:     a.cfg.Timeout(),
		MaxAttempts: a.cfg.HTTPMaxRetries,
	}
}

// openSink opens the configured storage under the data directory.
func (a *app) openSink(name string) (storage.Sink, error) {
	base := filepath.Join(a.cfg.DataDir, name)
	sink, err := storage.Open(a.cfg.Storage(), base)
	if err != nil {
		return nil, fmt.Errorf("open %s storage at %s: %w", a.cfg.StorageType, base, err)
	}
	return sink, nil
}

// runPriceFeed polls the configured coin until ctx is cancelled or the
// failure threshold is reached. The sink is closed before returning.
func (a *app) runPriceFeed(ctx context.Context) (poller.PollSummary, error) {
	sink, err := a.openSink("phase1_data")
	if err != nil {
		return poller.PollSummary{}, err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			a.logger.Error("closing price storage", "error", err)
		}
	}()

	src := coingecko.NewPriceFetcher(coingecko.PriceParams{
		CoinID:     a.cfg.CoinID,
		Symbol:     a.cfg.CoinSymbol,
		VsCurrency: a.cfg.VsCurrency,
	}, a.cfg.CoinGeckoBaseURL, a.clientOptions(), a.limiter)
	defer src.Close()

	p := poller.New(poller.Config{
		Interval:               a.cfg.PollEvery(),
		MaxConsecutiveFailures: a.cfg.MaxConsecutiveFailures,
		Window:                 a.cfg.MAWindow,
		WarmStart:              a.cfg.WarmStart,
		Quote:                  a.cfg.VsCurrency,
		Policy:                 retry.DefaultPolicy(),
	}, src, sink, poller.WithLogger(a.logger), poller.WithOutput(a.out))

	fmt.Fprintf(a.out, "Starting %s price poller...\nPress Ctrl-C to stop\n", strings.ToUpper(a.cfg.CoinSymbol))
	summary := p.Run(ctx)
	if summary.Reason == poller.ReasonFailureThreshold {
		fmt.Fprintln(a.out, "Stopping price poller due to repeated failures.")
	}
	fmt.Fprintln(a.out, "Price poller stopped.")
	return summary, nil
}

// runWatchlist scrapes listings via HTML then JSON and optionally compares
// them. With a scrape schedule configured it repeats on that schedule until
// ctx is cancelled.
func (a *app) runWatchlist(ctx context.Context, compare bool) error {
	sink, err := a.openSink("phase2_data")
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			a.logger.Error("closing listing storage", "error", err)
		}
	}()

	html := coinmarketcap.NewHTMLFetcher(a.cfg.CoinMarketCapBaseURL, a.clientOptions(), a.limiter)
	defer html.Close()
	json := coinmarketcap.NewJSONFetcher(a.cfg.CoinMarketCapAPIURL, a.cfg.CMCPerPage, a.clientOptions(), a.limiter)
	defer json.Close()
	var compareJSON *coinmarketcap.JSONFetcher
	if compare {
		compareJSON = coinmarketcap.NewJSONFetcher(a.cfg.CoinMarketCapAPIURL, compareJSONPerPage, a.clientOptions(), a.limiter)
		defer compareJSON.Close()
	}

	sc := scraper.New(sink, scraper.WithLogger(a.logger), scraper.WithOutput(a.out))

	scrape := func(ctx context.Context) error {
		fmt.Fprintln(a.out, "=== Phase 2.1: HTML Scraping ===")
		if _, err := sc.Run(ctx, scraper.Job{Fetcher: html, Pages: a.cfg.CMCPages, Delay: a.cfg.HTMLPageDelay()}); err != nil {
			return fmt.Errorf("html scrape: %w", err)
		}

		fmt.Fprintln(a.out, "\n=== Phase 2.2: JSON API ===")
		if _, err := sc.Run(ctx, scraper.Job{Fetcher: json, Pages: a.cfg.CMCPages, Delay: a.cfg.JSONPageDelay()}); err != nil {
			return fmt.Errorf("json scrape: %w", err)
		}

		if compareJSON == nil {
			return nil
		}
		fmt.Fprintln(a.out, "\n=== Performance Comparison ===")
		_, err := sc.Compare(ctx,
			scraper.Job{Fetcher: html, Pages: comparePages, Delay: a.cfg.HTMLPageDelay()},
			scraper.Job{Fetcher: compareJSON, Pages: comparePages, Delay: a.cfg.JSONPageDelay()},
			a.cfg.ComparePauseTime(),
		)
		return err
	}

	if a.cfg.ScrapeSchedule == "" {
		return scrape(ctx)
	}
	return scraper.Schedule(ctx, a.cfg.ScrapeSchedule, a.logger, func(ctx context.Context) {
		if err := scrape(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("scheduled scrape failed", "error", err)
		}
	})
}
