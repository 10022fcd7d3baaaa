package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PollAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptocrawler_poll_attempts_total",
		Help: "Price poll attempts by result (success or failure).",
	}, []string{"result"})

	ConsecutiveFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cryptocrawler_poll_consecutive_failures",
		Help: "Current run of consecutive poll failures.",
	})

	LastPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cryptocrawler_last_price",
		Help: "Most recently polled price.",
	}, []string{"symbol"})

	MovingAverage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cryptocrawler_sma",
		Help: "Simple moving average over the configured window.",
	}, []string{"symbol"})

	ListingsScraped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptocrawler_listings_scraped_total",
		Help: "Listing records parsed, by scrape method.",
	}, []string{"method"})

	PageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptocrawler_page_errors_total",
		Help: "Listing pages that failed to fetch or parse, by scrape method.",
	}, []string{"method"})

	RecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptocrawler_records_written_total",
		Help: "Records appended to storage, by sink kind and record type.",
	}, []string{"kind", "record"})

	PageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cryptocrawler_page_duration_seconds",
		Help:    "Time spent fetching and parsing one listing page.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"method"})

	startTime = time.Now()
)

// Handler returns the mux serving /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthCheck)
	return mux
}

// healthCheck reports liveness and uptime as JSON.
func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(startTime).Seconds()),
	})
}

// Serve runs the metrics endpoint on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", "error", err)
		return err
	}
	return nil
}
