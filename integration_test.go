package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cryptocrawler/internal/config"
	"cryptocrawler/internal/logging"
	"cryptocrawler/internal/poller"
)

func testConfig(dataDir string) *config.Config {
	return &config.Config{
		HTTPTimeout:            2,
		HTTPMaxRetries:         1,
		RequestsPerSecond:      1000,
		PollInterval:           0.01,
		MaxConsecutiveFailures: 1,
		MAWindow:               2,
		CoinID:                 "bitcoin",
		CoinSymbol:             "BTC",
		VsCurrency:             "usd",
		CMCPages:               2,
		CMCPerPage:             5,
		StorageType:            "csv",
		DataDir:                dataDir,
		LogLevel:               "ERROR",
	}
}

func priceServer(t *testing.T, prices ...float64) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		if r.URL.Path != "/simple/price" || r.URL.Query().Get("ids") != "bitcoin" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if n > len(prices) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"bitcoin": {"usd": %v, "last_updated_at": 1718020800}}`, prices[n-1])
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestIntegration_PriceFeed_CSV(t *testing.T) {
	server, calls := priceServer(t, 100, 110, 120.5)
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.CoinGeckoBaseURL = server.URL

	var out bytes.Buffer
	a := newApp(cfg, logging.Discard(), &out)

	summary, err := a.runPriceFeed(context.Background())
	if err != nil {
		t.Fatalf("runPriceFeed() returned unexpected error: %v", err)
	}

	if summary.Reason != poller.ReasonFailureThreshold {
		t.Errorf("Reason = %q, want %q", summary.Reason, poller.ReasonFailureThreshold)
	}
	if summary.Polls != 4 || calls.Load() != 4 {
		t.Errorf("polls = %d, server calls = %d; want 4 and 4", summary.Polls, calls.Load())
	}

	f, err := os.Open(filepath.Join(dir, "phase1_data_prices.csv"))
	if err != nil {
		t.Fatalf("open prices csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read prices csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3: %v", len(rows), rows)
	}
	if strings.Join(rows[0], ",") != "timestamp,symbol,price,sma,source" {
		t.Errorf("header = %v", rows[0])
	}
	wantSMA := []string{"", "105", "115.25"}
	for i, row := range rows[1:] {
		if row[1] != "BTC" || row[3] != wantSMA[i] || row[4] != "coingecko" {
			t.Errorf("row %d = %v, want BTC with sma %q", i, row, wantSMA[i])
		}
	}

	report := out.String()
	for _, want := range []string{
		"BTC → USD: $100.00\n",
		"BTC → USD: $110.00 SMA(2): $105.00",
		"BTC → USD: $120.50 SMA(2): $115.25",
		"Stopping price poller due to repeated failures.",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("output missing %q:\n%s", want, report)
		}
	}
}

func TestIntegration_PriceFeed_Interrupted(t *testing.T) {
	prices := make([]float64, 1000)
	for i := range prices {
		prices[i] = 50000 + float64(i)
	}
	server, _ := priceServer(t, prices...)
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.CoinGeckoBaseURL = server.URL
	cfg.StorageType = "sqlite"
	cfg.PollInterval = 0.02

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	summary, err := newApp(cfg, logging.Discard(), &bytes.Buffer{}).runPriceFeed(ctx)
	if err != nil {
		t.Fatalf("runPriceFeed() returned unexpected error: %v", err)
	}
	if summary.Reason != poller.ReasonCancelled {
		t.Errorf("Reason = %q, want %q", summary.Reason, poller.ReasonCancelled)
	}
	if summary.Polls == 0 || summary.TotalFailures != 0 {
		t.Errorf("summary = %+v, want successful polls", summary)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "phase1_data.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	var stored int
	if err := db.QueryRow(`SELECT COUNT(*) FROM prices`).Scan(&stored); err != nil {
		t.Fatalf("count prices: %v", err)
	}
	if stored != summary.Polls {
		t.Errorf("stored %d prices, want %d (every poll persisted)", stored, summary.Polls)
	}
}

func listingServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		start, _ := strconv.Atoi(q.Get("start"))
		limit, _ := strconv.Atoi(q.Get("limit"))

		items := make([]string, limit)
		for i := range items {
			rank := start + i
			items[i] = fmt.Sprintf(`{"id": %d, "name": "Coin %d", "symbol": "C%d", "cmcRank": %d,
				"quotes": [{"name": "USD", "price": %d.5, "marketCap": %d000}]}`, rank, rank, rank, rank, rank, rank)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data": {"cryptoCurrencyList": [%s]}, "status": {"error_code": "0"}}`, strings.Join(items, ","))
	}))
	t.Cleanup(server.Close)
	return server
}

func htmlServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	page, err := os.ReadFile("internal/coinmarketcap/testdata/page1.html")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/page/3/" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestIntegration_Watchlist_SQLite(t *testing.T) {
	html, _ := htmlServer(t)
	api := listingServer(t)
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.StorageType = "sqlite"
	cfg.CoinMarketCapBaseURL = html.URL
	cfg.CoinMarketCapAPIURL = api.URL + "/data-api/v3/cryptocurrency/listing"

	var out bytes.Buffer
	if err := newApp(cfg, logging.Discard(), &out).runWatchlist(context.Background(), true); err != nil {
		t.Fatalf("runWatchlist() returned unexpected error: %v", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "phase2_data.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	counts := map[string]int{}
	rows, err := db.Query(`SELECT source, COUNT(*) FROM listings GROUP BY source`)
	if err != nil {
		t.Fatalf("query listings: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			source string
			n      int
		)
		if err := rows.Scan(&source, &n); err != nil {
			t.Fatal(err)
		}
		counts[source] = n
	}

	// html: 2 pages x 3 parseable rows, twice (scrape + comparison)
	// json: 2 pages x 5, then 2 pages x 50 for the comparison
	if counts["html"] != 12 || counts["json"] != 110 {
		t.Errorf("listing counts = %v, want html=12 json=110", counts)
	}

	var name string
	var price, marketCap float64
	if err := db.QueryRow(`SELECT name, price, market_cap FROM listings WHERE source = 'json' AND rank = 7`).Scan(&name, &price, &marketCap); err != nil {
		t.Fatalf("query rank 7: %v", err)
	}
	if name != "Coin 7" || price != 7.5 || marketCap != 7000 {
		t.Errorf("rank 7 = %q %v %v, want Coin 7 7.5 7000", name, price, marketCap)
	}

	for _, want := range []string{"Scraped 6 coins via HTML", "Scraped 10 coins via JSON", "Performance Comparison:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestIntegration_Watchlist_FailedPageContinues(t *testing.T) {
	html, calls := htmlServer(t)
	api := listingServer(t)
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.CMCPages = 4
	cfg.CoinMarketCapBaseURL = html.URL
	cfg.CoinMarketCapAPIURL = api.URL

	var out bytes.Buffer
	if err := newApp(cfg, logging.Discard(), &out).runWatchlist(context.Background(), false); err != nil {
		t.Fatalf("runWatchlist() returned unexpected error: %v", err)
	}

	if calls.Load() != 4 {
		t.Errorf("html server calls = %d, want 4", calls.Load())
	}
	if !strings.Contains(out.String(), "Error scraping page 3") {
		t.Errorf("output missing page 3 error:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Scraped 9 coins via HTML") {
		t.Errorf("output missing html total:\n%s", out.String())
	}
	if strings.Contains(out.String(), "Performance Comparison") {
		t.Error("comparison ran with compare disabled")
	}

	f, err := os.Open(filepath.Join(dir, "phase2_data_listings.csv"))
	if err != nil {
		t.Fatalf("open listings csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read listings csv: %v", err)
	}
	// header + 9 html + 20 json
	if len(rows) != 30 {
		t.Errorf("got %d rows, want 30", len(rows))
	}
}
