package coinmarketcap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"cryptocrawler/internal/fetcher"
	"cryptocrawler/internal/model"
	"cryptocrawler/internal/ratelimit"
)

func readFixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return string(b)
}

func TestPagePath(t *testing.T) {
	tests := []struct {
		page int
		want string
	}{
		{1, "/"},
		{2, "/page/2/"},
		{10, "/page/10/"},
	}

	for _, tt := range tests {
		if got := PagePath(tt.page); got != tt.want {
			t.Errorf("PagePath(%d) = %q, want %q", tt.page, got, tt.want)
		}
	}
}

func TestParseListingsHTML(t *testing.T) {
	scrapedAt := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	records, err := ParseListingsHTML(readFixture(t, "page1.html"), scrapedAt)
	if err != nil {
		t.Fatalf("ParseListingsHTML() returned unexpected error: %v", err)
	}

	want := []model.ListingRecord{
		{
			Rank: 1, Name: "Bitcoin", Symbol: "BTC", Price: 67123.45,
			MarketCap: 1321234567890, Volume24h: 28456789012,
			PercentChange1h: 0.12, PercentChange24h: -1.5, PercentChange7d: 4.25,
			Source: model.SourceHTML, ScrapedAt: scrapedAt,
		},
		{
			Rank: 2, Name: "Ethereum", Symbol: "ETH", Price: 3512.08,
			MarketCap: 421987654321, Volume24h: 15000000000,
			PercentChange1h: -0.05, PercentChange24h: 2.1, PercentChange7d: -3,
			Source: model.SourceHTML, ScrapedAt: scrapedAt,
		},
		{
			Rank: 4, Name: "Solana", Symbol: "SOL", Price: 172.3,
			MarketCap: 79876543210, Volume24h: 2345678901,
			PercentChange1h: 0, PercentChange24h: -0.8, PercentChange7d: 10.01,
			Source: model.SourceHTML, ScrapedAt: scrapedAt,
		},
	}

	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d: %+v", len(records), len(want), records)
	}
	for i := range want {
		if records[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, records[i], want[i])
		}
	}
}

func TestParseListingsHTML_NoTable(t *testing.T) {
	records, err := ParseListingsHTML("<html><body><p>Access denied</p></body></html>", time.Now())
	if err != nil {
		t.Fatalf("ParseListingsHTML() returned unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"$67,123.45", 67123.45, false},
		{" 0.12% ", 0.12, false},
		{"-3.5%", -3.5, false},
		{"$0.000012", 0.000012, false},
		{"", 0, true},
		{"--", 0, true},
		{"N/A", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseNumber(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseNumber(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseNumber(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestHTMLFetcher_FetchListings(t *testing.T) {
	page := readFixture(t, "page1.html")
	var (
		mu    sync.Mutex
		paths []string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(page))
	}))
	defer server.Close()

	f := NewHTMLFetcher(server.URL+"/", fetcher.ClientOptions{MaxAttempts: 1, Timeout: 2 * time.Second}, ratelimit.Unlimited())
	defer f.Close()

	for _, p := range []int{1, 3} {
		records, err := f.FetchListings(context.Background(), p)
		if err != nil {
			t.Fatalf("FetchListings(%d) returned unexpected error: %v", p, err)
		}
		if len(records) != 3 {
			t.Errorf("FetchListings(%d) returned %d records, want 3", p, len(records))
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 2 || paths[0] != "/" || paths[1] != "/page/3/" {
		t.Errorf("requested paths = %v, want [/ /page/3/]", paths)
	}
	if f.Method() != model.SourceHTML {
		t.Errorf("Method() = %q, want %q", f.Method(), model.SourceHTML)
	}
}

func TestHTMLFetcher_FetchListings_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	f := NewHTMLFetcher(server.URL, fetcher.ClientOptions{MaxAttempts: 1}, nil)
	defer f.Close()

	_, err := f.FetchListings(context.Background(), 1)
	var fe *fetcher.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("FetchListings() error = %v, want *FetchError", err)
	}
	if fe.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", fe.StatusCode)
	}
}

func TestHTMLFetcher_FetchListings_InvalidPage(t *testing.T) {
	f := NewHTMLFetcher("http://localhost", fetcher.ClientOptions{MaxAttempts: 1}, nil)
	defer f.Close()

	if _, err := f.FetchListings(context.Background(), 0); err == nil {
		t.Error("FetchListings(0) expected error, got nil")
	}
}
