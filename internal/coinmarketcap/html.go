package coinmarketcap

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cryptocrawler/internal/fetcher"
	"cryptocrawler/internal/model"
	"cryptocrawler/internal/ratelimit"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"resty.dev/v3"
)

// Column positions in the coinmarketcap.com ranking table. Column 0 is the
// watchlist star.
const (
	colRank = 1 + iota
	colName
	colPrice
	colChange1h
	colChange24h
	colChange7d
	colMarketCap
	colVolume
)

// HTMLFetcher scrapes the public ranking pages of coinmarketcap.com.
type HTMLFetcher struct {
	client  *resty.Client
	limiter *ratelimit.Limiter
	now     func() time.Time
}

// NewHTMLFetcher creates a scraper for baseURL, e.g. https://coinmarketcap.com.
func NewHTMLFetcher(baseURL string, opts fetcher.ClientOptions, limiter *ratelimit.Limiter) *HTMLFetcher {
	opts.Accept = "text/html,application/xhtml+xml"
	return &HTMLFetcher{
		client:  fetcher.NewHTTPClient(strings.TrimRight(baseURL, "/"), opts),
		limiter: limiter,
		now:     time.Now,
	}
}

// Method implements fetcher.ListingFetcher.
func (f *HTMLFetcher) Method() string { return model.SourceHTML }

// PagePath returns the path of a ranking page: "/" for page 1 and
// "/page/{n}/" after that.
func PagePath(page int) string {
	if page <= 1 {
		return "/"
	}
	return fmt.Sprintf("/page/%d/", page)
}

// FetchListings downloads and parses one ranking page.
func (f *HTMLFetcher) FetchListings(ctx context.Context, page int) ([]model.ListingRecord, error) {
	if page < 1 {
		return nil, fetcher.NewValidationError("page must be >= 1, got %d", page).WithSource(source)
	}
	if err := f.limiter.Wait(ctx, ratelimit.APICoinMarketCap); err != nil {
		return nil, fetcher.ClassifyRequestError(err).WithSource(source)
	}

	resp, err := f.client.R().
		SetContext(ctx).
		Get(PagePath(page))

	if err != nil {
		return nil, fetcher.ClassifyRequestError(err).WithSource(source)
	}

	if !resp.IsSuccess() {
		return nil, fetcher.ClassifyHTTPError(resp.StatusCode()).WithSource(source)
	}

	records, err := ParseListingsHTML(resp.String(), f.now())
	if err != nil {
		return nil, fetcher.NewValidationError("parse page %d: %v", page, err).WithSource(source)
	}
	return records, nil
}

// ParseListingsHTML extracts listing rows from a ranking page. Rows without
// a name, symbol or parseable price are skipped; the page lazily renders
// rows past the first few as placeholders.
func ParseListingsHTML(body string, scrapedAt time.Time) ([]model.ListingRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	var records []model.ListingRecord
	doc.Find("table.cmc-table tbody tr").Each(func(_ int, row *goquery.Selection) {
		if rec, ok := parseRow(row, scrapedAt); ok {
			records = append(records, rec)
		}
	})
	return records, nil
}

// parseRow extracts a listing from one table row. It reports false for
// placeholder rows that have not been rendered.
func parseRow(row *goquery.Selection, scrapedAt time.Time) (model.ListingRecord, bool) {
	cells := row.Children().Filter("td")
	if cells.Length() <= colPrice {
		return model.ListingRecord{}, false
	}

	rank, err := strconv.Atoi(digitsOnly(cells.Eq(colRank).Text()))
	if err != nil {
		return model.ListingRecord{}, false
	}

	nameCell := cells.Eq(colName)
	name := strings.TrimSpace(nameCell.Find("p.coin-item-name").First().Text())
	symbol := strings.TrimSpace(nameCell.Find("p.coin-item-symbol").First().Text())
	if name == "" || symbol == "" {
		return model.ListingRecord{}, false
	}

	price, err := parseNumber(cells.Eq(colPrice).Text())
	if err != nil {
		return model.ListingRecord{}, false
	}

	return model.ListingRecord{
		Rank:             rank,
		Name:             name,
		Symbol:           symbol,
		Price:            price,
		MarketCap:        parseMarketCap(cells.Eq(colMarketCap)),
		Volume24h:        parseVolume(cells.Eq(colVolume)),
		PercentChange1h:  parseChange(cells.Eq(colChange1h)),
		PercentChange24h: parseChange(cells.Eq(colChange24h)),
		PercentChange7d:  parseChange(cells.Eq(colChange7d)),
		Source:           model.SourceHTML,
		ScrapedAt:        scrapedAt,
	}, true
}

// parseChange reads a percent cell. The site renders the magnitude only and
// marks falls with a caret-down icon.
func parseChange(cell *goquery.Selection) float64 {
	v, err := parseNumber(cell.Text())
	if err != nil {
		return 0
	}
	if cell.Find(".icon-Caret-down").Length() > 0 && v > 0 {
		v = -v
	}
	return v
}

// parseMarketCap prefers the unabbreviated figure, which the site puts in
// the last span of the cell.
func parseMarketCap(cell *goquery.Selection) float64 {
	if span := cell.Find("span").Last(); span.Length() > 0 {
		if v, err := parseNumber(span.Text()); err == nil {
			return v
		}
	}
	v, _ := parseNumber(cell.Text())
	return v
}

// parseVolume reads the USD volume, the first paragraph of the cell.
func parseVolume(cell *goquery.Selection) float64 {
	if p := cell.Find("p").First(); p.Length() > 0 {
		if v, err := parseNumber(p.Text()); err == nil {
			return v
		}
	}
	v, _ := parseNumber(cell.Text())
	return v
}

// parseNumber strips currency symbols, separators and units, e.g.
// "$1,234.56" or "-0.42%".
func parseNumber(text string) (float64, error) {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", strings.TrimSpace(text), err)
	}
	return d.InexactFloat64(), nil
}

// digitsOnly keeps only the ASCII digits of text.
func digitsOnly(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Close releases the underlying HTTP client.
func (f *HTMLFetcher) Close() error {
	return f.client.Close()
}
