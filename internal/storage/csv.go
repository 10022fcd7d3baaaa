package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"cryptocrawler/internal/model"
)

var (
	priceHeader   = []string{"timestamp", "symbol", "price", "sma", "source"}
	listingHeader = []string{
		"rank", "name", "symbol", "price", "market_cap", "volume_24h",
		"percent_change_1h", "percent_change_24h", "percent_change_7d",
		"source", "scraped_at",
	}
)

// csvFile is an append-mode CSV file opened on first write.
type csvFile struct {
	path   string
	header []string
	f      *os.File
	w      *csv.Writer
}

// open opens the file for appending and writes the header if it is empty.
func (c *csvFile) open() error {
	if c.w != nil {
		return nil
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", c.path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(c.header); err != nil {
			f.Close()
			return fmt.Errorf("write header to %s: %w", c.path, err)
		}
	}
	c.f, c.w = f, w
	return nil
}

// append writes rows and flushes them so each successful call is on disk.
func (c *csvFile) append(rows ...[]string) error {
	if err := c.open(); err != nil {
		return err
	}
	if err := c.w.WriteAll(rows); err != nil {
		return fmt.Errorf("append to %s: %w", c.path, err)
	}
	return nil
}

// close flushes and closes the file if it was opened.
func (c *csvFile) close() error {
	if c.w == nil {
		return nil
	}
	c.w.Flush()
	err := errors.Join(c.w.Error(), c.f.Close())
	c.f, c.w = nil, nil
	return err
}

// CSVSink appends prices and listings to two CSV files.
type CSVSink struct {
	mu       sync.Mutex
	prices   *csvFile
	listings *csvFile
}

// NewCSVSink returns a sink writing base_prices.csv and base_listings.csv.
// Files are created with a header on first write.
func NewCSVSink(base string) *CSVSink {
	return &CSVSink{
		prices:   &csvFile{path: base + "_prices.csv", header: priceHeader},
		listings: &csvFile{path: base + "_listings.csv", header: listingHeader},
	}
}

// Kind returns KindCSV.
func (s *CSVSink) Kind() Kind { return KindCSV }

// PricesPath returns the path of the prices file.
func (s *CSVSink) PricesPath() string { return s.prices.path }

// ListingsPath returns the path of the listings file.
func (s *CSVSink) ListingsPath() string { return s.listings.path }

// WritePrice appends one row to the prices file.
func (s *CSVSink) WritePrice(_ context.Context, p model.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prices.append(encodePrice(p))
}

// WriteListings appends records to the listings file.
func (s *CSVSink) WriteListings(_ context.Context, records []model.ListingRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = encodeListing(r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listings.append(rows...)
}

// RecentPrices scans the prices file. A missing file yields no points.
func (s *CSVSink) RecentPrices(_ context.Context, symbol string, n int) ([]model.PricePoint, error) {
	if n <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.prices.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.prices.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(priceHeader)
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header of %s: %w", s.prices.path, err)
	}

	var points []model.PricePoint
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", s.prices.path, err)
		}
		if row[1] != symbol {
			continue
		}
		p, err := decodePrice(row)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.prices.path, err)
		}
		points = append(points, p)
	}

	if len(points) > n {
		points = points[len(points)-n:]
	}
	return points, nil
}

// Close closes both files.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.prices.close(), s.listings.close())
}

// formatFloat writes v with the fewest digits that round-trip.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// encodePrice converts a point to a prices row.
func encodePrice(p model.PricePoint) []string {
	sma := ""
	if p.HasSMA() {
		sma = formatFloat(*p.SMA)
	}
	return []string{
		p.Timestamp.Format(time.RFC3339Nano),
		p.Symbol,
		formatFloat(p.Price),
		sma,
		p.Source,
	}
}

// decodePrice parses a prices row.
func decodePrice(row []string) (model.PricePoint, error) {
	ts, err := time.Parse(time.RFC3339Nano, row[0])
	if err != nil {
		return model.PricePoint{}, err
	}
	price, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return model.PricePoint{}, err
	}
	p := model.PricePoint{Timestamp: ts, Symbol: row[1], Price: price, Source: row[4]}
	if row[3] != "" {
		sma, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return model.PricePoint{}, err
		}
		p.SMA = &sma
	}
	return p, nil
}

// encodeListing converts a record to a listings row.
func encodeListing(r model.ListingRecord) []string {
	return []string{
		strconv.Itoa(r.Rank),
		r.Name,
		r.Symbol,
		formatFloat(r.Price),
		formatFloat(r.MarketCap),
		formatFloat(r.Volume24h),
		formatFloat(r.PercentChange1h),
		formatFloat(r.PercentChange24h),
		formatFloat(r.PercentChange7d),
		r.Source,
		r.ScrapedAt.Format(time.RFC3339Nano),
	}
}
