package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"cryptocrawler/internal/fetcher"
	"cryptocrawler/internal/model"
	"cryptocrawler/internal/storage"
)

// MockPriceFetcher is a mock implementation of fetcher.PriceFetcher.
type MockPriceFetcher struct {
	FetchFunc func(ctx context.Context, call int) (model.PricePoint, error)
	KeyValue  string
	SymbolVal string

	mu    sync.Mutex
	calls int
}

// FetchPrice implements fetcher.PriceFetcher. call is 1-based.
func (m *MockPriceFetcher) FetchPrice(ctx context.Context) (model.PricePoint, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()

	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, call)
	}
	return model.PricePoint{}, nil
}

// Key returns KeyValue or a default key.
func (m *MockPriceFetcher) Key() string {
	if m.KeyValue != "" {
		return m.KeyValue
	}
	return "fetcher:mock:" + m.Symbol()
}

// Symbol returns SymbolVal or a default symbol.
func (m *MockPriceFetcher) Symbol() string {
	if m.SymbolVal != "" {
		return m.SymbolVal
	}
	return "BTC"
}

// Calls returns how many times FetchPrice was invoked.
func (m *MockPriceFetcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// PriceStep is one scripted FetchPrice outcome.
type PriceStep struct {
	Price float64
	Err   error
}

// NewPriceSequence returns a fetcher that replays steps in order, one per
// call, then keeps failing once they run out. Points are stamped one
// second apart starting at start.
func NewPriceSequence(symbol string, start time.Time, steps ...PriceStep) *MockPriceFetcher {
	return &MockPriceFetcher{
		SymbolVal: symbol,
		FetchFunc: func(_ context.Context, call int) (model.PricePoint, error) {
			if call > len(steps) {
				return model.PricePoint{}, errors.New("mock: no more scripted prices")
			}
			step := steps[call-1]
			if step.Err != nil {
				return model.PricePoint{}, step.Err
			}
			return model.PricePoint{
				Timestamp: start.Add(time.Duration(call-1) * time.Second),
				Symbol:    symbol,
				Price:     step.Price,
				Source:    "mock",
			}, nil
		},
	}
}

// MockListingFetcher is a mock implementation of fetcher.ListingFetcher.
type MockListingFetcher struct {
	FetchFunc  func(ctx context.Context, page int) ([]model.ListingRecord, error)
	MethodName string

	mu    sync.Mutex
	pages []int
}

// FetchListings records the page and calls FetchFunc.
func (m *MockListingFetcher) FetchListings(ctx context.Context, page int) ([]model.ListingRecord, error) {
	m.mu.Lock()
	m.pages = append(m.pages, page)
	m.mu.Unlock()

	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, page)
	}
	return nil, nil
}

// Method returns MethodName, defaulting to HTML.
func (m *MockListingFetcher) Method() string {
	if m.MethodName != "" {
		return m.MethodName
	}
	return model.SourceHTML
}

// Pages returns the pages requested so far, in order.
func (m *MockListingFetcher) Pages() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.pages...)
}

// NewListingPages returns a fetcher yielding perPage records for every
// page, ranked continuously across pages.
func NewListingPages(method string, perPage int, scrapedAt time.Time) *MockListingFetcher {
	return &MockListingFetcher{
		MethodName: method,
		FetchFunc: func(_ context.Context, page int) ([]model.ListingRecord, error) {
			records := make([]model.ListingRecord, perPage)
			for i := range records {
				rank := (page-1)*perPage + i + 1
				records[i] = model.ListingRecord{
					Rank:      rank,
					Name:      "Coin",
					Symbol:    "C" + string(rune('A'+rank%26)),
					Price:     float64(rank) * 1.5,
					Source:    method,
					ScrapedAt: scrapedAt,
				}
			}
			return records, nil
		},
	}
}

// MemorySink is an in-memory storage.Sink. Set PriceErr or ListingErr to
// make writes fail.
type MemorySink struct {
	mu         sync.Mutex
	prices     []model.PricePoint
	listings   []model.ListingRecord
	closed     bool
	PriceErr   func(p model.PricePoint) error
	ListingErr func(records []model.ListingRecord) error
}

var _ storage.Sink = (*MemorySink)(nil)

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Kind() storage.Kind { return "memory" }

// WritePrice stores p unless PriceErr returns an error.
func (s *MemorySink) WritePrice(_ context.Context, p model.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PriceErr != nil {
		if err := s.PriceErr(p); err != nil {
			return err
		}
	}
	s.prices = append(s.prices, p)
	return nil
}

// WriteListings stores records unless ListingErr returns an error.
func (s *MemorySink) WriteListings(_ context.Context, records []model.ListingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListingErr != nil {
		if err := s.ListingErr(records); err != nil {
			return err
		}
	}
	s.listings = append(s.listings, records...)
	return nil
}

// RecentPrices returns up to n of the latest prices for symbol.
func (s *MemorySink) RecentPrices(_ context.Context, symbol string, n int) ([]model.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PricePoint
	for _, p := range s.prices {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// Close marks the sink closed.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Prices returns a copy of the stored prices.
func (s *MemorySink) Prices() []model.PricePoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.PricePoint(nil), s.prices...)
}

// Listings returns a copy of the stored listings.
func (s *MemorySink) Listings() []model.ListingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ListingRecord(nil), s.listings...)
}

// Closed reports whether Close was called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var (
	_ fetcher.PriceFetcher   = (*MockPriceFetcher)(nil)
	_ fetcher.ListingFetcher = (*MockListingFetcher)(nil)
)
