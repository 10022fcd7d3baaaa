package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cryptocrawler/internal/model"
)

// Kind selects a storage implementation.
type Kind string

const (
	KindCSV    Kind = "csv"
	KindSQLite Kind = "sqlite"
)

// ParseKind validates a storage type name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCSV, KindSQLite:
		return k, nil
	default:
		return "", fmt.Errorf("unknown storage type %q (want csv or sqlite)", s)
	}
}

// PriceSink persists polled prices.
type PriceSink interface {
	WritePrice(ctx context.Context, p model.PricePoint) error
	// RecentPrices returns up to n most recent points for symbol, oldest first.
	RecentPrices(ctx context.Context, symbol string, n int) ([]model.PricePoint, error)
}

// ListingSink persists scraped listing records.
type ListingSink interface {
	WriteListings(ctx context.Context, records []model.ListingRecord) error
}

// Sink is an append-only store for both record kinds. Records are written
// in arrival order; there is no update or delete path.
type Sink interface {
	PriceSink
	ListingSink
	Kind() Kind
	// Close flushes pending writes and releases files or connections.
	Close() error
}

// Open creates the sink of the given kind rooted at base, a path without
// extension such as "data/poller". CSV sinks write base_prices.csv and
// base_listings.csv; SQLite sinks write base.db.
func Open(kind Kind, base string) (Sink, error) {
	if dir := filepath.Dir(base); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory %s: %w", dir, err)
		}
	}

	switch kind {
	case KindCSV:
		return NewCSVSink(base), nil
	case KindSQLite:
		return NewSQLiteSink(base + ".db")
	default:
		return nil, fmt.Errorf("unknown storage type %q", kind)
	}
}
