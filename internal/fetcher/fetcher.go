package fetcher

import (
	"context"

	"cryptocrawler/internal/model"
)

// PriceFetcher retrieves the current price of a single coin.
type PriceFetcher interface {
	// FetchPrice returns the latest price as a point stamped with the
	// time it was observed. The SMA field is left nil.
	FetchPrice(ctx context.Context) (model.PricePoint, error)

	// Key returns a hierarchical key identifying this fetcher.
	// Format: fetcher:{source}:{identifier}
	// Example: fetcher:coingecko:bitcoin
	Key() string

	// Symbol is the ticker stamped on every point, e.g. BTC.
	Symbol() string
}

// ListingFetcher retrieves one page of a ranked coin listing.
type ListingFetcher interface {
	// FetchListings returns the records on the given 1-based page, in rank order.
	FetchListings(ctx context.Context, page int) ([]model.ListingRecord, error)

	// Method names the scraping method, model.SourceHTML or model.SourceJSON.
	Method() string
}
