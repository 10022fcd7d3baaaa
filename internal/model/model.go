package model

import "time"

// PricePoint is a single observed price. SMA is nil until the trailing
// window is full.
type PricePoint struct {
	Timestamp time.Time
	Symbol    string
	Price     float64
	SMA       *float64
	Source    string
}

// HasSMA reports whether a moving average was recorded with this point.
func (p PricePoint) HasSMA() bool {
	return p.SMA != nil
}

// ListingRecord is one row of a ranked coin listing, from either the HTML
// page or the JSON API.
type ListingRecord struct {
	Rank             int
	Name             string
	Symbol           string
	Price            float64
	MarketCap        float64
	Volume24h        float64
	PercentChange1h  float64
	PercentChange24h float64
	PercentChange7d  float64
	Source           string
	ScrapedAt        time.Time
}

// Listing sources.
const (
	SourceHTML = "html"
	SourceJSON = "json"
)
