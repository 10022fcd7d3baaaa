package coingecko

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cryptocrawler/internal/fetcher"
	"cryptocrawler/internal/model"
	"cryptocrawler/internal/ratelimit"

	"resty.dev/v3"
)

const source = "coingecko"

// quote is one coin's entry in a simple/price response, e.g.
//
//	{"bitcoin": {"usd": 67123.45, "last_updated_at": 1718000000}}
//
// The currency key varies with vs_currencies, so the entry is a map.
type quote map[string]float64

// PriceParams selects the coin and quote currency.
type PriceParams struct {
	CoinID     string // e.g. "bitcoin"
	Symbol     string // reported symbol, e.g. "BTC"
	VsCurrency string // e.g. "usd"
}

// PriceFetcher fetches a spot price from the CoinGecko simple/price endpoint.
type PriceFetcher struct {
	params  PriceParams
	client  *resty.Client
	limiter *ratelimit.Limiter
	now     func() time.Time
}

// NewPriceFetcher creates a fetcher against baseURL, e.g.
// https://api.coingecko.com/api/v3. limiter may be nil.
func NewPriceFetcher(params PriceParams, baseURL string, opts fetcher.ClientOptions, limiter *ratelimit.Limiter) *PriceFetcher {
	if params.CoinID == "" {
		params.CoinID = "bitcoin"
	}
	if params.VsCurrency == "" {
		params.VsCurrency = "usd"
	}
	if params.Symbol == "" {
		params.Symbol = params.CoinID
	}
	params.Symbol = strings.ToUpper(params.Symbol)
	params.VsCurrency = strings.ToLower(params.VsCurrency)

	return &PriceFetcher{
		params:  params,
		client:  fetcher.NewHTTPClient(baseURL, opts),
		limiter: limiter,
		now:     time.Now,
	}
}

// FetchPrice retrieves the current price.
func (f *PriceFetcher) FetchPrice(ctx context.Context) (model.PricePoint, error) {
	if err := f.limiter.Wait(ctx, ratelimit.APICoinGecko); err != nil {
		return model.PricePoint{}, fetcher.ClassifyRequestError(err).WithSource(source)
	}

	var result map[string]quote

	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ids":                     f.params.CoinID,
			"vs_currencies":           f.params.VsCurrency,
			"include_last_updated_at": "true",
		}).
		SetResult(&result).
		Get("/simple/price")

	if err != nil {
		return model.PricePoint{}, fetcher.ClassifyRequestError(err).WithSource(source)
	}

	if !resp.IsSuccess() {
		return model.PricePoint{}, fetcher.ClassifyHTTPError(resp.StatusCode()).WithSource(source)
	}

	q, ok := result[f.params.CoinID]
	if !ok {
		return model.PricePoint{}, fetcher.NewValidationError("price data not found for %s", f.params.CoinID).WithSource(source)
	}
	price, ok := q[f.params.VsCurrency]
	if !ok {
		return model.PricePoint{}, fetcher.NewValidationError("%s price not found for %s", f.params.VsCurrency, f.params.CoinID).WithSource(source)
	}
	if price <= 0 {
		return model.PricePoint{}, fetcher.NewValidationError("non-positive price %v for %s", price, f.params.CoinID).WithSource(source)
	}

	return model.PricePoint{
		Timestamp: f.now(),
		Symbol:    f.params.Symbol,
		Price:     price,
		Source:    source,
	}, nil
}

// Key returns the fetcher key.
func (f *PriceFetcher) Key() string {
	return fmt.Sprintf("fetcher:%s:%s", source, f.params.CoinID)
}

// Symbol returns the ticker symbol reported for this coin.
func (f *PriceFetcher) Symbol() string {
	return f.params.Symbol
}

// Close releases the underlying HTTP client.
func (f *PriceFetcher) Close() error {
	return f.client.Close()
}
