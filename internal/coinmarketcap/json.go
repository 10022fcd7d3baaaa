package coinmarketcap

import (
	"context"
	"strconv"
	"time"

	"cryptocrawler/internal/fetcher"
	"cryptocrawler/internal/model"
	"cryptocrawler/internal/ratelimit"

	"resty.dev/v3"
)

const source = "coinmarketcap"

// ListingResponse is the data-api/v3 cryptocurrency/listing payload. Only
// the fields persisted are decoded. Pointers distinguish absent from zero.
type ListingResponse struct {
	Data struct {
		CryptoCurrencyList []ListingItem `json:"cryptoCurrencyList"`
		TotalCount         string        `json:"totalCount"`
	} `json:"data"`
	Status struct {
		ErrorCode    string `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

// ListingItem is one coin in the listing.
type ListingItem struct {
	CMCRank *int    `json:"cmcRank"`
	Name    *string `json:"name"`
	Symbol  *string `json:"symbol"`
	Quotes  []struct {
		Name             string   `json:"name"`
		Price            *float64 `json:"price"`
		Volume24h        *float64 `json:"volume24h"`
		MarketCap        *float64 `json:"marketCap"`
		PercentChange1h  *float64 `json:"percentChange1h"`
		PercentChange24h *float64 `json:"percentChange24h"`
		PercentChange7d  *float64 `json:"percentChange7d"`
	} `json:"quotes"`
}

// JSONFetcher reads listing pages from the CoinMarketCap data API.
type JSONFetcher struct {
	apiURL  string
	perPage int
	client  *resty.Client
	limiter *ratelimit.Limiter
	now     func() time.Time
}

// NewJSONFetcher creates a fetcher for apiURL, the full listing endpoint.
// perPage is the number of coins requested per page.
func NewJSONFetcher(apiURL string, perPage int, opts fetcher.ClientOptions, limiter *ratelimit.Limiter) *JSONFetcher {
	if perPage <= 0 {
		perPage = 100
	}
	return &JSONFetcher{
		apiURL:  apiURL,
		perPage: perPage,
		client:  fetcher.NewHTTPClient("", opts),
		limiter: limiter,
		now:     time.Now,
	}
}

// Method implements fetcher.ListingFetcher.
func (f *JSONFetcher) Method() string { return model.SourceJSON }

// FetchListings retrieves one page. Page 1 starts at rank 1.
func (f *JSONFetcher) FetchListings(ctx context.Context, page int) ([]model.ListingRecord, error) {
	if page < 1 {
		return nil, fetcher.NewValidationError("page must be >= 1, got %d", page).WithSource(source)
	}
	if err := f.limiter.Wait(ctx, ratelimit.APICoinMarketCap); err != nil {
		return nil, fetcher.ClassifyRequestError(err).WithSource(source)
	}

	start := (page-1)*f.perPage + 1
	var result ListingResponse

	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"start":    strconv.Itoa(start),
			"limit":    strconv.Itoa(f.perPage),
			"sortBy":   "market_cap",
			"sortType": "desc",
			"convert":  "USD",
		}).
		SetResult(&result).
		Get(f.apiURL)

	if err != nil {
		return nil, fetcher.ClassifyRequestError(err).WithSource(source)
	}

	if !resp.IsSuccess() {
		return nil, fetcher.ClassifyHTTPError(resp.StatusCode()).WithSource(source)
	}

	if code := result.Status.ErrorCode; code != "" && code != "0" {
		return nil, fetcher.NewValidationError("api error %s: %s", code, result.Status.ErrorMessage).WithSource(source)
	}

	scrapedAt := f.now()
	records := make([]model.ListingRecord, 0, len(result.Data.CryptoCurrencyList))
	for _, item := range result.Data.CryptoCurrencyList {
		rec, ok := item.toRecord(scrapedAt)
		if !ok {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// toRecord keeps an item only if rank, name, symbol and price are present.
func (item ListingItem) toRecord(scrapedAt time.Time) (model.ListingRecord, bool) {
	if item.CMCRank == nil || item.Name == nil || item.Symbol == nil || len(item.Quotes) == 0 {
		return model.ListingRecord{}, false
	}
	q := item.Quotes[0]
	if q.Price == nil {
		return model.ListingRecord{}, false
	}

	return model.ListingRecord{
		Rank:             *item.CMCRank,
		Name:             *item.Name,
		Symbol:           *item.Symbol,
		Price:            *q.Price,
		MarketCap:        orZero(q.MarketCap),
		Volume24h:        orZero(q.Volume24h),
		PercentChange1h:  orZero(q.PercentChange1h),
		PercentChange24h: orZero(q.PercentChange24h),
		PercentChange7d:  orZero(q.PercentChange7d),
		Source:           model.SourceJSON,
		ScrapedAt:        scrapedAt,
	}, true
}

// orZero dereferences v, treating nil as zero.
func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Close releases the underlying HTTP client.
func (f *JSONFetcher) Close() error {
	return f.client.Close()
}
