package fetcher

import (
	"log/slog"
	"net/http"
	"time"

	"resty.dev/v3"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxAttempts      = 5
	defaultRetryWaitTime    = 1 * time.Second
	defaultRetryMaxWaitTime = 30 * time.Second
	userAgent               = "cryptocrawler/1.0"
)

// ClientOptions tunes the shared HTTP client. Zero values take defaults.
type ClientOptions struct {
	Timeout time.Duration
	// MaxAttempts is the total number of tries per request, first included.
	MaxAttempts      int
	RetryWaitTime    time.Duration
	RetryMaxWaitTime time.Duration
	Accept           string
}

// withDefaults fills zero fields with the default client settings.
func (o ClientOptions) withDefaults() ClientOptions {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.RetryWaitTime <= 0 {
		o.RetryWaitTime = defaultRetryWaitTime
	}
	if o.RetryMaxWaitTime <= 0 {
		o.RetryMaxWaitTime = defaultRetryMaxWaitTime
	}
	if o.Accept == "" {
		o.Accept = "application/json"
	}
	return o
}

// NewHTTPClient creates a resty client with a request timeout and
// exponential retry on network errors, 408, 429 and 5xx.
func NewHTTPClient(baseURL string, opts ClientOptions) *resty.Client {
	opts = opts.withDefaults()

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("Accept", opts.Accept).
		SetHeader("User-Agent", userAgent).
		SetRetryCount(opts.MaxAttempts - 1).
		SetRetryWaitTime(opts.RetryWaitTime).
		SetRetryMaxWaitTime(opts.RetryMaxWaitTime).
		AddRetryConditions(retryCondition).
		AddRetryHooks(retryHook)
	if baseURL != "" {
		client.SetBaseURL(baseURL)
	}

	return client
}

// retryCondition determines whether a request should be retried.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	switch code := r.StatusCode(); {
	case code >= 500:
		return true
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}

// retryHook logs each retry attempt.
func retryHook(r *resty.Response, err error) {
	if err != nil {
		slog.Debug("retrying request after error",
			"url", r.Request.URL,
			"attempt", r.Request.Attempt,
			"error", err.Error())
		return
	}

	slog.Warn("retrying request after status",
		"url", r.Request.URL,
		"attempt", r.Request.Attempt,
		"status_code", r.StatusCode())
}
