package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"cryptocrawler/internal/logging"
	"cryptocrawler/internal/storage"
)

// Config holds all configuration for the crawler. Durations are expressed
// in (possibly fractional) seconds, as they appear in the environment.
type Config struct {
	// HTTP client
	HTTPTimeout       float64 `mapstructure:"http_timeout"`
	HTTPMaxRetries    int     `mapstructure:"http_max_retries"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// Price poller
	PollInterval           float64 `mapstructure:"poll_interval"`
	MaxConsecutiveFailures int     `mapstructure:"max_consecutive_failures"`
	MAWindow               int     `mapstructure:"ma_window"`
	WarmStart              bool    `mapstructure:"warm_start"`
	CoinID                 string  `mapstructure:"coin_id"`
	CoinSymbol             string  `mapstructure:"coin_symbol"`
	VsCurrency             string  `mapstructure:"vs_currency"`

	// Listing scraper
	HTMLDelay      float64 `mapstructure:"html_delay"`
	JSONDelay      float64 `mapstructure:"json_delay"`
	CMCPages       int     `mapstructure:"cmc_pages"`
	CMCPerPage     int     `mapstructure:"cmc_per_page"`
	ComparePause   float64 `mapstructure:"compare_pause"`
	ScrapeSchedule string  `mapstructure:"scrape_schedule"`

	// Base URLs for API endpoints (configurable for testing)
	CoinGeckoBaseURL     string `mapstructure:"coingecko_base_url"`
	CoinMarketCapBaseURL string `mapstructure:"coinmarketcap_base_url"`
	CoinMarketCapAPIURL  string `mapstructure:"coinmarketcap_api_url"`

	// Storage
	StorageType string `mapstructure:"storage_type"`
	DataDir     string `mapstructure:"data_dir"`

	// Observability
	LogLevel    string `mapstructure:"log_level"`
	LogFile     string `mapstructure:"log_file"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// setting ties a config key to its environment variable and default.
type setting struct {
	key string
	env string
	def any
}

var settings = []setting{
	{"http_timeout", "CRYPTO_HTTP_TIMEOUT", 30.0},
	{"http_max_retries", "CRYPTO_HTTP_MAX_RETRIES", 5},
	{"requests_per_second", "CRYPTO_REQUESTS_PER_SECOND", 2.0},
	{"poll_interval", "CRYPTO_POLL_INTERVAL", 1.0},
	{"max_consecutive_failures", "CRYPTO_MAX_FAILURES", 5},
	{"ma_window", "CRYPTO_MA_WINDOW", 10},
	{"warm_start", "CRYPTO_WARM_START", false},
	{"coin_id", "CRYPTO_COIN_ID", "bitcoin"},
	{"coin_symbol", "CRYPTO_COIN_SYMBOL", "BTC"},
	{"vs_currency", "CRYPTO_VS_CURRENCY", "usd"},
	{"html_delay", "CRYPTO_HTML_DELAY", 0.5},
	{"json_delay", "CRYPTO_JSON_DELAY", 0.2},
	{"cmc_pages", "CRYPTO_CMC_PAGES", 5},
	{"cmc_per_page", "CRYPTO_CMC_PER_PAGE", 20},
	{"compare_pause", "CRYPTO_COMPARE_PAUSE", 2.0},
	{"scrape_schedule", "CRYPTO_SCRAPE_SCHEDULE", ""},
	{"coingecko_base_url", "COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"},
	{"coinmarketcap_base_url", "COINMARKETCAP_BASE_URL", "https://coinmarketcap.com"},
	{"coinmarketcap_api_url", "COINMARKETCAP_API_URL", "https://api.coinmarketcap.com/data-api/v3/cryptocurrency/listing"},
	{"storage_type", "CRYPTO_STORAGE_TYPE", "csv"},
	{"data_dir", "CRYPTO_DATA_DIR", "data"},
	{"log_level", "CRYPTO_LOG_LEVEL", "INFO"},
	{"log_file", "CRYPTO_LOG_FILE", ""},
	{"metrics_addr", "CRYPTO_METRICS_ADDR", ""},
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"storage":    "storage_type",
	"pages":      "cmc_pages",
	"per-page":   "cmc_per_page",
	"log-level":  "log_level",
	"warm-start": "warm_start",
}

// RegisterFlags adds the flags that override configuration keys. Their
// zero defaults are placeholders; unset flags fall through to the
// environment, config file and built-in defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("storage", "", "storage backend: csv or sqlite")
	fs.Int("pages", 0, "number of listing pages to scrape")
	fs.Int("per-page", 0, "records per page for the JSON API")
	fs.String("log-level", "", "log level: DEBUG, INFO, WARNING or ERROR")
	fs.Bool("warm-start", false, "seed the moving average from stored prices")
}

// Load builds the configuration. Sources, highest precedence first:
// changed flags in fs, environment variables, a .env file in the working
// directory, config.yaml in "." or $HOME/.cryptocrawler, and defaults.
// fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", s.env, err)
		}
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.cryptocrawler")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v float64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, v))
		}
	}
	nonNegative := func(name string, v float64) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %v", name, v))
		}
	}

	positive("http_timeout", c.HTTPTimeout)
	positive("http_max_retries", float64(c.HTTPMaxRetries))
	positive("requests_per_second", c.RequestsPerSecond)
	positive("poll_interval", c.PollInterval)
	positive("max_consecutive_failures", float64(c.MaxConsecutiveFailures))
	positive("ma_window", float64(c.MAWindow))
	positive("cmc_pages", float64(c.CMCPages))
	positive("cmc_per_page", float64(c.CMCPerPage))
	nonNegative("html_delay", c.HTMLDelay)
	nonNegative("json_delay", c.JSONDelay)
	nonNegative("compare_pause", c.ComparePause)

	if _, err := storage.ParseKind(c.StorageType); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.CoinID == "" {
		errs = append(errs, errors.New("coin_id must not be empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// seconds converts fractional seconds to a duration.
func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Timeout returns the HTTP request timeout.
func (c *Config) Timeout() time.Duration          { return seconds(c.HTTPTimeout) }
// PollEvery returns the interval between successful polls.
func (c *Config) PollEvery() time.Duration        { return seconds(c.PollInterval) }
// HTMLPageDelay returns the pause between HTML pages.
func (c *Config) HTMLPageDelay() time.Duration    { return seconds(c.HTMLDelay) }
// JSONPageDelay returns the pause between JSON pages.
func (c *Config) JSONPageDelay() time.Duration    { return seconds(c.JSONDelay) }
// ComparePauseTime returns the pause between the two comparison runs.
func (c *Config) ComparePauseTime() time.Duration { return seconds(c.ComparePause) }

// Storage returns the parsed storage kind. Valid after Validate.
func (c *Config) Storage() storage.Kind {
	k, _ := storage.ParseKind(c.StorageType)
	return k
}
