package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultMarketplace is used when no marketplace selector is given.
const DefaultMarketplace = "us"

// DefaultMarketplaceHosts maps marketplace selectors to storefront hosts.
var DefaultMarketplaceHosts = map[string]string{
	"us": "www.amazon.com",
	"ca": "www.amazon.ca",
	"mx": "www.amazon.com.mx",
	"uk": "www.amazon.co.uk",
	"de": "www.amazon.de",
	"fr": "www.amazon.fr",
	"it": "www.amazon.it",
	"es": "www.amazon.es",
	"jp": "www.amazon.co.jp",
	"in": "www.amazon.in",
	"au": "www.amazon.com.au",
}

// Config holds scraper configuration.
type Config struct {
	AsinsPath          string
	Marketplace        string
	MarketplaceHosts   map[string]string
	Parallelism        int
	Delay              time.Duration
	RandomDelay        time.Duration
	Timeout            time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	RetryBackoffMax    time.Duration
	OutputFile         string
	OutputFormat       string // csv, json, or dual
	UserAgent          string
	RandomUserAgent    bool
	CacheDir           string
	Verbose            bool
	RespectRobotsTxt   bool
	PipelineBufferSize int
	BatchSize          int
	DedupeMaxSize      int
	MetricsAddr        string
}

// DefaultConfig returns conservative defaults for a single marketplace run.
func DefaultConfig() *Config {
	hosts := make(map[string]string, len(DefaultMarketplaceHosts))
	for k, v := range DefaultMarketplaceHosts {
		hosts[k] = v
	}
	return &Config{
		Marketplace:        DefaultMarketplace,
		MarketplaceHosts:   hosts,
		Parallelism:        8,
		Delay:              0,
		RandomDelay:        0,
		Timeout:            15 * time.Second,
		MaxRetries:         2,
		RetryBackoff:       200 * time.Millisecond,
		RetryBackoffMax:    2 * time.Second,
		OutputFile:         "output/products.csv",
		OutputFormat:       "csv",
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Verbose:            false,
		RespectRobotsTxt:   false,
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      100000,
	}
}

// Host returns the storefront host for the configured marketplace.
func (c *Config) Host() (string, bool) {
	host, ok := c.MarketplaceHosts[c.MarketplaceKey()]
	return host, ok && host != ""
}

// MarketplaceKey returns the normalised marketplace selector.
func (c *Config) MarketplaceKey() string {
	key := strings.ToLower(strings.TrimSpace(c.Marketplace))
	if key == "" {
		return DefaultMarketplace
	}
	return key
}

// Validate ensures all configuration values are coherent.
//
// Missing ASIN paths and unknown marketplaces are argument errors reported by
// the request generator, not here.
func (c *Config) Validate() error {
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" && !c.RandomUserAgent {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	return nil
}

// EnvString returns the value of an environment variable when set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses an integer environment variable.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}
