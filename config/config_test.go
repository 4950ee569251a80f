package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "negative parallelism",
			mutate: func(cfg *Config) {
				cfg.Parallelism = -1
			},
			wantErr: "parallelism",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "backoff above max",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = 5 * time.Second
				cfg.RetryBackoffMax = time.Second
			},
			wantErr: "retry backoff",
		},
		{
			name: "unknown format",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "xml"
			},
			wantErr: "output format",
		},
		{
			name: "empty user agent",
			mutate: func(cfg *Config) {
				cfg.UserAgent = ""
			},
			wantErr: "user agent",
		},
		{
			name: "zero batch size",
			mutate: func(cfg *Config) {
				cfg.BatchSize = 0
			},
			wantErr: "batch size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestRandomUserAgentAllowsEmptyUserAgent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UserAgent = ""
	cfg.RandomUserAgent = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestConfigHost(t *testing.T) {
	tests := []struct {
		marketplace string
		wantHost    string
		wantOK      bool
	}{
		{marketplace: "us", wantHost: "www.amazon.com", wantOK: true},
		{marketplace: "UK", wantHost: "www.amazon.co.uk", wantOK: true},
		{marketplace: "", wantHost: "www.amazon.com", wantOK: true},
		{marketplace: "zz", wantHost: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.marketplace, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Marketplace = tt.marketplace
			host, ok := cfg.Host()
			if host != tt.wantHost || ok != tt.wantOK {
				t.Fatalf("Host() = (%q, %v), want (%q, %v)", host, ok, tt.wantHost, tt.wantOK)
			}
		})
	}
}

func TestDefaultConfigCopiesHosts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MarketplaceHosts["us"] = "example.test"
	if DefaultMarketplaceHosts["us"] != "www.amazon.com" {
		t.Fatalf("default host map was mutated")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("SCRAPER_TEST_INT", "12")
	value, ok, err := EnvInt("SCRAPER_TEST_INT")
	if err != nil || !ok || value != 12 {
		t.Fatalf("EnvInt = (%d, %v, %v), want (12, true, nil)", value, ok, err)
	}

	t.Setenv("SCRAPER_TEST_INT", "twelve")
	if _, _, err := EnvInt("SCRAPER_TEST_INT"); err == nil {
		t.Fatalf("expected parse error")
	}

	if _, ok, err := EnvInt("SCRAPER_TEST_UNSET"); ok || err != nil {
		t.Fatalf("unset variable should report not ok")
	}
}

func TestEnvStringBlank(t *testing.T) {
	t.Setenv("SCRAPER_TEST_STR", "   ")
	if _, ok := EnvString("SCRAPER_TEST_STR"); ok {
		t.Fatalf("blank value should be ignored")
	}
}

func TestLoadFileApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.yaml")
	content := `asins_path: ./asins
marketplace: DE
marketplace_hosts:
  ZZ: www.example.test
  it: ""
parallel: 3
delay: 250ms
max_retries: 0
format: JSON
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	cfg := DefaultConfig()
	f.Apply(cfg)

	if cfg.AsinsPath != "./asins" {
		t.Fatalf("asins path = %q", cfg.AsinsPath)
	}
	if host, ok := cfg.Host(); !ok || host != "www.amazon.de" {
		t.Fatalf("host = %q, %v", host, ok)
	}
	if cfg.MarketplaceHosts["zz"] != "www.example.test" {
		t.Fatalf("custom host not merged: %v", cfg.MarketplaceHosts)
	}
	if _, ok := cfg.MarketplaceHosts["it"]; ok {
		t.Fatalf("empty host should remove selector")
	}
	if cfg.Parallelism != 3 || cfg.Delay != 250*time.Millisecond {
		t.Fatalf("tuning not applied: parallel=%d delay=%s", cfg.Parallelism, cfg.Delay)
	}
	if cfg.MaxRetries != 0 {
		t.Fatalf("max retries = %d, want 0", cfg.MaxRetries)
	}
	if cfg.OutputFormat != "json" {
		t.Fatalf("format = %q, want json", cfg.OutputFormat)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
}
