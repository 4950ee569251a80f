package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// File is the YAML overlay accepted by LoadFile. Zero values leave the
// corresponding Config field untouched.
type File struct {
	AsinsPath   string            `yaml:"asins_path"`
	Marketplace string            `yaml:"marketplace"`
	Hosts       map[string]string `yaml:"marketplace_hosts"`
	Parallelism int               `yaml:"parallel"`
	Delay       time.Duration     `yaml:"delay"`
	RandomDelay time.Duration     `yaml:"random_delay"`
	Timeout     time.Duration     `yaml:"timeout"`
	MaxRetries  *int              `yaml:"max_retries"`
	UserAgent   string            `yaml:"user_agent"`
	CacheDir    string            `yaml:"cache_dir"`
	Output      string            `yaml:"output"`
	Format      string            `yaml:"format"`
}

// LoadFile reads a YAML overlay from path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user supplied path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}
	return &f, nil
}

// Apply overlays non-zero file values onto cfg. Marketplace hosts are merged
// with lowercased keys; an empty host removes the selector.
func (f *File) Apply(cfg *Config) {
	if f == nil || cfg == nil {
		return
	}
	if f.AsinsPath != "" {
		cfg.AsinsPath = f.AsinsPath
	}
	if f.Marketplace != "" {
		cfg.Marketplace = f.Marketplace
	}
	if len(f.Hosts) > 0 && cfg.MarketplaceHosts == nil {
		cfg.MarketplaceHosts = make(map[string]string, len(f.Hosts))
	}
	for key, host := range f.Hosts {
		key = strings.ToLower(strings.TrimSpace(key))
		host = strings.TrimSpace(host)
		if host == "" {
			delete(cfg.MarketplaceHosts, key)
			continue
		}
		cfg.MarketplaceHosts[key] = host
	}
	if f.Parallelism != 0 {
		cfg.Parallelism = f.Parallelism
	}
	if f.Delay != 0 {
		cfg.Delay = f.Delay
	}
	if f.RandomDelay != 0 {
		cfg.RandomDelay = f.RandomDelay
	}
	if f.Timeout != 0 {
		cfg.Timeout = f.Timeout
	}
	if f.MaxRetries != nil {
		cfg.MaxRetries = *f.MaxRetries
	}
	if f.UserAgent != "" {
		cfg.UserAgent = f.UserAgent
	}
	if f.CacheDir != "" {
		cfg.CacheDir = f.CacheDir
	}
	if f.Output != "" {
		cfg.OutputFile = f.Output
	}
	if f.Format != "" {
		cfg.OutputFormat = strings.ToLower(f.Format)
	}
}
