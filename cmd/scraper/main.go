package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-amazon/config"
	"github.com/aluiziolira/go-scrape-amazon/feed"
	"github.com/aluiziolira/go-scrape-amazon/models"
	"github.com/aluiziolira/go-scrape-amazon/pipeline"
	"github.com/aluiziolira/go-scrape-amazon/scraper"
)

// options mirrors the command line. Environment variables prefixed with
// SCRAPER_ provide the flag defaults.
type options struct {
	configFile        string
	asinsPath         string
	marketplace       string
	parallelism       int
	delayMs           int
	randomDelayMs     int
	timeoutMs         int
	maxRetries        int
	retryBackoffMs    int
	retryBackoffMaxMs int
	respectRobots     bool
	randomUA          bool
	cacheDir          string
	outputFile        string
	outputFormat      string
	metricsAddr       string
	verbose           bool

	// explicit holds the names of flags set on the command line or through
	// the environment. Only those override values from the config file.
	explicit map[string]bool
}

func main() {
	opts, err := parseOptions(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, level := newLogger(os.Stdout, opts.verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg, err := buildConfig(opts)
	if err != nil {
		slog.Error("loading configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	gen := feed.NewGenerator(cfg, logger)
	if err := gen.Check(); err != nil {
		os.Exit(1)
	}

	host, _ := cfg.Host()
	slog.Info("starting detail_loader",
		slog.String("asins_path", cfg.AsinsPath),
		slog.String("marketplace", cfg.MarketplaceKey()),
		slog.String("host", host),
		slog.Int("workers", cfg.Parallelism),
	)

	s, err := scraper.NewScraper(cfg, scraper.WithLogger(logger))
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(cfg.Parallelism)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	result, err := s.Run(ctx, gen, p)
	if err != nil {
		slog.Error("scraping failed", slog.Any("error", err))
		_ = p.Close()
		os.Exit(1)
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(os.Stdout, result, time.Since(startTime), cfg.OutputFile, p.GetMetrics())
}

func parseOptions(fs *flag.FlagSet, args []string) (*options, error) {
	defaults := config.DefaultConfig()
	opts := &options{explicit: make(map[string]bool)}

	envString := func(name, key, fallback string) string {
		if value, ok := config.EnvString(key); ok {
			opts.explicit[name] = true
			return value
		}
		return fallback
	}
	envInt := func(name, key string, fallback int) (int, error) {
		value, ok, err := config.EnvInt(key)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		if ok {
			opts.explicit[name] = true
			return value, nil
		}
		return fallback, nil
	}

	parallelDefault, err := envInt("parallel", "SCRAPER_PARALLEL", defaults.Parallelism)
	if err != nil {
		return nil, err
	}
	retriesDefault, err := envInt("max-retries", "SCRAPER_MAX_RETRIES", defaults.MaxRetries)
	if err != nil {
		return nil, err
	}

	fs.StringVar(&opts.configFile, "config", envString("config", "SCRAPER_CONFIG", ""), "YAML configuration file")
	fs.StringVar(&opts.asinsPath, "asins-path", envString("asins-path", "SCRAPER_ASINS_PATH", ""), "ASIN file or directory of ASIN files")
	fs.StringVar(&opts.marketplace, "marketplace", envString("marketplace", "SCRAPER_MARKETPLACE", defaults.Marketplace), "Marketplace selector (us, uk, de, ...)")
	fs.IntVar(&opts.parallelism, "parallel", parallelDefault, "Number of concurrent requests")
	fs.IntVar(&opts.delayMs, "delay", 0, "Delay between requests (milliseconds)")
	fs.IntVar(&opts.randomDelayMs, "random-delay", 0, "Random jitter added to delay (milliseconds)")
	fs.IntVar(&opts.timeoutMs, "timeout", int(defaults.Timeout/time.Millisecond), "Request timeout (milliseconds)")
	fs.IntVar(&opts.maxRetries, "max-retries", retriesDefault, "Maximum retry attempts per URL")
	fs.IntVar(&opts.retryBackoffMs, "retry-backoff", int(defaults.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	fs.IntVar(&opts.retryBackoffMaxMs, "retry-backoff-max", int(defaults.RetryBackoffMax/time.Millisecond), "Maximum retry backoff (milliseconds)")
	fs.BoolVar(&opts.respectRobots, "respect-robots", false, "Respect robots.txt directives")
	fs.BoolVar(&opts.randomUA, "random-ua", false, "Rotate a random User-Agent per request")
	fs.StringVar(&opts.cacheDir, "cache-dir", envString("cache-dir", "SCRAPER_CACHE_DIR", ""), "Cache fetched pages in this directory")
	fs.StringVar(&opts.outputFile, "output", envString("output", "SCRAPER_OUTPUT", defaults.OutputFile), "Output file path")
	fs.StringVar(&opts.outputFormat, "format", envString("format", "SCRAPER_FORMAT", defaults.OutputFormat), "Output format: csv, json, or dual")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", envString("metrics-addr", "SCRAPER_METRICS_ADDR", ""), "Prometheus metrics listen address (e.g. :9090)")
	fs.BoolVar(&opts.verbose, "v", false, "Enable verbose logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		opts.explicit[f.Name] = true
	})
	return opts, nil
}

// buildConfig layers defaults, the optional config file and explicit
// options, in that order.
func buildConfig(opts *options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	// Flags without a file counterpart always apply.
	cfg.RetryBackoff = time.Duration(opts.retryBackoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(opts.retryBackoffMaxMs) * time.Millisecond
	cfg.RespectRobotsTxt = opts.respectRobots
	cfg.RandomUserAgent = opts.randomUA
	cfg.Verbose = opts.verbose
	cfg.MetricsAddr = opts.metricsAddr
	cfg.Marketplace = opts.marketplace
	cfg.Parallelism = opts.parallelism
	cfg.MaxRetries = opts.maxRetries
	cfg.Timeout = time.Duration(opts.timeoutMs) * time.Millisecond
	cfg.OutputFile = opts.outputFile
	cfg.OutputFormat = strings.ToLower(opts.outputFormat)

	if opts.configFile != "" {
		file, err := config.LoadFile(opts.configFile)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", opts.configFile, err)
		}
		file.Apply(cfg)
	}

	set := opts.explicit
	if set["asins-path"] || cfg.AsinsPath == "" {
		cfg.AsinsPath = opts.asinsPath
	}
	if set["marketplace"] {
		cfg.Marketplace = opts.marketplace
	}
	if set["parallel"] {
		cfg.Parallelism = opts.parallelism
	}
	if set["delay"] {
		cfg.Delay = time.Duration(opts.delayMs) * time.Millisecond
	}
	if set["random-delay"] {
		cfg.RandomDelay = time.Duration(opts.randomDelayMs) * time.Millisecond
	}
	if set["timeout"] {
		cfg.Timeout = time.Duration(opts.timeoutMs) * time.Millisecond
	}
	if set["max-retries"] {
		cfg.MaxRetries = opts.maxRetries
	}
	if set["cache-dir"] || cfg.CacheDir == "" {
		cfg.CacheDir = opts.cacheDir
	}
	if set["output"] {
		cfg.OutputFile = opts.outputFile
	}
	if set["format"] {
		cfg.OutputFormat = strings.ToLower(opts.outputFormat)
	}
	return cfg, nil
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		return pipeline.NewDualWriter(filename, pipeline.DualJSONName(filename))
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(w io.Writer, result *models.ScraperResult, duration time.Duration, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "detail_loader complete")

	totalItems := int64(0)
	if processed, ok := metrics["processed_products"].(int64); ok {
		totalItems = processed
	}
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(totalItems) / duration.Seconds()
	}

	fmt.Fprintf(w, "  ASIN files:    %d\n", result.AsinFiles)
	fmt.Fprintf(w, "  ASINs:         %d valid, %d invalid\n", result.ValidAsins, result.InvalidAsins)
	fmt.Fprintf(w, "  Products:      %d\n", totalItems)
	successRate := 0.0
	if result.RequestCount > 0 {
		successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
	}
	fmt.Fprintf(w, "  Success rate:  %.2f%%\n", successRate)
	fmt.Fprintf(w, "  Parse fails:   %d\n", result.ParseFailures)
	fmt.Fprintf(w, "  Errors:        %d\n", result.ErrorCount)
	fmt.Fprintf(w, "  Retries:       %d\n", result.RetryCount)
	fmt.Fprintf(w, "  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Fprintf(w, "  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", valErrors)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", duration)
	fmt.Fprintf(w, "  Items/sec:     %.2f\n", itemsPerSec)
	fmt.Fprintf(w, "  Output file:   %s\n", outputFile)
	fmt.Fprintln(w, separator)
}

func newLogger(out io.Writer, verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: renderLevel}
	var handler slog.Handler
	if f, ok := out.(*os.File); ok && isTerminal(f) {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler), level
}

// renderLevel prints feed.LevelCritical as CRITICAL instead of ERROR+4.
func renderLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 || a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level >= feed.LevelCritical {
		a.Value = slog.StringValue("CRITICAL")
	}
	return a
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
