package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"

	"github.com/aluiziolira/go-scrape-amazon/config"
	"github.com/aluiziolira/go-scrape-amazon/feed"
	"github.com/aluiziolira/go-scrape-amazon/models"
	"github.com/aluiziolira/go-scrape-amazon/parser"
	"github.com/aluiziolira/go-scrape-amazon/pipeline"
)

const asinCtxKey = "asin"

// Scraper wraps the colly collector and retry logic for product detail pages.
type Scraper struct {
	cfg       *config.Config
	host      string
	collector *colly.Collector
	parser    parser.Parser
	extractor *parser.ASINExtractor
	retry     *retryManager
	logger    *slog.Logger
	Metrics   *Metrics

	requestCount  int64
	responseCount int64
	errorCount    int64
	parseFailures int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int

	handlersOnce sync.Once
}

// Option customises a Scraper.
type Option func(*Scraper)

// WithParser replaces the default detail page parser.
func WithParser(p parser.Parser) Option {
	return func(s *Scraper) {
		if p != nil {
			s.parser = p
		}
	}
}

// WithLogger sets the logger used for crawl events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scraper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScraper builds a scraper instance for the configured marketplace.
func NewScraper(cfg *config.Config, opts ...Option) (*Scraper, error) {
	host, ok := cfg.Host()
	if !ok {
		return nil, fmt.Errorf("%w: %q", feed.ErrUnsupportedMarketplace, cfg.MarketplaceKey())
	}

	collectorOpts := []colly.CollectorOption{
		colly.Async(true),
		colly.AllowedDomains(host),
	}
	if cfg.UserAgent != "" {
		collectorOpts = append(collectorOpts, colly.UserAgent(cfg.UserAgent))
	}
	if cfg.CacheDir != "" {
		collectorOpts = append(collectorOpts, colly.CacheDir(cfg.CacheDir))
	}
	collector := colly.NewCollector(collectorOpts...)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	if cfg.RandomUserAgent {
		extensions.RandomUserAgent(collector)
	}

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	s := &Scraper{
		cfg:          cfg,
		host:         host,
		collector:    collector,
		parser:       parser.NewDetailParser(),
		extractor:    parser.NewASINExtractor(host),
		logger:       slog.Default(),
		errorsByType: make(map[string]int),
		Metrics:      NewMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retry = newRetryManager(cfg, s.Metrics, s.logger)
	return s, nil
}

// Run feeds every generated request to the collector and streams parsed
// products through the pipeline. Argument errors from gen abort the run
// before anything is fetched.
func (s *Scraper) Run(ctx context.Context, gen *feed.Generator, p *pipeline.Pipeline) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.retry.SetContext(ctx)
	s.configureHandlers(p)

	start := time.Now()
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			s.retry.Stop()
		case <-done:
		}
	}()

	stats, err := gen.Generate(ctx, func(req feed.Request) error {
		cctx := colly.NewContext()
		cctx.Put(asinCtxKey, req.ASIN)
		if err := s.collector.Request(http.MethodGet, req.URL, nil, cctx, req.Headers()); err != nil {
			if errors.Is(err, colly.ErrAlreadyVisited) {
				s.logger.Debug("duplicate asin skipped", slog.String("asin", req.ASIN))
				return nil
			}
			s.logger.Error("schedule request",
				slog.String("url", req.URL),
				slog.Any("error", err),
			)
		}
		return nil
	})
	s.Metrics.AddInvalidASINs(stats.Invalid)

	s.collector.Wait()
	s.retry.Wait(s.collector)
	s.retry.Stop()

	if err != nil && !(ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		return nil, err
	}

	result := &models.ScraperResult{
		StartTime:     start,
		EndTime:       time.Now(),
		AsinFiles:     stats.Files,
		ValidAsins:    stats.Valid,
		InvalidAsins:  stats.Invalid,
		ParseFailures: int(atomic.LoadInt64(&s.parseFailures)),
		ErrorCount:    int(atomic.LoadInt64(&s.errorCount)),
		FailedURLs:    s.snapshotFailedURLs(),
		ErrorsByType:  s.snapshotErrors(),
		RetryCount:    s.retry.TotalRetries(),
		RequestCount:  int(atomic.LoadInt64(&s.requestCount)),
		ResponseCount: int(atomic.LoadInt64(&s.responseCount)),
	}

	if metrics := p.GetMetrics(); metrics != nil {
		if processed, ok := metrics["processed_products"].(int64); ok {
			result.TotalCount = int(processed)
		}
	}

	return result, nil
}

func (s *Scraper) configureHandlers(p *pipeline.Pipeline) {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(s.onRequest)
		s.collector.OnResponse(func(r *colly.Response) { s.onResponse(r, p) })
		s.collector.OnError(s.onError)
	})
}

func (s *Scraper) onRequest(r *colly.Request) {
	r.Ctx.Put("start", time.Now())
	s.Metrics.IncRequest("started")
	if n := atomic.AddInt64(&s.requestCount, 1); n%50 == 0 {
		s.logger.Debug("scraper request progress",
			slog.Int64("requests", n),
			slog.Int64("responses", atomic.LoadInt64(&s.responseCount)),
			slog.String("url", r.URL.String()),
		)
	}
}

// onResponse only sees 2xx pages; colly routes every other status to onError.
func (s *Scraper) onResponse(r *colly.Response, p *pipeline.Pipeline) {
	atomic.AddInt64(&s.responseCount, 1)
	s.Metrics.IncRequest("completed")
	if start, ok := r.Ctx.GetAny("start").(time.Time); ok {
		s.Metrics.ObserveDuration(time.Since(start))
	}

	product, err := s.handleResponse(r)
	if err != nil {
		atomic.AddInt64(&s.parseFailures, 1)
		s.Metrics.IncParseFailure()
		s.logger.Error("parse detail page",
			slog.String("url", r.Request.URL.String()),
			slog.String("asin", r.Ctx.Get(asinCtxKey)),
			slog.Any("error", err),
		)
		return
	}

	s.Metrics.IncItems()
	if err := p.Process(product); err != nil && !errors.Is(err, pipeline.ErrPipelineClosed) {
		s.logger.Error("pipeline process error", slog.String("asin", product.ASIN), slog.Any("error", err))
	}
}

func (s *Scraper) onError(r *colly.Response, err error) {
	atomic.AddInt64(&s.errorCount, 1)

	var (
		status int
		req    *colly.Request
		target string
	)
	if r != nil {
		status = r.StatusCode
		if r.Request != nil && r.Request.URL != nil {
			req = r.Request
			target = req.URL.String()
		}
	}

	classified := classifyError(err, status)
	kind := errorTypeLabel(classified)
	s.Metrics.IncError(kind)
	s.logger.Error("request error",
		slog.String("url", target),
		slog.Int("status", status),
		slog.String("category", kind),
		slog.Any("error", err),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorsByType[kind]++
	if req == nil || !retryable(classified) || !s.retry.Schedule(req) {
		s.failedURLs = append(s.failedURLs, target)
	}
}

// handleResponse parses one detail page. A panic inside the parser is
// reported as an error so a single bad page never aborts the crawl.
func (s *Scraper) handleResponse(r *colly.Response) (product *models.Product, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			product = nil
			err = fmt.Errorf("parser panic: %v", rec)
		}
	}()

	product, err = s.parser.Parse(r.Body)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, errors.New("parser returned no product")
	}

	product.ASIN = s.extractor.Extract(r.Request.URL.String())
	if product.ASIN == "" {
		product.ASIN = r.Request.Ctx.Get(asinCtxKey)
	}
	return product, nil
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedURLs))
	copy(out, s.failedURLs)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}
