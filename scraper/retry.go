package scraper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-amazon/config"
)

// retryManager re-issues failed fetches with capped exponential backoff.
// Retries go through colly's Request.Retry so headers such as the Referer
// are kept and the visited-URL check is skipped.
type retryManager struct {
	cfg     *config.Config
	metrics *Metrics
	logger  *slog.Logger
	ctx     context.Context

	pending sync.WaitGroup

	mu           sync.Mutex
	attempts     map[string]int
	timers       map[string]*time.Timer
	inflight     int
	totalRetries int
	stopped      bool
}

func newRetryManager(cfg *config.Config, metrics *Metrics, logger *slog.Logger) *retryManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &retryManager{
		cfg:      cfg,
		attempts: make(map[string]int),
		timers:   make(map[string]*time.Timer),
		metrics:  metrics,
		logger:   logger,
		ctx:      context.Background(),
	}
}

// Schedule queues another attempt for req and reports whether it did.
func (rm *retryManager) Schedule(req *colly.Request) bool {
	if rm.cfg.MaxRetries == 0 || req == nil || req.URL == nil {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped || rm.ctx.Err() != nil {
		return false
	}

	url := req.URL.String()
	attempt := rm.attempts[url]
	if attempt >= rm.cfg.MaxRetries {
		return false
	}

	attempt++
	rm.attempts[url] = attempt
	rm.totalRetries++
	rm.metrics.IncRetries()

	delay := rm.backoff(attempt)
	rm.resetTimerLocked(url)
	rm.inflight++
	rm.pending.Add(1)
	rm.timers[url] = time.AfterFunc(delay, func() {
		rm.fireRetry(url, req)
	})
	rm.logger.Debug("retry scheduled",
		slog.String("url", url),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
	)
	return true
}

func (rm *retryManager) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rm.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := rm.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func (rm *retryManager) resetTimerLocked(url string) {
	if timer, ok := rm.timers[url]; ok {
		if timer.Stop() {
			rm.doneLocked()
		}
		delete(rm.timers, url)
	}
}

func (rm *retryManager) fireRetry(url string, req *colly.Request) {
	rm.mu.Lock()
	delete(rm.timers, url)
	if rm.stopped || rm.ctx.Err() != nil {
		rm.doneLocked()
		rm.mu.Unlock()
		return
	}
	rm.mu.Unlock()

	// Retry registers with the collector's wait group before returning, so
	// Wait never observes a gap between this timer and the new fetch.
	if err := req.Retry(); err != nil {
		rm.logger.Debug("retry visit failed", slog.String("url", url), slog.Any("error", err))
	}

	rm.mu.Lock()
	rm.doneLocked()
	rm.mu.Unlock()
}

func (rm *retryManager) doneLocked() {
	rm.inflight--
	rm.pending.Done()
}

// Wait blocks until no retry is pending and the collector is idle.
func (rm *retryManager) Wait(c *colly.Collector) {
	for {
		rm.pending.Wait()
		c.Wait()

		rm.mu.Lock()
		idle := rm.inflight == 0
		rm.mu.Unlock()
		if idle {
			return
		}
	}
}

func (rm *retryManager) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped {
		return
	}

	rm.stopped = true
	for url, timer := range rm.timers {
		if timer.Stop() {
			rm.doneLocked()
		}
		delete(rm.timers, url)
	}
}

func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}

func (rm *retryManager) SetContext(ctx context.Context) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if ctx == nil {
		rm.ctx = context.Background()
		return
	}
	rm.ctx = ctx
}
