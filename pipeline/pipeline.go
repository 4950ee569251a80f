package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-amazon/config"
	"github.com/aluiziolira/go-scrape-amazon/models"
	"github.com/aluiziolira/go-scrape-amazon/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for workers.
var drainTimeout = 30 * time.Second

// Validation labels reported under "validation_errors".
const (
	invalidRecord = "invalid_record"
	missingASIN   = "missing_asin"
	duplicateASIN = "duplicate_asin"
)

// OutputWriter is the sink for validated products.
type OutputWriter interface {
	Write(products []*models.Product) error
	Close() error
	Validate() error
}

// Pipeline validates products, drops repeated ASINs and hands batches to
// an OutputWriter from a pool of workers.
type Pipeline struct {
	writer    OutputWriter
	queue     chan *models.Product
	batchSize int
	seen      *lru.Cache[string, struct{}]

	// accepting is cancelled by Close, by the caller's ctx, or by the first
	// write error. Queued items are still drained.
	accepting context.Context
	stop      context.CancelFunc

	workers   sync.WaitGroup
	closeOnce sync.Once
	sendMu    sync.RWMutex // held for writing while queue is closed

	errMu sync.Mutex
	err   error

	processed  atomic.Int64
	validation sync.Map // label -> *atomic.Int64
}

// NewPipeline builds a pipeline sized from cfg. Cancelling ctx stops
// accepting new items; queued items are still drained by Close.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	seen, err := lru.New[string, struct{}](positive(cfg.DedupeMaxSize, 100000))
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(fmt.Sprintf("pipeline: dedupe cache: %v", err))
	}

	accepting, stop := context.WithCancel(ctx)
	return &Pipeline{
		writer:    writer,
		queue:     make(chan *models.Product, positive(cfg.PipelineBufferSize, 512)),
		batchSize: positive(cfg.BatchSize, 64),
		seen:      seen,
		accepting: accepting,
		stop:      stop,
	}
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Start launches worker goroutines. It is a no-op once the pipeline stopped
// accepting items.
func (p *Pipeline) Start(workers int) {
	if p.accepting.Err() != nil {
		return
	}
	for i := 0; i < positive(workers, 1); i++ {
		p.workers.Add(1)
		go p.work()
	}
}

// Process enqueues products. Nil entries are skipped.
func (p *Pipeline) Process(products ...*models.Product) error {
	if err := p.Err(); err != nil {
		return err
	}

	p.sendMu.RLock()
	defer p.sendMu.RUnlock()

	for _, product := range products {
		if product == nil {
			continue
		}
		if p.accepting.Err() != nil {
			return ErrPipelineClosed
		}
		select {
		case p.queue <- product:
		case <-p.accepting.Done():
			return ErrPipelineClosed
		}
	}
	return nil
}

// Close stops intake, waits for the workers to drain the queue and returns
// the first write error.
func (p *Pipeline) Close() error {
	p.stop()
	p.closeOnce.Do(func() {
		p.sendMu.Lock()
		close(p.queue)
		p.sendMu.Unlock()
	})

	drained := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return p.Err()
	case <-time.After(drainTimeout):
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, drainTimeout)
	}
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// GetMetrics returns "processed_products" (int64) and "validation_errors"
// (map[string]int).
func (p *Pipeline) GetMetrics() map[string]interface{} {
	validation := make(map[string]int)
	p.validation.Range(func(k, v any) bool {
		validation[k.(string)] = int(v.(*atomic.Int64).Load())
		return true
	})
	return map[string]interface{}{
		"processed_products": p.processed.Load(),
		"validation_errors":  validation,
	}
}

// StartMetricsReporting logs progress every interval until Close.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics := p.GetMetrics()
				slog.Info("pipeline progress",
					slog.Int64("processed", metrics["processed_products"].(int64)),
					slog.Any("validation_errors", metrics["validation_errors"]),
				)
			case <-p.accepting.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) work() {
	defer p.workers.Done()

	batch := make([]*models.Product, 0, p.batchSize)
	failed := false
	flush := func() {
		if len(batch) == 0 || failed {
			return
		}
		if err := p.writer.Write(batch); err != nil {
			failed = true
			p.fail(fmt.Errorf("write batch: %w", err))
		}
		batch = batch[:0]
	}

	// A failed worker keeps draining so senders never block on a full queue.
	for product := range p.queue {
		if failed {
			continue
		}
		if kept := p.admit(product); kept != nil {
			batch = append(batch, kept)
		}
		if len(batch) >= p.batchSize {
			flush()
		}
	}
	flush()
}

// admit drops invalid records and repeated ASINs. Records without an ASIN
// are still written; the crawler could not recover one from the response URL.
func (p *Pipeline) admit(product *models.Product) *models.Product {
	if err := parser.ValidateProduct(product); err != nil {
		p.count(invalidRecord)
		return nil
	}

	if product.ASIN == "" {
		p.count(missingASIN)
	} else if dup, _ := p.seen.ContainsOrAdd(product.ASIN, struct{}{}); dup {
		p.count(duplicateASIN)
		return nil
	}

	p.processed.Add(1)
	return product
}

func (p *Pipeline) count(label string) {
	v, _ := p.validation.LoadOrStore(label, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func (p *Pipeline) fail(err error) {
	p.errMu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.errMu.Unlock()
	p.stop()
}
