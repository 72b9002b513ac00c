// Package dispatcher fans page fetches out to a bounded pool and gathers the results.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/sbir-solicitations/internal/grants"
	"github.com/JakeFAU/sbir-solicitations/internal/metrics"
)

// Defaults applied when Config fields are left zero.
const (
	DefaultPageSize    = 10
	DefaultMaxOffset   = 1000
	DefaultConcurrency = 5
)

// Config bounds a fetch run.
type Config struct {
	PageSize    int
	MaxOffset   int
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxOffset <= 0 {
		c.MaxOffset = DefaultMaxOffset
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Dispatcher walks offsets 0, PageSize, 2*PageSize, ... with at most
// Concurrency fetches in flight.
type Dispatcher struct {
	fetcher grants.PageFetcher
	cfg     Config
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(fetcher grants.PageFetcher, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		fetcher: fetcher,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

type run struct {
	stopped atomic.Bool
	errOnce sync.Once
	err     error
}

func (r *run) fail(err error) {
	r.errOnce.Do(func() { r.err = err })
	r.stopped.Store(true)
}

// Run fetches pages until the offset ceiling is reached or a page comes back
// empty. Fetches already in flight when the stop is signalled still complete
// and contribute their records. Any fetch error aborts the run once the
// in-flight fetches have drained.
func (d *Dispatcher) Run(ctx context.Context) ([]grants.RawRecord, error) {
	if d.fetcher == nil {
		return nil, errors.New("dispatcher: page fetcher is required")
	}

	sem := semaphore.NewWeighted(int64(d.cfg.Concurrency))
	pages := make(chan []grants.RawRecord)
	collected := make(chan []grants.RawRecord, 1)
	go func() {
		var all []grants.RawRecord
		for page := range pages {
			all = append(all, page...)
		}
		collected <- all
	}()

	var (
		state     run
		wg        sync.WaitGroup
		scheduled int
	)
	for offset := 0; offset < d.cfg.MaxOffset; offset += d.cfg.PageSize {
		if err := sem.Acquire(ctx, 1); err != nil {
			state.fail(fmt.Errorf("acquire fetch slot: %w", err))
			break
		}
		// A stop may have been signalled while waiting for the slot.
		if state.stopped.Load() {
			sem.Release(1)
			break
		}
		scheduled++
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			defer sem.Release(1)
			d.fetch(ctx, start, pages, &state)
		}(offset)
	}

	wg.Wait()
	close(pages)
	records := <-collected

	if state.err != nil {
		d.logger.Error("fetch run aborted",
			zap.Int("pages_scheduled", scheduled),
			zap.Int("records", len(records)),
			zap.Error(state.err),
		)
		return nil, state.err
	}
	d.logger.Info("fetch run complete",
		zap.Int("pages_scheduled", scheduled),
		zap.Int("records", len(records)),
		zap.Bool("exhausted", state.stopped.Load()),
	)
	return records, nil
}

// fetch runs one page. The stop flag is set before the caller releases the
// slot so the scheduler never admits an offset past an empty page.
func (d *Dispatcher) fetch(ctx context.Context, start int, pages chan<- []grants.RawRecord, state *run) {
	metrics.IncFetchesInFlight()
	defer metrics.DecFetchesInFlight()

	records, err := d.fetcher.FetchPage(ctx, start, d.cfg.PageSize)
	if err != nil {
		state.fail(fmt.Errorf("fetch page at offset %d: %w", start, err))
		return
	}
	if len(records) == 0 {
		d.logger.Info("upstream exhausted", zap.Int("start", start))
		state.stopped.Store(true)
		return
	}
	pages <- records
}
