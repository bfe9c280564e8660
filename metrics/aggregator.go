package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linchenxuan/apmcore/log"
)

var (
	// ErrAggregatorFull is returned by Submit when the merge queue has no room.
	ErrAggregatorFull = errors.New("aggregator queue full")
	// ErrAggregatorClosed is returned once Close has been called.
	ErrAggregatorClosed = errors.New("aggregator closed")
	// ErrAggregatorNotStarted is returned by Flush before Start.
	ErrAggregatorNotStarted = errors.New("aggregator not started")
)

// AggregatorConfig configures the process-wide aggregate table.
type AggregatorConfig struct {
	// QueueSize is the number of finished transaction tables that may wait for merging.
	QueueSize int `mapstructure:"queueSize"`
	// HarvestInterval triggers a periodic Harvest. Zero disables the timer.
	HarvestInterval time.Duration `mapstructure:"harvestInterval"`
}

// DefaultAggregatorConfig returns the defaults used by the agent.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		QueueSize:       1024,
		HarvestInterval: time.Minute,
	}
}

// Validate checks the configuration values.
func (c *AggregatorConfig) Validate() error {
	if c.QueueSize <= 0 {
		return fmt.Errorf("aggregator queue size must be positive, got %d", c.QueueSize)
	}
	if c.HarvestInterval < 0 {
		return fmt.Errorf("aggregator harvest interval must not be negative, got %s", c.HarvestInterval)
	}
	return nil
}

type mergeRequest struct {
	table *Table
	done  chan struct{}
}

// Aggregator owns the process-wide table. Finished transactions hand their
// sealed tables to Submit; a single goroutine merges them in arrival order,
// so accumulator updates never interleave.
type Aggregator struct {
	cfg AggregatorConfig

	mu        sync.Mutex
	table     *Table
	reporters []Reporter

	queue    chan mergeRequest
	stopping chan struct{}
	sendMu   sync.RWMutex
	closed  bool
	started atomic.Bool
	dropped atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAggregator creates an aggregator. Call Start to begin merging queued tables.
func NewAggregator(cfg AggregatorConfig, reporters ...Reporter) *Aggregator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultAggregatorConfig().QueueSize
	}
	return &Aggregator{
		cfg:       cfg,
		table:     NewTable(),
		reporters: reporters,
		queue:     make(chan mergeRequest, cfg.QueueSize),
		stopping:  make(chan struct{}),
	}
}

// AddReporter registers r for subsequent harvests.
func (a *Aggregator) AddReporter(r Reporter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reporters = append(a.reporters, r)
}

// Start launches the merge goroutine. It stops when ctx is cancelled or Close
// is called, merging whatever is still queued before it exits. Either way the
// aggregator is closed afterwards and rejects further tables.
func (a *Aggregator) Start(ctx context.Context) {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	if a.closed || a.started.Load() {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.started.Store(true)
	a.wg.Add(1)
	go a.run(ctx)
}

func (a *Aggregator) run(ctx context.Context) {
	defer a.wg.Done()
	log.Info().Int("queueSize", a.cfg.QueueSize).Msg("metrics aggregator begin")

	var tick <-chan time.Time
	if a.cfg.HarvestInterval > 0 {
		t := time.NewTicker(a.cfg.HarvestInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case req := <-a.queue:
			a.handle(req)
		case <-tick:
			a.Harvest()
		case <-ctx.Done():
			a.shutdown()
			log.Info().Msg("metrics aggregator shutdown")
			return
		}
	}
}

func (a *Aggregator) handle(req mergeRequest) {
	if req.table != nil {
		a.mu.Lock()
		// the process-wide table is never sealed
		_ = a.table.Merge(req.table)
		a.mu.Unlock()
	}
	if req.done != nil {
		close(req.done)
	}
}

// shutdown marks the aggregator closed and merges the queue. Closing stopping
// first releases a Flush blocked on a full queue while it holds sendMu.
func (a *Aggregator) shutdown() {
	close(a.stopping)
	a.sendMu.Lock()
	a.closed = true
	a.sendMu.Unlock()
	a.drain()
}

func (a *Aggregator) drain() {
	for {
		select {
		case req := <-a.queue:
			a.handle(req)
		default:
			return
		}
	}
}

// Submit enqueues a finished table for merging without blocking.
// The caller must not modify t afterwards.
func (a *Aggregator) Submit(t *Table) error {
	if t == nil {
		return nil
	}
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	if a.closed {
		return ErrAggregatorClosed
	}
	select {
	case a.queue <- mergeRequest{table: t}:
		return nil
	default:
		a.dropped.Add(1)
		log.Warn().Int("entries", t.Len()).Msg("metrics aggregator queue full")
		return ErrAggregatorFull
	}
}

// Merge folds t into the process-wide table synchronously.
func (a *Aggregator) Merge(t *Table) error {
	a.sendMu.RLock()
	closed := a.closed
	a.sendMu.RUnlock()
	if closed {
		return ErrAggregatorClosed
	}
	a.handle(mergeRequest{table: t})
	return nil
}

// Flush blocks until every table submitted before the call has been merged.
func (a *Aggregator) Flush(ctx context.Context) error {
	if !a.started.Load() {
		return ErrAggregatorNotStarted
	}
	done := make(chan struct{})

	a.sendMu.RLock()
	if a.closed {
		a.sendMu.RUnlock()
		return ErrAggregatorClosed
	}
	select {
	case a.queue <- mergeRequest{done: done}:
	case <-a.stopping:
		a.sendMu.RUnlock()
		return ErrAggregatorClosed
	case <-ctx.Done():
		a.sendMu.RUnlock()
		return ctx.Err()
	}
	a.sendMu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a sealed copy of the current process-wide table.
func (a *Aggregator) Snapshot() *Table {
	a.mu.Lock()
	cp := a.table.Clone()
	a.mu.Unlock()
	cp.Seal()
	return cp
}

// Harvest swaps out the accumulated table, hands it to every reporter and
// returns it sealed. Data merged afterwards goes into a fresh table.
func (a *Aggregator) Harvest() *Table {
	a.mu.Lock()
	out := a.table
	a.table = NewTable()
	reporters := append([]Reporter(nil), a.reporters...)
	a.mu.Unlock()

	out.Seal()
	if out.Len() == 0 {
		return out
	}
	for _, r := range reporters {
		r.Report(out)
	}
	log.Debug().Int("entries", out.Len()).Int("reporters", len(reporters)).Msg("metrics harvested")
	return out
}

// Dropped returns how many submissions were rejected because the queue was full.
func (a *Aggregator) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting tables, merges everything still queued and stops the
// merge goroutine. It is safe to call more than once.
func (a *Aggregator) Close() {
	a.sendMu.Lock()
	a.closed = true
	cancel := a.cancel
	a.sendMu.Unlock()

	if cancel != nil {
		cancel()
		a.wg.Wait()
	}
	a.drain()
}
