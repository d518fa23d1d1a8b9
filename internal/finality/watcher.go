// Package finality turns new chain heads into finalization events for the
// transactions a run submitted.
package finality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/tpsbench/internal/metrics"
	"github.com/gateway-fm/tpsbench/internal/rpc"
)

// BlockFetcher fetches blocks with their transactions.
type BlockFetcher interface {
	GetBlockByNumber(ctx context.Context, blockNum uint64) (*rpc.Block, error)
}

// Config for a Watcher.
type Config struct {
	Client     BlockFetcher
	Heads      HeadSource
	Tracker    *metrics.FinalizationTracker
	Pending    *metrics.TxTracker // default: metrics.NewTxTracker()
	Depth      uint64             // confirmations before a block counts as final
	StartBlock uint64             // first block to inspect; 0 means the first announced head
	Retry      time.Duration      // delay before re-opening a closed head source (default: 1s)
	Metrics    *metrics.PrometheusMetrics
	Logger     *slog.Logger
}

// Watcher inspects every block from StartBlock onward and reports tracked
// transactions it finds to the FinalizationTracker.
type Watcher struct {
	client  BlockFetcher
	heads   HeadSource
	tracker *metrics.FinalizationTracker
	pending *metrics.TxTracker
	depth   uint64
	retry   time.Duration
	metrics *metrics.PrometheusMetrics
	logger  *slog.Logger

	next uint64 // next block to inspect, 0 until known

	// Transactions seen in recent blocks before they were tracked, keyed by
	// hash with the time they were seen. Guarded by mu with pending lookups.
	mu     sync.Mutex
	early  map[common.Hash]time.Time
	recent [][]common.Hash

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New creates a Watcher.
func New(cfg Config) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pending := cfg.Pending
	if pending == nil {
		pending = metrics.NewTxTracker()
	}
	retry := cfg.Retry
	if retry <= 0 {
		retry = time.Second
	}
	return &Watcher{
		client:  cfg.Client,
		heads:   cfg.Heads,
		tracker: cfg.Tracker,
		pending: pending,
		depth:   cfg.Depth,
		retry:   retry,
		metrics: cfg.Metrics,
		logger:  logger,
		next:    cfg.StartBlock,
		early:   make(map[common.Hash]time.Time),
		done:    make(chan struct{}),
	}
}

// earlyBlocks is how many inspected blocks keep their untracked hashes.
const earlyBlocks = 16

// Track registers a submitted transaction. A transaction already seen in a
// final block is recorded immediately.
func (w *Watcher) Track(hash common.Hash, tx metrics.PendingTx) {
	w.mu.Lock()
	seenAt, seen := w.early[hash]
	if seen {
		delete(w.early, hash)
	} else {
		w.pending.Track(hash, tx)
	}
	w.mu.Unlock()

	if seen {
		w.record(seenAt, tx)
		return
	}
	if w.metrics != nil {
		w.metrics.PendingTxs.Set(float64(w.pending.Size()))
	}
}

// Pending returns the number of transactions not yet seen finalized.
func (w *Watcher) Pending() int {
	return w.pending.Size()
}

// Start runs the watcher in the background until Stop or ctx ends.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go func() {
		defer close(w.done)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("finality watcher stopped", slog.String("error", err.Error()))
		}
	}()
}

// Stop ends a watcher started with Start, waits for it to exit and reports
// transactions evicted from tracking.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
			<-w.done
		}
		if n := w.pending.Evicted(); n > 0 {
			w.logger.Warn("transactions evicted from finalization tracking", slog.Int64("evicted", n))
			if w.metrics != nil {
				w.metrics.RecordEvicted(n)
			}
		}
	})
}

// Run consumes heads until ctx ends. A closed head source is re-opened
// after the retry delay.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		heads, err := w.heads.Heads(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("open head source failed", slog.String("error", err.Error()))
		} else if err := w.consume(ctx, heads); err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.retry):
		}
	}
}

// consume processes heads until the channel closes or ctx ends.
func (w *Watcher) consume(ctx context.Context, heads <-chan uint64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case head, ok := <-heads:
			if !ok {
				return nil
			}
			w.advance(ctx, head)
		}
	}
}

// advance inspects every block that became final with the given head.
// On a fetch failure it stops and retries from the same block on the next head.
func (w *Watcher) advance(ctx context.Context, head uint64) {
	if head < w.depth {
		return
	}
	final := head - w.depth
	if w.next == 0 {
		w.next = final
	}

	for ; w.next <= final; w.next++ {
		if err := w.inspect(ctx, w.next); err != nil {
			if ctx.Err() == nil {
				w.logger.Debug("block fetch failed, retrying on next head",
					slog.Uint64("block", w.next),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

func (w *Watcher) inspect(ctx context.Context, number uint64) error {
	block, err := w.client.GetBlockByNumber(ctx, number)
	if err != nil {
		return fmt.Errorf("block %d: %w", number, err)
	}

	now := time.Now()
	var resolved []metrics.PendingTx
	var untracked []common.Hash

	w.mu.Lock()
	for _, tx := range block.Transactions {
		sent, ok := w.pending.Resolve(tx.Hash)
		if !ok {
			w.early[tx.Hash] = now
			untracked = append(untracked, tx.Hash)
			continue
		}
		resolved = append(resolved, sent)
	}
	w.recent = append(w.recent, untracked)
	if len(w.recent) > earlyBlocks {
		for _, h := range w.recent[0] {
			delete(w.early, h)
		}
		w.recent = w.recent[1:]
	}
	w.mu.Unlock()

	for _, sent := range resolved {
		w.record(now, sent)
	}
	found := len(resolved)

	if found > 0 {
		w.logger.Debug("transactions finalized",
			slog.Uint64("block", number),
			slog.Int("count", found),
			slog.Int("pending", w.pending.Size()),
		)
		if w.metrics != nil {
			w.metrics.PendingTxs.Set(float64(w.pending.Size()))
		}
	}
	return nil
}

func (w *Watcher) record(at time.Time, sent metrics.PendingTx) {
	latency := max(at.Sub(sent.SentAt), 0)
	w.tracker.RecordFinalized(at)
	w.tracker.RecordTxLatency(latency)
	if w.metrics != nil {
		w.metrics.RecordFinalized(sent.Kind, latency.Seconds())
	}
}
