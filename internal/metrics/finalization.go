package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gateway-fm/tpsbench/internal/bencherr"
	"github.com/gateway-fm/tpsbench/pkg/types"
)

// FinalizationStats is a point-in-time read of a FinalizationTracker.
type FinalizationStats struct {
	Count      int64
	MaxLatency time.Duration // from run start
}

// FinalizationTracker counts finalized transactions and the largest
// finalization latency measured from a fixed run start. It is updated
// concurrently by the finality watcher and read by the runner.
type FinalizationTracker struct {
	runStart time.Time

	count        int64 // atomic
	maxLatencyNs int64 // atomic, via AtomicMax

	// Per-transaction latency from send to finalization.
	latency *StreamingLatencyStats
}

// NewFinalizationTracker creates a tracker anchored at runStart.
func NewFinalizationTracker(runStart time.Time) *FinalizationTracker {
	return &FinalizationTracker{
		runStart: runStart,
		latency:  NewStreamingLatencyStats(),
	}
}

// RecordFinalized records one finalization event observed at the given time.
func (t *FinalizationTracker) RecordFinalized(at time.Time) {
	atomic.AddInt64(&t.count, 1)
	AtomicMax(&t.maxLatencyNs, int64(at.Sub(t.runStart)))
}

// RecordTxLatency records the send-to-finalization latency of one transaction.
func (t *FinalizationTracker) RecordTxLatency(d time.Duration) {
	t.latency.Add(float64(d.Milliseconds()))
}

// Snapshot returns the current counters.
func (t *FinalizationTracker) Snapshot() FinalizationStats {
	return FinalizationStats{
		Count:      atomic.LoadInt64(&t.count),
		MaxLatency: time.Duration(atomic.LoadInt64(&t.maxLatencyNs)),
	}
}

// WaitFor polls the finalized count every interval, for at most attempts
// rounds, until it reaches expected. It never fails on a shortfall: the
// result is marked incomplete and carries a FinalizationTimeout description.
// Context cancellation ends the wait early with the same partial result.
func (t *FinalizationTracker) WaitFor(ctx context.Context, expected int, interval time.Duration, attempts int) types.FinalizationResult {
	start := time.Now()
	attempts = max(attempts, 1)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

wait:
	for round := 0; round < attempts; round++ {
		if t.Snapshot().Count >= int64(expected) {
			break
		}
		select {
		case <-ctx.Done():
			break wait
		case <-ticker.C:
		}
	}

	snap := t.Snapshot()
	result := types.FinalizationResult{
		Expected:     expected,
		Finalized:    int(snap.Count),
		MaxLatencyMs: snap.MaxLatency.Milliseconds(),
		Complete:     snap.Count >= int64(expected),
		Latency:      t.latency.GetStats(),
	}
	if !result.Complete {
		result.Shortfall = (&bencherr.FinalizationTimeout{
			Expected: expected,
			Observed: int(snap.Count),
			Waited:   time.Since(start).Round(time.Millisecond),
		}).Error()
	}
	return result
}
