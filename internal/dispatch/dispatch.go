// Package dispatch drains a pre-generated schedule at a fixed batch cadence.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/tpsbench/internal/bencherr"
	"github.com/gateway-fm/tpsbench/internal/metrics"
	"github.com/gateway-fm/tpsbench/internal/pregen"
	"github.com/gateway-fm/tpsbench/internal/ratelimit"
	"github.com/gateway-fm/tpsbench/internal/sender"
	"github.com/gateway-fm/tpsbench/internal/txbuilder"
	"github.com/gateway-fm/tpsbench/pkg/types"
)

// MaxErrorSample is the number of errors kept per batch for reporting.
const MaxErrorSample = 10

// Tracker receives every accepted transaction for finalization tracking.
type Tracker interface {
	Track(hash common.Hash, tx metrics.PendingTx)
}

// Config for a Dispatcher.
type Config struct {
	Sender   *sender.Sender
	Interval time.Duration // batch cadence (default: 1s)
	Batched  bool          // one JSON-RPC batch request per lane per batch
	Tracker  Tracker
	Metrics  *metrics.PrometheusMetrics
	OnBatch  func(types.BatchOutcome)
	Logger   *slog.Logger
}

// Dispatcher submits a schedule batch by batch. Submission errors are
// counted and sampled, never fatal.
type Dispatcher struct {
	sender   *sender.Sender
	interval time.Duration
	batched  bool
	tracker  Tracker
	metrics  *metrics.PrometheusMetrics
	onBatch  func(types.BatchOutcome)
	logger   *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = ratelimit.DefaultInterval
	}
	return &Dispatcher{
		sender:   cfg.Sender,
		interval: interval,
		batched:  cfg.Batched,
		tracker:  cfg.Tracker,
		metrics:  cfg.Metrics,
		onBatch:  cfg.OnBatch,
		logger:   logger,
	}
}

// Run dispatches every batch of sched. Batch b starts no earlier than
// start + b*interval, where start is the time Run is called. It returns one
// outcome per dispatched batch; only context cancellation ends it early, in
// which case the outcomes so far are returned with the context error.
func (d *Dispatcher) Run(ctx context.Context, sched *pregen.Schedule) ([]types.BatchOutcome, error) {
	p := sched.Plan()
	pacer := ratelimit.New(d.interval)
	outcomes := make([]types.BatchOutcome, 0, p.TotalBatches)

	d.logger.Info("dispatching",
		slog.Int("batches", p.TotalBatches),
		slog.Int("perBatch", p.TargetRate),
		slog.Int("lanes", p.Lanes),
		slog.Duration("interval", d.interval),
		slog.Bool("batched", d.batched),
	)

	for b := range p.TotalBatches {
		deadline, err := pacer.Wait(ctx)
		if err != nil {
			return outcomes, err
		}

		out := d.runBatch(ctx, b, sched.Batch(b))
		outcomes = append(outcomes, out)

		if d.metrics != nil {
			lag := out.StartedAt.Sub(deadline)
			d.metrics.RecordBatch(lag.Seconds(), float64(out.DurationMs)/1000)
		}
		if out.ErrorCount > 0 {
			d.logger.Warn(fmt.Sprintf("%d/%d errors sending transactions", out.ErrorCount, out.Submitted),
				slog.Int("batch", b),
				slog.Any("sample", out.ErrorSample),
			)
		} else {
			d.logger.Debug("batch sent",
				slog.Int("batch", b),
				slog.Int("submitted", out.Submitted),
				slog.Int64("durationMs", out.DurationMs),
			)
		}
		if d.onBatch != nil {
			d.onBatch(out)
		}
	}

	return outcomes, ctx.Err()
}

// batchResult collects submission results from concurrent callbacks.
type batchResult struct {
	mu       sync.Mutex
	accepted int
	errs     []*bencherr.SubmissionError
}

func (r *batchResult) accept() {
	r.mu.Lock()
	r.accepted++
	r.mu.Unlock()
}

func (r *batchResult) reject(err *bencherr.SubmissionError) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

// runBatch submits every lane of one batch concurrently and waits for each
// submission's accept or reject result.
func (d *Dispatcher) runBatch(ctx context.Context, batch int, lanes [][]*txbuilder.SignedTx) types.BatchOutcome {
	started := time.Now()
	res := &batchResult{}
	submitted := 0

	var wg sync.WaitGroup
	for lane, txs := range lanes {
		submitted += len(txs)
		if d.batched {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.sendLaneBatch(ctx, batch, lane, txs, res)
			}()
			continue
		}
		for idx, tx := range txs {
			d.recordSubmitted(tx)
			sentAt := time.Now()
			wg.Add(1)
			err := d.sender.Send(ctx, tx.Raw, func(err error) {
				defer wg.Done()
				d.settle(batch, lane, idx, tx, sentAt, err, res)
			})
			if err != nil {
				// Never started, so the callback will not run.
				wg.Done()
				d.settle(batch, lane, idx, tx, sentAt, err, res)
			}
		}
	}
	if d.metrics != nil {
		d.metrics.InFlight.Set(float64(d.sender.InFlight()))
	}
	wg.Wait()

	return d.outcome(batch, started, submitted, res)
}

func (d *Dispatcher) sendLaneBatch(ctx context.Context, batch, lane int, txs []*txbuilder.SignedTx, res *batchResult) {
	raws := make([][]byte, len(txs))
	for i, tx := range txs {
		raws[i] = tx.Raw
		d.recordSubmitted(tx)
	}
	sentAt := time.Now()
	errs := d.sender.SendBatch(ctx, raws)
	for idx, tx := range txs {
		d.settle(batch, lane, idx, tx, sentAt, errs[idx], res)
	}
}

// settle records one submission result. Accepted transactions are handed
// to the tracker before the batch outcome is built.
func (d *Dispatcher) settle(batch, lane, idx int, tx *txbuilder.SignedTx, sentAt time.Time, err error, res *batchResult) {
	kind := string(tx.Kind)
	if err != nil {
		res.reject(&bencherr.SubmissionError{
			Lane:  lane,
			Batch: batch,
			Index: idx,
			Hash:  tx.Hash.Hex(),
			Err:   err,
		})
		if d.metrics != nil {
			d.metrics.RecordRejected(kind)
		}
		return
	}

	if d.tracker != nil {
		d.tracker.Track(tx.Hash, metrics.PendingTx{SentAt: sentAt, Kind: kind})
	}
	res.accept()
	if d.metrics != nil {
		d.metrics.RecordAccepted(kind)
	}
}

func (d *Dispatcher) recordSubmitted(tx *txbuilder.SignedTx) {
	if d.metrics != nil {
		d.metrics.RecordSubmitted(string(tx.Kind))
	}
}

func (d *Dispatcher) outcome(batch int, started time.Time, submitted int, res *batchResult) types.BatchOutcome {
	res.mu.Lock()
	defer res.mu.Unlock()

	errs := res.errs
	sort.Slice(errs, func(i, j int) bool {
		if errs[i].Lane != errs[j].Lane {
			return errs[i].Lane < errs[j].Lane
		}
		return errs[i].Index < errs[j].Index
	})

	var sample []string
	for _, err := range errs[:min(len(errs), MaxErrorSample)] {
		sample = append(sample, err.Error())
	}

	return types.BatchOutcome{
		Batch:       batch,
		StartedAt:   started,
		DurationMs:  time.Since(started).Milliseconds(),
		Submitted:   submitted,
		Accepted:    res.accepted,
		ErrorCount:  len(errs),
		ErrorSample: sample,
	}
}

// Totals sums submitted, accepted and rejected counts over outcomes.
func Totals(outcomes []types.BatchOutcome) (submitted, accepted, failed int) {
	for _, o := range outcomes {
		submitted += o.Submitted
		accepted += o.Accepted
		failed += o.ErrorCount
	}
	return submitted, accepted, failed
}
