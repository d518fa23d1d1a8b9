// Package runner wires the benchmark components into a run: derive and
// sync accounts, optionally endow them, pre-generate the schedule, dispatch
// it while watching for finalization, then measure throughput from chain
// history and persist the report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gateway-fm/tpsbench/internal/account"
	"github.com/gateway-fm/tpsbench/internal/bencherr"
	"github.com/gateway-fm/tpsbench/internal/config"
	"github.com/gateway-fm/tpsbench/internal/dispatch"
	"github.com/gateway-fm/tpsbench/internal/finality"
	"github.com/gateway-fm/tpsbench/internal/metrics"
	"github.com/gateway-fm/tpsbench/internal/network"
	"github.com/gateway-fm/tpsbench/internal/plan"
	"github.com/gateway-fm/tpsbench/internal/pregen"
	"github.com/gateway-fm/tpsbench/internal/rpc"
	"github.com/gateway-fm/tpsbench/internal/sender"
	"github.com/gateway-fm/tpsbench/internal/storage"
	"github.com/gateway-fm/tpsbench/internal/throughput"
	"github.com/gateway-fm/tpsbench/internal/txbuilder"
	"github.com/gateway-fm/tpsbench/pkg/types"
)

const (
	connectTimeout = 10 * time.Second
	persistTimeout = 10 * time.Second
)

// ErrBusy is returned when a run is requested while another is in progress.
var ErrBusy = errors.New("a run is already in progress")

// Config for a Runner.
type Config struct {
	Base     *config.Config    // defaults for runs started over the API
	Networks *network.Registry // default: network.DefaultRegistry()
	Storage  storage.Storage   // optional run history
	Metrics  *metrics.PrometheusMetrics
	Logger   *slog.Logger
}

// Runner executes one run at a time and reports its progress.
// It implements transport.BenchAPI and transport.HealthChecker.
type Runner struct {
	base     *config.Config
	networks *network.Registry
	store    storage.Storage
	metrics  *metrics.PrometheusMetrics
	logger   *slog.Logger

	mu       sync.RWMutex
	busy     bool
	status   types.LiveStatus
	runStart time.Time
	tracker  *metrics.FinalizationTracker
	watcher  *finality.Watcher
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a Runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	networks := cfg.Networks
	if networks == nil {
		networks = network.DefaultRegistry()
	}
	base := cfg.Base
	if base == nil {
		base = config.Default()
	}
	return &Runner{
		base:     base,
		networks: networks,
		store:    cfg.Storage,
		metrics:  cfg.Metrics,
		logger:   logger,
		status:   types.LiveStatus{Status: types.StatusIdle},
	}
}

// Run executes a run synchronously. Configuration and setup failures are
// returned as fatal errors; degraded finalization or history results are
// reported in the returned report without an error.
func (r *Runner) Run(ctx context.Context, cfg *config.Config) (*types.RunReport, error) {
	if err := r.claim(); err != nil {
		return nil, err
	}
	defer r.release()
	return r.run(ctx, cfg, uuid.NewString())
}

// Start validates req against the base configuration and runs it in the
// background. It returns the new run's ID.
func (r *Runner) Start(req types.StartRunRequest) (string, error) {
	cfg := r.requestConfig(req)
	for _, w := range cfg.Normalize() {
		r.logger.Warn(w)
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if _, err := cfg.Resolve(r.networks); err != nil {
		return "", err
	}
	if err := r.claim(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		defer r.release()
		if _, err := r.run(ctx, cfg, id); err != nil {
			r.logger.Error("run failed", slog.String("run_id", id), slog.String("error", err.Error()))
		}
	}()
	return id, nil
}

// Stop cancels a run started with Start and waits for it to wind down.
func (r *Runner) Stop() {
	r.mu.RLock()
	cancel, done := r.cancel, r.done
	r.mu.RUnlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Status returns the live progress of the current or last run.
func (r *Runner) Status() types.LiveStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.status
	if s.LastBatch != nil {
		last := *s.LastBatch
		s.LastBatch = &last
	}
	if r.tracker != nil {
		s.TxFinalized = int(r.tracker.Snapshot().Count)
	}
	if r.watcher != nil {
		s.TxPending = r.watcher.Pending()
	}
	if r.busy && !r.runStart.IsZero() {
		s.ElapsedMs = time.Since(r.runStart).Milliseconds()
	}
	return s
}

func (r *Runner) claim() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return ErrBusy
	}
	r.busy = true
	r.status = types.LiveStatus{Status: types.StatusInitializing}
	r.runStart = time.Time{}
	r.tracker = nil
	r.watcher = nil
	return nil
}

func (r *Runner) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = false
	r.cancel = nil
}

// requestConfig overlays an API request on a copy of the base configuration.
func (r *Runner) requestConfig(req types.StartRunRequest) *config.Config {
	cfg := *r.base
	if req.Network != "" {
		cfg.Network = req.Network
	}
	if req.TotalTransactions > 0 {
		cfg.TotalTransactions = req.TotalTransactions
	}
	if req.TargetTPS > 0 {
		cfg.TargetTPS = req.TargetTPS
	}
	if req.Lanes > 0 {
		cfg.Lanes = req.Lanes
	}
	if req.Kind != "" {
		cfg.Kind = req.Kind
	}
	cfg.Batched = req.Batched
	cfg.Endow = req.Endow
	return &cfg
}

func (r *Runner) run(ctx context.Context, cfg *config.Config, id string) (*types.RunReport, error) {
	logger := r.logger.With(slog.String("run_id", id))

	for _, w := range cfg.Normalize() {
		logger.Warn(w)
	}
	if err := cfg.Validate(); err != nil {
		r.setError(err)
		return nil, err
	}
	target, err := cfg.Resolve(r.networks)
	if err != nil {
		r.setError(err)
		return nil, err
	}
	p, err := cfg.Plan()
	if err != nil {
		r.setError(err)
		return nil, err
	}

	report := &types.RunReport{
		ID:        id,
		Status:    types.StatusInitializing,
		StartedAt: time.Now(),
		Config:    cfg.RunConfig(target),
		Plan:      p.Summary(),
	}

	r.update(func(s *types.LiveStatus) {
		s.RunID = id
		s.TargetTPS = cfg.TargetTPS
		s.TotalBatches = p.TotalBatches
	})
	if r.metrics != nil {
		r.metrics.Reset()
		r.metrics.TargetTPS.Set(float64(cfg.TargetTPS))
	}
	r.setStatus(types.StatusInitializing)

	logger.Info("starting run",
		slog.String("network", target.String()),
		slog.String("rpc", target.RPCURL),
		slog.Int("transactions", cfg.TotalTransactions),
		slog.Int("tps", cfg.TargetTPS),
		slog.Int("lanes", cfg.Lanes),
		slog.Int("batches", p.TotalBatches),
		slog.String("kind", string(cfg.Kind)),
		slog.Bool("batched", cfg.Batched),
	)
	r.persistStart(report, logger)

	err = r.execute(ctx, cfg, target, p, report, logger)
	r.finish(report, err, logger)
	return report, err
}

// execute performs the run and fills report. Only fatal failures and
// cancellation are returned.
func (r *Runner) execute(ctx context.Context, cfg *config.Config, target *network.Target, p plan.BatchPlan, report *types.RunReport, logger *slog.Logger) error {
	clientCfg := rpc.DefaultClientConfig(target.RPCURL)
	clientCfg.Logger = logger
	client := rpc.NewHTTPClient(clientCfg)

	chainID := big.NewInt(target.ChainID)
	if target.ChainID == 0 {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		id, err := client.ChainID(connectCtx)
		cancel()
		if err != nil {
			return bencherr.Setup("connect", err)
		}
		chainID = id
	}
	logger.Info("connected", slog.String("chain_id", chainID.String()))

	funder, err := account.Funder(target.Funder)
	if err != nil {
		return bencherr.Configf("funder", "%v", err)
	}
	relayer, err := account.Funder(target.Relayer)
	if err != nil {
		return bencherr.Configf("relayer", "%v", err)
	}

	r.setPhase(types.PhaseDeriving, fmt.Sprintf("deriving %d accounts", p.RequiredAccounts()))
	accounts, err := account.DeriveAccounts(ctx, p.RequiredAccounts())
	if err != nil {
		return bencherr.Setup("accounts", err)
	}
	registry := account.NewRegistry(accounts, logger)

	r.setPhase(types.PhaseSyncing, fmt.Sprintf("fetching nonces of %d accounts", len(accounts)))
	if err := registry.SyncNonces(ctx, client, 0); err != nil {
		return err
	}

	gasTipCap := big.NewInt(cfg.GasTipCap)
	gasFeeCap := big.NewInt(cfg.GasFeeCap)

	if cfg.Endow {
		r.setPhase(types.PhaseEndowing, fmt.Sprintf("endowing %d accounts from %s", len(accounts), funder.Label))
		endower := account.NewEndower(account.EndowConfig{
			Client:    client,
			ChainID:   chainID,
			GasPrice:  gasFeeCap,
			UseLegacy: target.UseLegacy,
			Logger:    logger,
		})
		if err := endower.Endow(ctx, funder, accounts); err != nil {
			return err
		}
	}

	builders := txbuilder.NewDefaultRegistry(txbuilder.DefaultConfig{
		Recipient: funder.Address,
		Proxy:     target.Proxy,
		Token:     target.Token,
		Relayer:   relayer.Address,
	})
	builder, err := builders.Get(cfg.Kind)
	if err != nil {
		return bencherr.Configf("tx", "%v", err)
	}

	r.setPhase(types.PhasePregenerating, fmt.Sprintf("signing %d transactions", p.TotalTransactions))
	pregenStart := time.Now()
	sched, err := pregen.Generate(ctx, pregen.Config{
		Plan:      p,
		Registry:  registry,
		Builder:   builder,
		ChainID:   chainID,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		UseLegacy: target.UseLegacy,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.PregenDuration.Observe(time.Since(pregenStart).Seconds())
	}

	head, err := client.GetBlockNumber(ctx)
	if err != nil {
		return bencherr.Setup("head", err)
	}

	runStart := time.Now()
	tracker := metrics.NewFinalizationTracker(runStart)

	wsURL := target.WSURL
	if wsURL == "" {
		wsURL = rpc.WebSocketURL(target.RPCURL)
	}
	watcher := finality.New(finality.Config{
		Client: client,
		Heads: &finality.FallbackSource{
			Primary:  &finality.SubscriptionSource{Subscriber: rpc.NewHeadSubscriber(wsURL, logger)},
			Fallback: &finality.PollingSource{Client: client, Interval: cfg.HeadPollInterval, Logger: logger},
			Logger:   logger,
		},
		Tracker:    tracker,
		Depth:      target.ConfirmationDepth,
		StartBlock: head + 1,
		Metrics:    r.metrics,
		Logger:     logger,
	})
	watcher.Start(ctx)
	defer watcher.Stop()

	r.mu.Lock()
	r.runStart = runStart
	r.tracker = tracker
	r.watcher = watcher
	r.mu.Unlock()
	r.setPhase(types.PhaseNone, "")
	r.setStatus(types.StatusRunning)

	disp := dispatch.New(dispatch.Config{
		Sender: sender.New(sender.Config{
			Client:      client,
			Concurrency: cfg.Concurrency,
			Logger:      logger,
		}),
		Interval: cfg.Interval,
		Batched:  cfg.Batched,
		Tracker:  watcher,
		Metrics:  r.metrics,
		OnBatch:  r.onBatch,
		Logger:   logger,
	})
	outcomes, err := disp.Run(ctx, sched)
	runEnd := time.Now()

	report.Batches = outcomes
	report.TxSubmitted, report.TxAccepted, report.TxErrors = dispatch.Totals(outcomes)
	if err != nil {
		return fmt.Errorf("dispatch interrupted after %d of %d batches: %w", len(outcomes), p.TotalBatches, err)
	}
	logger.Info("dispatch complete",
		slog.Int("submitted", report.TxSubmitted),
		slog.Int("accepted", report.TxAccepted),
		slog.Int("errors", report.TxErrors),
		slog.Duration("took", runEnd.Sub(runStart)),
	)

	r.setStatus(types.StatusFinalizing)
	fin := tracker.WaitFor(ctx, report.TxAccepted, cfg.FinalizationTimeout, cfg.FinalizationAttempts)
	report.Finalization = &fin
	if !fin.Complete {
		logger.Warn("finalization incomplete", slog.String("shortfall", fin.Shortfall))
		r.recordError("finalization_timeout")
	}

	r.setStatus(types.StatusMeasuring)
	reporter := throughput.NewReporter(throughput.Config{
		Client:    client,
		MaxBlocks: cfg.MaxBlocks,
		Logger:    logger,
	})
	tp, err := reporter.Measure(ctx, runStart, runEnd, throughput.ByKind(cfg.Kind, builder.Target()))
	if err != nil {
		logger.Warn("throughput scan failed", slog.String("error", err.Error()))
		tp.Complete = false
		if tp.Note == "" {
			tp.Note = err.Error()
		}
		r.recordError("history")
	}
	report.Throughput = &tp
	if r.metrics != nil {
		r.metrics.MeasuredTPS.Set(tp.TPS)
	}
	return nil
}

func (r *Runner) finish(report *types.RunReport, err error, logger *slog.Logger) {
	report.CompletedAt = time.Now()
	report.DurationMs = report.CompletedAt.Sub(report.StartedAt).Milliseconds()
	if err != nil {
		report.Status = types.StatusError
		report.Error = err.Error()
	} else {
		report.Status = types.StatusCompleted
	}

	r.mu.Lock()
	r.status.Status = report.Status
	r.status.Phase = types.PhaseNone
	r.status.Progress = ""
	r.status.Error = report.Error
	if !r.runStart.IsZero() {
		r.status.ElapsedMs = time.Since(r.runStart).Milliseconds()
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetRunStatus(string(report.Status))
	}
	r.persistComplete(report, logger)

	if err != nil {
		logger.Error("run failed", slog.String("error", err.Error()))
		return
	}
	attrs := []any{
		slog.Int("submitted", report.TxSubmitted),
		slog.Int("accepted", report.TxAccepted),
		slog.Int("errors", report.TxErrors),
		slog.Int64("duration_ms", report.DurationMs),
	}
	if f := report.Finalization; f != nil {
		attrs = append(attrs,
			slog.Int("finalized", f.Finalized),
			slog.Int64("max_finalization_ms", f.MaxLatencyMs),
		)
	}
	if t := report.Throughput; t != nil {
		attrs = append(attrs,
			slog.Int("matching", t.TotalMatching),
			slog.Int("blocks_scanned", t.BlocksScanned),
			slog.Float64("tps", t.TPS),
			slog.Bool("scan_complete", t.Complete),
		)
	}
	logger.Info("run complete", attrs...)
}

func (r *Runner) onBatch(out types.BatchOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.BatchesSent++
	r.status.TxSubmitted += out.Submitted
	r.status.TxAccepted += out.Accepted
	r.status.TxErrors += out.ErrorCount
	r.status.LastBatch = &out
}

func (r *Runner) update(fn func(s *types.LiveStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.status)
}

func (r *Runner) setStatus(status types.RunStatus) {
	r.update(func(s *types.LiveStatus) { s.Status = status })
	if r.metrics != nil {
		r.metrics.SetRunStatus(string(status))
	}
}

func (r *Runner) setPhase(phase types.RunPhase, progress string) {
	r.update(func(s *types.LiveStatus) {
		s.Phase = phase
		s.Progress = progress
	})
	if phase != types.PhaseNone {
		r.logger.Info(progress, slog.String("phase", string(phase)))
	}
}

func (r *Runner) setError(err error) {
	r.update(func(s *types.LiveStatus) {
		s.Status = types.StatusError
		s.Error = err.Error()
	})
	if r.metrics != nil {
		r.metrics.SetRunStatus(string(types.StatusError))
	}
	r.recordError("configuration")
}

func (r *Runner) recordError(category string) {
	if r.metrics != nil {
		r.metrics.RecordError(category)
	}
}

func (r *Runner) persistStart(report *types.RunReport, logger *slog.Logger) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.CreateRun(ctx, report); err != nil {
		logger.Warn("failed to persist run start", slog.String("error", err.Error()))
	}
}

// persistComplete uses its own context so a cancelled run is still recorded.
func (r *Runner) persistComplete(report *types.RunReport, logger *slog.Logger) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.CompleteRun(ctx, report); err != nil {
		logger.Warn("failed to persist run result", slog.String("error", err.Error()))
		return
	}
	if err := r.store.BulkInsertBatches(ctx, report.ID, report.Batches); err != nil {
		logger.Warn("failed to persist batch outcomes", slog.String("error", err.Error()))
	}
}
