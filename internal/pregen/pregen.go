// Package pregen builds and signs every transaction of a run before dispatch starts.
package pregen

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/tpsbench/internal/account"
	"github.com/gateway-fm/tpsbench/internal/bencherr"
	"github.com/gateway-fm/tpsbench/internal/plan"
	"github.com/gateway-fm/tpsbench/internal/txbuilder"
)

// Schedule holds the signed transactions of a run indexed [lane][batch][slot].
type Schedule struct {
	plan plan.BatchPlan
	txs  [][][]*txbuilder.SignedTx
}

// Plan returns the plan the schedule was built for.
func (s *Schedule) Plan() plan.BatchPlan {
	return s.plan
}

// Lane returns one lane's transactions for batch b.
func (s *Schedule) Lane(lane, batch int) []*txbuilder.SignedTx {
	return s.txs[lane][batch]
}

// Batch returns every lane's transactions for batch b, indexed by lane.
func (s *Schedule) Batch(b int) [][]*txbuilder.SignedTx {
	out := make([][]*txbuilder.SignedTx, len(s.txs))
	for lane := range s.txs {
		out[lane] = s.txs[lane][b]
	}
	return out
}

// Len returns the number of transactions in the schedule.
func (s *Schedule) Len() int {
	return s.plan.TotalTransactions
}

// Config for Generate.
type Config struct {
	Plan      plan.BatchPlan
	Registry  *account.Registry
	Assign    plan.Assignment // defaults to Plan.Assignment()
	Builder   txbuilder.Builder
	ChainID   *big.Int
	GasTipCap *big.Int
	GasFeeCap *big.Int
	UseLegacy bool
	Logger    *slog.Logger
}

// Generate fills the schedule. Lanes are generated concurrently; they own
// disjoint account blocks, so within an account sequence numbers follow
// (batch, slot) order. Any build or sign failure aborts with a SetupError.
func Generate(ctx context.Context, cfg Config) (*Schedule, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	assign := cfg.Assign
	if assign == nil {
		assign = cfg.Plan.Assignment()
	}
	p := cfg.Plan

	if cfg.Registry.Len() < p.RequiredAccounts() {
		return nil, bencherr.Setup("pregenerate",
			fmt.Errorf("plan needs %d accounts, registry has %d", p.RequiredAccounts(), cfg.Registry.Len()))
	}

	signer := types.LatestSignerForChainID(cfg.ChainID)
	sched := &Schedule{plan: p, txs: make([][][]*txbuilder.SignedTx, p.Lanes)}

	start := time.Now()
	logger.Info("pre-generating transactions",
		slog.Int("total", p.TotalTransactions),
		slog.Int("lanes", p.Lanes),
		slog.Int("batches", p.TotalBatches),
		slog.String("kind", string(cfg.Builder.Kind())),
	)

	g, gctx := errgroup.WithContext(ctx)
	for lane := range p.Lanes {
		g.Go(func() error {
			batches := make([][]*txbuilder.SignedTx, p.TotalBatches)
			for batch := range p.TotalBatches {
				if err := gctx.Err(); err != nil {
					return err
				}
				slots := make([]*txbuilder.SignedTx, p.PerLanePerBatch)
				for idx := range p.PerLanePerBatch {
					acc := cfg.Registry.Account(assign(lane, idx))
					stx, err := txbuilder.Sign(cfg.Builder, signer, txbuilder.Params{
						ChainID:   cfg.ChainID,
						Sender:    acc,
						Nonce:     cfg.Registry.NextSequence(acc),
						GasTipCap: cfg.GasTipCap,
						GasFeeCap: cfg.GasFeeCap,
						UseLegacy: cfg.UseLegacy,
					})
					if err != nil {
						return fmt.Errorf("lane %d batch %d slot %d: %w", lane, batch, idx, err)
					}
					slots[idx] = stx
				}
				batches[batch] = slots
			}
			sched.txs[lane] = batches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, bencherr.Setup("pregenerate", err)
	}

	logger.Info("pre-generation complete",
		slog.Int("total", p.TotalTransactions),
		slog.Duration("took", time.Since(start)),
	)
	return sched, nil
}
