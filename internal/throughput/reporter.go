// Package throughput measures realized throughput by walking chain history
// backwards from the head.
package throughput

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/tpsbench/internal/bencherr"
	"github.com/gateway-fm/tpsbench/internal/rpc"
	"github.com/gateway-fm/tpsbench/pkg/types"
)

// DefaultMaxBlocks bounds a single scan.
const DefaultMaxBlocks = 1_000_000

// ChainReader is the subset of the ledger client the reporter needs.
type ChainReader interface {
	GetLatestBlock(ctx context.Context) (*rpc.Block, error)
	GetBlockByHash(ctx context.Context, hash common.Hash) (*rpc.Block, error)
}

// Config for a Reporter.
type Config struct {
	Client    ChainReader
	MaxBlocks int
	Logger    *slog.Logger
}

// Reporter counts matching transactions in the blocks produced during a run.
type Reporter struct {
	client    ChainReader
	maxBlocks int
	logger    *slog.Logger
}

// NewReporter creates a Reporter.
func NewReporter(cfg Config) *Reporter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBlocks := cfg.MaxBlocks
	if maxBlocks <= 0 {
		maxBlocks = DefaultMaxBlocks
	}
	return &Reporter{
		client:    cfg.Client,
		maxBlocks: maxBlocks,
		logger:    logger,
	}
}

// Measure walks parent links from the head while block timestamps are after
// start. Blocks stamped within [start, end] contribute their matching
// transactions. Block timestamps have one-second resolution, so start and
// end are truncated to the second for the window test.
//
// Unavailable history ends the scan early: the partial result is returned
// with Complete=false and a note, not an error. Other fetch failures are
// returned as errors alongside the partial result.
func (r *Reporter) Measure(ctx context.Context, start, end time.Time, filter Filter) (types.ThroughputResult, error) {
	if filter == nil {
		filter = AllTransactions
	}
	from := start.Truncate(time.Second)
	to := end.Truncate(time.Second)

	res := types.ThroughputResult{Complete: true}

	block, err := r.client.GetLatestBlock(ctx)
	if err != nil {
		res.Complete = false
		return res, fmt.Errorf("fetch head block: %w", err)
	}

	visited := 0
	for !block.Timestamp.Before(from) {
		// The cap counts blocks inside the walk, not the parent that ends it.
		if visited >= r.maxBlocks {
			res.Complete = false
			res.Note = fmt.Sprintf("scan stopped after %d blocks", visited)
			r.logger.Warn("throughput scan hit block limit",
				slog.Int("maxBlocks", r.maxBlocks),
				slog.Uint64("oldestBlock", res.OldestBlock),
			)
			break
		}
		visited++

		if !block.Timestamp.After(to) {
			res.TotalMatching += countMatching(block, filter)
			res.BlocksScanned++
		}
		res.OldestBlock = block.Number

		if block.Number == 0 {
			break
		}

		parent, err := r.client.GetBlockByHash(ctx, block.ParentHash)
		if err != nil {
			if errors.Is(err, rpc.ErrBlockNotFound) || errors.Is(err, rpc.ErrHistoryPruned) {
				unavailable := &bencherr.HistoryUnavailableError{BlockHash: block.ParentHash.Hex(), Err: err}
				res.Complete = false
				res.Note = unavailable.Error()
				r.logger.Warn("throughput scan incomplete",
					slog.Uint64("reachedBlock", block.Number),
					slog.Int("blocksScanned", res.BlocksScanned),
					slog.String("error", unavailable.Error()),
				)
				break
			}
			res.Complete = false
			res.TPS = TPS(res.TotalMatching, start, end)
			return res, fmt.Errorf("fetch block %s: %w", block.ParentHash.Hex(), err)
		}
		block = parent
	}

	res.TPS = TPS(res.TotalMatching, start, end)
	r.logger.Info("throughput measured",
		slog.Int("transactions", res.TotalMatching),
		slog.Int("blocks", res.BlocksScanned),
		slog.Float64("tps", res.TPS),
		slog.Bool("complete", res.Complete),
	)
	return res, nil
}

func countMatching(block *rpc.Block, filter Filter) int {
	n := 0
	for _, tx := range block.Transactions {
		if filter(tx) {
			n++
		}
	}
	return n
}

// TPS is total * 1000 / elapsed milliseconds; zero for an empty window.
func TPS(total int, start, end time.Time) float64 {
	ms := end.Sub(start).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return float64(total) * 1000 / float64(ms)
}
