package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/gateway-fm/tpsbench/internal/rpc"
	"github.com/gateway-fm/tpsbench/internal/storage"
)

const healthTimeout = 2 * time.Second

// ListRuns returns a page of stored runs.
func (r *Runner) ListRuns(ctx context.Context, limit, offset int) (*storage.PaginatedRuns, error) {
	if r.store == nil {
		return &storage.PaginatedRuns{Runs: []storage.Run{}, Limit: limit, Offset: offset}, nil
	}
	return r.store.ListRuns(ctx, limit, offset)
}

// GetRunDetail returns a stored run with its batch outcomes, or nil when
// the run does not exist.
func (r *Runner) GetRunDetail(ctx context.Context, id string) (*storage.RunDetail, error) {
	if r.store == nil {
		return nil, nil
	}
	run, err := r.store.GetRun(ctx, id)
	if err != nil || run == nil {
		return nil, err
	}
	batches, err := r.store.GetBatches(ctx, id)
	if err != nil {
		return nil, err
	}
	return &storage.RunDetail{Run: run, Batches: batches}, nil
}

// DeleteRun removes a stored run.
func (r *Runner) DeleteRun(ctx context.Context, id string) error {
	if r.store == nil {
		return fmt.Errorf("storage not configured")
	}
	return r.store.DeleteRun(ctx, id)
}

// UpdateRunMetadata updates the name or favorite flag of a stored run.
func (r *Runner) UpdateRunMetadata(ctx context.Context, id string, update *storage.RunMetadataUpdate) error {
	if r.store == nil {
		return fmt.Errorf("storage not configured")
	}
	return r.store.UpdateRunMetadata(ctx, id, update)
}

// CheckRPC verifies the configured network's endpoint answers.
func (r *Runner) CheckRPC(ctx context.Context) error {
	target, err := r.base.Resolve(r.networks)
	if err != nil {
		return err
	}
	cfg := rpc.DefaultClientConfig(target.RPCURL)
	cfg.Timeout = healthTimeout
	cfg.MaxRetries = 0
	cfg.Logger = r.logger

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if _, err := rpc.NewHTTPClient(cfg).GetBlockNumber(ctx); err != nil {
		return fmt.Errorf("rpc %s: %w", target.RPCURL, err)
	}
	return nil
}

// CheckStorage verifies the history database answers.
func (r *Runner) CheckStorage(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	_, err := r.store.ListRuns(ctx, 1, 0)
	return err
}
