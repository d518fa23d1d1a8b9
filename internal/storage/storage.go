package storage

import (
	"context"

	"github.com/gateway-fm/tpsbench/pkg/types"
)

// Storage defines the persistence interface for benchmark run history.
type Storage interface {
	// Run lifecycle
	CreateRun(ctx context.Context, run *types.RunReport) error
	CompleteRun(ctx context.Context, run *types.RunReport) error
	GetRun(ctx context.Context, id string) (*Run, error)

	// History queries
	ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error)
	DeleteRun(ctx context.Context, id string) error
	UpdateRunMetadata(ctx context.Context, id string, update *RunMetadataUpdate) error

	// Per-batch outcomes (written once the run completes)
	BulkInsertBatches(ctx context.Context, runID string, batches []types.BatchOutcome) error
	GetBatches(ctx context.Context, runID string) ([]types.BatchOutcome, error)

	// Lifecycle
	Close() error
}
