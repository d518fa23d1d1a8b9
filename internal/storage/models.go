// Package storage persists benchmark run history in SQLite.
package storage

import (
	"github.com/gateway-fm/tpsbench/pkg/types"
)

// Run is a persisted run report plus user-defined metadata.
// Batches are stored separately and are not populated by list queries.
type Run struct {
	types.RunReport
	CustomName *string `json:"customName,omitempty"`
	IsFavorite bool    `json:"isFavorite"`
}

// RunMetadataUpdate changes the name and/or favorite flag of a run.
type RunMetadataUpdate struct {
	CustomName *string `json:"customName,omitempty"`
	IsFavorite *bool   `json:"isFavorite,omitempty"`
}

// RunDetail combines a run with its per-batch outcomes.
type RunDetail struct {
	Run     *Run                 `json:"run"`
	Batches []types.BatchOutcome `json:"batches"`
}

// PaginatedRuns is one page of run history.
type PaginatedRuns struct {
	Runs   []Run `json:"runs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}
