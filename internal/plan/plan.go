// Package plan divides a benchmark run into identically shaped batches.
//
// A run of N transactions at R transactions per second over L lanes becomes
// N/R batches, each holding R/L transactions per lane. Shapes that do not
// divide evenly are rejected instead of truncated.
package plan

import (
	"github.com/gateway-fm/tpsbench/internal/bencherr"
	"github.com/gateway-fm/tpsbench/pkg/types"
)

// BatchPlan is the validated shape of a run.
type BatchPlan struct {
	TotalTransactions int
	TargetRate        int // transactions per batch across all lanes
	Lanes             int
	TotalBatches      int
	PerLanePerBatch   int
}

// Plan validates the run shape and derives batch counts.
func Plan(total, rate, lanes int) (BatchPlan, error) {
	switch {
	case total <= 0:
		return BatchPlan{}, bencherr.Configf("transactions", "must be positive, got %d", total)
	case rate <= 0:
		return BatchPlan{}, bencherr.Configf("tps", "must be positive, got %d", rate)
	case lanes <= 0:
		return BatchPlan{}, bencherr.Configf("lanes", "must be positive, got %d", lanes)
	case total%rate != 0:
		return BatchPlan{}, bencherr.Configf("tps", "%d transactions do not split into whole batches of %d", total, rate)
	case rate%lanes != 0:
		return BatchPlan{}, bencherr.Configf("lanes", "%d transactions per batch do not split evenly over %d lanes", rate, lanes)
	}

	return BatchPlan{
		TotalTransactions: total,
		TargetRate:        rate,
		Lanes:             lanes,
		TotalBatches:      total / rate,
		PerLanePerBatch:   rate / lanes,
	}, nil
}

// RequiredAccounts is the number of sender accounts the run needs:
// one per slot of a lane, for every lane.
func (p BatchPlan) RequiredAccounts() int {
	return p.Lanes * p.PerLanePerBatch
}

// Summary converts the plan to its public form.
func (p BatchPlan) Summary() types.PlanSummary {
	return types.PlanSummary{
		TotalBatches:    p.TotalBatches,
		PerLanePerBatch: p.PerLanePerBatch,
		Accounts:        p.RequiredAccounts(),
	}
}

// Assignment maps a lane and slot index to a sender account index.
type Assignment func(lane, index int) int

// ContiguousAssignment gives lane l the accounts
// [l*accountsPerLane, (l+1)*accountsPerLane). Slot s of a lane uses
// account s mod accountsPerLane within that block.
func ContiguousAssignment(accountsPerLane int) Assignment {
	if accountsPerLane < 1 {
		accountsPerLane = 1
	}
	return func(lane, index int) int {
		return lane*accountsPerLane + index%accountsPerLane
	}
}

// Assignment returns the contiguous assignment sized for this plan.
func (p BatchPlan) Assignment() Assignment {
	return ContiguousAssignment(p.PerLanePerBatch)
}
