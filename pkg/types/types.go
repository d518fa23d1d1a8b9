// Package types contains public API types for the benchmark.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// TxKind is the category of transaction a run generates.
type TxKind string

const (
	TxKindTransfer TxKind = "transfer" // plain value transfer between benchmark accounts
	TxKindProxied  TxKind = "proxied"  // token transfer relayed through a proxy contract
)

// Valid reports whether k is a known kind.
func (k TxKind) Valid() bool {
	return k == TxKindTransfer || k == TxKindProxied
}

// Network identifies a preset target network.
type Network string

const (
	NetworkLocal   Network = "local"
	NetworkTestnet Network = "testnet"
)

// RunStatus represents the current run state.
type RunStatus string

const (
	StatusIdle         RunStatus = "idle"
	StatusInitializing RunStatus = "initializing" // accounts, endowment, pre-generation
	StatusRunning      RunStatus = "running"      // dispatching batches
	StatusFinalizing   RunStatus = "finalizing"   // waiting for finalization
	StatusMeasuring    RunStatus = "measuring"    // scanning history
	StatusCompleted    RunStatus = "completed"
	StatusError        RunStatus = "error"
)

// RunPhase is a finer-grained step while a run is initializing.
type RunPhase string

const (
	PhaseNone          RunPhase = ""
	PhaseDeriving      RunPhase = "deriving_accounts"
	PhaseSyncing       RunPhase = "syncing_nonces"
	PhaseEndowing      RunPhase = "endowing_accounts"
	PhasePregenerating RunPhase = "pregenerating"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"` // ms
	Max     float64         `json:"max"` // ms
	Avg     float64         `json:"avg"` // ms
	P50     float64         `json:"p50"` // ms
	P75     float64         `json:"p75"` // ms
	P90     float64         `json:"p90"` // ms
	P95     float64         `json:"p95"` // ms
	P99     float64         `json:"p99"` // ms
	Buckets []LatencyBucket `json:"buckets"`
}

// RunConfig echoes the parameters a run was started with.
type RunConfig struct {
	Network           Network `json:"network"`
	RPCURL            string  `json:"rpcUrl"`
	TotalTransactions int     `json:"totalTransactions"`
	TargetTPS         int     `json:"targetTps"`
	Lanes             int     `json:"lanes"`
	Kind              TxKind  `json:"kind"`
	Batched           bool    `json:"batched"`
	Endow             bool    `json:"endow"`
	IntervalMs        int64   `json:"intervalMs"`
}

// PlanSummary describes how a run divides its transactions.
type PlanSummary struct {
	TotalBatches    int `json:"totalBatches"`
	PerLanePerBatch int `json:"perLanePerBatch"`
	Accounts        int `json:"accounts"`
}

// BatchOutcome is the submission result of one batch.
type BatchOutcome struct {
	Batch       int       `json:"batch"`
	StartedAt   time.Time `json:"startedAt"`
	DurationMs  int64     `json:"durationMs"`
	Submitted   int       `json:"submitted"`
	Accepted    int       `json:"accepted"`
	ErrorCount  int       `json:"errorCount"`
	ErrorSample []string  `json:"errorSample,omitempty"`
}

// FinalizationResult summarizes how many submitted transactions finalized.
type FinalizationResult struct {
	Expected     int           `json:"expected"`
	Finalized    int           `json:"finalized"`
	MaxLatencyMs int64         `json:"maxLatencyMs"` // from run start
	Complete     bool          `json:"complete"`
	Latency      *LatencyStats `json:"latency,omitempty"` // per transaction, from send
	Shortfall    string        `json:"shortfall,omitempty"`
}

// ThroughputResult is the measured throughput from chain history.
type ThroughputResult struct {
	TotalMatching int     `json:"totalMatching"`
	BlocksScanned int     `json:"blocksScanned"`
	TPS           float64 `json:"tps"`
	Complete      bool    `json:"complete"`
	OldestBlock   uint64  `json:"oldestBlock,omitempty"`
	Note          string  `json:"note,omitempty"`
}

// RunReport stores the final results of a benchmark run.
type RunReport struct {
	ID           string              `json:"id"`
	Status       RunStatus           `json:"status"`
	StartedAt    time.Time           `json:"startedAt"`
	CompletedAt  time.Time           `json:"completedAt"`
	DurationMs   int64               `json:"durationMs"`
	Config       RunConfig           `json:"config"`
	Plan         PlanSummary         `json:"plan"`
	TxSubmitted  int                 `json:"txSubmitted"`
	TxAccepted   int                 `json:"txAccepted"`
	TxErrors     int                 `json:"txErrors"`
	Finalization *FinalizationResult `json:"finalization,omitempty"`
	Throughput   *ThroughputResult   `json:"throughput,omitempty"`
	Batches      []BatchOutcome      `json:"batches,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// LiveStatus holds real-time run progress.
type LiveStatus struct {
	RunID        string        `json:"runId,omitempty"`
	Status       RunStatus     `json:"status"`
	Phase        RunPhase      `json:"phase,omitempty"`
	Progress     string        `json:"progress,omitempty"`
	TargetTPS    int           `json:"targetTps"`
	TotalBatches int           `json:"totalBatches"`
	BatchesSent  int           `json:"batchesSent"`
	TxSubmitted  int           `json:"txSubmitted"`
	TxAccepted   int           `json:"txAccepted"`
	TxErrors     int           `json:"txErrors"`
	TxFinalized  int           `json:"txFinalized"`
	TxPending    int           `json:"txPending"`
	ElapsedMs    int64         `json:"elapsedMs"`
	LastBatch    *BatchOutcome `json:"lastBatch,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// StartRunRequest starts a run over the HTTP API. Zero fields keep the
// server's configured defaults.
type StartRunRequest struct {
	Network           Network `json:"network,omitempty"`
	TotalTransactions int     `json:"totalTransactions,omitempty"`
	TargetTPS         int     `json:"targetTps,omitempty"`
	Lanes             int     `json:"lanes,omitempty"`
	Kind              TxKind  `json:"kind,omitempty"`
	Batched           bool    `json:"batched,omitempty"`
	Endow             bool    `json:"endow,omitempty"`
}
