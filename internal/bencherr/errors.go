// Package bencherr defines the error kinds a benchmark run can produce.
//
// Configuration and setup errors abort a run before any transaction is sent.
// Submission errors are counted per batch. Finalization timeouts and missing
// history degrade the final report but never fail it.
package bencherr

import (
	"errors"
	"fmt"
	"time"
)

// ConfigurationError reports an invalid or inconsistent run parameter.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Configf builds a ConfigurationError for field.
func Configf(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SetupError reports a failure while preparing a run: connecting,
// fetching sequence numbers, endowing accounts or pre-generating.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup failed (%s): %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Setup wraps err as a SetupError for stage. A nil err returns nil.
func Setup(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *SetupError
	if errors.As(err, &se) {
		return err
	}
	return &SetupError{Stage: stage, Err: err}
}

// SubmissionError is the rejection of a single transaction by the network.
type SubmissionError struct {
	Lane  int
	Batch int
	Index int
	Hash  string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("lane %d batch %d slot %d (%s): %v", e.Lane, e.Batch, e.Index, e.Hash, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// FinalizationTimeout is reported when fewer transactions were finalized
// than expected within the bounded wait.
type FinalizationTimeout struct {
	Expected int
	Observed int
	Waited   time.Duration
}

func (e *FinalizationTimeout) Error() string {
	return fmt.Sprintf("finalized %d of %d transactions after %s", e.Observed, e.Expected, e.Waited)
}

// HistoryUnavailableError is reported when the backward scan hits a block
// the node no longer serves.
type HistoryUnavailableError struct {
	BlockHash string
	Err       error
}

func (e *HistoryUnavailableError) Error() string {
	return fmt.Sprintf("scan incomplete: block %s unavailable: %v", e.BlockHash, e.Err)
}

func (e *HistoryUnavailableError) Unwrap() error { return e.Err }

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	var ce *ConfigurationError
	var se *SetupError
	return errors.As(err, &ce) || errors.As(err, &se)
}
