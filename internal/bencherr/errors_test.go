package bencherr

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestConfigurationErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "with field",
			err:  Configf("tps", "%d does not divide %d", 7, 100),
			want: "invalid configuration: tps: 7 does not divide 100",
		},
		{
			name: "without field",
			err:  &ConfigurationError{Reason: "local and testnet are exclusive"},
			want: "invalid configuration: local and testnet are exclusive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetupWrapsOnce(t *testing.T) {
	if Setup("nonces", nil) != nil {
		t.Fatal("Setup(nil) should return nil")
	}

	base := errors.New("connection refused")
	err := Setup("nonces", base)
	if !errors.Is(err, base) {
		t.Error("SetupError should unwrap to the cause")
	}

	again := Setup("endow", fmt.Errorf("outer: %w", err))
	var se *SetupError
	if !errors.As(again, &se) {
		t.Fatal("expected SetupError")
	}
	if se.Stage != "nonces" {
		t.Errorf("Stage = %q, want inner stage %q", se.Stage, "nonces")
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"configuration", Configf("n", "must be positive"), true},
		{"setup", Setup("connect", errors.New("timeout")), true},
		{"wrapped setup", fmt.Errorf("run: %w", Setup("connect", errors.New("timeout"))), true},
		{"submission", &SubmissionError{Err: errors.New("nonce too low")}, false},
		{"finalization", &FinalizationTimeout{Expected: 50, Observed: 40, Waited: time.Second}, false},
		{"history", &HistoryUnavailableError{BlockHash: "0xabc", Err: errors.New("pruned")}, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDegradedMessages(t *testing.T) {
	ft := &FinalizationTimeout{Expected: 50, Observed: 40, Waited: 3 * time.Second}
	if got, want := ft.Error(), "finalized 40 of 50 transactions after 3s"; got != want {
		t.Errorf("FinalizationTimeout.Error() = %q, want %q", got, want)
	}

	he := &HistoryUnavailableError{BlockHash: "0xabc", Err: errors.New("not found")}
	if got, want := he.Error(), "scan incomplete: block 0xabc unavailable: not found"; got != want {
		t.Errorf("HistoryUnavailableError.Error() = %q, want %q", got, want)
	}
}
