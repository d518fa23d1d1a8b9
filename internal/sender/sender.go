// Package sender submits signed transactions with bounded concurrency.
package sender

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/tpsbench/internal/rpc"
)

// Client is the subset of the ledger client the sender uses.
type Client interface {
	SendRawTransaction(ctx context.Context, txRLP []byte) error
	BatchCall(ctx context.Context, calls []rpc.BatchRequest) ([]rpc.BatchResponse, error)
}

// Sender submits transactions with semaphore-based backpressure.
type Sender struct {
	client    Client
	semaphore chan struct{}
	logger    *slog.Logger
}

// Config for creating a Sender.
type Config struct {
	Client      Client
	Concurrency int // max concurrent submissions (default: 500)
	Logger      *slog.Logger
}

// New creates a new Sender.
func New(cfg Config) *Sender {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 500
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sender{
		client:    cfg.Client,
		semaphore: make(chan struct{}, concurrency),
		logger:    logger,
	}
}

// Send submits a transaction on its own goroutine once a slot is free.
// It blocks only while the sender is at capacity. The callback receives the
// node's accept (nil) or reject result. If ctx ends before a slot frees up,
// the callback is not called and ctx.Err() is returned.
func (s *Sender) Send(ctx context.Context, txData []byte, callback func(error)) error {
	select {
	case s.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.launch(ctx, txData, callback)
	return nil
}

func (s *Sender) launch(ctx context.Context, txData []byte, callback func(error)) {
	go func() {
		defer func() { <-s.semaphore }()

		err := s.client.SendRawTransaction(ctx, txData)
		if callback != nil {
			callback(err)
		}
	}()
}

// SendBatch submits all transactions in one JSON-RPC batch request and
// returns one result per transaction, in order. A failure of the whole
// request is reported against every transaction. It holds a single
// concurrency slot for the duration of the request.
func (s *Sender) SendBatch(ctx context.Context, txs [][]byte) []error {
	errs := make([]error, len(txs))
	if len(txs) == 0 {
		return errs
	}

	select {
	case s.semaphore <- struct{}{}:
	case <-ctx.Done():
		for i := range errs {
			errs[i] = ctx.Err()
		}
		return errs
	}
	defer func() { <-s.semaphore }()

	calls := make([]rpc.BatchRequest, len(txs))
	for i, tx := range txs {
		calls[i] = rpc.BatchRequest{
			Method: "eth_sendRawTransaction",
			Params: []interface{}{hexutil.Encode(tx)},
		}
	}

	responses, err := s.client.BatchCall(ctx, calls)
	if err == nil && len(responses) != len(txs) {
		err = fmt.Errorf("batch returned %d results for %d transactions", len(responses), len(txs))
	}
	if err != nil {
		s.logger.Debug("batch submission failed",
			slog.Int("count", len(txs)),
			slog.String("error", err.Error()),
		)
		for i := range errs {
			errs[i] = err
		}
		return errs
	}

	for i, resp := range responses {
		errs[i] = resp.Error
	}
	return errs
}

// InFlight returns the number of submissions currently in progress.
func (s *Sender) InFlight() int {
	return len(s.semaphore)
}
