package account

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/tpsbench/internal/bencherr"
)

// EndowClient is the subset of the ledger client endowment needs.
type EndowClient interface {
	NonceSource
	SendRawTransaction(ctx context.Context, txRLP []byte) error
}

// EndowConfig configures funding of benchmark accounts from a funder.
type EndowConfig struct {
	Client         EndowClient
	ChainID        *big.Int
	GasPrice       *big.Int
	UseLegacy      bool
	Amount         *big.Int
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	Logger         *slog.Logger
}

// Endower sends one value transfer per recipient from a funder account.
type Endower struct {
	client         EndowClient
	signer         types.Signer
	chainID        *big.Int
	gasPrice       *big.Int
	useLegacy      bool
	amount         *big.Int
	confirmTimeout time.Duration
	pollInterval   time.Duration
	maxRetries     int
	retryBackoff   time.Duration
	logger         *slog.Logger
}

// NewEndower creates an Endower.
func NewEndower(cfg EndowConfig) *Endower {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	amount := cfg.Amount
	if amount == nil {
		amount = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil) // 1 ETH
	}
	gasPrice := cfg.GasPrice
	if gasPrice == nil {
		gasPrice = big.NewInt(1e9)
	}
	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = time.Second
	}
	return &Endower{
		client:         cfg.Client,
		signer:         types.LatestSignerForChainID(cfg.ChainID),
		chainID:        cfg.ChainID,
		gasPrice:       gasPrice,
		useLegacy:      cfg.UseLegacy,
		amount:         amount,
		confirmTimeout: confirmTimeout,
		pollInterval:   pollInterval,
		maxRetries:     maxRetries,
		retryBackoff:   retryBackoff,
		logger:         logger,
	}
}

// Endow funds every recipient from funder and waits until the funder's
// confirmed nonce shows all transfers included.
func (e *Endower) Endow(ctx context.Context, funder *Account, recipients []*Account) error {
	if len(recipients) == 0 {
		return nil
	}
	if err := funder.Resync(ctx, e.client); err != nil {
		return bencherr.Setup("endow", fmt.Errorf("sync funder nonce: %w", err))
	}
	start := funder.PeekNonce()

	e.logger.Info("endowing accounts",
		slog.Int("count", len(recipients)),
		slog.String("funder", funder.Address.Hex()),
		slog.String("amount", e.amount.String()),
	)

	for i, acc := range recipients {
		if err := e.fund(ctx, funder, acc); err != nil {
			return bencherr.Setup("endow", fmt.Errorf("account %d (%s): %w", i, acc.Label, err))
		}
		if (i+1)%500 == 0 {
			e.logger.Info("endowment progress (sent)", slog.Int("sent", i+1), slog.Int("total", len(recipients)))
		}
	}

	expected := start + uint64(len(recipients))
	if err := e.waitForNonce(ctx, funder, expected); err != nil {
		return bencherr.Setup("endow", err)
	}

	e.logger.Info("endowment confirmed", slog.Int("count", len(recipients)))
	return nil
}

// fund sends a single transfer, rolling the funder's nonce back on failure.
func (e *Endower) fund(ctx context.Context, funder, recipient *Account) error {
	// High tip so endowments land before benchmark traffic.
	tip := big.NewInt(100 * 1e9)
	backoff := e.retryBackoff

	var lastErr error
	for attempt := range e.maxRetries {
		n := funder.ReserveNonce()

		var tx *types.Transaction
		if e.useLegacy {
			tx = types.NewTx(&types.LegacyTx{
				Nonce:    n.Value(),
				GasPrice: new(big.Int).Add(e.gasPrice, tip),
				Gas:      21000,
				To:       &recipient.Address,
				Value:    e.amount,
			})
		} else {
			tx = types.NewTx(&types.DynamicFeeTx{
				ChainID:   e.chainID,
				Nonce:     n.Value(),
				GasTipCap: tip,
				GasFeeCap: new(big.Int).Add(e.gasPrice, tip),
				Gas:       21000,
				To:        &recipient.Address,
				Value:     e.amount,
			})
		}

		signed, err := types.SignTx(tx, e.signer, funder.PrivateKey)
		if err != nil {
			n.Rollback()
			return fmt.Errorf("sign: %w", err)
		}
		data, err := signed.MarshalBinary()
		if err != nil {
			n.Rollback()
			return fmt.Errorf("encode: %w", err)
		}

		lastErr = e.client.SendRawTransaction(ctx, data)
		if lastErr == nil {
			n.Commit()
			return nil
		}
		n.Rollback()

		if !isTransient(lastErr) {
			return fmt.Errorf("send: %w", lastErr)
		}
		e.logger.Debug("endowment send failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if err := funder.Resync(ctx, e.client); err != nil {
			e.logger.Warn("failed to resync funder nonce", slog.String("error", err.Error()))
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// waitForNonce polls the confirmed nonce until it reaches expected.
func (e *Endower) waitForNonce(ctx context.Context, funder *Account, expected uint64) error {
	deadline := time.Now().Add(e.confirmTimeout)
	for {
		onChain, err := e.client.GetConfirmedNonce(ctx, funder.Address.Hex())
		if err != nil {
			return fmt.Errorf("get confirmed nonce: %w", err)
		}
		if onChain >= expected {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("endowment not confirmed after %s: funder nonce %d, want %d", e.confirmTimeout, onChain, expected)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.pollInterval):
		}
	}
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "txpool is full")
}
