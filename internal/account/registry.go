package account

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/tpsbench/internal/bencherr"
)

// Registry owns the sender accounts of a run and hands out their sequence numbers.
type Registry struct {
	accounts []*Account
	logger   *slog.Logger
}

// NewRegistry wraps accounts. Their nonces are expected to be synced
// with SyncNonces before any sequence number is handed out.
func NewRegistry(accounts []*Account, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{accounts: accounts, logger: logger}
}

// DeriveAccounts creates count deterministic user accounts (//user//0000, ...).
func DeriveAccounts(ctx context.Context, count int) ([]*Account, error) {
	accounts := make([]*Account, count)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(min(runtime.GOMAXPROCS(0), 16))

	for i := range count {
		g.Go(func() error {
			acc, err := FromLabel(UserLabel(i))
			if err != nil {
				return err
			}
			accounts[i] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Len returns the number of accounts.
func (r *Registry) Len() int {
	return len(r.accounts)
}

// Account returns the account at index i.
func (r *Registry) Account(i int) *Account {
	return r.accounts[i]
}

// Accounts returns all accounts in index order.
func (r *Registry) Accounts() []*Account {
	return r.accounts
}

// NextSequence returns acc's next sequence number and advances it by one.
func (r *Registry) NextSequence(acc *Account) uint64 {
	return acc.next()
}

// SyncNonces fetches the confirmed nonce of every account once.
// Any failure is a SetupError: a run cannot start with unknown sequence numbers.
func (r *Registry) SyncNonces(ctx context.Context, src NonceSource, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 32
	}
	r.logger.Info("syncing account nonces", slog.Int("count", len(r.accounts)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, acc := range r.accounts {
		g.Go(func() error {
			nonce, err := src.GetConfirmedNonce(gctx, acc.Address.Hex())
			if err != nil {
				return fmt.Errorf("account %d (%s): %w", i, acc.Address.Hex(), err)
			}
			acc.SetNonce(nonce)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return bencherr.Setup("nonces", err)
	}

	r.logger.Info("account nonces synced", slog.Int("count", len(r.accounts)))
	return nil
}
