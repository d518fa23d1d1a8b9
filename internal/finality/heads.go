package finality

import (
	"context"
	"log/slog"
	"time"

	"github.com/gateway-fm/tpsbench/internal/rpc"
)

// HeadSource announces new chain head numbers. The channel is closed when
// ctx ends or the source fails.
type HeadSource interface {
	Heads(ctx context.Context) (<-chan uint64, error)
}

// BlockNumberer reports the latest block number.
type BlockNumberer interface {
	GetBlockNumber(ctx context.Context) (uint64, error)
}

// SubscriptionSource reads heads from a WebSocket newHeads subscription.
type SubscriptionSource struct {
	Subscriber *rpc.HeadSubscriber
}

// Heads implements HeadSource.
func (s *SubscriptionSource) Heads(ctx context.Context) (<-chan uint64, error) {
	heads, err := s.Subscriber.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan uint64, cap(heads))
	go func() {
		defer close(out)
		for h := range heads {
			select {
			case out <- h.Number:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// PollingSource polls eth_blockNumber and announces every increase.
type PollingSource struct {
	Client   BlockNumberer
	Interval time.Duration
	Logger   *slog.Logger
}

// Heads implements HeadSource.
func (s *PollingSource) Heads(ctx context.Context) (<-chan uint64, error) {
	interval := s.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := make(chan uint64, 16)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last uint64
		for {
			n, err := s.Client.GetBlockNumber(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				logger.Debug("head poll failed", slog.String("error", err.Error()))
			case err == nil && n > last:
				last = n
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}

// FallbackSource uses Primary and switches to Fallback when Primary cannot
// be opened.
type FallbackSource struct {
	Primary  HeadSource
	Fallback HeadSource
	Logger   *slog.Logger
}

// Heads implements HeadSource.
func (s *FallbackSource) Heads(ctx context.Context) (<-chan uint64, error) {
	heads, err := s.Primary.Heads(ctx)
	if err == nil {
		return heads, nil
	}
	if s.Logger != nil {
		s.Logger.Warn("head subscription unavailable, polling instead", slog.String("error", err.Error()))
	}
	return s.Fallback.Heads(ctx)
}
