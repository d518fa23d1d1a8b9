// Package ratelimit paces batch emission against a fixed wall-clock schedule.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is one batch per second.
const DefaultInterval = time.Second

// Pacer issues permits at deadlines start, start+interval, start+2*interval...
//
// Each deadline is derived from the previous deadline, not from the time the
// caller returned, so slow batches do not push later batches back. A caller
// that falls behind receives the overdue permits immediately.
type Pacer struct {
	mu           sync.Mutex
	nextDeadline time.Time
	interval     time.Duration
}

// New creates a Pacer whose first permit is due now.
func New(interval time.Duration) *Pacer {
	return NewAt(time.Now(), interval)
}

// NewAt creates a Pacer whose first permit is due at start.
func NewAt(start time.Time, interval time.Duration) *Pacer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Pacer{
		nextDeadline: start,
		interval:     interval,
	}
}

// Wait blocks until the next deadline or until ctx is cancelled.
// It returns the deadline the permit was scheduled for.
func (p *Pacer) Wait(ctx context.Context) (time.Time, error) {
	p.mu.Lock()
	deadline := p.nextDeadline
	p.nextDeadline = deadline.Add(p.interval)
	p.mu.Unlock()

	waitDuration := time.Until(deadline)
	if waitDuration <= 0 {
		// Behind schedule: proceed immediately.
		return deadline, ctx.Err()
	}

	timer := time.NewTimer(waitDuration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return deadline, ctx.Err()
	case <-timer.C:
		return deadline, nil
	}
}
