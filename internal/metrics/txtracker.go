package metrics

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PendingTx is a submitted transaction awaiting finalization.
type PendingTx struct {
	SentAt time.Time
	Kind   string
}

// TxTracker holds submitted transactions until they are seen on chain.
// Memory is bounded: when full, the oldest entries are evicted in insertion
// order and counted as Evicted.
type TxTracker struct {
	mu sync.Mutex

	pending map[common.Hash]PendingTx

	// Insertion order, used as a FIFO ring for eviction.
	order []common.Hash
	head  int

	maxSize    int
	evictBatch int
	evicted    int64
}

const (
	// DefaultMaxTrackedTxs is the maximum number of pending transactions.
	DefaultMaxTrackedTxs = 1_000_000

	// DefaultEvictBatch is how many entries are evicted when the limit is hit.
	DefaultEvictBatch = 10_000
)

// NewTxTracker creates a tracker with the default bound.
func NewTxTracker() *TxTracker {
	return NewTxTrackerWithSize(DefaultMaxTrackedTxs, DefaultEvictBatch)
}

// NewTxTrackerWithSize creates a tracker holding at most maxSize entries.
func NewTxTrackerWithSize(maxSize, evictBatch int) *TxTracker {
	evictBatch = max(min(evictBatch, maxSize), 1)
	return &TxTracker{
		pending:    make(map[common.Hash]PendingTx),
		order:      make([]common.Hash, maxSize),
		maxSize:    maxSize,
		evictBatch: evictBatch,
	}
}

// Track records a submitted transaction.
func (t *TxTracker) Track(hash common.Hash, tx PendingTx) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) >= t.maxSize {
		t.evictOldest()
	}

	// The slot may still name an entry that was never resolved.
	if old := t.order[t.head]; old != (common.Hash{}) {
		if _, ok := t.pending[old]; ok {
			delete(t.pending, old)
			t.evicted++
		}
	}
	t.pending[hash] = tx
	t.order[t.head] = hash
	t.head = (t.head + 1) % t.maxSize
}

// evictOldest drops up to evictBatch entries starting at the oldest slot.
// Called with lock held.
func (t *TxTracker) evictOldest() {
	for i := range t.evictBatch {
		idx := (t.head + i) % t.maxSize
		if h := t.order[idx]; h != (common.Hash{}) {
			if _, ok := t.pending[h]; ok {
				delete(t.pending, h)
				t.evicted++
			}
			t.order[idx] = common.Hash{}
		}
	}
}

// Resolve returns and removes a pending transaction.
func (t *TxTracker) Resolve(hash common.Hash) (PendingTx, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, ok := t.pending[hash]
	if ok {
		// The ring slot is cleared lazily when it is reused.
		delete(t.pending, hash)
	}
	return tx, ok
}

// Size returns the number of pending transactions.
func (t *TxTracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Evicted returns how many transactions were dropped unresolved.
func (t *TxTracker) Evicted() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evicted
}
