package metrics

import "sync/atomic"

// AtomicMax atomically sets *addr to max(*addr, val) and returns the new value.
//
// A plain load-compare-store would lose a larger value written between the
// load and the store, so this retries with Compare-And-Swap.
func AtomicMax(addr *int64, val int64) int64 {
	for {
		current := atomic.LoadInt64(addr)
		if val <= current {
			return current
		}
		if atomic.CompareAndSwapInt64(addr, current, val) {
			return val
		}
	}
}
