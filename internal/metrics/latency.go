// Package metrics holds the run's shared counters, latency statistics and
// Prometheus instruments.
package metrics

import (
	"math"
	"sort"
	"sync"

	"github.com/gateway-fm/tpsbench/pkg/types"
)

// StreamingLatencyStats estimates latency percentiles without storing every
// sample. Percentiles come from a fixed-size reservoir (Algorithm R).
type StreamingLatencyStats struct {
	mu sync.RWMutex

	count int64
	sum   float64
	min   float64
	max   float64

	reservoir     []float64
	reservoirSize int
	seen          int64

	buckets []int64

	// xorshift64* state, per instance.
	randState uint64
}

// DefaultReservoirSize is the number of samples kept for percentile estimation.
const DefaultReservoirSize = 10000

// Finalization latency histogram, in milliseconds. Block times put most
// samples in the low seconds.
var (
	bucketBounds = []float64{1000, 2000, 5000, 10000}
	bucketLabels = []string{"0-1s", "1-2s", "2-5s", "5-10s", "10s+"}
)

// NewStreamingLatencyStats creates a new streaming latency calculator.
func NewStreamingLatencyStats() *StreamingLatencyStats {
	return &StreamingLatencyStats{
		min:           math.MaxFloat64,
		reservoir:     make([]float64, 0, DefaultReservoirSize),
		reservoirSize: DefaultReservoirSize,
		buckets:       make([]int64, len(bucketLabels)),
		randState:     1,
	}
}

// Add records a latency sample in milliseconds. Safe for concurrent use.
func (s *StreamingLatencyStats) Add(latencyMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += latencyMs
	s.seen++
	s.min = min(s.min, latencyMs)
	s.max = max(s.max, latencyMs)
	s.buckets[bucketIndex(latencyMs)]++

	if len(s.reservoir) < s.reservoirSize {
		s.reservoir = append(s.reservoir, latencyMs)
		return
	}
	// Replace with probability reservoirSize/seen.
	if j := s.fastRand() % uint64(s.seen); j < uint64(s.reservoirSize) {
		s.reservoir[j] = latencyMs
	}
}

func bucketIndex(latencyMs float64) int {
	for i, bound := range bucketBounds {
		if latencyMs < bound {
			return i
		}
	}
	return len(bucketBounds)
}

func (s *StreamingLatencyStats) fastRand() uint64 {
	s.randState ^= s.randState >> 12
	s.randState ^= s.randState << 25
	s.randState ^= s.randState >> 27
	return s.randState * 0x2545F4914F6CDD1D
}

// GetStats returns the current statistics, or nil when nothing was recorded.
func (s *StreamingLatencyStats) GetStats() *types.LatencyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	sorted := make([]float64, len(s.reservoir))
	copy(sorted, s.reservoir)
	sort.Float64s(sorted)

	buckets := make([]types.LatencyBucket, len(bucketLabels))
	for i, label := range bucketLabels {
		buckets[i] = types.LatencyBucket{Label: label, Count: int(s.buckets[i])}
	}

	return &types.LatencyStats{
		Count:   int(s.count),
		Min:     s.min,
		Max:     s.max,
		Avg:     s.sum / float64(s.count),
		P50:     percentile(sorted, 0.50),
		P75:     percentile(sorted, 0.75),
		P90:     percentile(sorted, 0.90),
		P95:     percentile(sorted, 0.95),
		P99:     percentile(sorted, 0.99),
		Buckets: buckets,
	}
}

// percentile interpolates the p-th percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// Count returns the number of samples recorded.
func (s *StreamingLatencyStats) Count() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
