package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds the benchmark's Prometheus instruments.
type PrometheusMetrics struct {
	TxTotal      *prometheus.CounterVec
	ErrorsTotal  *prometheus.CounterVec
	BatchesTotal prometheus.Counter

	TargetTPS   prometheus.Gauge
	MeasuredTPS prometheus.Gauge
	PendingTxs  prometheus.Gauge
	InFlight    prometheus.Gauge
	RunStatus   *prometheus.GaugeVec

	BatchDuration       prometheus.Histogram
	BatchLag            prometheus.Histogram
	FinalizationLatency *prometheus.HistogramVec
	PregenDuration      prometheus.Histogram
}

// NewPrometheusMetrics creates and registers all instruments with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		TxTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tpsbench_transactions_total",
				Help: "Transactions by status (submitted, accepted, rejected, finalized) and kind",
			},
			[]string{"status", "kind"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tpsbench_errors_total",
				Help: "Errors by category",
			},
			[]string{"category"},
		),

		BatchesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tpsbench_batches_total",
				Help: "Batches dispatched",
			},
		),

		TargetTPS: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tpsbench_target_tps",
				Help: "Target transactions per second of the current run",
			},
		),

		MeasuredTPS: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tpsbench_measured_tps",
				Help: "Throughput measured from chain history for the last run",
			},
		),

		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tpsbench_inflight_submissions",
				Help: "Submissions still in progress when a batch finished issuing",
			},
		),

		PendingTxs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tpsbench_pending_transactions",
				Help: "Accepted transactions not yet seen finalized",
			},
		),

		RunStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tpsbench_run_status",
				Help: "Current run status (1 if active, 0 otherwise)",
			},
			[]string{"status"},
		),

		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tpsbench_batch_duration_seconds",
				Help:    "Time to collect every submission result of a batch",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		),

		BatchLag: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tpsbench_batch_start_lag_seconds",
				Help:    "Delay between a batch's scheduled deadline and its start",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),

		FinalizationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tpsbench_finalization_latency_seconds",
				Help:    "Latency from submission to finalization",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 60},
			},
			[]string{"kind"},
		),

		PregenDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tpsbench_pregeneration_duration_seconds",
				Help:    "Time to build and sign the full schedule",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
	}
}

// RecordSubmitted records a submission attempt.
func (m *PrometheusMetrics) RecordSubmitted(kind string) {
	m.TxTotal.WithLabelValues("submitted", kind).Inc()
}

// RecordAccepted records a transaction the node accepted.
func (m *PrometheusMetrics) RecordAccepted(kind string) {
	m.TxTotal.WithLabelValues("accepted", kind).Inc()
}

// RecordRejected records a transaction the node rejected.
func (m *PrometheusMetrics) RecordRejected(kind string) {
	m.TxTotal.WithLabelValues("rejected", kind).Inc()
	m.ErrorsTotal.WithLabelValues("submission").Inc()
}

// RecordFinalized records a finalized transaction and its latency.
func (m *PrometheusMetrics) RecordFinalized(kind string, latencySeconds float64) {
	m.TxTotal.WithLabelValues("finalized", kind).Inc()
	m.FinalizationLatency.WithLabelValues(kind).Observe(latencySeconds)
}

// RecordBatch records the timing of one dispatched batch.
func (m *PrometheusMetrics) RecordBatch(lagSeconds, durationSeconds float64) {
	m.BatchesTotal.Inc()
	m.BatchLag.Observe(lagSeconds)
	m.BatchDuration.Observe(durationSeconds)
}

// RecordError records an error outside transaction submission.
func (m *PrometheusMetrics) RecordError(category string) {
	m.ErrorsTotal.WithLabelValues(category).Inc()
}

// RecordEvicted records transactions dropped from finalization tracking.
func (m *PrometheusMetrics) RecordEvicted(n int64) {
	m.ErrorsTotal.WithLabelValues("evicted").Add(float64(n))
}

// SetRunStatus marks status as the only active run status.
func (m *PrometheusMetrics) SetRunStatus(status string) {
	for _, s := range []string{"idle", "initializing", "running", "finalizing", "measuring", "completed", "error"} {
		if s == status {
			m.RunStatus.WithLabelValues(s).Set(1)
		} else {
			m.RunStatus.WithLabelValues(s).Set(0)
		}
	}
}

// Reset clears per-run counters and gauges. Histograms are cumulative.
func (m *PrometheusMetrics) Reset() {
	m.TxTotal.Reset()
	m.ErrorsTotal.Reset()
	m.TargetTPS.Set(0)
	m.MeasuredTPS.Set(0)
	m.PendingTxs.Set(0)
	m.InFlight.Set(0)
	m.SetRunStatus("idle")
}
