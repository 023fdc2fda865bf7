package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the basis ledger subsystem.
type Metrics struct {
	// --- Tight-Loop Cycles ---
	CyclesTotal      *prometheus.CounterVec
	CycleDuration    *prometheus.HistogramVec
	CycleRetries     prometheus.Counter
	CycleSequence    prometheus.Gauge
	DuplicateTriggers *prometheus.CounterVec

	// --- Ledger ---
	DeltasApplied      *prometheus.CounterVec
	SettlementsApplied *prometheus.CounterVec
	DeltasRejected     *prometheus.CounterVec

	// --- Venue Polling ---
	VenuePollDuration *prometheus.HistogramVec
	VenuePollErrors   *prometheus.CounterVec
	VenuesStale       prometheus.Gauge

	// --- Reconciliation ---
	MismatchedKeys     *prometheus.CounterVec
	CyclesFailed       *prometheus.CounterVec
	ComparisonDuration prometheus.Histogram

	// --- Exposure / Risk / PnL ---
	ExposureTotalUSD    prometheus.Gauge
	ShareClassValue     prometheus.Gauge
	UnpricedPositions   prometheus.Gauge
	CurrentLTV          prometheus.Gauge
	PnLCumulative       prometheus.Gauge
	PnLHourly           prometheus.Gauge
	AttributionTotal    prometheus.Gauge
	AttributionErrors   *prometheus.CounterVec
	ToleranceBreaches   prometheus.Counter
	ReconciliationDiff  prometheus.Gauge

	// --- Ingestion ---
	IngestReceived    *prometheus.CounterVec
	IngestParseErrors *prometheus.CounterVec

	// --- Audit Egress ---
	AuditPublished     *prometheus.CounterVec
	AuditPublishErrors prometheus.Counter

	// --- Persistence ---
	PersistBatchDur    prometheus.Histogram
	PersistBatchSize   prometheus.Histogram
	PersistRowsWritten *prometheus.CounterVec
	PersistErrors      *prometheus.CounterVec
	PersistRetry       prometheus.Counter

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	cycleBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5,
	}

	pollBuckets := []float64{
		0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
		0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
	}

	return &Metrics{
		// Tight-Loop Cycles
		CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basis_cycles_total",
			Help: "Update cycles processed",
		}, []string{"trigger", "outcome"}),

		CycleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "basis_cycle_duration_seconds",
			Help:    "End-to-end cycle duration",
			Buckets: cycleBuckets,
		}, []string{"trigger"}),

		CycleRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "basis_cycle_retries_total",
			Help: "Re-poll and re-compare attempts after a mismatch",
		}),

		CycleSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "basis_cycle_sequence",
			Help: "Monotonic cycle counter",
		}),

		DuplicateTriggers: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basis_duplicate_triggers_total",
			Help: "Execution triggers dropped by dedup (lru/durable)",
		}, []string{"tier"}),

		// Ledger
		DeltasApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basis_deltas_applied_total",
			Help: "Deltas accumulated onto simulated balances",
		}, []string{"source"}),

		SettlementsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basis_settlements_applied_total",
			Help: "Settlement batches applied",
		}, []string{"kind"}),

		DeltasRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basis_deltas_rejected_total",
			Help: "Delta batches rejected (undeclared key, stale timestamp)",
		}, []string{"reason"}),

		// Venue Polling
		VenuePollDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "basis_venue_poll_duration_seconds",
			Help:    "Per-venue position query duration",
			Buckets: pollBuckets,
		}, []string{"venue"}),

		VenuePollErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basis_venue_poll_errors_total",
			Help: "Per-venue query failures (error/timeout)",
		}, []string{"venue", "reason"}),

		VenuesStale: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "basis_venues_stale",
			Help: "Venues degraded to stale data in the last poll",
		}),

		// Reconciliation
		MismatchedKeys: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basis_mismatched_keys_total",
			Help: "Keys outside tolerance during comparison",
		}, []string{"venue"}),

		CyclesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basis_cycles_failed_total",
			Help: "Cycles that exhausted reconciliation retries",
		}, []string{"trigger"}),

		ComparisonDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "basis_comparison_duration_seconds",
			Help:    "Simulated-vs-real comparison duration",
			Buckets: cycleBuckets,
		}),

		// Exposure / Risk / PnL
		ExposureTotalUSD: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "basis_exposure_total_usd",
			Help: "Total portfolio value in USD",
		}),

		ShareClassValue: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "basis_share_class_value",
			Help: "Total portfolio value in the share-class currency",
		}),

		UnpricedPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "basis_unpriced_positions",
			Help: "Positions excluded from the last projection for lack of a price",
		}),

		CurrentLTV: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "basis_current_ltv",
			Help: "Portfolio loan-to-value ratio",
		}),

		PnLCumulative: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "basis_pnl_cumulative",
			Help: "Balance-based cumulative P&L in share-class units",
		}),

		PnLHourly: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "basis_pnl_hourly",
			Help: "Balance-based P&L since the previous snapshot",
		}),

		AttributionTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "basis_attribution_total",
			Help: "Sum of cumulative attribution categories",
		}),

		AttributionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basis_attribution_errors_total",
			Help: "Category computations that defaulted to zero",
		}, []string{"category"}),

		ToleranceBreaches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "basis_tolerance_breaches_total",
			Help: "Cycles where balance and attribution P&L disagreed beyond tolerance",
		}),

		ReconciliationDiff: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "basis_reconciliation_diff",
			Help: "Last |balance P&L - attribution P&L|",
		}),

		// Ingestion
		IngestReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basis_ingest_received_total",
			Help: "Messages received from NATS",
		}, []string{"subject"}),

		IngestParseErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basis_ingest_parse_errors_total",
			Help: "Messages that failed to parse",
		}, []string{"subject"}),

		// Audit Egress
		AuditPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basis_audit_published_total",
			Help: "Audit records published to NATS",
		}, []string{"type"}),

		AuditPublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "basis_audit_publish_errors_total",
			Help: "Audit publish failures (records still persisted)",
		}),

		// Persistence
		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "basis_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "basis_persist_batch_size",
			Help:    "Rows per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistRowsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basis_persist_rows_written_total",
			Help: "Rows written to Postgres",
		}, []string{"table"}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basis_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "basis_persist_retry_total",
			Help: "Persistence retries",
		}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "basis_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "basis_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "basis_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
