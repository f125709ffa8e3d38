package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for StableLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Oracle ---
	OracleRejections *prometheus.CounterVec
	OracleLastPrice  prometheus.Gauge
	OracleQuoteAge   prometheus.Histogram

	// --- Positions & Supply ---
	HealthFactor        *prometheus.HistogramVec
	CollateralLocked    prometheus.Gauge
	OutstandingDebt     prometheus.Gauge
	StableMinted        prometheus.Counter
	StableBurned        *prometheus.CounterVec
	OpenPositions       prometheus.Gauge
	Liquidations        *prometheus.CounterVec
	CollateralSeized    prometheus.Counter
	LiquidationBonusPay prometheus.Counter

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    *prometheus.CounterVec
	PublishDrops       prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	IdempotencyTierErrors *prometheus.CounterVec
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge
	PersistDroppedEvents   prometheus.Counter

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Request API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	RateLimited   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in the service, a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_core_events_rejected_total",
			Help: "Events rejected, by error kind",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stable_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stable_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_core_sequence",
			Help: "Current global sequence number",
		}),

		// Oracle
		OracleRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_oracle_rejections_total",
			Help: "Quotes rejected by the oracle gateway",
		}, []string{"reason"}),

		OracleLastPrice: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_oracle_last_price_usd",
			Help: "Last validated collateral price in USD",
		}),

		OracleQuoteAge: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stable_oracle_quote_age_slots",
			Help:    "Age of accepted quotes in slots",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),

		// Positions & Supply
		HealthFactor: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stable_position_health_factor",
			Help:    "Post-operation health factor (capped at 10)",
			Buckets: []float64{0.5, 0.9, 1.0, 1.1, 1.25, 1.5, 2, 3, 5, 10},
		}, []string{"event_type"}),

		CollateralLocked: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_collateral_locked_native",
			Help: "Native base units escrowed across all vaults",
		}),

		OutstandingDebt: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_outstanding_debt",
			Help: "Outstanding stable supply in base units",
		}),

		StableMinted: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_minted_total",
			Help: "Stable base units minted",
		}),

		StableBurned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_burned_total",
			Help: "Stable base units burned",
		}, []string{"reason"}),

		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_positions",
			Help: "Initialized positions",
		}),

		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_liquidations_total",
			Help: "Liquidations applied",
		}, []string{"outcome"}),

		CollateralSeized: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_collateral_seized_native_total",
			Help: "Native base units seized by liquidators",
		}),

		LiquidationBonusPay: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_liquidation_bonus_native_total",
			Help: "Native base units paid as liquidation bonus",
		}),

		// Latency
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stable_ingest_to_apply_seconds",
			Help:    "Request receive to core apply complete",
			Buckets: []float64{0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01},
		}, []string{"source"}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stable_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stable_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stable_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stable_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stable_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres/redis)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		IdempotencyTierErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_idempotency_tier_errors_total",
			Help: "Durable dedup lookups that failed and were skipped",
		}, []string{"tier"}),

		EventSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_event_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition_kind"}),

		EventOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_event_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition_kind"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stable_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		PersistDroppedEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_persist_dropped_events_total",
			Help: "Applied events abandoned after the final shutdown write failed",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stable_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Request API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_api_requests_total",
			Help: "API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stable_api_duration_seconds",
			Help:    "API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_api_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"endpoint"}),
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
