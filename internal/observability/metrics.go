package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for GameLedger.
type Metrics struct {
	// --- Core ---
	CoreOpsApplied  *prometheus.CounterVec
	CoreOpsRejected *prometheus.CounterVec
	CoreOpDuration  *prometheus.HistogramVec
	CoreEvents      *prometheus.CounterVec
	CoreJournals    *prometheus.CounterVec
	CoreSequence    prometheus.Gauge
	TokenSupply     prometheus.Gauge
	PoolAvailable   *prometheus.GaugeVec
	RewardsSkipped  prometheus.Counter

	// --- Channels ---
	ProjectionDrops prometheus.Counter
	PublishDrops    prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupTier2Errors      prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge
	PersistBackpressure    prometheus.Counter

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Projections ---
	ProjectionLastSequence prometheus.Gauge
	ProjectionErrors       prometheus.Counter

	// --- Transport ---
	RPCRequests     *prometheus.CounterVec
	RPCDuration     *prometheus.HistogramVec
	RewardTriggers  *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
}

// NewMetrics registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreOpsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gameledger_core_ops_applied_total",
			Help: "Operations committed by the engine",
		}, []string{"op"}),

		CoreOpsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gameledger_core_ops_rejected_total",
			Help: "Operations rejected, by error code",
		}, []string{"op", "code"}),

		CoreOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gameledger_core_op_duration_seconds",
			Help:    "Time to validate and apply one operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		CoreEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gameledger_core_events_total",
			Help: "Events committed, by type",
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gameledger_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "gameledger_core_sequence",
			Help: "Next global sequence number",
		}),

		TokenSupply: f.NewGauge(prometheus.GaugeOpts{
			Name: "gameledger_token_supply_base_units",
			Help: "Total token supply in base units",
		}),

		PoolAvailable: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gameledger_pool_available",
			Help: "Identifiers still available per collection",
		}, []string{"collection"}),

		RewardsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "gameledger_rewards_skipped_total",
			Help: "Reward calls that were no-ops because the player already had a balance",
		}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "gameledger_projection_drops_total",
			Help: "Core outputs dropped because the projection channel was full",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "gameledger_publish_drops_total",
			Help: "Outbound events dropped because the publish channel was full",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gameledger_idempotency_duplicates_total",
			Help: "Requests answered from the idempotency store",
		}, []string{"tier"}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "gameledger_idempotency_tier2_errors_total",
			Help: "Postgres idempotency lookups that failed",
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "gameledger_persist_events_written_total",
			Help: "Events written to event_log.events",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "gameledger_persist_journals_written_total",
			Help: "Journals written to event_log.journal",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gameledger_persist_batch_size",
			Help:    "Events per persistence transaction",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gameledger_persist_batch_duration_seconds",
			Help:    "Duration of one persistence transaction",
			Buckets: prometheus.DefBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gameledger_persist_errors_total",
			Help: "Persistence failures by stage",
		}, []string{"stage"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "gameledger_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "gameledger_persist_last_sequence",
			Help: "Last sequence committed to Postgres",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "gameledger_persist_backpressure_total",
			Help: "Calls refused because the persist queue was full",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "gameledger_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gameledger_snapshot_duration_seconds",
			Help:    "Time to serialize and store a snapshot",
			Buckets: prometheus.DefBuckets,
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "gameledger_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "gameledger_snapshot_last_sequence",
			Help: "Sequence covered by the last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "gameledger_replay_events_total",
			Help: "Events replayed during recovery",
		}),

		ProjectionLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "gameledger_projection_last_sequence",
			Help: "Last sequence applied to projections",
		}),

		ProjectionErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "gameledger_projection_errors_total",
			Help: "Projection update failures",
		}),

		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gameledger_rpc_requests_total",
			Help: "RPC requests by method and result code",
		}, []string{"method", "code"}),

		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gameledger_rpc_duration_seconds",
			Help:    "RPC handling time",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		RewardTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gameledger_reward_triggers_total",
			Help: "Inbound reward triggers by outcome",
		}, []string{"outcome"}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gameledger_events_published_total",
			Help: "Events published to NATS",
		}, []string{"event_type"}),
	}
}
