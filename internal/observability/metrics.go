package observability

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the vault service.
type Metrics struct {
	// --- Core Processing ---
	CoreCallsApplied  *prometheus.CounterVec
	CoreCallsReverted *prometheus.CounterVec
	CoreCallsRejected *prometheus.CounterVec
	CoreCallDuration  *prometheus.HistogramVec
	CoreJournals      *prometheus.CounterVec
	CoreStateHashDur  prometheus.Histogram
	CoreSequence      prometheus.Gauge
	CoreBlockTime     prometheus.Gauge

	// --- Vault ---
	VaultTotalAssets     prometheus.Gauge
	VaultTotalSupply     prometheus.Gauge
	VaultSiloBalance     prometheus.Gauge
	VaultPendingCooldown prometheus.Gauge
	VaultCooldownCount   prometheus.Gauge
	VaultCooldownSeconds prometheus.Gauge

	// --- Ingestion ---
	IngestReceived   *prometheus.CounterVec
	IngestParseError *prometheus.CounterVec
	PublishDrops     prometheus.Counter

	// --- Channel & Backpressure ---
	ProjectionDrops prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- Projection ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionLastSeq   prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	ioBuckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	return &Metrics{
		// Core Processing
		CoreCallsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_core_calls_applied_total",
			Help: "Calls applied by core",
		}, []string{"call"}),

		CoreCallsReverted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_core_calls_reverted_total",
			Help: "Calls sequenced but reverted by the vault",
		}, []string{"call"}),

		CoreCallsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_core_calls_rejected_total",
			Help: "Calls rejected before sequencing (dedup, gap, time)",
		}, []string{"call", "reason"}),

		CoreCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_core_call_apply_duration_seconds",
			Help:    "Time to apply a single call in core",
			Buckets: latencyBuckets,
		}, []string{"call"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_core_sequence",
			Help: "Current global sequence number",
		}),

		CoreBlockTime: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_core_block_time_seconds",
			Help: "Block time of the last sequenced call",
		}),

		// Vault
		VaultTotalAssets: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_assets",
			Help: "Asset held by the vault, in base units",
		}),

		VaultTotalSupply: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_share_total_supply",
			Help: "sYUSD total supply, in base units",
		}),

		VaultSiloBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_silo_balance",
			Help: "Asset held by the silo, in base units",
		}),

		VaultPendingCooldown: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_cooldown_pending_assets",
			Help: "Sum of underlying amounts awaiting unstake",
		}),

		VaultCooldownCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_cooldown_accounts",
			Help: "Accounts with a pending cooldown",
		}),

		VaultCooldownSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_cooldown_duration_seconds",
			Help: "Configured cooldown duration",
		}),

		// Ingestion
		IngestReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ingest_received_total",
			Help: "Calls received by source",
		}, []string{"source"}),

		IngestParseError: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ingest_parse_errors_total",
			Help: "Calls that failed to parse",
		}, []string{"source"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Ledger events dropped by the outbound publisher",
		}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_journals_written_total",
			Help: "Journal rows written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Events per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Time to write one batch",
			Buckets: ioBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence failures by stage",
		}, []string{"stage"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Highest sequence committed to Postgres",
		}),

		// Projection
		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_projection_update_duration_seconds",
			Help:    "Time to apply one output to the projections",
			Buckets: ioBuckets,
		}, []string{"projection"}),

		ProjectionLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_projection_last_sequence",
			Help: "Projection watermark",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_snapshot_duration_seconds",
			Help:    "Time to capture and write a snapshot",
			Buckets: ioBuckets,
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_replay_events_total",
			Help: "Events replayed on startup",
		}),

		// Query
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_requests_total",
			Help: "Query requests by endpoint",
		}, []string{"endpoint"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_query_duration_seconds",
			Help:    "Query latency by endpoint",
			Buckets: ioBuckets,
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_errors_total",
			Help: "Query errors by endpoint and code",
		}, []string{"endpoint", "code"}),
	}
}

// SetAmount sets a gauge to an 18-decimal base-unit amount. Values beyond
// float64 precision are approximated.
func SetAmount(g prometheus.Gauge, v *uint256.Int) {
	if v == nil {
		g.Set(0)
		return
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	g.Set(f)
}
