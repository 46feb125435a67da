package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync engine
	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Total sync runs by result",
	}, []string{"result"})

	SyncRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wallet",
		Subsystem: "sync",
		Name:      "run_duration_seconds",
		Help:      "Sync run duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	SyncTxClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "sync",
		Name:      "transactions_classified_total",
		Help:      "Ledger transactions by classification",
	}, []string{"kind"})

	SyncTxDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "sync",
		Name:      "transactions_discarded_total",
		Help:      "Discarded ledger transactions by reason",
	}, []string{"reason"})

	SyncBatchesCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "sync",
		Name:      "batches_committed_total",
		Help:      "Total batches committed",
	})

	SyncRecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "sync",
		Name:      "records_written_total",
		Help:      "Transaction records created or updated",
	}, []string{"kind"})

	SyncCursorHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wallet",
		Subsystem: "sync",
		Name:      "cursor_block_height",
		Help:      "Block height the next sync run starts from",
	})

	// Aggregator
	RecomputeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "aggregator",
		Name:      "recomputations_total",
		Help:      "Balance recomputations by kind and result",
	}, []string{"kind", "result"})

	RecomputeQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wallet",
		Subsystem: "aggregator",
		Name:      "queue_depth",
		Help:      "Keys waiting for or undergoing recomputation",
	})

	// Payments
	PaymentsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "payments",
		Name:      "submitted_total",
		Help:      "Payment submissions by result",
	}, []string{"result"})
)
