package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "yield_indexer"

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Snapshot cycle metrics ─────────────────────────────────────────────

var (
	CycleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "total",
		Help:      "Total number of snapshot cycles by outcome.",
	}, []string{"status"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "duration_seconds",
		Help:      "Wall time of a full snapshot cycle in seconds.",
		Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
	})

	CycleLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "last_success_timestamp",
		Help:      "Unix timestamp of the last persisted cycle.",
	})

	TokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "tokens_total",
		Help:      "Tokens handled per cycle by outcome (written, skipped, unavailable, rejected).",
	}, []string{"token", "status"})

	PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "publish_total",
		Help:      "Snapshot set publications by outcome.",
	}, []string{"status"})
)

// ── Price source metrics ───────────────────────────────────────────────

var (
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "price",
		Name:      "fetch_total",
		Help:      "Price fetch attempts per valuation method.",
	}, []string{"method", "status"})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "price",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of a price fetch per valuation method in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "price",
		Name:      "rpc_breaker_state",
		Help:      "RPC circuit breaker state per chain (0 closed, 1 half-open, 2 open).",
	}, []string{"chain"})
)

// ── Business metrics ───────────────────────────────────────────────────

var (
	SnapshotCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "count",
		Help:      "Number of retained snapshots per token.",
	}, []string{"token"})

	LatestPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "price",
		Help:      "Latest observed reference price per token.",
	}, []string{"token"})

	APR = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "apr_percent",
		Help:      "Latest annualized rate of change per token and horizon.",
	}, []string{"token", "horizon"})
)
