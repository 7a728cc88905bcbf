// Package indexer runs snapshot cycles: fetch every token's price, derive
// its APR figures from the stored history, append, persist and publish.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/web3-frozen/yield-indexer/internal/apr"
	"github.com/web3-frozen/yield-indexer/internal/metrics"
	"github.com/web3-frozen/yield-indexer/internal/snapshot"
	"github.com/web3-frozen/yield-indexer/internal/token"
)

// PriceSource returns a token's current price, or false when unavailable.
type PriceSource interface {
	Fetch(ctx context.Context, d token.Descriptor) (float64, bool)
}

// Store is the durable home of the snapshot set.
type Store interface {
	Load(ctx context.Context) (*snapshot.Set, error)
	Save(ctx context.Context, set *snapshot.Set) error
}

// Publisher receives a copy of the set after every persisted cycle.
type Publisher interface {
	Save(ctx context.Context, set *snapshot.Set) error
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	ID          string
	Timestamp   int64
	Written     int
	Skipped     int // unresolved descriptors
	Unavailable int // price source returned nothing
	Rejected    int // append refused, e.g. out-of-order timestamp
	Published   bool
	Duration    time.Duration
}

// Indexer owns the cycle. It is not safe for concurrent RunOnce calls.
type Indexer struct {
	tokens    []token.Descriptor
	prices    PriceSource
	estimator *apr.Estimator
	store     Store
	publisher Publisher
	retention int
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Indexer)

// WithPublisher sets the shared object store copy. Without one, publication
// is skipped and logged.
func WithPublisher(p Publisher) Option {
	return func(x *Indexer) { x.publisher = p }
}

func WithRetention(n int) Option {
	return func(x *Indexer) { x.retention = n }
}

func WithEstimator(e *apr.Estimator) Option {
	return func(x *Indexer) { x.estimator = e }
}

// WithClock overrides the cycle timestamp source.
func WithClock(now func() time.Time) Option {
	return func(x *Indexer) { x.now = now }
}

func New(tokens []token.Descriptor, prices PriceSource, store Store, logger *slog.Logger, opts ...Option) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	x := &Indexer{
		tokens:    tokens,
		prices:    prices,
		estimator: apr.New(apr.DefaultConfig()),
		store:     store,
		retention: snapshot.DefaultRetention,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// RunOnce executes one cycle. Per-token failures are counted and logged;
// only a storage failure is returned as an error.
func (x *Indexer) RunOnce(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	report := CycleReport{ID: uuid.NewString()}
	log := x.logger.With("cycle", report.ID)

	set, err := x.store.Load(ctx)
	if err != nil {
		metrics.CycleTotal.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("load snapshot set: %w", err)
	}

	ts := x.now().UnixMilli()
	report.Timestamp = ts
	log.Info("cycle started", "tokens", len(x.tokens), "timestamp", ts)

	for _, d := range x.tokens {
		if err := ctx.Err(); err != nil {
			metrics.CycleTotal.WithLabelValues("cancelled").Inc()
			return report, err
		}
		x.index(ctx, log, set, d, ts, &report)
	}

	set.Touch(ts)
	if err := x.store.Save(ctx, set); err != nil {
		metrics.CycleTotal.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("save snapshot set: %w", err)
	}

	report.Published = x.publish(ctx, log, set)
	report.Duration = time.Since(start)

	metrics.CycleTotal.WithLabelValues("ok").Inc()
	metrics.CycleDuration.Observe(report.Duration.Seconds())
	metrics.CycleLastSuccess.Set(float64(ts / 1000))
	log.Info("cycle complete",
		"written", report.Written,
		"skipped", report.Skipped,
		"unavailable", report.Unavailable,
		"rejected", report.Rejected,
		"published", report.Published,
		"duration", report.Duration.Round(time.Millisecond),
	)
	return report, nil
}

func (x *Indexer) index(ctx context.Context, log *slog.Logger, set *snapshot.Set, d token.Descriptor, ts int64, report *CycleReport) {
	if !d.Resolved() {
		report.Skipped++
		metrics.TokensTotal.WithLabelValues(d.ID, "skipped").Inc()
		log.Debug("token unresolved, skipping", "token", d.ID, "method", string(d.Type))
		return
	}

	price, ok := x.prices.Fetch(ctx, d)
	if !ok {
		report.Unavailable++
		metrics.TokensTotal.WithLabelValues(d.ID, "unavailable").Inc()
		return
	}

	// Estimate against the history as it was before this observation.
	var history []snapshot.Snapshot
	if series, ok := set.Series(d.ID); ok {
		history = series.Snapshots
	}
	res := x.estimator.Estimate(history, price, ts)

	snap := snapshot.Snapshot{Timestamp: ts, Price: price, APR: res.APR, DataHours: res.DataHours}
	if err := set.Append(d, snap, x.retention); err != nil {
		report.Rejected++
		metrics.TokensTotal.WithLabelValues(d.ID, "rejected").Inc()
		log.Error("append snapshot failed", "token", d.ID, "error", err)
		return
	}

	report.Written++
	metrics.TokensTotal.WithLabelValues(d.ID, "written").Inc()
	metrics.LatestPrice.WithLabelValues(d.ID).Set(price)
	if series, ok := set.Series(d.ID); ok {
		metrics.SnapshotCount.WithLabelValues(d.ID).Set(float64(series.Len()))
	}
	for label, v := range res.APR {
		if v != nil {
			metrics.APR.WithLabelValues(d.ID, label).Set(*v)
		}
	}

	log.Info("snapshot recorded",
		"token", d.ID,
		"symbol", d.Symbol,
		"price", price,
		"apr_24h", res.APR["24h"],
		"apr_7d", res.APR["7d"],
		"data_hours", res.DataHours,
	)
	if len(res.AnchorHours) > 0 {
		log.Debug("apr anchors", "token", d.ID, "anchor_hours", res.AnchorHours)
	}
}

func (x *Indexer) publish(ctx context.Context, log *slog.Logger, set *snapshot.Set) bool {
	if x.publisher == nil {
		metrics.PublishTotal.WithLabelValues("skipped").Inc()
		log.Info("publish skipped, no publisher configured")
		return false
	}
	if err := x.publisher.Save(ctx, set); err != nil {
		metrics.PublishTotal.WithLabelValues("error").Inc()
		log.Warn("publish failed, local copy kept", "error", err)
		return false
	}
	metrics.PublishTotal.WithLabelValues("ok").Inc()
	return true
}

// Run executes a cycle immediately and then on every tick until ctx is
// done. A failed cycle is logged and retried on the next tick.
func (x *Indexer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid snapshot interval %s", interval)
	}
	x.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			x.runLogged(ctx)
		}
	}
}

func (x *Indexer) runLogged(ctx context.Context) {
	if _, err := x.RunOnce(ctx); err != nil && ctx.Err() == nil {
		x.logger.Error("snapshot cycle failed", "error", err)
	}
}
