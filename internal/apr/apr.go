// Package apr derives trailing annualized rates of change from a token's
// snapshot history.
//
// For each horizon H the estimator anchors on the snapshot at or before
// now-H that is closest to that boundary and annualizes the price change
// since then over the anchor's real age. An anchor younger than
// CoverageFloor*H is rejected, so a 30d figure is never built from a few
// hours of history. When the history does not reach back to the boundary at
// all, the oldest snapshot is the closest candidate and may still be used if
// it clears the same floor (Extrapolate).
package apr

import (
	"math"

	"github.com/web3-frozen/yield-indexer/internal/snapshot"
)

const (
	msPerHour    = 3_600_000
	hoursPerYear = 365 * 24
)

// Horizon is a named lookback window.
type Horizon struct {
	Label string
	Hours float64
}

// DefaultHorizons is the horizon table written into every snapshot.
var DefaultHorizons = []Horizon{
	{Label: "1h", Hours: 1},
	{Label: "3h", Hours: 3},
	{Label: "6h", Hours: 6},
	{Label: "12h", Hours: 12},
	{Label: "24h", Hours: 24},
	{Label: "3d", Hours: 72},
	{Label: "7d", Hours: 168},
	{Label: "14d", Hours: 336},
	{Label: "30d", Hours: 720},
}

// Config controls the estimator.
type Config struct {
	Horizons      []Horizon
	CoverageFloor float64 // minimum anchor age as a fraction of the horizon
	MinHours      float64 // anchors younger than this never produce a rate
	Extrapolate   bool    // allow the oldest snapshot as anchor when history is shorter than the horizon
}

// DefaultConfig returns the production horizon table with an 80% floor.
func DefaultConfig() Config {
	horizons := make([]Horizon, len(DefaultHorizons))
	copy(horizons, DefaultHorizons)
	return Config{
		Horizons:      horizons,
		CoverageFloor: 0.8,
		MinHours:      0.1,
		Extrapolate:   true,
	}
}

// Result holds the per-horizon estimates for one new price.
type Result struct {
	APR         map[string]*float64 // nil value: no qualifying anchor
	DataHours   *float64            // nil only for an empty history
	AnchorHours map[string]float64  // real age of the anchor behind each non-nil APR
}

// Estimator computes APR figures. It holds no state besides its config.
type Estimator struct {
	cfg Config
}

// New returns an estimator for cfg.
func New(cfg Config) *Estimator {
	return &Estimator{cfg: cfg}
}

// Horizons returns the configured horizon table.
func (e *Estimator) Horizons() []Horizon {
	return e.cfg.Horizons
}

// Labels returns the horizon labels in table order.
func (e *Estimator) Labels() []string {
	labels := make([]string, len(e.cfg.Horizons))
	for i, h := range e.cfg.Horizons {
		labels[i] = h.Label
	}
	return labels
}

// Estimate compares price, observed at now (epoch ms), against history.
// history must not yet contain the new observation.
func (e *Estimator) Estimate(history []snapshot.Snapshot, price float64, now int64) Result {
	res := Result{
		APR:         make(map[string]*float64),
		AnchorHours: make(map[string]float64),
	}
	if len(history) == 0 {
		return res
	}

	oldest := history[0]
	for _, s := range history[1:] {
		if s.Timestamp < oldest.Timestamp {
			oldest = s
		}
	}
	dataHours := math.Round(hoursBetween(oldest.Timestamp, now)*10) / 10
	res.DataHours = &dataHours

	for _, h := range e.cfg.Horizons {
		anchor, ok := e.anchor(history, oldest, now, h)
		if !ok {
			res.APR[h.Label] = nil
			continue
		}
		actual := hoursBetween(anchor.Timestamp, now)
		v, ok := e.annualize(anchor.Price, price, actual, h)
		if !ok {
			res.APR[h.Label] = nil
			continue
		}
		res.APR[h.Label] = &v
		res.AnchorHours[h.Label] = actual
	}
	return res
}

// anchor picks the snapshot at or before now-H whose timestamp is closest to
// that boundary.
func (e *Estimator) anchor(history []snapshot.Snapshot, oldest snapshot.Snapshot, now int64, h Horizon) (snapshot.Snapshot, bool) {
	target := now - int64(h.Hours*msPerHour)

	var best snapshot.Snapshot
	found := false
	for _, s := range history {
		if s.Timestamp > target {
			continue
		}
		if !found || target-s.Timestamp < target-best.Timestamp {
			best = s
			found = true
		}
	}
	if found {
		return best, true
	}
	if e.cfg.Extrapolate {
		return oldest, true
	}
	return snapshot.Snapshot{}, false
}

func (e *Estimator) annualize(anchorPrice, price, actualHours float64, h Horizon) (float64, bool) {
	if actualHours < e.cfg.CoverageFloor*h.Hours {
		return 0, false
	}
	if actualHours < e.cfg.MinHours {
		return 0, false
	}
	if anchorPrice == 0 {
		return 0, false
	}
	rate := (price - anchorPrice) / anchorPrice
	v := rate * (hoursPerYear / actualHours) * 100
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func hoursBetween(from, to int64) float64 {
	return float64(to-from) / msPerHour
}
