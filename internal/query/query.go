// Package query projects a Snapshot Set into the read-only API views.
package query

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/web3-frozen/yield-indexer/internal/snapshot"
)

// HistoryWindow is how far back from the latest snapshot the single-token
// view reaches, in milliseconds.
const HistoryWindow int64 = 7 * 24 * 3_600_000

// ErrTokenNotFound matches any *NotFoundError.
var ErrTokenNotFound = errors.New("token not found")

// NotFoundError reports an unknown token id together with the ids the set
// does contain.
type NotFoundError struct {
	Token     string
	Available []string
}

func (e *NotFoundError) Error() string { return "Token not found: " + e.Token }

func (e *NotFoundError) Is(target error) bool { return target == ErrTokenNotFound }

// Latest is the newest snapshot with every configured horizon present,
// missing values rendered as null.
type Latest struct {
	Timestamp int64
	Price     float64
	APR       map[string]*float64
	DataHours *float64
	labels    []string
}

func (l *Latest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"timestamp":`)
	if err := writeJSON(&buf, l.Timestamp); err != nil {
		return nil, err
	}
	buf.WriteString(`,"price":`)
	if err := writeJSON(&buf, l.Price); err != nil {
		return nil, err
	}
	for _, label := range l.labels {
		buf.WriteString(`,"` + snapshot.AprKey(label) + `":`)
		if err := writeJSON(&buf, l.APR[label]); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`,"data_hours":`)
	if err := writeJSON(&buf, l.DataHours); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// Point is one entry of the single-token history.
type Point struct {
	Timestamp int64    `json:"timestamp"`
	Price     float64  `json:"price"`
	APR1h     *float64 `json:"apr_1h"`
}

// TokenView is the single-token response.
type TokenView struct {
	Token         string  `json:"token"`
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Chain         string  `json:"chain"`
	Protocol      string  `json:"protocol"`
	LastUpdate    *int64  `json:"lastUpdate"`
	SnapshotCount int     `json:"snapshotCount"`
	Latest        *Latest `json:"latest"`
	History       []Point `json:"history"`
}

// SummaryLatest is the reduced latest snapshot in the all-tokens view.
type SummaryLatest struct {
	Timestamp int64    `json:"timestamp"`
	Price     float64  `json:"price"`
	APR24h    *float64 `json:"apr_24h"`
	APR7d     *float64 `json:"apr_7d"`
}

type SummaryEntry struct {
	Symbol        string         `json:"symbol"`
	Name          string         `json:"name"`
	Chain         string         `json:"chain"`
	Protocol      string         `json:"protocol"`
	SnapshotCount int            `json:"snapshotCount"`
	Latest        *SummaryLatest `json:"latest"`
}

// Summary is the all-tokens response. It never carries history.
type Summary struct {
	LastUpdate *int64                  `json:"lastUpdate"`
	Tokens     map[string]SummaryEntry `json:"tokens"`
}

// Projector builds API views for a fixed horizon table.
type Projector struct {
	labels []string
}

// New returns a Projector that renders every label in latest views.
func New(labels []string) *Projector {
	return &Projector{labels: labels}
}

// Token returns the single-token view, or a *NotFoundError.
func (p *Projector) Token(set *snapshot.Set, id string) (*TokenView, error) {
	series, ok := set.Series(id)
	if !ok {
		return nil, &NotFoundError{Token: id, Available: set.IDs()}
	}

	view := &TokenView{
		Token:         id,
		Symbol:        series.Symbol,
		Name:          series.Name,
		Chain:         series.Chain,
		Protocol:      series.Protocol,
		LastUpdate:    set.LastUpdate,
		SnapshotCount: series.Len(),
		History:       []Point{},
	}

	latest, ok := series.Latest()
	if !ok {
		return view, nil
	}
	view.Latest = &Latest{
		Timestamp: latest.Timestamp,
		Price:     latest.Price,
		APR:       latest.APR,
		DataHours: latest.DataHours,
		labels:    p.labels,
	}
	for _, s := range series.Since(latest.Timestamp - HistoryWindow) {
		view.History = append(view.History, Point{
			Timestamp: s.Timestamp,
			Price:     s.Price,
			APR1h:     s.Metric("1h"),
		})
	}
	return view, nil
}

// Summary returns the latest snapshot of every token.
func (p *Projector) Summary(set *snapshot.Set) *Summary {
	out := &Summary{
		LastUpdate: set.LastUpdate,
		Tokens:     make(map[string]SummaryEntry, len(set.Tokens)),
	}
	for id, series := range set.Tokens {
		entry := SummaryEntry{
			Symbol:        series.Symbol,
			Name:          series.Name,
			Chain:         series.Chain,
			Protocol:      series.Protocol,
			SnapshotCount: series.Len(),
		}
		if latest, ok := series.Latest(); ok {
			entry.Latest = &SummaryLatest{
				Timestamp: latest.Timestamp,
				Price:     latest.Price,
				APR24h:    latest.Metric("24h"),
				APR7d:     latest.Metric("7d"),
			}
		}
		out.Tokens[id] = entry
	}
	return out
}
