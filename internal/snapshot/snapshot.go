// Package snapshot holds the share-price history of every tracked token and
// its persisted JSON representation.
package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const aprKeyPrefix = "apr_"

// legacyAPRKeys maps the camel-case keys written by the first indexer
// version onto horizon labels.
var legacyAPRKeys = map[string]string{
	"apr24h": "24h",
	"apr7d":  "7d",
	"apr30d": "30d",
}

// Snapshot is one observation of a token's reference price.
type Snapshot struct {
	Timestamp int64               // milliseconds since epoch
	Price     float64             // denominated in the underlying asset
	APR       map[string]*float64 // annualized % keyed by horizon label; nil entry means not computable
	DataHours *float64            // history depth when the APR figures were computed
}

// Time returns the observation time.
func (s Snapshot) Time() time.Time { return time.UnixMilli(s.Timestamp).UTC() }

// Metric returns the APR for a horizon label, or nil when it is missing or null.
func (s Snapshot) Metric(label string) *float64 {
	if s.APR == nil {
		return nil
	}
	return s.APR[label]
}

// AprKey is the wire key for a horizon label, e.g. "24h" -> "apr_24h".
func AprKey(label string) string { return aprKeyPrefix + label }

func (s Snapshot) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.APR)+3)
	m["timestamp"] = s.Timestamp
	m["price"] = s.Price
	for label, v := range s.APR {
		m[AprKey(label)] = v
	}
	if s.DataHours != nil {
		m["data_hours"] = *s.DataHours
	}
	return json.Marshal(m)
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Snapshot
	for key, val := range raw {
		switch {
		case key == "timestamp":
			ts, err := parseTimestamp(val)
			if err != nil {
				return fmt.Errorf("timestamp: %w", err)
			}
			out.Timestamp = ts
		case key == "price":
			if err := json.Unmarshal(val, &out.Price); err != nil {
				return fmt.Errorf("price: %w", err)
			}
		case key == "data_hours":
			if err := json.Unmarshal(val, &out.DataHours); err != nil {
				return fmt.Errorf("data_hours: %w", err)
			}
		case strings.HasPrefix(key, aprKeyPrefix):
			if err := out.setAPR(strings.TrimPrefix(key, aprKeyPrefix), val); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		default:
			if label, ok := legacyAPRKeys[key]; ok {
				if _, seen := raw[AprKey(label)]; seen {
					continue
				}
				if err := out.setAPR(label, val); err != nil {
					return fmt.Errorf("%s: %w", key, err)
				}
			}
		}
	}
	*s = out
	return nil
}

func (s *Snapshot) setAPR(label string, val json.RawMessage) error {
	var v *float64
	if err := json.Unmarshal(val, &v); err != nil {
		return err
	}
	if s.APR == nil {
		s.APR = make(map[string]*float64)
	}
	s.APR[label] = v
	return nil
}

// parseTimestamp accepts integer milliseconds as well as the float form some
// JSON writers produce for large integers.
func parseTimestamp(val json.RawMessage) (int64, error) {
	var ts int64
	if err := json.Unmarshal(val, &ts); err == nil {
		return ts, nil
	}
	var f float64
	if err := json.Unmarshal(val, &f); err != nil {
		return 0, err
	}
	return int64(f), nil
}
