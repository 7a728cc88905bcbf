package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/web3-frozen/yield-indexer/internal/token"
)

// DefaultRetention keeps 90 days of hourly observations per token.
const DefaultRetention = 2160

var (
	// ErrOutOfOrder is returned when a snapshot is older than the newest one
	// already in the series.
	ErrOutOfOrder = errors.New("snapshot older than series head")

	// ErrInvalidRetention is returned for a retention cap below one.
	ErrInvalidRetention = errors.New("retention cap must be >= 1")
)

// Series is the time-ordered history of one token, oldest first.
type Series struct {
	Symbol    string     `json:"symbol"`
	Name      string     `json:"name"`
	Chain     string     `json:"chain"`
	Protocol  string     `json:"protocol"`
	Snapshots []Snapshot `json:"snapshots"`
}

// Len returns the number of retained snapshots.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Snapshots)
}

// Latest returns the newest snapshot.
func (s *Series) Latest() (Snapshot, bool) {
	if s.Len() == 0 {
		return Snapshot{}, false
	}
	return s.Snapshots[len(s.Snapshots)-1], true
}

// Since returns the snapshots with a timestamp at or after ts.
func (s *Series) Since(ts int64) []Snapshot {
	if s.Len() == 0 {
		return nil
	}
	i := sort.Search(len(s.Snapshots), func(i int) bool {
		return s.Snapshots[i].Timestamp >= ts
	})
	return s.Snapshots[i:]
}

func (s *Series) append(snap Snapshot, capacity int) error {
	if n := len(s.Snapshots); n > 0 && snap.Timestamp < s.Snapshots[n-1].Timestamp {
		return fmt.Errorf("%w: %d < %d", ErrOutOfOrder, snap.Timestamp, s.Snapshots[n-1].Timestamp)
	}
	s.Snapshots = append(s.Snapshots, snap)
	if n := len(s.Snapshots); n > capacity {
		// Shift in place so the backing array stays at capacity+1.
		copy(s.Snapshots, s.Snapshots[n-capacity:])
		clear(s.Snapshots[capacity:])
		s.Snapshots = s.Snapshots[:capacity]
	}
	return nil
}

func (s *Series) ordered() bool {
	for i := 1; i < len(s.Snapshots); i++ {
		if s.Snapshots[i].Timestamp < s.Snapshots[i-1].Timestamp {
			return false
		}
	}
	return true
}

// Set is the full collection of token histories. It is the unit that gets
// persisted and published.
type Set struct {
	LastUpdate *int64             `json:"lastUpdate"`
	Tokens     map[string]*Series `json:"tokens"`
}

// NewSet returns an empty set with no last update.
func NewSet() *Set {
	return &Set{Tokens: make(map[string]*Series)}
}

// Series returns the history for a token id.
func (s *Set) Series(id string) (*Series, bool) {
	series, ok := s.Tokens[id]
	return series, ok
}

// IDs returns the token ids in the set, sorted.
func (s *Set) IDs() []string {
	ids := make([]string, 0, len(s.Tokens))
	for id := range s.Tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Append adds snap to the token's series, creating the series from the
// descriptor's display metadata on first observation, and evicts the oldest
// entries beyond capacity. It is the only way snapshots enter a set.
func (s *Set) Append(d token.Descriptor, snap Snapshot, capacity int) error {
	if capacity < 1 {
		return ErrInvalidRetention
	}
	if s.Tokens == nil {
		s.Tokens = make(map[string]*Series)
	}
	series, ok := s.Tokens[d.ID]
	if !ok {
		series = &Series{
			Symbol:   d.Symbol,
			Name:     d.Name,
			Chain:    d.Chain,
			Protocol: d.Protocol,
		}
		s.Tokens[d.ID] = series
	}
	if err := series.append(snap, capacity); err != nil {
		return fmt.Errorf("append %s: %w", d.ID, err)
	}
	return nil
}

// Touch records the end of a cycle.
func (s *Set) Touch(ts int64) {
	s.LastUpdate = &ts
}

// Parse decodes a persisted set and checks the ordering invariant.
func Parse(data []byte) (*Set, error) {
	set := NewSet()
	if err := json.Unmarshal(data, set); err != nil {
		return nil, fmt.Errorf("decode snapshot set: %w", err)
	}
	if set.Tokens == nil {
		set.Tokens = make(map[string]*Series)
	}
	for id, series := range set.Tokens {
		if series == nil {
			delete(set.Tokens, id)
			continue
		}
		if !series.ordered() {
			return nil, fmt.Errorf("decode snapshot set: %s: timestamps out of order", id)
		}
	}
	return set, nil
}

// Encode renders the set in its persisted form.
func Encode(set *Set, indent bool) ([]byte, error) {
	if set.Tokens == nil {
		set.Tokens = make(map[string]*Series)
	}
	if indent {
		return json.MarshalIndent(set, "", "  ")
	}
	return json.Marshal(set)
}
