package indexer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3-frozen/yield-indexer/internal/query"
	"github.com/web3-frozen/yield-indexer/internal/snapshot"
	"github.com/web3-frozen/yield-indexer/internal/token"
)

const vault = "0x1111111111111111111111111111111111111111"

// memStore keeps the encoded set, as a real backend would.
type memStore struct {
	mu      sync.Mutex
	data    []byte
	saveErr error
	loadErr error
	saves   int
}

func (m *memStore) Load(context.Context) (*snapshot.Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.data == nil {
		return snapshot.NewSet(), nil
	}
	return snapshot.Parse(m.data)
}

func (m *memStore) Save(_ context.Context, set *snapshot.Set) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	data, err := snapshot.Encode(set, false)
	if err != nil {
		return err
	}
	m.data = data
	m.saves++
	return nil
}

func (m *memStore) set(t *testing.T) *snapshot.Set {
	t.Helper()
	set, err := m.Load(context.Background())
	require.NoError(t, err)
	return set
}

// fakePrices returns fixed prices per token id; missing ids are unavailable.
type fakePrices struct {
	prices  map[string]float64
	fetched []string
}

func (f *fakePrices) Fetch(_ context.Context, d token.Descriptor) (float64, bool) {
	f.fetched = append(f.fetched, d.ID)
	p, ok := f.prices[d.ID]
	return p, ok
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func vaultToken(id string) token.Descriptor {
	return token.Descriptor{ID: id, Symbol: id, Name: id, Chain: "ethereum", Protocol: "test", Type: token.MethodERC4626, Address: vault, Decimals: 18}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRunOnceIsolatesTokenFailures(t *testing.T) {
	tokens := []token.Descriptor{
		vaultToken("a"),
		vaultToken("down"),
		{ID: "tbd", Type: token.MethodERC4626, Address: token.AddressTBD},
		{ID: "ph", Type: token.MethodPlaceholder},
		vaultToken("b"),
	}
	prices := &fakePrices{prices: map[string]float64{"a": 1.01, "b": 2.0}}
	st := &memStore{}
	c := &clock{t: time.UnixMilli(1_700_000_000_000)}

	x := New(tokens, prices, st, quietLogger(), WithClock(c.now))
	report, err := x.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Written)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Unavailable)
	assert.False(t, report.Published)
	assert.Equal(t, []string{"a", "down", "b"}, prices.fetched, "unresolved tokens must not reach the price source")

	set := st.set(t)
	require.NotNil(t, set.LastUpdate)
	assert.Equal(t, int64(1_700_000_000_000), *set.LastUpdate)
	assert.Equal(t, []string{"a", "b"}, set.IDs())
}

// The not-found listing comes from the persisted set, so a configured token
// that was never priced is not offered as available.
func TestNotFoundListsObservedTokensOnly(t *testing.T) {
	tokens := []token.Descriptor{
		vaultToken("a"),
		{ID: "pending", Chain: "ethereum", Type: token.MethodERC4626, Address: token.AddressTBD},
	}
	st := &memStore{}
	c := &clock{t: time.UnixMilli(1_700_000_000_000)}
	x := New(tokens, &fakePrices{prices: map[string]float64{"a": 1.01}}, st, quietLogger(), WithClock(c.now))
	_, err := x.RunOnce(context.Background())
	require.NoError(t, err)

	_, err = query.New(nil).Token(st.set(t), "pending")
	var nf *query.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, []string{"a"}, nf.Available)
}

func TestRunOnceSharesCycleTimestamp(t *testing.T) {
	tokens := []token.Descriptor{vaultToken("a"), vaultToken("b")}
	st := &memStore{}
	c := &clock{t: time.UnixMilli(5_000)}
	x := New(tokens, &fakePrices{prices: map[string]float64{"a": 1, "b": 1}}, st, quietLogger(), WithClock(c.now))

	_, err := x.RunOnce(context.Background())
	require.NoError(t, err)

	set := st.set(t)
	a, _ := set.Tokens["a"].Latest()
	b, _ := set.Tokens["b"].Latest()
	assert.Equal(t, int64(5_000), a.Timestamp)
	assert.Equal(t, a.Timestamp, b.Timestamp)
}

func TestRunOnceEstimatesBeforeAppend(t *testing.T) {
	tokens := []token.Descriptor{vaultToken("a")}
	prices := &fakePrices{prices: map[string]float64{"a": 100}}
	st := &memStore{}
	c := &clock{t: time.UnixMilli(0)}
	x := New(tokens, prices, st, quietLogger(), WithClock(c.now))

	_, err := x.RunOnce(context.Background())
	require.NoError(t, err)
	first, _ := st.set(t).Tokens["a"].Latest()
	assert.Nil(t, first.DataHours, "the first observation has no history to compare against")
	assert.Empty(t, first.APR)

	c.t = c.t.Add(26 * time.Hour)
	prices.prices["a"] = 110
	_, err = x.RunOnce(context.Background())
	require.NoError(t, err)

	series := st.set(t).Tokens["a"]
	require.Equal(t, 2, series.Len())
	latest, _ := series.Latest()
	require.NotNil(t, latest.Metric("24h"))
	assert.InDelta(t, 0.10*(8760.0/26)*100, *latest.Metric("24h"), 1e-6)
	assert.Nil(t, latest.Metric("30d"))
	require.NotNil(t, latest.DataHours)
	assert.Equal(t, 26.0, *latest.DataHours)
}

func TestRunOnceTwiceWithoutElapsedTime(t *testing.T) {
	tokens := []token.Descriptor{vaultToken("a")}
	st := &memStore{}
	c := &clock{t: time.UnixMilli(1_000)}
	x := New(tokens, &fakePrices{prices: map[string]float64{"a": 1.5}}, st, quietLogger(), WithClock(c.now))

	for i := 0; i < 2; i++ {
		_, err := x.RunOnce(context.Background())
		require.NoError(t, err)
	}

	series := st.set(t).Tokens["a"]
	require.Equal(t, 2, series.Len())
	assert.Equal(t, series.Snapshots[0].Price, series.Snapshots[1].Price)
	assert.Equal(t, series.Snapshots[0].Timestamp, series.Snapshots[1].Timestamp)
}

func TestRunOnceAppliesRetention(t *testing.T) {
	tokens := []token.Descriptor{vaultToken("a")}
	st := &memStore{}
	c := &clock{t: time.UnixMilli(0)}
	x := New(tokens, &fakePrices{prices: map[string]float64{"a": 1}}, st, quietLogger(), WithClock(c.now), WithRetention(3))

	for i := 0; i < 5; i++ {
		c.t = c.t.Add(time.Hour)
		_, err := x.RunOnce(context.Background())
		require.NoError(t, err)
	}

	series := st.set(t).Tokens["a"]
	require.Equal(t, 3, series.Len())
	assert.Equal(t, int64(3*3_600_000), series.Snapshots[0].Timestamp)
	assert.Equal(t, int64(5*3_600_000), series.Snapshots[2].Timestamp)
}

func TestRunOnceRejectsClockGoingBackwards(t *testing.T) {
	tokens := []token.Descriptor{vaultToken("a")}
	st := &memStore{}
	c := &clock{t: time.UnixMilli(10_000)}
	x := New(tokens, &fakePrices{prices: map[string]float64{"a": 1}}, st, quietLogger(), WithClock(c.now))

	_, err := x.RunOnce(context.Background())
	require.NoError(t, err)

	c.t = time.UnixMilli(5_000)
	report, err := x.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 1, st.set(t).Tokens["a"].Len())
}

func TestRunOnceStorageFailures(t *testing.T) {
	tokens := []token.Descriptor{vaultToken("a")}
	prices := &fakePrices{prices: map[string]float64{"a": 1}}

	_, err := New(tokens, prices, &memStore{loadErr: errors.New("disk gone")}, quietLogger()).RunOnce(context.Background())
	assert.ErrorContains(t, err, "load snapshot set")

	pub := &memStore{}
	_, err = New(tokens, prices, &memStore{saveErr: errors.New("read-only")}, quietLogger(), WithPublisher(pub)).RunOnce(context.Background())
	assert.ErrorContains(t, err, "save snapshot set")
	assert.Zero(t, pub.saves, "nothing is published when the local save fails")
}

func TestRunOncePublish(t *testing.T) {
	tokens := []token.Descriptor{vaultToken("a")}
	prices := &fakePrices{prices: map[string]float64{"a": 1}}

	st, pub := &memStore{}, &memStore{}
	report, err := New(tokens, prices, st, quietLogger(), WithPublisher(pub)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Published)
	assert.Equal(t, st.data, pub.data)

	st = &memStore{}
	report, err = New(tokens, prices, st, quietLogger(), WithPublisher(&memStore{saveErr: errors.New("503")})).RunOnce(context.Background())
	require.NoError(t, err, "publish failures are not fatal")
	assert.False(t, report.Published)
	assert.Equal(t, 1, st.saves)
}

func TestRunStopsOnCancel(t *testing.T) {
	tokens := []token.Descriptor{vaultToken("a")}
	st := &memStore{}
	x := New(tokens, &fakePrices{prices: map[string]float64{"a": 1}}, st, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- x.Run(ctx, time.Hour) }()

	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.data != nil
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunRejectsZeroInterval(t *testing.T) {
	x := New(nil, &fakePrices{}, &memStore{}, quietLogger())
	assert.Error(t, x.Run(context.Background(), 0))
}
