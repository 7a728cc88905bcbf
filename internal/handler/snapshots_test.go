package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/web3-frozen/yield-indexer/internal/apr"
	"github.com/web3-frozen/yield-indexer/internal/query"
	"github.com/web3-frozen/yield-indexer/internal/snapshot"
	"github.com/web3-frozen/yield-indexer/internal/token"
)

// mockSource serves a fixed set, or fails.
type mockSource struct {
	set   *snapshot.Set
	err   error
	loads int
}

func (m *mockSource) Load(context.Context) (*snapshot.Set, error) {
	m.loads++
	if m.err != nil {
		return nil, m.err
	}
	return m.set, nil
}

func (m *mockSource) Ping(context.Context) error { return m.err }

func testRouter(src *mockSource) http.Handler {
	proj := query.New(apr.New(apr.DefaultConfig()).Labels())
	cfg := RouterConfig{FrontendOrigin: "*", CacheMaxAge: 300, CacheStale: 600}
	return NewRouter(src, proj, cfg, slog.New(slog.DiscardHandler))
}

func testSet(t *testing.T) *snapshot.Set {
	t.Helper()
	set := snapshot.NewSet()
	apr24 := 4.2
	for _, id := range []string{"syrupUSDT", "syrupUSDC"} {
		d := token.Descriptor{ID: id, Symbol: id, Name: id, Chain: "ethereum", Protocol: "maple"}
		snap := snapshot.Snapshot{Timestamp: 1_000, Price: 1.1, APR: map[string]*float64{"24h": &apr24}}
		if err := set.Append(d, snap, snapshot.DefaultRetention); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	set.Touch(1_000)
	return set
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestSnapshotsSummary(t *testing.T) {
	src := &mockSource{set: testSet(t)}
	h := testRouter(src)

	for _, path := range []string{"/snapshots", "/api/snapshots"} {
		rec := get(t, h, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", path, rec.Code)
		}
		if got := rec.Header().Get("Cache-Control"); got != "s-maxage=300, stale-while-revalidate=600" {
			t.Errorf("%s: Cache-Control = %q", path, got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("%s: Access-Control-Allow-Origin = %q", path, got)
		}

		var body query.Summary
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Tokens) != 2 {
			t.Errorf("tokens = %d, want 2", len(body.Tokens))
		}
		if body.LastUpdate == nil || *body.LastUpdate != 1_000 {
			t.Errorf("lastUpdate = %v, want 1000", body.LastUpdate)
		}
	}
	if src.loads != 2 {
		t.Errorf("loads = %d, the set must be read on every request", src.loads)
	}
}

func TestSnapshotsSingleToken(t *testing.T) {
	h := testRouter(&mockSource{set: testSet(t)})

	rec := get(t, h, "/snapshots?token=syrupUSDC")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["token"] != "syrupUSDC" || body["protocol"] != "maple" {
		t.Errorf("unexpected body: %v", body)
	}
	latest, ok := body["latest"].(map[string]any)
	if !ok {
		t.Fatalf("latest = %v", body["latest"])
	}
	if latest["apr_24h"] != 4.2 {
		t.Errorf("apr_24h = %v, want 4.2", latest["apr_24h"])
	}
	if v, ok := latest["apr_7d"]; !ok || v != nil {
		t.Errorf("apr_7d = %v (present %v), want explicit null", v, ok)
	}
	if hist, ok := body["history"].([]any); !ok || len(hist) != 1 {
		t.Errorf("history = %v, want one entry", body["history"])
	}
}

func TestSnapshotsTokenNotFound(t *testing.T) {
	h := testRouter(&mockSource{set: testSet(t)})

	rec := get(t, h, "/api/snapshots?token=nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body struct {
		Error     string   `json:"error"`
		Available []string `json:"available"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "Token not found: nope" {
		t.Errorf("error = %q", body.Error)
	}
	if len(body.Available) != 2 || body.Available[0] != "syrupUSDC" || body.Available[1] != "syrupUSDT" {
		t.Errorf("available = %v, want sorted ids", body.Available)
	}
}

func TestSnapshotsBackendFailure(t *testing.T) {
	h := testRouter(&mockSource{err: errors.New("redis: connection refused")})

	rec := get(t, h, "/snapshots")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "redis: connection refused" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestHealthAndReady(t *testing.T) {
	ok := testRouter(&mockSource{set: snapshot.NewSet()})
	if rec := get(t, ok, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := get(t, ok, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}

	down := testRouter(&mockSource{err: errors.New("down")})
	if rec := get(t, down, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", rec.Code)
	}
	if rec := get(t, down, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz must not depend on the backend, got %d", rec.Code)
	}
}
