package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestEnvOr(t *testing.T) {
	// Unset key returns fallback
	os.Unsetenv("TEST_ENVOR_KEY")
	if got := envOr("TEST_ENVOR_KEY", "default"); got != "default" {
		t.Errorf("envOr unset key = %q, want %q", got, "default")
	}

	// Set key returns value
	t.Setenv("TEST_ENVOR_KEY", "custom")
	if got := envOr("TEST_ENVOR_KEY", "default"); got != "custom" {
		t.Errorf("envOr set key = %q, want %q", got, "custom")
	}

	// Empty string returns fallback
	t.Setenv("TEST_ENVOR_KEY", "")
	if got := envOr("TEST_ENVOR_KEY", "fallback"); got != "fallback" {
		t.Errorf("envOr empty key = %q, want %q", got, "fallback")
	}
}

var configKeys = []string{
	"PORT", "METRICS_PORT", "FRONTEND_ORIGIN", "TOKENS_FILE", "DATA_FILE",
	"DATABASE_URL", "REDIS_URL", "REDIS_PASSWORD", "PUBLISH_KEY", "SNAPSHOT_SOURCE",
	"ETH_RPC_URL", "ARB_RPC_URL", "PYTH_HERMES_URL", "RETENTION", "SNAPSHOT_INTERVAL",
	"FETCH_TIMEOUT", "CACHE_MAX_AGE", "CACHE_STALE", "LOG_LEVEL", "LOG_FILE",
	"INFISICAL_CLIENT_ID", "INFISICAL_CLIENT_SECRET",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
	for _, kv := range os.Environ() {
		if key, _, _ := strings.Cut(kv, "="); strings.HasPrefix(key, rpcURLPrefix) {
			t.Setenv(key, "")
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.MetricsPort != "9091" {
		t.Errorf("MetricsPort = %q, want %q", cfg.MetricsPort, "9091")
	}
	if cfg.FrontendOrigin != "*" {
		t.Errorf("FrontendOrigin = %q, want %q", cfg.FrontendOrigin, "*")
	}
	if cfg.DataFile != "data/snapshots.json" {
		t.Errorf("DataFile = %q", cfg.DataFile)
	}
	if cfg.PublishKey != "snapshots.json" {
		t.Errorf("PublishKey = %q", cfg.PublishKey)
	}
	if cfg.Retention != 2160 {
		t.Errorf("Retention = %d, want 2160", cfg.Retention)
	}
	if cfg.SnapshotInterval != time.Hour {
		t.Errorf("SnapshotInterval = %s, want 1h", cfg.SnapshotInterval)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Errorf("FetchTimeout = %s, want 30s", cfg.FetchTimeout)
	}
	if cfg.CacheMaxAge != 300 || cfg.CacheStale != 600 {
		t.Errorf("cache = %d/%d, want 300/600", cfg.CacheMaxAge, cfg.CacheStale)
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" {
		t.Errorf("backends should be unset by default: %q %q", cfg.DatabaseURL, cfg.RedisURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate defaults: %v", err)
	}
	if len(cfg.RPCURLs()) != 0 {
		t.Errorf("RPCURLs = %v, want none", cfg.RPCURLs())
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://test")
	t.Setenv("FRONTEND_ORIGIN", "http://localhost:3000")
	t.Setenv("RETENTION", "48")
	t.Setenv("SNAPSHOT_INTERVAL", "15m")
	t.Setenv("SNAPSHOT_SOURCE", "postgres")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want %q", cfg.Port, "9090")
	}
	if cfg.DatabaseURL != "postgres://test" {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, "postgres://test")
	}
	if cfg.FrontendOrigin != "http://localhost:3000" {
		t.Errorf("FrontendOrigin = %q, want %q", cfg.FrontendOrigin, "http://localhost:3000")
	}
	if cfg.Retention != 48 {
		t.Errorf("Retention = %d, want 48", cfg.Retention)
	}
	if cfg.SnapshotInterval != 15*time.Minute {
		t.Errorf("SnapshotInterval = %s, want 15m", cfg.SnapshotInterval)
	}
	if opts := cfg.StoreOptions(); opts.DatabaseURL != "postgres://test" {
		t.Errorf("StoreOptions().DatabaseURL = %q", opts.DatabaseURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestRPCURLs(t *testing.T) {
	clearEnv(t)
	t.Setenv("ETH_RPC_URL", "https://eth.example")
	t.Setenv("ARB_RPC_URL", "https://arb.example")
	t.Setenv("RPC_URL_BASE", "https://base.example")
	t.Setenv("RPC_URL_ETHEREUM", "https://eth-override.example")

	urls := Load().RPCURLs()

	want := map[string]string{
		"ethereum": "https://eth-override.example",
		"arbitrum": "https://arb.example",
		"base":     "https://base.example",
	}
	if len(urls) != len(want) {
		t.Fatalf("RPCURLs = %v, want %v", urls, want)
	}
	for chain, url := range want {
		if urls[chain] != url {
			t.Errorf("RPCURLs[%s] = %q, want %q", chain, urls[chain], url)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad retention", map[string]string{"RETENTION": "0"}, "RETENTION"},
		{"unparsable retention", map[string]string{"RETENTION": "lots"}, "RETENTION"},
		{"bad interval", map[string]string{"SNAPSHOT_INTERVAL": "hourly"}, "SNAPSHOT_INTERVAL"},
		{"negative timeout", map[string]string{"FETCH_TIMEOUT": "-1s"}, "FETCH_TIMEOUT"},
		{"bad source", map[string]string{"SNAPSHOT_SOURCE": "s3"}, "SNAPSHOT_SOURCE"},
		{"bad level", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			err := Load().Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %s", err, tt.wantErr)
			}
		})
	}
}
