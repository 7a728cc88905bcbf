package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	infisical "github.com/infisical/go-sdk"
	"github.com/joho/godotenv"

	"github.com/web3-frozen/yield-indexer/internal/store"
)

const rpcURLPrefix = "RPC_URL_"

type Config struct {
	Port           string
	MetricsPort    string
	FrontendOrigin string

	TokensFile     string
	DataFile       string
	DatabaseURL    string
	RedisURL       string
	RedisPassword  string
	PublishKey     string
	SnapshotSource string

	EthRPCURL     string
	ArbRPCURL     string
	PythHermesURL string

	Retention        int
	SnapshotInterval time.Duration
	FetchTimeout     time.Duration
	CacheMaxAge      int
	CacheStale       int

	LogLevel string
	LogFile  string

	parseErrs []error
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first without overriding set variables.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:           envOr("PORT", "8080"),
		MetricsPort:    envOr("METRICS_PORT", "9091"),
		FrontendOrigin: envOr("FRONTEND_ORIGIN", "*"),
		TokensFile:     envOr("TOKENS_FILE", "tokens.json"),
		DataFile:       envOr("DATA_FILE", "data/snapshots.json"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		PublishKey:     envOr("PUBLISH_KEY", store.DefaultPublishKey),
		SnapshotSource: envOr("SNAPSHOT_SOURCE", string(store.SourceAuto)),
		EthRPCURL:      os.Getenv("ETH_RPC_URL"),
		ArbRPCURL:      os.Getenv("ARB_RPC_URL"),
		PythHermesURL:  os.Getenv("PYTH_HERMES_URL"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFile:        os.Getenv("LOG_FILE"),
	}
	cfg.Retention = cfg.intOr("RETENTION", 2160)
	cfg.SnapshotInterval = cfg.durationOr("SNAPSHOT_INTERVAL", time.Hour)
	cfg.FetchTimeout = cfg.durationOr("FETCH_TIMEOUT", 30*time.Second)
	cfg.CacheMaxAge = cfg.intOr("CACHE_MAX_AGE", 300)
	cfg.CacheStale = cfg.intOr("CACHE_STALE", 600)

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	return cfg
}

// Validate reports malformed or out-of-range settings.
func (c Config) Validate() error {
	errs := append([]error(nil), c.parseErrs...)
	if c.Retention < 1 {
		errs = append(errs, fmt.Errorf("RETENTION must be >= 1, got %d", c.Retention))
	}
	if c.SnapshotInterval <= 0 {
		errs = append(errs, fmt.Errorf("SNAPSHOT_INTERVAL must be positive, got %s", c.SnapshotInterval))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout))
	}
	if c.CacheMaxAge < 0 || c.CacheStale < 0 {
		errs = append(errs, fmt.Errorf("CACHE_MAX_AGE and CACHE_STALE must be >= 0"))
	}
	switch store.Source(c.SnapshotSource) {
	case store.SourceAuto, store.SourceRedis, store.SourcePostgres, store.SourceFile:
	default:
		errs = append(errs, fmt.Errorf("SNAPSHOT_SOURCE must be auto, redis, postgres or file, got %q", c.SnapshotSource))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not a level", c.LogLevel))
	}
	return errors.Join(errs...)
}

// RPCURLs maps lower-case chain names to RPC endpoints. ETH_RPC_URL and
// ARB_RPC_URL cover ethereum and arbitrum; RPC_URL_<CHAIN> adds or
// overrides any chain.
func (c Config) RPCURLs() map[string]string {
	urls := make(map[string]string)
	if c.EthRPCURL != "" {
		urls["ethereum"] = c.EthRPCURL
	}
	if c.ArbRPCURL != "" {
		urls["arbitrum"] = c.ArbRPCURL
	}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasPrefix(key, rpcURLPrefix) {
			continue
		}
		chain := strings.ToLower(strings.TrimPrefix(key, rpcURLPrefix))
		if chain != "" {
			urls[chain] = value
		}
	}
	return urls
}

// StoreOptions returns the backend connection settings.
func (c Config) StoreOptions() store.Options {
	return store.Options{
		DataFile:      c.DataFile,
		DatabaseURL:   c.DatabaseURL,
		RedisURL:      c.RedisURL,
		RedisPassword: c.RedisPassword,
		PublishKey:    c.PublishKey,
	}
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL",
		"http://infisical-infisical-standalone-infisical.infisical.svc.cluster.local:8080")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	secrets := map[string]*string{
		"DATABASE_URL":   &cfg.DatabaseURL,
		"REDIS_PASSWORD": &cfg.RedisPassword,
		"ETH_RPC_URL":    &cfg.EthRPCURL,
		"ARB_RPC_URL":    &cfg.ArbRPCURL,
	}

	for key, target := range secrets {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *Config) intOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (c *Config) durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}
