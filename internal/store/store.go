// Package store persists the Snapshot Set. Every backend stores the whole
// set as one JSON document: a local file, a row in PostgreSQL or a Redis key.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/web3-frozen/yield-indexer/internal/snapshot"
)

// ErrInvalidURL is returned for a connection URL that cannot be parsed.
// Connecting with one is never retried.
var ErrInvalidURL = errors.New("invalid connection url")

// Backend loads and saves a complete Snapshot Set. A backend holding no
// document yet loads as an empty set.
type Backend interface {
	Load(ctx context.Context) (*snapshot.Set, error)
	Save(ctx context.Context, set *snapshot.Set) error
	Ping(ctx context.Context) error
	Close() error
	Name() string
}

// Source selects the backend the query server reads from.
type Source string

const (
	SourceAuto     Source = "auto"
	SourceRedis    Source = "redis"
	SourcePostgres Source = "postgres"
	SourceFile     Source = "file"
)

// Options carries the connection settings for every backend.
type Options struct {
	DataFile      string
	DatabaseURL   string
	RedisURL      string
	RedisPassword string
	PublishKey    string
}

// OpenPrimary opens the durable store the indexer writes every cycle:
// PostgreSQL when a database URL is configured, the JSON file otherwise.
func OpenPrimary(ctx context.Context, opts Options, logger *slog.Logger) (Backend, error) {
	if opts.DatabaseURL != "" {
		return connect(ctx, "postgres", logger, func() (Backend, error) {
			pg, err := NewPostgres(ctx, opts.DatabaseURL)
			if err != nil {
				return nil, err
			}
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, backoff.Permanent(fmt.Errorf("migrate: %w", err))
			}
			return pg, nil
		})
	}
	return NewFile(opts.DataFile), nil
}

// OpenPublisher opens the shared object store the indexer publishes to. It
// returns nil, nil when no Redis URL is configured.
func OpenPublisher(ctx context.Context, opts Options, logger *slog.Logger) (Backend, error) {
	if opts.RedisURL == "" {
		return nil, nil
	}
	return connect(ctx, "redis", logger, func() (Backend, error) {
		return NewRedis(ctx, opts.RedisURL, opts.RedisPassword, opts.PublishKey)
	})
}

// OpenSource opens the backend the query server reads. Auto prefers the
// published copy, then PostgreSQL, then the local file.
func OpenSource(ctx context.Context, src Source, opts Options, logger *slog.Logger) (Backend, error) {
	if src == SourceAuto || src == "" {
		switch {
		case opts.RedisURL != "":
			src = SourceRedis
		case opts.DatabaseURL != "":
			src = SourcePostgres
		default:
			src = SourceFile
		}
	}

	switch src {
	case SourceRedis:
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("snapshot source redis requires REDIS_URL")
		}
		return OpenPublisher(ctx, opts, logger)
	case SourcePostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("snapshot source postgres requires DATABASE_URL")
		}
		// Readers never migrate; the indexer owns the schema.
		return connect(ctx, "postgres", logger, func() (Backend, error) {
			return NewPostgres(ctx, opts.DatabaseURL)
		})
	case SourceFile:
		return NewFile(opts.DataFile), nil
	default:
		return nil, fmt.Errorf("unknown snapshot source %q", src)
	}
}

// newRetryPolicy bounds startup connection attempts.
var newRetryPolicy = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = time.Minute
	return b
}

// connect retries dial with exponential backoff. Errors wrapped with
// backoff.Permanent stop immediately.
func connect(ctx context.Context, what string, logger *slog.Logger, dial func() (Backend, error)) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var b Backend
	op := func() error {
		var err error
		b, err = dial()
		if errors.Is(err, ErrInvalidURL) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("store connect failed, retrying", "backend", what, "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(newRetryPolicy(), ctx), notify); err != nil {
		return nil, fmt.Errorf("connect %s: %w", what, err)
	}
	logger.Info("store connected", "backend", what)
	return b, nil
}
