package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/web3-frozen/yield-indexer/internal/snapshot"
)

const (
	defaultDocument = "default"

	undefinedTable = "42P01"
)

// Postgres stores the set as a single JSONB document row.
type Postgres struct {
	pool     *pgxpool.Pool
	document string
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: database url: %v", ErrInvalidURL, err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{pool: pool, document: defaultDocument}, nil
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Load(ctx context.Context) (*snapshot.Set, error) {
	var body []byte
	err := p.pool.QueryRow(ctx,
		`SELECT body FROM snapshot_sets WHERE name = $1`, p.document).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return snapshot.NewSet(), nil
	}
	// A reader may start before the indexer has created the table.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return snapshot.NewSet(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot set: %w", err)
	}
	set, err := snapshot.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot set: %w", err)
	}
	return set, nil
}

func (p *Postgres) Save(ctx context.Context, set *snapshot.Set) error {
	data, err := snapshot.Encode(set, false)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO snapshot_sets (name, body, last_update, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (name) DO UPDATE
		 SET body = EXCLUDED.body, last_update = EXCLUDED.last_update, updated_at = now()`,
		p.document, string(data), set.LastUpdate)
	if err != nil {
		return fmt.Errorf("save snapshot set: %w", err)
	}
	return nil
}
