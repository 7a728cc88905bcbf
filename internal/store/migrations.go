package store

import "context"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS snapshot_sets (
    name TEXT PRIMARY KEY,
    body JSONB NOT NULL,
    last_update BIGINT,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, migrationSQL)
	return err
}
