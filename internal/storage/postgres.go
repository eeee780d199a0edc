package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPersister stores each collection snapshot as one JSONB row of the
// store_snapshots table (see database.EnsureSchema).
type PostgresPersister struct {
	pool *pgxpool.Pool
}

// NewPostgresPersister constructs a persister over an open pool.
func NewPostgresPersister(pool *pgxpool.Pool) *PostgresPersister {
	return &PostgresPersister{pool: pool}
}

// Save upserts the snapshot row for collection.
func (p *PostgresPersister) Save(ctx context.Context, collection string, data []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO store_snapshots (collection, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (collection) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`, collection, string(data))
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot payload for collection.
func (p *PostgresPersister) Load(ctx context.Context, collection string) ([]byte, error) {
	var payload string
	row := p.pool.QueryRow(ctx, `SELECT payload::text FROM store_snapshots WHERE collection=$1`, collection)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return []byte(payload), nil
}
