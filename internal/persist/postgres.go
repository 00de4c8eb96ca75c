package persist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS watchdog_state (
    position     INTEGER NOT NULL,
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    source_ids   TEXT NOT NULL,
    source_names TEXT NOT NULL,
    labels       TEXT NOT NULL,
    play_sound   TEXT NOT NULL,
    tolerances   TEXT NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore keeps records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL using the supplied connection string.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	// Verify connection on startup.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres state: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Save(ctx context.Context, records []Record) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM watchdog_state`); err != nil {
			return fmt.Errorf("clear watchdog state: %w", err)
		}

		const insert = `
INSERT INTO watchdog_state (position, id, name, source_ids, source_names, labels, play_sound, tolerances)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);
`
		batch := &pgx.Batch{}
		for i, rec := range records {
			batch.Queue(insert, i, rec.ID, rec.Name, rec.SourceIDs, rec.SourceNames, rec.Labels, rec.PlaySound, rec.Tolerances)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert watchdog state: %w", err)
		}
		return nil
	})
}

func (p *PostgresStore) Load(ctx context.Context) ([]Record, error) {
	const query = `
SELECT id, name, source_ids, source_names, labels, play_sound, tolerances
  FROM watchdog_state
 ORDER BY position;
`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query watchdog state: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rec Record
		err := row.Scan(&rec.ID, &rec.Name, &rec.SourceIDs, &rec.SourceNames, &rec.Labels, &rec.PlaySound, &rec.Tolerances)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan watchdog state: %w", err)
	}
	return records, nil
}

// Close releases database resources.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
