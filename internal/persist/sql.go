package persist

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS watchdogs (
    position     INTEGER NOT NULL,
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    source_ids   TEXT NOT NULL,
    source_names TEXT NOT NULL,
    labels       TEXT NOT NULL,
    play_sound   TEXT NOT NULL,
    tolerances   TEXT NOT NULL
);
`

// SQLStore keeps records in a SQLite database.
type SQLStore struct {
	db *sql.DB
}

func OpenSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite state %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite state %q: %w", path, err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Save(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM watchdogs`); err != nil {
		return fmt.Errorf("clear watchdogs: %w", err)
	}
	const insert = `
INSERT INTO watchdogs (position, id, name, source_ids, source_names, labels, play_sound, tolerances)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`
	for i, rec := range records {
		if _, err := tx.ExecContext(ctx, insert, i, rec.ID, rec.Name, rec.SourceIDs, rec.SourceNames,
			rec.Labels, rec.PlaySound, rec.Tolerances); err != nil {
			return fmt.Errorf("insert watchdog %q: %w", rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state save: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) ([]Record, error) {
	const query = `
SELECT id, name, source_ids, source_names, labels, play_sound, tolerances
  FROM watchdogs
 ORDER BY position;
`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query watchdogs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.SourceIDs, &rec.SourceNames, &rec.Labels,
			&rec.PlaySound, &rec.Tolerances); err != nil {
			return nil, fmt.Errorf("scan watchdog: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watchdogs: %w", err)
	}
	return records, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
