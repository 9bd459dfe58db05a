package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend persists the state snapshot in a single keyed-JSON table,
// for deployments that want the record sets in a database instead of local
// files. The in-memory store and its flush discipline are identical either
// way.
type PostgresBackend struct {
	db *pgxpool.Pool
}

const stateSchema = `
CREATE TABLE IF NOT EXISTS dredger_state (
	record_set TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (record_set, key)
)`

func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if _, err := db.Exec(ctx, stateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &PostgresBackend{db: db}, nil
}

func (b *PostgresBackend) Close() {
	b.db.Close()
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.db.Ping(ctx)
}

func (b *PostgresBackend) Load(ctx context.Context) (*Records, error) {
	rows, err := b.db.Query(ctx, `SELECT record_set, key, value FROM dredger_state`)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	defer rows.Close()

	r := newRecords()
	for rows.Next() {
		var set, key string
		var value []byte
		if err := rows.Scan(&set, &key, &value); err != nil {
			return nil, err
		}
		if err := decodeRecord(r, set, key, value); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", set, key, err)
		}
	}
	return r, rows.Err()
}

func decodeRecord(r *Records, set, key string, value []byte) error {
	switch set {
	case "imported":
		rec := r.Imported[key]
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		r.Imported[key] = rec
	case "rejects":
		rec := r.Rejects[key]
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		r.Rejects[key] = rec
	case "retries":
		rec := r.Retries[key]
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		r.Retries[key] = rec
	case "stats":
		rec := r.Stats[key]
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		r.Stats[key] = rec
	case "sitemaps":
		rec := r.Sitemaps[key]
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		r.Sitemaps[key] = rec
	case "verified":
		r.Verified[key] = struct{}{}
	case "hosts":
		return json.Unmarshal(value, &r.Hosts)
	}
	return nil
}

// Save replaces the stored snapshot within a single transaction, batching
// inserts the way the pgx batch API is meant to be used.
func (b *PostgresBackend) Save(ctx context.Context, r *Records) error {
	tx, err := b.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM dredger_state`); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	queue := func(set, key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO dredger_state (record_set, key, value) VALUES ($1, $2, $3)
			 ON CONFLICT (record_set, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
			set, key, data)
		return nil
	}

	for k, v := range r.Imported {
		if err := queue("imported", k, v); err != nil {
			return err
		}
	}
	for k, v := range r.Rejects {
		if err := queue("rejects", k, v); err != nil {
			return err
		}
	}
	for k, v := range r.Retries {
		if err := queue("retries", k, v); err != nil {
			return err
		}
	}
	for k, v := range r.Stats {
		if err := queue("stats", k, v); err != nil {
			return err
		}
	}
	for k, v := range r.Sitemaps {
		if err := queue("sitemaps", k, v); err != nil {
			return err
		}
	}
	for slug := range r.Verified {
		if err := queue("verified", slug, true); err != nil {
			return err
		}
	}
	if err := queue("hosts", "snapshot", r.Hosts); err != nil {
		return err
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
