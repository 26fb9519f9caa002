package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xhad/marginalia/internal/types"
)

// PgLedger records which documents have been fully written to the vector
// index. A document's row is only written after its last chunk upsert, so
// a partially-written document stays unknown and gets re-processed on the
// next run. The ledger is optional; everything degrades to store-side
// enumeration without it.
type PgLedger struct {
	pool *pgxpool.Pool
}

var _ types.Ledger = (*PgLedger)(nil)

func NewLedger(ctx context.Context, connString string) (*PgLedger, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}

	l := &PgLedger{pool: pool}
	if err := l.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

func (l *PgLedger) initialize(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS synced_documents (
			doc_id      TEXT PRIMARY KEY,
			title       TEXT,
			chunk_count INTEGER NOT NULL,
			synced_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create synced_documents table: %w", err)
	}

	_, err = l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sync_runs (
			id          UUID PRIMARY KEY,
			started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			finished_at TIMESTAMPTZ,
			docs_synced INTEGER,
			docs_failed INTEGER
		)`)
	if err != nil {
		return fmt.Errorf("failed to create sync_runs table: %w", err)
	}
	return nil
}

// KnownIDs returns every fully-synced document id.
func (l *PgLedger) KnownIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := l.pool.Query(ctx, `SELECT doc_id FROM synced_documents`)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		known[id] = true
	}
	return known, rows.Err()
}

// RecordDocument marks a document fully written.
func (l *PgLedger) RecordDocument(ctx context.Context, docID, title string, chunkCount int) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO synced_documents (doc_id, title, chunk_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (doc_id) DO UPDATE SET
			title = EXCLUDED.title,
			chunk_count = EXCLUDED.chunk_count,
			synced_at = now()`,
		docID, title, chunkCount)
	if err != nil {
		return fmt.Errorf("failed to record document %s: %w", docID, err)
	}
	return nil
}

// StartRun opens a sync run row and returns its id.
func (l *PgLedger) StartRun(ctx context.Context) (uuid.UUID, error) {
	id := uuid.New()
	_, err := l.pool.Exec(ctx, `INSERT INTO sync_runs (id) VALUES ($1)`, id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to start sync run: %w", err)
	}
	return id, nil
}

// FinishRun closes a sync run with its counters.
func (l *PgLedger) FinishRun(ctx context.Context, run uuid.UUID, synced, failed int) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE sync_runs
		SET finished_at = now(), docs_synced = $2, docs_failed = $3
		WHERE id = $1`,
		run, synced, failed)
	if err != nil {
		return fmt.Errorf("failed to finish sync run: %w", err)
	}
	return nil
}

func (l *PgLedger) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}
