package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS signal_journal (
	id           BIGSERIAL PRIMARY KEY,
	decision_id  TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	kind         TEXT NOT NULL,
	ts_ms        BIGINT NOT NULL,
	decision     JSONB,
	snapshot     JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (decision_id, kind)
);
CREATE INDEX IF NOT EXISTS signal_journal_symbol_ts ON signal_journal (symbol, ts_ms DESC);`

// PostgresRepo persists journal entries to the signal_journal table.
type PostgresRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresRepo opens a connection pool against dsn.
func NewPostgresRepo(dsn string, timeout time.Duration) (*PostgresRepo, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect journal db: %w", err)
	}
	db.SetMaxOpenConns(4)
	return &PostgresRepo{db: db, timeout: timeout}, nil
}

// Migrate creates the journal table when it does not exist.
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate journal schema: %w", err)
	}
	return nil
}

// Insert writes one entry. Duplicate (decision_id, kind) pairs are treated
// as already-journaled, not as failures, so redelivery is harmless.
func (r *PostgresRepo) Insert(ctx context.Context, entry Entry) error {
	decisionJSON, err := json.Marshal(entry.Decision)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	snapshotJSON, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO signal_journal (decision_id, symbol, kind, ts_ms, decision, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = r.db.ExecContext(ctx, query,
		entry.DecisionID, entry.Symbol, entry.Kind, entry.TimestampMs,
		decisionJSON, snapshotJSON)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil
		}
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *PostgresRepo) Close() error {
	return r.db.Close()
}
