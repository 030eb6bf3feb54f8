package journal

import (
	"context"
	"errors"

	"loyaltymint/internal/mint"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists outcomes in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS mint_outcomes (
    attempt_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    digest TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
ALTER TABLE mint_outcomes ADD COLUMN IF NOT EXISTS idempotency_key TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS mint_outcomes_finished_at ON mint_outcomes (finished_at DESC);
CREATE INDEX IF NOT EXISTS mint_outcomes_idempotency_key ON mint_outcomes (idempotency_key, finished_at DESC)
    WHERE idempotency_key <> '';
`

const selectOutcome = `
SELECT attempt_id, idempotency_key, status, reason, detail, digest, started_at, finished_at
FROM mint_outcomes
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, attemptID string) (*mint.Outcome, error) {
	return p.getOne(ctx, selectOutcome+`WHERE attempt_id = $1`, attemptID)
}

func (p *PostgresStore) ByKey(ctx context.Context, key string) (*mint.Outcome, error) {
	if key == "" {
		return nil, nil
	}
	return p.getOne(ctx, selectOutcome+`WHERE idempotency_key = $1 ORDER BY finished_at DESC LIMIT 1`, key)
}

func (p *PostgresStore) getOne(ctx context.Context, query, arg string) (*mint.Outcome, error) {
	rec, err := scanOutcome(p.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, outcome mint.Outcome) error {
	if err := checkFinished(outcome); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO mint_outcomes (attempt_id, idempotency_key, status, reason, detail, digest, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (attempt_id) DO UPDATE
SET idempotency_key = EXCLUDED.idempotency_key,
    status = EXCLUDED.status,
    reason = EXCLUDED.reason,
    detail = EXCLUDED.detail,
    digest = EXCLUDED.digest,
    started_at = EXCLUDED.started_at,
    finished_at = EXCLUDED.finished_at
`, outcome.AttemptID, outcome.IdempotencyKey, string(outcome.Status), string(outcome.Reason), outcome.Detail, outcome.Digest,
		outcome.StartedAt, outcome.FinishedAt)
	return err
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]mint.Outcome, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, selectOutcome+`ORDER BY finished_at DESC, attempt_id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mint.Outcome
	for rows.Next() {
		rec, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanOutcome(row pgx.Row) (mint.Outcome, error) {
	var (
		rec            mint.Outcome
		status, reason string
	)
	if err := row.Scan(&rec.AttemptID, &rec.IdempotencyKey, &status, &reason, &rec.Detail, &rec.Digest, &rec.StartedAt, &rec.FinishedAt); err != nil {
		return mint.Outcome{}, err
	}
	rec.Status = mint.Status(status)
	rec.Reason = mint.Reason(reason)
	return rec, nil
}
