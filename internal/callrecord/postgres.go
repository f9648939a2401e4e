package callrecord

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxline-ai/voxline/internal/dialog"
)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    call_id       TEXT         PRIMARY KEY,
    stream_id     TEXT         NOT NULL DEFAULT '',
    caller_phone  TEXT         NOT NULL DEFAULT '',
    started_at    TIMESTAMPTZ  NOT NULL,
    ended_at      TIMESTAMPTZ  NOT NULL,
    area          TEXT         NOT NULL DEFAULT '',
    property_type TEXT         NOT NULL DEFAULT '',
    budget        TEXT         NOT NULL DEFAULT '',
    apologies     INT          NOT NULL DEFAULT 0,
    barge_ins     INT          NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_calls_started_at ON calls (started_at);
CREATE INDEX IF NOT EXISTS idx_calls_caller_phone ON calls (caller_phone);

CREATE TABLE IF NOT EXISTS call_turns (
    id        BIGSERIAL    PRIMARY KEY,
    call_id   TEXT         NOT NULL REFERENCES calls (call_id) ON DELETE CASCADE,
    position  INT          NOT NULL,
    role      TEXT         NOT NULL,
    text      TEXT         NOT NULL,
    spoken_at TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_call_turns_call_id ON call_turns (call_id);
`

// PostgresSink persists call summaries to a calls/call_turns pair of tables.
//
// All methods are safe for concurrent use.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to the database at dsn, verifies the connection,
// and ensures the schema exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("callrecord: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("callrecord: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlCalls); err != nil {
		pool.Close()
		return nil, fmt.Errorf("callrecord: migrate: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// SaveSummary implements Sink. The call row and its turns are written in one
// transaction; a re-delivered summary replaces the earlier row.
func (s *PostgresSink) SaveSummary(ctx context.Context, summary Summary) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("callrecord: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertCall = `
		INSERT INTO calls
		    (call_id, stream_id, caller_phone, started_at, ended_at,
		     area, property_type, budget, apologies, barge_ins)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (call_id) DO UPDATE SET
		    ended_at = EXCLUDED.ended_at,
		    area = EXCLUDED.area,
		    property_type = EXCLUDED.property_type,
		    budget = EXCLUDED.budget,
		    apologies = EXCLUDED.apologies,
		    barge_ins = EXCLUDED.barge_ins`

	_, err = tx.Exec(ctx, insertCall,
		summary.CallID,
		summary.StreamID,
		summary.CallerPhone,
		summary.StartedAt,
		summary.EndedAt,
		summary.Lead.Area,
		summary.Lead.PropertyType,
		summary.Lead.Budget,
		summary.Apologies,
		summary.BargeIns,
	)
	if err != nil {
		return fmt.Errorf("callrecord: insert call: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM call_turns WHERE call_id = $1`, summary.CallID); err != nil {
		return fmt.Errorf("callrecord: clear turns: %w", err)
	}

	const insertTurn = `
		INSERT INTO call_turns (call_id, position, role, text, spoken_at)
		VALUES ($1, $2, $3, $4, $5)`
	for i, t := range summary.Turns {
		if _, err := tx.Exec(ctx, insertTurn, summary.CallID, i, string(t.Role), t.Text, t.At); err != nil {
			return fmt.Errorf("callrecord: insert turn %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("callrecord: commit: %w", err)
	}
	return nil
}

// LoadCustomer returns prior knowledge about a caller from earlier calls:
// the most recent call's mined lead fields become the notes injected into the
// dialogue prompt. A caller with no history yields a zero Customer.
func (s *PostgresSink) LoadCustomer(ctx context.Context, phone string) (dialog.Customer, error) {
	const q = `
		SELECT area, property_type, budget
		FROM   calls
		WHERE  caller_phone = $1 AND caller_phone <> ''
		ORDER  BY started_at DESC
		LIMIT  1`

	var area, propertyType, budget string
	err := s.pool.QueryRow(ctx, q, phone).Scan(&area, &propertyType, &budget)
	if err == pgx.ErrNoRows {
		return dialog.Customer{}, nil
	}
	if err != nil {
		return dialog.Customer{}, fmt.Errorf("callrecord: load customer: %w", err)
	}

	notes := ""
	if area != "" {
		notes += "אזור מבוקש: " + area + ". "
	}
	if propertyType != "" {
		notes += "סוג נכס: " + propertyType + ". "
	}
	if budget != "" {
		notes += "תקציב: " + budget + "."
	}
	return dialog.Customer{Phone: phone, Notes: notes}, nil
}

// Ping probes database connectivity, for readiness checks.
func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}

var _ Sink = (*PostgresSink)(nil)
