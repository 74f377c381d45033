package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wagate/pkg/db"
)

// Status is the recorded outcome of one delivery attempt.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
)

// ErrNoRecord marks status lookups for destinations with no attempts.
var ErrNoRecord = errors.New("no message record")

// Record is one delivery attempt. Records are append-only: a retried job
// produces a new record per attempt, never an update.
type Record struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	SessionID  string     `db:"session_id" json:"sessionId"`
	To         string     `db:"to_addr" json:"to"`
	Body       string     `db:"body" json:"body"`
	Status     Status     `db:"status" json:"status"`
	ProviderID *string    `db:"provider_id" json:"providerId,omitempty"`
	SentAt     *time.Time `db:"sent_at" json:"sentAt"`
	Error      *string    `db:"error" json:"error"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
}

// Ledger is the append-only store of delivery attempts.
type Ledger struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Ledger, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &Ledger{pool: pool}, nil
}

// Record appends one attempt and returns its id.
func (l *Ledger) Record(ctx context.Context, rec Record) (uuid.UUID, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	var id uuid.UUID
	err := db.Get(ctx, l.pool, &id, `
		INSERT INTO messages (id, session_id, to_addr, body, status, provider_id, sent_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		rec.ID, rec.SessionID, rec.To, rec.Body, string(rec.Status), rec.ProviderID, rec.SentAt, rec.Error)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

const recordColumns = `id, session_id, to_addr, body, status, provider_id, sent_at, error, created_at, updated_at`

// LatestStatusFor returns the most recent attempt for a destination, by
// creation time, or ErrNoRecord when none exists.
func (l *Ledger) LatestStatusFor(ctx context.Context, to string) (*Record, error) {
	var rec Record
	err := db.Get(ctx, l.pool, &rec, `
		SELECT `+recordColumns+`
		FROM messages
		WHERE to_addr = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, to)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNoRecord
	case err != nil:
		return nil, err
	}
	return &rec, nil
}

// AttemptsFor returns every attempt for a destination, newest first.
func (l *Ledger) AttemptsFor(ctx context.Context, to string) ([]Record, error) {
	var recs []Record
	err := db.Select(ctx, l.pool, &recs, `
		SELECT `+recordColumns+`
		FROM messages
		WHERE to_addr = $1
		ORDER BY created_at DESC, id DESC`, to)
	if err != nil {
		return nil, err
	}
	return recs, nil
}
