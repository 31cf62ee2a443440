package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore keeps transfer records in the transfer_records table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a Postgres-backed audit log.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts rec unless its request ID was already recorded.
func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	id := uuid.New()
	if rec.ID != "" {
		parsed, err := uuid.Parse(rec.ID)
		if err != nil {
			return fmt.Errorf("parse record id: %w", err)
		}
		id = parsed
	}
	occurred := rec.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO transfer_records (id, request_id, sender_owner, sender_phone, receiver_owner, receiver_phone, amount, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8)
ON CONFLICT (request_id) DO NOTHING`,
		id, rec.RequestID, rec.Sender.Owner, rec.Sender.Phone, rec.Receiver.Owner, rec.Receiver.Phone,
		rec.Amount.String(), occurred.UTC())
	if err != nil {
		return fmt.Errorf("insert transfer record: %w", err)
	}
	return nil
}

// History returns the records sent or received by phone, newest first.
func (s *PostgresStore) History(ctx context.Context, phone string) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
SELECT sender_owner, sender_phone, receiver_owner, receiver_phone, amount::text, occurred_at
FROM transfer_records
WHERE sender_phone = $1 OR receiver_phone = $1
ORDER BY occurred_at DESC, recorded_at DESC`, phone)
	if err != nil {
		return nil, fmt.Errorf("query transfer history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			rec       Record
			amountRaw string
		)
		if err := rows.Scan(&rec.Sender.Owner, &rec.Sender.Phone, &rec.Receiver.Owner, &rec.Receiver.Phone,
			&amountRaw, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan transfer record: %w", err)
		}
		if rec.Amount, err = decimal.NewFromString(amountRaw); err != nil {
			return nil, fmt.Errorf("parse stored amount %q: %w", amountRaw, err)
		}
		rec.OccurredAt = rec.OccurredAt.UTC()
		entries = append(entries, entryFor(phone, rec))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer history: %w", err)
	}
	return entries, nil
}
