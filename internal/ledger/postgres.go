package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore keeps balance rows in PostgreSQL and moves money inside a single
// store transaction.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store around an owned pool handle.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Balance returns the balance for the key. Unknown keys read as zero.
func (s *PostgresStore) Balance(ctx context.Context, key AccountKey) (decimal.Decimal, error) {
	if !key.Valid() {
		return decimal.Zero, ErrInvalidAccount
	}
	var raw string
	err := s.db.QueryRow(ctx, `SELECT amount::text FROM balances WHERE owner = $1 AND phone = $2`,
		key.Owner, key.Phone).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, unavailable("read balance", err)
	}
	return parseAmount(raw)
}

// Deposit credits the key, creating the row on first use.
func (s *PostgresStore) Deposit(ctx context.Context, key AccountKey, amount decimal.Decimal) (decimal.Decimal, error) {
	if !ValidAmount(amount) {
		return decimal.Zero, ErrInvalidAmount
	}
	if !key.Valid() {
		return decimal.Zero, ErrInvalidAccount
	}
	var raw string
	if err := s.db.QueryRow(ctx, upsertCreditSQL, key.Owner, key.Phone, amount.String()).Scan(&raw); err != nil {
		return decimal.Zero, unavailable("deposit", err)
	}
	return parseAmount(raw)
}

const upsertCreditSQL = `
INSERT INTO balances (owner, phone, amount)
VALUES ($1, $2, $3::numeric)
ON CONFLICT (owner, phone)
DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = NOW()
RETURNING amount::text`

// Transfer debits the sender and credits the receiver atomically. Both rows are
// locked in key order before either is mutated.
func (s *PostgresStore) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if err := in.Validate(); err != nil {
		return TransferResult{}, err
	}
	if in.RequestID == "" {
		in.RequestID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TransferResult{}, unavailable("begin transaction", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	claimed, err := claimRequest(ctx, tx, in)
	if err != nil {
		return TransferResult{}, err
	}
	if !claimed {
		return replayRequest(ctx, tx, in)
	}

	first, second := lockOrder(in.Sender, in.Receiver)
	var senderBalance decimal.Decimal
	senderFound := false
	for _, key := range []AccountKey{first, second} {
		balance, found, err := lockBalance(ctx, tx, key)
		if err != nil {
			return TransferResult{}, err
		}
		if key == in.Sender {
			senderBalance, senderFound = balance, found
		}
	}

	if !senderFound {
		return TransferResult{}, ErrSenderNotFound
	}
	if senderBalance.LessThan(in.Amount) {
		return TransferResult{}, ErrInsufficientFunds
	}

	var senderRaw string
	if err := tx.QueryRow(ctx, `
UPDATE balances SET amount = amount - $3::numeric, updated_at = NOW()
WHERE owner = $1 AND phone = $2
RETURNING amount::text`, in.Sender.Owner, in.Sender.Phone, in.Amount.String()).Scan(&senderRaw); err != nil {
		return TransferResult{}, unavailable("debit sender", err)
	}

	var receiverRaw string
	if err := tx.QueryRow(ctx, upsertCreditSQL, in.Receiver.Owner, in.Receiver.Phone, in.Amount.String()).Scan(&receiverRaw); err != nil {
		return TransferResult{}, unavailable("credit receiver", err)
	}

	if _, err := tx.Exec(ctx, `
UPDATE processed_transfers SET sender_remaining = $2::numeric, receiver_new_balance = $3::numeric
WHERE request_id = $1`, in.RequestID, senderRaw, receiverRaw); err != nil {
		return TransferResult{}, unavailable("record transfer", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return TransferResult{}, unavailable("commit", err)
	}

	senderRemaining, err := parseAmount(senderRaw)
	if err != nil {
		return TransferResult{}, err
	}
	receiverNew, err := parseAmount(receiverRaw)
	if err != nil {
		return TransferResult{}, err
	}
	return TransferResult{RequestID: in.RequestID, SenderRemaining: senderRemaining, ReceiverNewBalance: receiverNew}, nil
}

// claimRequest inserts the processed-transfer row. A concurrent claim of the same
// ID blocks here until the other transaction finishes.
func claimRequest(ctx context.Context, tx pgx.Tx, in TransferInput) (bool, error) {
	tag, err := tx.Exec(ctx, `
INSERT INTO processed_transfers (request_id, sender_owner, sender_phone, receiver_owner, receiver_phone, amount)
VALUES ($1, $2, $3, $4, $5, $6::numeric)
ON CONFLICT (request_id) DO NOTHING`,
		in.RequestID, in.Sender.Owner, in.Sender.Phone, in.Receiver.Owner, in.Receiver.Phone, in.Amount.String())
	if err != nil {
		return false, unavailable("claim request", err)
	}
	return tag.RowsAffected() == 1, nil
}

func replayRequest(ctx context.Context, tx pgx.Tx, in TransferInput) (TransferResult, error) {
	var (
		stored                     TransferInput
		amountRaw, senderRaw, rcvd string
	)
	err := tx.QueryRow(ctx, `
SELECT sender_owner, sender_phone, receiver_owner, receiver_phone, amount::text,
       sender_remaining::text, receiver_new_balance::text
FROM processed_transfers WHERE request_id = $1`, in.RequestID).Scan(
		&stored.Sender.Owner, &stored.Sender.Phone, &stored.Receiver.Owner, &stored.Receiver.Phone,
		&amountRaw, &senderRaw, &rcvd)
	if err != nil {
		return TransferResult{}, unavailable("load processed request", err)
	}
	if stored.Amount, err = parseAmount(amountRaw); err != nil {
		return TransferResult{}, err
	}
	if !sameTransfer(stored, in) {
		return TransferResult{}, ErrRequestConflict
	}

	res := TransferResult{RequestID: in.RequestID, Replayed: true}
	if res.SenderRemaining, err = parseAmount(senderRaw); err != nil {
		return TransferResult{}, err
	}
	if res.ReceiverNewBalance, err = parseAmount(rcvd); err != nil {
		return TransferResult{}, err
	}
	return res, nil
}

func lockBalance(ctx context.Context, tx pgx.Tx, key AccountKey) (decimal.Decimal, bool, error) {
	var raw string
	err := tx.QueryRow(ctx, `SELECT amount::text FROM balances WHERE owner = $1 AND phone = $2 FOR UPDATE`,
		key.Owner, key.Phone).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, unavailable("lock balance", err)
	}
	balance, err := parseAmount(raw)
	if err != nil {
		return decimal.Zero, false, err
	}
	return balance, true, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse stored amount %q: %w", raw, err)
	}
	return d, nil
}

const (
	numericOutOfRange         = "22003"
	invalidTextRepresentation = "22P02"
)

// unavailable classifies a store failure. Data exceptions (SQLSTATE class 22)
// and integrity violations (class 23) depend on the input, not on the
// connection, so they are never reported as retryable.
func unavailable(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == numericOutOfRange, pgErr.Code == invalidTextRepresentation:
			return fmt.Errorf("%w: %s: %w", ErrInvalidAmount, op, err)
		case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"):
			return fmt.Errorf("%w: %s: %w", ErrRejectedByStore, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
