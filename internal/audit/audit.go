// Package audit keeps the append-only log of completed transfers.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/walletmesh/walletmesh/internal/ledger"
)

// ErrInvalidRecord is returned when a record misses its request ID, parties or amount.
var ErrInvalidRecord = errors.New("invalid transfer record")

// Entry types as seen from the queried phone number.
const (
	TypeSent     = "sent"
	TypeReceived = "received"
)

// Record is an immutable transfer audit entry. RequestID is unique.
type Record struct {
	ID         string
	RequestID  string
	Sender     ledger.AccountKey
	Receiver   ledger.AccountKey
	Amount     decimal.Decimal
	OccurredAt time.Time
	RecordedAt time.Time
}

// Validate checks the fields every record must carry.
func (r Record) Validate() error {
	if r.RequestID == "" || !r.Sender.Valid() || !r.Receiver.Valid() || !r.Amount.IsPositive() {
		return ErrInvalidRecord
	}
	return nil
}

// Entry is one line of a phone number's transfer history.
type Entry struct {
	Amount          decimal.Decimal `json:"amount"`
	TransactionTime time.Time       `json:"transaction_time"`
	Type            string          `json:"type"`
	Description     string          `json:"description"`
}

// Store persists transfer records.
type Store interface {
	// Append writes a record. Appending a request ID that already exists is a
	// no-op, so a retried append never duplicates an entry.
	Append(ctx context.Context, rec Record) error
	// History lists records involving phone, newest first.
	History(ctx context.Context, phone string) ([]Entry, error)
}

func entryFor(phone string, rec Record) Entry {
	e := Entry{Amount: rec.Amount, TransactionTime: rec.OccurredAt}
	if rec.Sender.Phone == phone {
		e.Type = TypeSent
		e.Description = "Transfer to " + rec.Receiver.Owner
	} else {
		e.Type = TypeReceived
		e.Description = "Transfer from " + rec.Sender.Owner
	}
	return e
}
