package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned for non-positive or malformed amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAccount is returned when an account key is missing its owner or phone.
	ErrInvalidAccount = errors.New("invalid account")

	// ErrSameAccount rejects transfers whose sender and receiver are the same balance row.
	ErrSameAccount = errors.New("sender and receiver must differ")

	// ErrSenderNotFound occurs when the sender has no balance row to debit.
	ErrSenderNotFound = errors.New("sender not found")

	// ErrInsufficientFunds occurs when the sender balance cannot cover the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrRequestConflict indicates a request ID was reused with different transfer parameters.
	ErrRequestConflict = errors.New("request id already used for a different transfer")

	// ErrRejectedByStore wraps data or constraint errors raised by the store.
	// Retrying the same input fails the same way.
	ErrRejectedByStore = errors.New("request rejected by ledger store")

	// ErrStoreUnavailable wraps connectivity and transaction failures. It is the only
	// ledger error a caller may retry.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)

// Range of a Postgres NUMERIC. Amounts outside it never reach the store.
const (
	maxAmountScale         = 16383
	maxAmountIntegerDigits = 131072
)

// ValidAmount reports whether d is positive and fits the NUMERIC columns that
// hold balances.
func ValidAmount(d decimal.Decimal) bool {
	if !d.IsPositive() {
		return false
	}
	exp := int64(d.Exponent())
	if exp < -maxAmountScale {
		return false
	}
	return int64(d.NumDigits())+exp <= maxAmountIntegerDigits
}

// AccountKey identifies a balance row.
type AccountKey struct {
	Owner string
	Phone string
}

// Valid reports whether both parts of the key are present.
func (k AccountKey) Valid() bool {
	return strings.TrimSpace(k.Owner) != "" && strings.TrimSpace(k.Phone) != ""
}

// Less orders keys by owner then phone. Row locks are always taken in this order.
func (k AccountKey) Less(other AccountKey) bool {
	if k.Owner != other.Owner {
		return k.Owner < other.Owner
	}
	return k.Phone < other.Phone
}

func (k AccountKey) String() string {
	return k.Owner + "/" + k.Phone
}

// TransferInput describes one atomic debit/credit.
type TransferInput struct {
	RequestID string
	Sender    AccountKey
	Receiver  AccountKey
	Amount    decimal.Decimal
}

// TransferResult captures the post-transfer balances.
type TransferResult struct {
	RequestID          string
	SenderRemaining    decimal.Decimal
	ReceiverNewBalance decimal.Decimal
	// Replayed is set when RequestID was already processed and no mutation happened.
	Replayed bool
}

// Store defines the contract implemented by ledger backends (e.g. Postgres).
type Store interface {
	Transfer(ctx context.Context, in TransferInput) (TransferResult, error)
	Balance(ctx context.Context, key AccountKey) (decimal.Decimal, error)
	Deposit(ctx context.Context, key AccountKey, amount decimal.Decimal) (decimal.Decimal, error)
}

// Validate checks the parts of a transfer that do not need the store.
func (in TransferInput) Validate() error {
	if !ValidAmount(in.Amount) {
		return ErrInvalidAmount
	}
	if !in.Sender.Valid() || !in.Receiver.Valid() {
		return ErrInvalidAccount
	}
	if in.Sender == in.Receiver {
		return ErrSameAccount
	}
	return nil
}

// sameTransfer reports whether a stored request matches the incoming one.
func sameTransfer(a, b TransferInput) bool {
	return a.Sender == b.Sender && a.Receiver == b.Receiver && a.Amount.Equal(b.Amount)
}

// lockOrder returns the two participants sorted by key.
func lockOrder(a, b AccountKey) (AccountKey, AccountKey) {
	if b.Less(a) {
		return b, a
	}
	return a, b
}
