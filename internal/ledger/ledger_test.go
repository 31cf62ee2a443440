package ledger

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestValidAmount(t *testing.T) {
	tests := []struct {
		amount string
		want   bool
	}{
		{"0.01", true},
		{"1e-16383", true},
		{"1e-16384", false},
		{"1e-20000", false},
		{"1e131071", true},
		{"1e131072", false},
		{"0", false},
		{"-5", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidAmount(dec(tt.amount)), tt.amount)
	}
}

func TestTransferInputValidateRange(t *testing.T) {
	in := TransferInput{Sender: alice, Receiver: bob, Amount: dec("1e-20000")}
	assert.ErrorIs(t, in.Validate(), ErrInvalidAmount)
}

func TestUnavailableClassifiesSQLState(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"numeric overflow", &pgconn.PgError{Code: "22003"}, ErrInvalidAmount},
		{"bad numeric text", &pgconn.PgError{Code: "22P02"}, ErrInvalidAmount},
		{"invalid byte sequence", &pgconn.PgError{Code: "22021"}, ErrRejectedByStore},
		{"check violation", &pgconn.PgError{Code: "23514"}, ErrRejectedByStore},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, ErrStoreUnavailable},
		{"connection lost", io.ErrUnexpectedEOF, ErrStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := unavailable("debit sender", fmt.Errorf("query: %w", tt.err))
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, errors.Is(err, tt.err))
			if tt.want != ErrStoreUnavailable {
				assert.NotErrorIs(t, err, ErrStoreUnavailable)
			}
		})
	}
}
