package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var (
	alice = AccountKey{Owner: "alice", Phone: "0901"}
	bob   = AccountKey{Owner: "bob", Phone: "0902"}
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestInMemory_TransferMovesFunds(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, alice, dec("500"))
	SeedBalance(s, bob, dec("0"))

	res, err := s.Transfer(ctx, TransferInput{RequestID: "r1", Sender: alice, Receiver: bob, Amount: dec("200")})
	require.NoError(t, err)

	assert.True(t, res.SenderRemaining.Equal(dec("300")), "sender remaining %s", res.SenderRemaining)
	assert.True(t, res.ReceiverNewBalance.Equal(dec("200")), "receiver balance %s", res.ReceiverNewBalance)
	assert.False(t, res.Replayed)

	a, _ := s.Balance(ctx, alice)
	b, _ := s.Balance(ctx, bob)
	assert.True(t, a.Add(b).Equal(dec("500")), "conservation violated: %s + %s", a, b)
}

func TestInMemory_InsufficientFundsLeavesBalancesUnchanged(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, alice, dec("100"))
	SeedBalance(s, bob, dec("100"))

	_, err := s.Transfer(ctx, TransferInput{RequestID: "r1", Sender: alice, Receiver: bob, Amount: dec("150")})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	a, _ := s.Balance(ctx, alice)
	b, _ := s.Balance(ctx, bob)
	assert.Equal(t, "100", a.String())
	assert.Equal(t, "100", b.String())
}

func TestInMemory_UnknownReceiverIsCreated(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, alice, dec("50.25"))
	carol := AccountKey{Owner: "carol", Phone: "0903"}
	require.False(t, Exists(s, carol))

	res, err := s.Transfer(ctx, TransferInput{Sender: alice, Receiver: carol, Amount: dec("20.10")})
	require.NoError(t, err)

	assert.True(t, Exists(s, carol))
	assert.True(t, res.ReceiverNewBalance.Equal(dec("20.10")))
	assert.True(t, res.SenderRemaining.Equal(dec("30.15")))
	assert.NotEmpty(t, res.RequestID)
}

func TestInMemory_ValidationErrors(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, alice, dec("100"))

	tests := []struct {
		name string
		in   TransferInput
		want error
	}{
		{"zero amount", TransferInput{Sender: alice, Receiver: bob, Amount: dec("0")}, ErrInvalidAmount},
		{"negative amount", TransferInput{Sender: alice, Receiver: bob, Amount: dec("-5")}, ErrInvalidAmount},
		{"missing phone", TransferInput{Sender: AccountKey{Owner: "alice"}, Receiver: bob, Amount: dec("1")}, ErrInvalidAccount},
		{"same account", TransferInput{Sender: alice, Receiver: alice, Amount: dec("1")}, ErrSameAccount},
		{"unknown sender", TransferInput{Sender: AccountKey{Owner: "zed", Phone: "1"}, Receiver: bob, Amount: dec("1")}, ErrSenderNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Transfer(ctx, tt.in)
			require.ErrorIs(t, err, tt.want)
		})
	}

	a, _ := s.Balance(ctx, alice)
	assert.Equal(t, "100", a.String())
	assert.False(t, Exists(s, bob))
}

func TestInMemory_ReplayDoesNotMoveFundsTwice(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, alice, dec("500"))

	in := TransferInput{RequestID: "dup", Sender: alice, Receiver: bob, Amount: dec("200")}
	first, err := s.Transfer(ctx, in)
	require.NoError(t, err)

	second, err := s.Transfer(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.True(t, second.SenderRemaining.Equal(first.SenderRemaining))
	assert.True(t, second.ReceiverNewBalance.Equal(first.ReceiverNewBalance))

	a, _ := s.Balance(ctx, alice)
	assert.Equal(t, "300", a.String())

	in.Amount = dec("10")
	_, err = s.Transfer(ctx, in)
	require.ErrorIs(t, err, ErrRequestConflict)
}

func TestInMemory_RejectedRequestCanBeRetried(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, alice, dec("10"))

	in := TransferInput{RequestID: "retry-me", Sender: alice, Receiver: bob, Amount: dec("50")}
	_, err := s.Transfer(ctx, in)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = s.Deposit(ctx, alice, dec("40"))
	require.NoError(t, err)

	res, err := s.Transfer(ctx, in)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.True(t, res.SenderRemaining.IsZero())
}

func TestInMemory_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, alice, dec("1000"))

	const workers = 25
	amount := dec("70")

	var (
		mu        sync.Mutex
		succeeded int
	)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			_, err := s.Transfer(ctx, TransferInput{
				RequestID: fmt.Sprintf("tx-%d", i),
				Sender:    alice,
				Receiver:  bob,
				Amount:    amount,
			})
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
				return nil
			case errors.Is(err, ErrInsufficientFunds):
				return nil
			default:
				return err
			}
		})
	}
	require.NoError(t, g.Wait())

	// 1000 / 70 = 14 transfers fit.
	assert.Equal(t, 14, succeeded)

	a, _ := s.Balance(ctx, alice)
	b, _ := s.Balance(ctx, bob)
	assert.False(t, a.IsNegative())
	assert.True(t, a.Equal(dec("20")), "alice %s", a)
	assert.True(t, a.Add(b).Equal(dec("1000")))
}

func TestInMemory_OppositeDirectionTransfersDoNotDeadlock(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, alice, dec("1000"))
	SeedBalance(s, bob, dec("1000"))

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		i := i
		g.Go(func() error {
			from, to := alice, bob
			if i%2 == 1 {
				from, to = bob, alice
			}
			_, err := s.Transfer(ctx, TransferInput{RequestID: fmt.Sprintf("x-%d", i), Sender: from, Receiver: to, Amount: dec("3.33")})
			return err
		})
	}
	require.NoError(t, g.Wait())

	a, _ := s.Balance(ctx, alice)
	b, _ := s.Balance(ctx, bob)
	assert.True(t, a.Equal(dec("1000")), "alice %s", a)
	assert.True(t, b.Equal(dec("1000")), "bob %s", b)
}

func TestInMemory_ConcurrentDuplicateRequestAppliesOnce(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, alice, dec("100"))

	in := TransferInput{RequestID: "same", Sender: alice, Receiver: bob, Amount: dec("10")}
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := s.Transfer(ctx, in)
			return err
		})
	}
	require.NoError(t, g.Wait())

	a, _ := s.Balance(ctx, alice)
	assert.Equal(t, "90", a.String())
}

func TestInMemory_RepeatedAdditionsDoNotDrift(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		_, err := s.Deposit(ctx, alice, dec("0.1"))
		require.NoError(t, err)
	}
	a, err := s.Balance(ctx, alice)
	require.NoError(t, err)
	assert.True(t, a.Equal(dec("100")), "got %s", a)
}

func TestInMemory_BalanceOfUnknownAccountIsZero(t *testing.T) {
	s := NewInMemory()
	b, err := s.Balance(context.Background(), bob)
	require.NoError(t, err)
	assert.True(t, b.IsZero())
}

func TestInMemory_BalanceLookupDoesNotCreateRows(t *testing.T) {
	s := NewInMemory()
	for i := 0; i < 100; i++ {
		_, err := s.Balance(context.Background(), AccountKey{Owner: "ghost", Phone: fmt.Sprintf("09%03d", i)})
		require.NoError(t, err)
	}
	mem := s.(*inMemoryStore)
	mem.mu.Lock()
	defer mem.mu.Unlock()
	assert.Empty(t, mem.rows)
}
