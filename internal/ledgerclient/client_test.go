package ledgerclient

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmesh/walletmesh/internal/ledger"
	"github.com/walletmesh/walletmesh/internal/logging"
)

var (
	alice = ledger.AccountKey{Owner: "alice", Phone: "0901"}
	bob   = ledger.AccountKey{Owner: "bob", Phone: "0902"}
)

// serve starts app on a loopback port and returns its base URL.
func serve(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "http://" + ln.Addr().String()
}

func ledgerServer(t *testing.T, store ledger.Store) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	h := ledger.NewHandler(store, logging.Discard())
	app.Post(transferPath, h.Transfer)
	return serve(t, app)
}

func newClient(url string) *Client {
	return New(Config{
		BaseURL:            url,
		Timeout:            2 * time.Second,
		BreakerFailures:    2,
		BreakerOpenTimeout: time.Minute,
	}, logging.Discard(), nil)
}

func TestClientTransferSuccess(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedBalance(store, alice, decimal.NewFromInt(500))
	c := newClient(ledgerServer(t, store))

	res, err := c.Transfer(context.Background(), ledger.TransferInput{
		RequestID: "req-1", Sender: alice, Receiver: bob, Amount: decimal.NewFromInt(200),
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", res.RequestID)
	assert.True(t, res.SenderRemaining.Equal(decimal.NewFromInt(300)))
	assert.True(t, res.ReceiverNewBalance.Equal(decimal.NewFromInt(200)))

	again, err := c.Transfer(context.Background(), ledger.TransferInput{
		RequestID: "req-1", Sender: alice, Receiver: bob, Amount: decimal.NewFromInt(200),
	})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
}

func TestClientDecodesBusinessErrors(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedBalance(store, alice, decimal.NewFromInt(100))
	c := newClient(ledgerServer(t, store))
	ctx := context.Background()

	tests := []struct {
		name string
		in   ledger.TransferInput
		want error
	}{
		{"insufficient funds", ledger.TransferInput{Sender: alice, Receiver: bob, Amount: decimal.NewFromInt(150)}, ledger.ErrInsufficientFunds},
		{"unknown sender", ledger.TransferInput{Sender: ledger.AccountKey{Owner: "zed", Phone: "9"}, Receiver: bob, Amount: decimal.NewFromInt(1)}, ledger.ErrSenderNotFound},
		{"negative amount", ledger.TransferInput{Sender: alice, Receiver: bob, Amount: decimal.NewFromInt(-1)}, ledger.ErrInvalidAmount},
		{"same account", ledger.TransferInput{Sender: alice, Receiver: alice, Amount: decimal.NewFromInt(1)}, ledger.ErrSameAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Transfer(ctx, tt.in)
			require.ErrorIs(t, err, tt.want)
			assert.NotErrorIs(t, err, ledger.ErrStoreUnavailable)
		})
	}

	// Rejections are successes for the breaker.
	assert.Equal(t, "closed", c.BreakerState())
}

func TestClientServerErrorsOpenBreaker(t *testing.T) {
	var hits atomic.Int32
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Post(transferPath, func(c *fiber.Ctx) error {
		hits.Add(1)
		return c.Status(fiber.StatusInternalServerError).JSON(ledger.FailureResponse{Message: "boom", Code: ledger.CodeInternal})
	})
	c := newClient(serve(t, app))
	in := ledger.TransferInput{Sender: alice, Receiver: bob, Amount: decimal.NewFromInt(1)}

	for i := 0; i < 2; i++ {
		_, err := c.Transfer(context.Background(), in)
		require.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	}
	assert.Equal(t, "open", c.BreakerState())

	_, err := c.Transfer(context.Background(), in)
	require.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.EqualValues(t, 2, hits.Load(), "open breaker must not reach the server")
}

func TestClientTransportErrorIsUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := newClient("http://" + addr)
	_, err = c.Transfer(context.Background(), ledger.TransferInput{Sender: alice, Receiver: bob, Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ledger.ErrStoreUnavailable)
}

func TestClientCancelledContextIsUnavailable(t *testing.T) {
	c := newClient("http://127.0.0.1:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Transfer(ctx, ledger.TransferInput{Sender: alice, Receiver: bob, Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	require.ErrorIs(t, err, context.Canceled)
}

// lapsedContext reports a deadline in the past before its Done channel fires.
type lapsedContext struct {
	context.Context
}

func (lapsedContext) Deadline() (time.Time, bool) {
	return time.Now().Add(-time.Millisecond), true
}

func TestClientLapsedDeadlineSkipsRequest(t *testing.T) {
	var hits atomic.Int32
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Post(transferPath, func(c *fiber.Ctx) error {
		hits.Add(1)
		return c.SendStatus(fiber.StatusOK)
	})
	c := newClient(serve(t, app))

	_, err := c.Transfer(lapsedContext{context.Background()}, ledger.TransferInput{Sender: alice, Receiver: bob, Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, hits.Load())
}

func TestDecodeFailureStoreRejectionIsNotRetryable(t *testing.T) {
	err := decodeFailure(fiber.StatusBadRequest, ledger.FailureResponse{Code: ledger.CodeInvalidRequest})
	require.ErrorIs(t, err, ledger.ErrRejectedByStore)
	assert.NotErrorIs(t, err, ledger.ErrStoreUnavailable)
}

func TestDecodeFailureUnknownClientError(t *testing.T) {
	err := decodeFailure(fiber.StatusTeapot, ledger.FailureResponse{Message: "?"})
	require.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.NotErrorIs(t, err, ledger.ErrStoreUnavailable)
}
