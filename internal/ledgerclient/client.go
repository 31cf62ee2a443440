// Package ledgerclient calls the ledger service's atomic transfer endpoint.
package ledgerclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/walletmesh/walletmesh/internal/ledger"
	"github.com/walletmesh/walletmesh/internal/metrics"
)

const transferPath = "/api/transfer-between-accounts"

// ErrUnexpectedResponse is returned for ledger replies the client cannot map
// to a known outcome. It is not retryable.
var ErrUnexpectedResponse = errors.New("unexpected ledger response")

// Config holds connection settings for the ledger service.
type Config struct {
	BaseURL string
	// Timeout bounds a single HTTP call. A shorter context deadline wins.
	Timeout time.Duration
	// BreakerFailures is the number of consecutive unavailable responses that
	// opens the breaker.
	BreakerFailures uint32
	// BreakerOpenTimeout is how long the breaker stays open before probing.
	BreakerOpenTimeout time.Duration
}

// Client implements the orchestrator's view of the ledger over HTTP.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *fiber.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// New builds a client. The returned client is safe for concurrent use.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    &fiber.Client{},
		logger:  logger,
	}

	failures := cfg.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Business rejections prove the ledger is reachable.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ledger.ErrStoreUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ledger circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			m.SetBreakerState(name, breakerGauge(to))
		},
	})
	m.SetBreakerState("ledger", breakerGauge(gobreaker.StateClosed))

	return c
}

// Transfer asks the ledger to move funds. Transport failures, 5xx replies and
// an open breaker are reported as ledger.ErrStoreUnavailable; business
// rejections are decoded back into the ledger sentinels.
func (c *Client) Transfer(ctx context.Context, in ledger.TransferInput) (ledger.TransferResult, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, in)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ledger.TransferResult{}, unavailable("circuit breaker", err)
		}
		return ledger.TransferResult{}, err
	}
	return out.(ledger.TransferResult), nil
}

// BreakerState reports the current breaker state for health output.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) post(ctx context.Context, in ledger.TransferInput) (ledger.TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return ledger.TransferResult{}, unavailable("post transfer", err)
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ledger.TransferResult{}, unavailable("post transfer", context.DeadlineExceeded)
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	agent := c.http.Post(c.baseURL + transferPath)
	agent.Set("X-Request-ID", in.RequestID)
	agent.Timeout(timeout)
	agent.JSON(ledger.TransferRequest{
		RequestID:       in.RequestID,
		FromUser:        in.Sender.Owner,
		FromPhoneNumber: in.Sender.Phone,
		ToUser:          in.Receiver.Owner,
		ToPhoneNumber:   in.Receiver.Phone,
		Amount:          decimal.NewNullDecimal(in.Amount),
	})

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return ledger.TransferResult{}, unavailable("post transfer", errors.Join(errs...))
	}

	if status == http.StatusOK {
		var resp ledger.TransferResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return ledger.TransferResult{}, fmt.Errorf("%w: decode success body: %w", ErrUnexpectedResponse, err)
		}
		return ledger.TransferResult{
			RequestID:          resp.RequestID,
			SenderRemaining:    resp.SenderRemaining,
			ReceiverNewBalance: resp.ReceiverNewBalance,
			Replayed:           resp.Replayed,
		}, nil
	}

	var failure ledger.FailureResponse
	_ = json.Unmarshal(body, &failure)
	return ledger.TransferResult{}, decodeFailure(status, failure)
}

func decodeFailure(status int, f ledger.FailureResponse) error {
	switch f.Code {
	case ledger.CodeInvalidAmount:
		return ledger.ErrInvalidAmount
	case ledger.CodeMissingParameters:
		return ledger.ErrInvalidAccount
	case ledger.CodeSameAccount:
		return ledger.ErrSameAccount
	case ledger.CodeSenderNotFound:
		return ledger.ErrSenderNotFound
	case ledger.CodeInsufficientFunds:
		return ledger.ErrInsufficientFunds
	case ledger.CodeRequestConflict:
		return ledger.ErrRequestConflict
	case ledger.CodeInvalidRequest:
		return ledger.ErrRejectedByStore
	}

	if status >= http.StatusInternalServerError {
		return unavailable("ledger replied", fmt.Errorf("status %d: %s", status, f.Message))
	}
	return fmt.Errorf("%w: status %d: %s", ErrUnexpectedResponse, status, f.Message)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ledger.ErrStoreUnavailable, op, err)
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
