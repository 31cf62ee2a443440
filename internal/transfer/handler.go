package transfer

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/walletmesh/walletmesh/internal/ledger"
	"github.com/walletmesh/walletmesh/internal/middleware"
)

// IdempotencyKeyHeader carries the caller's request ID. It takes precedence
// over request_id in the body.
const IdempotencyKeyHeader = "Idempotency-Key"

// Handler exposes the transfer endpoint.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type transferRequest struct {
	RequestID           string              `json:"request_id"`
	FromUser            string              `json:"from_user"`
	ToUser              string              `json:"to_user"`
	FromPhoneNumber     string              `json:"from_phone_number"`
	ToPhoneNumber       string              `json:"to_phone_number"`
	Amount              decimal.NullDecimal `json:"amount"`
	TransactionRealtime *time.Time          `json:"transaction_realtime"`
}

// Details carries the post-transfer balances.
type Details struct {
	SenderRemaining    decimal.Decimal `json:"sender_remaining"`
	ReceiverNewBalance decimal.Decimal `json:"receiver_new_balance"`
}

// Response is the body of every /transfer reply.
type Response struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message,omitempty"`
	Warning   string   `json:"warning,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
	Details   *Details `json:"details,omitempty"`
}

// Transfer runs one transfer and maps its outcome to a status code.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var body transferRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(http.StatusBadRequest).JSON(Response{Message: "invalid request body"})
	}
	if !body.Amount.Valid {
		return c.Status(http.StatusBadRequest).JSON(Response{Message: ErrMissingParameters.Error()})
	}

	req := Request{
		RequestID: strings.TrimSpace(body.RequestID),
		Sender:    ledger.AccountKey{Owner: body.FromUser, Phone: body.FromPhoneNumber},
		Receiver:  ledger.AccountKey{Owner: body.ToUser, Phone: body.ToPhoneNumber},
		Amount:    body.Amount.Decimal,
	}
	if key := strings.TrimSpace(c.Get(IdempotencyKeyHeader)); key != "" {
		req.RequestID = key
	}
	if body.TransactionRealtime != nil {
		req.OccurredAt = *body.TransactionRealtime
	}

	res, err := h.service.Transfer(c.UserContext(), req)
	switch res.State {
	case StateCommitted:
		return c.Status(http.StatusOK).JSON(Response{
			Success:   res.Succeeded(),
			Message:   "Transfer successful",
			RequestID: res.RequestID,
			Details: &Details{
				SenderRemaining:    res.SenderRemaining,
				ReceiverNewBalance: res.ReceiverNewBalance,
			},
		})
	case StateDegradedSuccess:
		// A retry with the same key replays at the ledger and gets another
		// chance to write the audit record.
		middleware.SkipStore(c)
		return c.Status(http.StatusOK).JSON(Response{
			Success:   res.Succeeded(),
			Warning:   res.Warning,
			RequestID: res.RequestID,
		})
	case StateRejected:
		return c.Status(rejectionStatus(err)).JSON(Response{Message: err.Error(), RequestID: res.RequestID})
	default:
		return c.Status(http.StatusInternalServerError).JSON(Response{
			Message:   "transfer could not be confirmed, check the balance before retrying",
			RequestID: res.RequestID,
		})
	}
}

func rejectionStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrSenderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrRequestConflict):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
