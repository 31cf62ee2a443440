package ledger

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Error codes carried in failure responses so remote callers can recover the
// sentinel error without parsing messages.
const (
	CodeMissingParameters = "missing_parameters"
	CodeInvalidAmount     = "invalid_amount"
	CodeSameAccount       = "same_account"
	CodeSenderNotFound    = "sender_not_found"
	CodeInsufficientFunds = "insufficient_funds"
	CodeRequestConflict   = "request_conflict"
	CodeInvalidRequest    = "invalid_request"
	CodeInternal          = "internal"
)

// Handler exposes ledger endpoints.
type Handler struct {
	store  Store
	logger *slog.Logger
}

// NewHandler constructs a ledger handler.
func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// TransferRequest is the wire form of an atomic transfer.
type TransferRequest struct {
	RequestID       string              `json:"request_id"`
	FromUser        string              `json:"from_user"`
	FromPhoneNumber string              `json:"from_phone_number"`
	ToUser          string              `json:"to_user"`
	ToPhoneNumber   string              `json:"to_phone_number"`
	Amount          decimal.NullDecimal `json:"amount"`
}

// TransferResponse is returned by a successful transfer.
type TransferResponse struct {
	Success            bool            `json:"success"`
	RequestID          string          `json:"request_id"`
	SenderRemaining    decimal.Decimal `json:"sender_remaining"`
	ReceiverNewBalance decimal.Decimal `json:"receiver_new_balance"`
	Replayed           bool            `json:"replayed"`
}

// FailureResponse is returned for every rejected or failed ledger call.
type FailureResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type accountRequest struct {
	Username    string              `json:"username"`
	PhoneNumber string              `json:"phone_number"`
	Amount      decimal.NullDecimal `json:"amount"`
}

// Transfer moves funds between two accounts in one store transaction.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidAmount, "invalid request body")
	}
	if req.FromUser == "" || req.FromPhoneNumber == "" || req.ToUser == "" || req.ToPhoneNumber == "" || !req.Amount.Valid {
		return fail(c, http.StatusBadRequest, CodeMissingParameters, "missing parameters")
	}

	res, err := h.store.Transfer(c.UserContext(), TransferInput{
		RequestID: req.RequestID,
		Sender:    AccountKey{Owner: req.FromUser, Phone: req.FromPhoneNumber},
		Receiver:  AccountKey{Owner: req.ToUser, Phone: req.ToPhoneNumber},
		Amount:    req.Amount.Decimal,
	})
	if err != nil {
		return h.failFor(c, err)
	}

	return c.Status(http.StatusOK).JSON(TransferResponse{
		Success:            true,
		RequestID:          res.RequestID,
		SenderRemaining:    res.SenderRemaining,
		ReceiverNewBalance: res.ReceiverNewBalance,
		Replayed:           res.Replayed,
	})
}

// Deposit credits an account, creating it when absent.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req accountRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidAmount, "invalid request body")
	}
	if req.Username == "" || req.PhoneNumber == "" || !req.Amount.Valid {
		return fail(c, http.StatusBadRequest, CodeMissingParameters, "missing parameters")
	}
	balance, err := h.store.Deposit(c.UserContext(), AccountKey{Owner: req.Username, Phone: req.PhoneNumber}, req.Amount.Decimal)
	if err != nil {
		return h.failFor(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message": "deposit successful",
		"balance": balance,
	})
}

// Balance returns the current balance of an account.
func (h *Handler) Balance(c *fiber.Ctx) error {
	var req accountRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeMissingParameters, "invalid request body")
	}
	balance, err := h.store.Balance(c.UserContext(), AccountKey{Owner: req.Username, Phone: req.PhoneNumber})
	if err != nil {
		return h.failFor(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"balance": balance})
}

func (h *Handler) failFor(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return fail(c, http.StatusBadRequest, CodeInvalidAmount, "invalid amount")
	case errors.Is(err, ErrInvalidAccount):
		return fail(c, http.StatusBadRequest, CodeMissingParameters, "missing parameters")
	case errors.Is(err, ErrSameAccount):
		return fail(c, http.StatusBadRequest, CodeSameAccount, err.Error())
	case errors.Is(err, ErrInsufficientFunds):
		return fail(c, http.StatusBadRequest, CodeInsufficientFunds, "insufficient funds")
	case errors.Is(err, ErrSenderNotFound):
		return fail(c, http.StatusNotFound, CodeSenderNotFound, "sender not found")
	case errors.Is(err, ErrRejectedByStore):
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "request rejected by ledger store")
	case errors.Is(err, ErrRequestConflict):
		return fail(c, http.StatusConflict, CodeRequestConflict, err.Error())
	default:
		if h.logger != nil {
			h.logger.Error("ledger operation failed", slog.String("path", c.Path()), slog.Any("error", err))
		}
		return fail(c, http.StatusInternalServerError, CodeInternal, "internal ledger error")
	}
}

func fail(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(FailureResponse{Success: false, Message: message, Code: code})
}
