package audit

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Handler serves transfer history.
type Handler struct {
	store  Store
	logger *slog.Logger
}

// NewHandler constructs a history handler.
func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

type historyRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// History lists the transfers sent or received by a phone number.
func (h *Handler) History(c *fiber.Ctx) error {
	var req historyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "phone_number is required"})
	}

	entries, err := h.store.History(c.UserContext(), phone)
	if err != nil {
		h.logger.Error("load transfer history", slog.String("phone", phone), slog.Any("error", err))
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "could not load history"})
	}
	return c.Status(http.StatusOK).JSON(entries)
}
