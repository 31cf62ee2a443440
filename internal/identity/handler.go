package identity

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type confirmRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// ConfirmUser resolves the display name behind a phone number so a sender can
// check the receiver before transferring.
func (h *Handler) ConfirmUser(c *fiber.Ctx) error {
	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	name, err := h.service.DisplayName(c.UserContext(), req.PhoneNumber)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{"message": "user not found"})
		}
		h.logger.Error("confirm user", slog.Any("error", err))
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"message": "internal error"})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "user found", "name": name})
}

type registerRequest struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

// Register adds a directory entry. No credentials are stored.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.service.Register(c.UserContext(), req.Name, req.PhoneNumber)
	switch {
	case errors.Is(err, ErrInvalidUser):
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	case errors.Is(err, ErrAlreadyExists):
		return c.Status(http.StatusConflict).JSON(fiber.Map{"message": "phone number already registered"})
	case err != nil:
		h.logger.Error("register user", slog.Any("error", err))
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"message": "internal error"})
	}
	h.logger.Info("identity.register completed", slog.String("user_id", user.ID))
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"id":           user.ID,
		"name":         user.Name,
		"phone_number": user.Phone,
	})
}
