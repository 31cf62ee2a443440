package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/walletmesh/walletmesh/internal/audit"
	"github.com/walletmesh/walletmesh/internal/identity"
	"github.com/walletmesh/walletmesh/internal/transfer"
)

// RegisterTransferRoutes wires the transfer saga and history endpoints. The
// given middleware runs on /transfer only.
func RegisterTransferRoutes(r fiber.Router, transfers *transfer.Handler, history *audit.Handler, mw ...fiber.Handler) {
	handlers := append(append([]fiber.Handler{}, mw...), transfers.Transfer)
	r.Post("/transfer", handlers...)
	r.Post("/get-transaction-history", history.History)
}

// RegisterIdentityRoutes wires receiver confirmation and directory registration.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/confirm-user", h.ConfirmUser)
	r.Post("/register", h.Register)
}
