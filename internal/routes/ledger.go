package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/walletmesh/walletmesh/internal/ledger"
)

// RegisterLedgerRoutes wires the ledger endpoints.
func RegisterLedgerRoutes(r fiber.Router, h *ledger.Handler) {
	r.Post("/api/transfer-between-accounts", h.Transfer)
	r.Post("/charge", h.Deposit)
	r.Post("/get-balance", h.Balance)
}
