package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cardvault/bankcards/internal/banking"
	"github.com/cardvault/bankcards/internal/middleware"
)

// RegisterCardRoutes wires card lifecycle and transfer endpoints. Operator
// routes are gated by RequireAdmin; the service checks the role again.
func RegisterCardRoutes(r fiber.Router, h *banking.Handler, d Deps) {
	admin := middleware.RequireAdmin()

	cards := r.Group("/cards")
	cards.Post("/", admin, h.Create)
	cards.Get("/my", h.MyCards)
	cards.Get("/my/filtered", h.MyCardsFiltered)
	cards.Get("/admin/all", admin, h.AllCards)
	cards.Post("/transfers",
		middleware.RateLimit(d.Cache, "transfer", d.Cfg.TransferRate),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
		h.Transfer,
	)
	cards.Get("/:id", h.Get)
	cards.Patch("/:id/status", admin, h.UpdateStatus)
	cards.Post("/:id/request-block", h.RequestBlock)
	cards.Delete("/:id", admin, h.Delete)
}
