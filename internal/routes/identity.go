package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cardvault/bankcards/internal/identity"
	"github.com/cardvault/bankcards/internal/middleware"
)

// RegisterIdentityRoutes wires the caller's profile and directory
// administration. Static paths are registered before /users/:id.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	admin := middleware.RequireAdmin()

	r.Get("/users/me", h.Me)
	r.Get("/users/paged", admin, h.ListPaged)
	r.Get("/users", admin, h.List)
	r.Post("/users", admin, h.Create)
	r.Get("/users/:id", h.Get)
	r.Put("/users/:id", h.Update)
	r.Delete("/users/:id", admin, h.Delete)
}
