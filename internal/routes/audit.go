package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/cardvault/bankcards/internal/audit"
	"github.com/cardvault/bankcards/internal/banking"
	"github.com/cardvault/bankcards/internal/identity"
	"github.com/cardvault/bankcards/internal/middleware"
	"github.com/cardvault/bankcards/internal/request"
)

// RegisterAuditRoutes exposes the card audit trail. Holders may read the
// history of their own cards; operators may read any card or user.
func RegisterAuditRoutes(r fiber.Router, cards *banking.Service, trail audit.Repository) {
	r.Get("/audit/cards/:cardId", func(c *fiber.Ctx) error {
		p, ok := identity.PrincipalFrom(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, "unauthorized")
		}
		cardID := c.Params("cardId")
		if err := cards.AuthorizeCardAudit(c.UserContext(), p, cardID); err != nil {
			return banking.HTTPError(c, err)
		}
		page, size := request.PageQuery(c)
		res, err := trail.ListByCard(c.UserContext(), cardID, audit.Page{Number: page, Size: size})
		if err != nil {
			return err
		}
		return c.Status(http.StatusOK).JSON(res)
	})

	r.Get("/audit/users/:userId", middleware.RequireAdmin(), func(c *fiber.Ctx) error {
		page, size := request.PageQuery(c)
		res, err := trail.ListByUser(c.UserContext(), c.Params("userId"), audit.Page{Number: page, Size: size})
		if err != nil {
			return err
		}
		return c.Status(http.StatusOK).JSON(res)
	})
}
