package banking

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/cardvault/bankcards/internal/card"
	"github.com/cardvault/bankcards/internal/identity"
	"github.com/cardvault/bankcards/internal/request"
	"github.com/cardvault/bankcards/internal/validation"
)

// Handler exposes card and transfer endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a banking handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createCardRequest struct {
	UserID         string          `json:"user_id" validate:"required,max=64"`
	PAN            string          `json:"pan" validate:"required,len=16,numeric"`
	OwnerName      string          `json:"owner_name" validate:"required,max=100"`
	ExpiryDate     string          `json:"expiry_date" validate:"required,len=5"`
	InitialBalance decimal.Decimal `json:"initial_balance" validate:"nonnegative_decimal"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE BLOCKED EXPIRED"`
}

type transferRequest struct {
	FromCardID string          `json:"from_card_id" validate:"required,max=64"`
	ToCardID   string          `json:"to_card_id" validate:"required,max=64"`
	Amount     decimal.Decimal `json:"amount" validate:"positive_decimal"`
}

// HTTPError maps a domain error onto a fiber error. Unknown errors,
// cardcrypto failures included, are returned unchanged so the server error
// handler logs them and answers an opaque 500.
func HTTPError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, card.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "card not found")
	case errors.Is(err, identity.ErrUserNotFound):
		return fiber.NewError(http.StatusNotFound, "user not found")
	case errors.Is(err, identity.ErrAccessDenied):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, validation.ErrInsufficientFunds):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, validation.ErrCardNotActive):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, validation.ErrBusinessValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, card.ErrUnknownStatus):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, card.ErrContention):
		c.Set(fiber.HeaderRetryAfter, "1")
		return fiber.NewError(http.StatusConflict, "card is busy, retry later")
	default:
		return err
	}
}

func principal(c *fiber.Ctx) (identity.Principal, error) {
	p, ok := identity.PrincipalFrom(c)
	if !ok {
		return identity.Principal{}, fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	return p, nil
}

func listFilter(c *fiber.Ctx) (ListFilter, error) {
	page, size := request.PageQuery(c)
	f := ListFilter{UserID: c.Query("userId"), Page: card.Page{Number: page, Size: size}}
	if raw := c.Query("status"); raw != "" {
		status, err := card.ParseStatus(raw)
		if err != nil {
			return ListFilter{}, fiber.NewError(http.StatusBadRequest, err.Error())
		}
		f.Status = status
	}
	return f, nil
}

// Create issues a card. Admin only.
func (h *Handler) Create(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req createCardRequest
	if err := request.ParseBody(c, &req); err != nil {
		return err
	}
	view, err := h.service.CreateCard(c.UserContext(), p, CreateCardInput{
		UserID:         req.UserID,
		PAN:            req.PAN,
		OwnerName:      req.OwnerName,
		ExpiryDate:     req.ExpiryDate,
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		return HTTPError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(view)
}

// MyCards lists the caller's cards without filters.
func (h *Handler) MyCards(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	page, err := h.service.ListMyCards(c.UserContext(), p, ListFilter{Page: card.Page{Size: card.MaxPageSize}})
	if err != nil {
		return HTTPError(c, err)
	}
	return c.Status(http.StatusOK).JSON(page.Content)
}

// MyCardsFiltered pages through the caller's cards with an optional status filter.
func (h *Handler) MyCardsFiltered(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	f, err := listFilter(c)
	if err != nil {
		return err
	}
	page, err := h.service.ListMyCards(c.UserContext(), p, f)
	if err != nil {
		return HTTPError(c, err)
	}
	return c.Status(http.StatusOK).JSON(page)
}

// AllCards pages through every card. Admin only.
func (h *Handler) AllCards(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	f, err := listFilter(c)
	if err != nil {
		return err
	}
	page, err := h.service.ListAllCards(c.UserContext(), p, f)
	if err != nil {
		return HTTPError(c, err)
	}
	return c.Status(http.StatusOK).JSON(page)
}

// Get returns a single card.
func (h *Handler) Get(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	view, err := h.service.GetCard(c.UserContext(), p, c.Params("id"))
	if err != nil {
		return HTTPError(c, err)
	}
	return c.Status(http.StatusOK).JSON(view)
}

// UpdateStatus changes a card's status. Admin only.
func (h *Handler) UpdateStatus(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req updateStatusRequest
	if err := request.ParseBody(c, &req); err != nil {
		return err
	}
	view, err := h.service.UpdateCardStatus(c.UserContext(), p, c.Params("id"), card.Status(req.Status))
	if err != nil {
		return HTTPError(c, err)
	}
	return c.Status(http.StatusOK).JSON(view)
}

// RequestBlock blocks one of the caller's cards.
func (h *Handler) RequestBlock(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	if _, err := h.service.RequestCardBlock(c.UserContext(), p, c.Params("id")); err != nil {
		return HTTPError(c, err)
	}
	return c.SendStatus(http.StatusOK)
}

// Delete removes a card. Admin only.
func (h *Handler) Delete(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	if err := h.service.DeleteCard(c.UserContext(), p, c.Params("id")); err != nil {
		return HTTPError(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Transfer moves money between two of the caller's cards.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := request.ParseBody(c, &req); err != nil {
		return err
	}
	receipt, err := h.service.Transfer(c.UserContext(), p, TransferInput{
		FromCardID: req.FromCardID,
		ToCardID:   req.ToCardID,
		Amount:     req.Amount,
	})
	if err != nil {
		return HTTPError(c, err)
	}
	return c.Status(http.StatusOK).JSON(receipt)
}
