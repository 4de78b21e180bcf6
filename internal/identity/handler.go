package identity

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/cardvault/bankcards/internal/request"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type profileResponse struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

func profile(u User) profileResponse {
	return profileResponse{UserID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role}
}

type pageResponse struct {
	Content       []profileResponse `json:"content"`
	TotalElements int               `json:"total_elements"`
	TotalPages    int               `json:"total_pages"`
	Page          int               `json:"page"`
	Size          int               `json:"size"`
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAccessDenied):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrUserExists):
		return fiber.NewError(http.StatusBadRequest, "email already in use")
	case errors.Is(err, ErrSelfDelete), errors.Is(err, ErrUserHasCards):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}

func caller(c *fiber.Ctx) (Principal, error) {
	p, ok := PrincipalFrom(c)
	if !ok {
		return Principal{}, fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	return p, nil
}

// Me returns the directory entry of the authenticated caller.
func (h *Handler) Me(c *fiber.Ctx) error {
	p, err := caller(c)
	if err != nil {
		return err
	}
	user, err := h.service.User(c.UserContext(), p.UserID)
	if err != nil {
		return httpError(err)
	}
	resp := profile(user)
	resp.Role = p.Role
	return c.Status(http.StatusOK).JSON(resp)
}

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	FullName string `json:"full_name" validate:"max=200"`
	Role     string `json:"role" validate:"omitempty,oneof=USER ADMIN"`
}

// Create registers a card holder or operator. Admin only. Registering an
// existing email returns the existing entry.
func (h *Handler) Create(c *fiber.Ctx) error {
	p, err := caller(c)
	if err != nil {
		return err
	}
	if !p.IsAdmin() {
		return fiber.NewError(http.StatusForbidden, "admin role required")
	}
	var req createUserRequest
	if err := request.ParseBody(c, &req); err != nil {
		return err
	}
	role := Role(req.Role)
	if role == "" {
		role = RoleUser
	}
	user, err := h.service.Ensure(c.UserContext(), req.Email, req.FullName, role)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(profile(user))
}

// List returns every user. Admin only.
func (h *Handler) List(c *fiber.Ctx) error {
	p, err := caller(c)
	if err != nil {
		return err
	}
	users, err := h.service.ListAll(c.UserContext(), p)
	if err != nil {
		return httpError(err)
	}
	out := make([]profileResponse, 0, len(users))
	for _, u := range users {
		out = append(out, profile(u))
	}
	return c.Status(http.StatusOK).JSON(out)
}

// ListPaged returns one page of users. Admin only.
func (h *Handler) ListPaged(c *fiber.Ctx) error {
	p, err := caller(c)
	if err != nil {
		return err
	}
	number, size := request.PageQuery(c)
	res, err := h.service.List(c.UserContext(), p, Page{Number: number, Size: size})
	if err != nil {
		return httpError(err)
	}
	out := pageResponse{
		Content:       make([]profileResponse, 0, len(res.Users)),
		TotalElements: res.Total,
		Page:          res.Page.Number,
		Size:          res.Page.Size,
	}
	if res.Page.Size > 0 {
		out.TotalPages = (res.Total + res.Page.Size - 1) / res.Page.Size
	}
	for _, u := range res.Users {
		out.Content = append(out.Content, profile(u))
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Get returns a user to an admin or to the user themselves.
func (h *Handler) Get(c *fiber.Ctx) error {
	p, err := caller(c)
	if err != nil {
		return err
	}
	user, err := h.service.Get(c.UserContext(), p, c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(profile(user))
}

type updateUserRequest struct {
	Email    string `json:"email" validate:"omitempty,email,max=254"`
	FullName string `json:"full_name" validate:"max=200"`
	Role     string `json:"role" validate:"omitempty,oneof=USER ADMIN"`
}

// Update edits a profile.
func (h *Handler) Update(c *fiber.Ctx) error {
	p, err := caller(c)
	if err != nil {
		return err
	}
	var req updateUserRequest
	if err := request.ParseBody(c, &req); err != nil {
		return err
	}
	user, err := h.service.Update(c.UserContext(), p, c.Params("id"), UpdateInput{
		Email:    req.Email,
		FullName: req.FullName,
		Role:     Role(req.Role),
	})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(profile(user))
}

// Delete removes a user. Admin only.
func (h *Handler) Delete(c *fiber.Ctx) error {
	p, err := caller(c)
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.UserContext(), p, c.Params("id")); err != nil {
		return httpError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}
