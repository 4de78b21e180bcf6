package identity

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newDirectoryApp(t *testing.T) (*fiber.App, directory) {
	t.Helper()
	d := newDirectory(t)
	h := NewHandler(d.svc)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		switch c.Get("X-Test-User") {
		case "ops":
			SetPrincipal(c, d.admin)
		case "holder":
			SetPrincipal(c, d.as(d.holder))
		}
		return c.Next()
	})
	app.Get("/users/paged", h.ListPaged)
	app.Get("/users", h.List)
	app.Get("/users/:id", h.Get)
	app.Put("/users/:id", h.Update)
	app.Delete("/users/:id", h.Delete)
	return app, d
}

func send(t *testing.T, app *fiber.App, method, path, user, body string) (int, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(raw)
}

func TestUserAdministrationOverHTTP(t *testing.T) {
	app, d := newDirectoryApp(t)

	if status, body := send(t, app, fiber.MethodGet, "/users/paged?page=0&size=2", "ops", ""); status != fiber.StatusOK || !strings.Contains(body, `"total_elements":3`) {
		t.Fatalf("paged: %d %s", status, body)
	}
	if status, _ := send(t, app, fiber.MethodGet, "/users", "holder", ""); status != fiber.StatusForbidden {
		t.Fatalf("expected 403 listing as holder, got %d", status)
	}
	if status, _ := send(t, app, fiber.MethodGet, "/users/"+d.other.ID, "holder", ""); status != fiber.StatusForbidden {
		t.Fatalf("expected 403 reading another user, got %d", status)
	}
	if status, _ := send(t, app, fiber.MethodGet, "/users/missing", "ops", ""); status != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if status, body := send(t, app, fiber.MethodPut, "/users/"+d.holder.ID, "holder", `{"full_name":"Renamed"}`); status != fiber.StatusOK || !strings.Contains(body, "Renamed") {
		t.Fatalf("update: %d %s", status, body)
	}
	if status, _ := send(t, app, fiber.MethodPut, "/users/"+d.holder.ID, "holder", `{"email":"not-an-email"}`); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for bad email, got %d", status)
	}
	if status, _ := send(t, app, fiber.MethodDelete, "/users/"+d.admin.UserID, "ops", ""); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 deleting self, got %d", status)
	}
	if status, _ := send(t, app, fiber.MethodDelete, "/users/"+d.other.ID, "ops", ""); status != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}
	if _, err := d.svc.User(context.Background(), d.other.ID); err == nil {
		t.Fatalf("expected user removed")
	}
	if status, _ := send(t, app, fiber.MethodGet, "/users", "", ""); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without principal, got %d", status)
	}
}
