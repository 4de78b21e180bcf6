package middleware

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/cardvault/bankcards/internal/identity"
)

var testSecret = []byte("test-secret")

func sign(t *testing.T, method jwt.SigningMethod, claims Claims, key any) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func claimsFor(sub, role string, ttl time.Duration) Claims {
	return Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
}

func setupAuthApp(t *testing.T) *fiber.App {
	t.Helper()
	users := identity.NewService(identity.NewMemoryRepository())
	if _, err := users.Ensure(context.Background(), "alice@bank.test", "Alice", identity.RoleUser); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := users.Ensure(context.Background(), "ops@bank.test", "Ops", identity.RoleAdmin); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	app := fiber.New()
	app.Use(JWTAuth(testSecret, users))
	app.Get("/me", func(c *fiber.Ctx) error {
		p, _ := identity.PrincipalFrom(c)
		return c.SendString(p.Email + "|" + string(p.Role))
	})
	app.Get("/admin", RequireAdmin(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	return app
}

func get(t *testing.T, app *fiber.App, path, token string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp.StatusCode
}

func TestJWTAuthAcceptsValidToken(t *testing.T) {
	app := setupAuthApp(t)
	token := sign(t, jwt.SigningMethodHS256, claimsFor("alice@bank.test", "USER", time.Hour), testSecret)

	if status := get(t, app, "/me", token); status != fiber.StatusOK {
		t.Fatalf("expected 200 got %d", status)
	}
	if status := get(t, app, "/admin", token); status != fiber.StatusForbidden {
		t.Fatalf("expected 403 for non-admin got %d", status)
	}
}

func TestJWTAuthAdminTokenNeedsAdminEntry(t *testing.T) {
	app := setupAuthApp(t)

	operator := sign(t, jwt.SigningMethodHS256, claimsFor("ops@bank.test", "admin", time.Hour), testSecret)
	if status := get(t, app, "/admin", operator); status != fiber.StatusOK {
		t.Fatalf("expected 200 for operator got %d", status)
	}

	demoted := sign(t, jwt.SigningMethodHS256, claimsFor("alice@bank.test", "ADMIN", time.Hour), testSecret)
	if status := get(t, app, "/me", demoted); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for admin token of a plain user got %d", status)
	}
}

func TestJWTAuthTokenMayNarrowRole(t *testing.T) {
	app := setupAuthApp(t)
	token := sign(t, jwt.SigningMethodHS256, claimsFor("ops@bank.test", "USER", time.Hour), testSecret)

	if status := get(t, app, "/admin", token); status != fiber.StatusForbidden {
		t.Fatalf("expected 403 for narrowed token got %d", status)
	}
}

func TestJWTAuthRejects(t *testing.T) {
	app := setupAuthApp(t)

	cases := map[string]string{
		"missing":      "",
		"garbage":      "not-a-token",
		"wrong secret": sign(t, jwt.SigningMethodHS256, claimsFor("alice@bank.test", "USER", time.Hour), []byte("other")),
		"expired":      sign(t, jwt.SigningMethodHS256, claimsFor("alice@bank.test", "USER", -time.Minute), testSecret),
		"unknown user": sign(t, jwt.SigningMethodHS256, claimsFor("mallory@bank.test", "USER", time.Hour), testSecret),
		"bad role":     sign(t, jwt.SigningMethodHS256, claimsFor("alice@bank.test", "ROOT", time.Hour), testSecret),
		"wrong alg":    sign(t, jwt.SigningMethodHS512, claimsFor("alice@bank.test", "USER", time.Hour), testSecret),
		"no expiry":    sign(t, jwt.SigningMethodHS256, Claims{Role: "USER", RegisteredClaims: jwt.RegisteredClaims{Subject: "alice@bank.test"}}, testSecret),
	}
	for name, token := range cases {
		if status := get(t, app, "/me", token); status != fiber.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", name, status)
		}
	}
}
