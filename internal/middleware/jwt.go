package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/cardvault/bankcards/internal/identity"
)

// Claims is the bearer token payload. The subject is the user's email.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth verifies HS256 bearer tokens and stores the resolved principal on
// the request. Tokens must carry an expiry.
func JWTAuth(secret []byte, users *identity.Service) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[7:])

		var claims Claims
		if _, err := parser.ParseWithClaims(tokenStr, &claims, keyFunc); err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		role := identity.Role(strings.ToUpper(claims.Role))
		if role != identity.RoleUser && role != identity.RoleAdmin {
			return fiber.NewError(http.StatusUnauthorized, "invalid token role")
		}
		if claims.Subject == "" {
			return fiber.NewError(http.StatusUnauthorized, "invalid token subject")
		}

		p, err := users.Resolve(c.UserContext(), claims.Subject, role)
		if err != nil {
			if errors.Is(err, identity.ErrUserNotFound) {
				return fiber.NewError(http.StatusUnauthorized, "unknown user")
			}
			if errors.Is(err, identity.ErrRoleNotGranted) {
				return fiber.NewError(http.StatusUnauthorized, "token role not granted")
			}
			return err
		}
		identity.SetPrincipal(c, p)
		return c.Next()
	}
}

// RequireAdmin rejects callers without the ADMIN role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, ok := identity.PrincipalFrom(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, "unauthorized")
		}
		if !p.IsAdmin() {
			return fiber.NewError(http.StatusForbidden, "admin role required")
		}
		return c.Next()
	}
}
