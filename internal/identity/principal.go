package identity

import "github.com/gofiber/fiber/v2"

const principalLocalsKey = "principal"

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID string
	Email  string
	Role   Role
}

// IsAdmin reports whether the principal holds the ADMIN role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Owns reports whether the principal is the holder of a resource owned by userID.
func (p Principal) Owns(userID string) bool { return p.UserID != "" && p.UserID == userID }

// SystemPrincipal is used for scheduled jobs that act without a caller.
func SystemPrincipal(name string) Principal {
	return Principal{Email: "system:" + name, Role: RoleAdmin}
}

// SetPrincipal stores p on the request context.
func SetPrincipal(c *fiber.Ctx, p Principal) {
	c.Locals(principalLocalsKey, p)
}

// PrincipalFrom returns the principal stored by SetPrincipal.
func PrincipalFrom(c *fiber.Ctx) (Principal, bool) {
	p, ok := c.Locals(principalLocalsKey).(Principal)
	return p, ok
}
