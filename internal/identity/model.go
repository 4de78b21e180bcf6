package identity

import (
	"errors"
	"fmt"
	"time"
)

// Role is the authorization level carried by a bearer token.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

var (
	// ErrUserNotFound is returned when a directory lookup misses.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when creating a user whose email is taken.
	ErrUserExists = errors.New("user exists")
	// ErrAccessDenied is returned when the principal may not perform an operation.
	ErrAccessDenied = errors.New("access denied")
	// ErrRoleNotGranted is returned when a token claims more than the directory grants.
	ErrRoleNotGranted = fmt.Errorf("%w: token role exceeds directory role", ErrAccessDenied)
	// ErrSelfDelete is returned when an operator tries to remove their own account.
	ErrSelfDelete = errors.New("cannot delete your own account")
	// ErrUserHasCards is returned when deleting a user who still holds cards.
	ErrUserHasCards = errors.New("user still holds cards")
)

// User is a card holder or operator known to the directory.
type User struct {
	ID        string
	Email     string
	FullName  string
	Role      Role
	CreatedAt time.Time
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page selects a slice of the directory ordered by creation time. A zero
// Size passed straight to a Repository means no limit.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page into the accepted range.
func (p Page) Normalize() Page {
	if p.Number < 0 {
		p.Number = 0
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// UserPage is one page of directory entries.
type UserPage struct {
	Users []User
	Total int
	Page  Page
}
