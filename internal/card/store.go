package card

import (
	"context"
	"errors"

	"github.com/cardvault/bankcards/internal/audit"
)

var (
	// ErrNotFound is returned when a card id does not exist.
	ErrNotFound = errors.New("card not found")
	// ErrContention is returned when a card lock could not be taken in time or
	// a concurrent write won. Callers may retry.
	ErrContention = errors.New("card is busy, retry later")
	// ErrDuplicate is returned when a card with the same PAN fingerprint exists.
	ErrDuplicate = errors.New("card already exists")
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page selects a zero-based slice of a listing.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page into the supported range.
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

// Offset returns the number of rows to skip.
func (p Page) Offset() int { return p.Number * p.Size }

// Filter narrows a card listing. Empty fields match everything.
type Filter struct {
	UserID string
	Status Status
	Page   Page
}

func (f Filter) matches(c Card) bool {
	if f.UserID != "" && c.UserID != f.UserID {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	return true
}

// Result is one page of cards plus the total matching count.
type Result struct {
	Cards []Card
	Total int
	Page  Page
}

// Store reads cards and runs mutations in transactions.
type Store interface {
	FindByID(ctx context.Context, id string) (Card, error)
	List(ctx context.Context, filter Filter) (Result, error)
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is a unit of work. Nothing it writes, including audit entries appended
// through it, becomes visible unless the enclosing InTx callback returns nil.
type Tx interface {
	audit.Sink

	// Lock acquires exclusive locks on the given cards in ascending id order
	// and returns their current state keyed by id.
	Lock(ctx context.Context, ids ...string) (map[string]Card, error)
	// LockUser serialises card creation for one user.
	LockUser(ctx context.Context, userID string) error
	// LockExpired locks and returns every ACTIVE card whose expiry is before the given month.
	LockExpired(ctx context.Context, before YearMonth) ([]Card, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	FingerprintExists(ctx context.Context, fingerprint string) (bool, error)
	Insert(ctx context.Context, c Card) error
	// Save writes locked cards back. Each card's Version must match the stored one.
	Save(ctx context.Context, cards ...Card) error
	Delete(ctx context.Context, id string) error
}

// Subject returns the audit view of a card.
func (c Card) Subject() audit.Subject {
	return audit.Subject{
		CardID:  c.ID,
		UserID:  c.UserID,
		Status:  string(c.Status),
		Balance: c.Balance,
	}
}
