// Package audit keeps the append-only history of card changes.
package audit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Action names the kind of change an entry records.
type Action string

const (
	ActionCreate        Action = "CREATE"
	ActionUpdateStatus  Action = "UPDATE_STATUS"
	ActionUpdateBalance Action = "UPDATE_BALANCE"
	ActionTransfer      Action = "TRANSFER"
	ActionBlockRequest  Action = "BLOCK_REQUEST"
)

// Entry is one immutable audit record. Empty statuses and invalid balances
// mean the field does not apply to the action.
type Entry struct {
	ID          string              `json:"id"`
	CardID      string              `json:"card_id"`
	UserID      string              `json:"user_id"`
	Action      Action              `json:"action"`
	Description string              `json:"description"`
	OldBalance  decimal.NullDecimal `json:"old_balance"`
	NewBalance  decimal.NullDecimal `json:"new_balance"`
	OldStatus   string              `json:"old_status,omitempty"`
	NewStatus   string              `json:"new_status,omitempty"`
	PerformedBy string              `json:"performed_by"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Subject is the slice of card state an entry is built from.
type Subject struct {
	CardID  string
	UserID  string
	Status  string
	Balance decimal.Decimal
}

// Sink accepts new entries. Card store transactions implement it so entries
// commit or roll back together with the change they describe.
type Sink interface {
	Append(ctx context.Context, entries ...Entry) error
}

// Page selects a zero-based slice of a listing.
type Page struct {
	Number int
	Size   int
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Normalize clamps the page into the supported range.
func (p Page) Normalize() Page {
	if p.Number < 0 {
		p.Number = 0
	}
	if p.Size < 1 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

// Result is one page of entries plus the total count.
type Result struct {
	Entries []Entry `json:"content"`
	Total   int     `json:"total_elements"`
	Page    int     `json:"page"`
	Size    int     `json:"size"`
}
