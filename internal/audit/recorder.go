package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Recorder builds audit entries for card events and appends them to a Sink.
type Recorder struct {
	now func() time.Time
}

// NewRecorder returns a Recorder stamping entries with the wall clock.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// NewRecorderWithClock is NewRecorder with an injectable clock.
func NewRecorderWithClock(now func() time.Time) *Recorder {
	return &Recorder{now: now}
}

func (r *Recorder) entry(s Subject, action Action, actor, description string) Entry {
	return Entry{
		ID:          uuid.NewString(),
		CardID:      s.CardID,
		UserID:      s.UserID,
		Action:      action,
		Description: description,
		PerformedBy: actor,
		CreatedAt:   r.now().UTC(),
	}
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

// CardCreated records a new card with its opening balance and status.
func (r *Recorder) CardCreated(ctx context.Context, sink Sink, actor string, s Subject) error {
	e := r.entry(s, ActionCreate, actor, "Card created with initial balance: "+money(s.Balance))
	e.NewBalance = decimal.NewNullDecimal(s.Balance)
	e.NewStatus = s.Status
	return sink.Append(ctx, e)
}

// StatusChanged records a status move. s carries the new status.
func (r *Recorder) StatusChanged(ctx context.Context, sink Sink, actor string, s Subject, oldStatus string) error {
	e := r.entry(s, ActionUpdateStatus, actor, fmt.Sprintf("Status changed from %s to %s", oldStatus, s.Status))
	e.OldStatus = oldStatus
	e.NewStatus = s.Status
	return sink.Append(ctx, e)
}

// BalanceChanged records a balance move. s carries the new balance.
func (r *Recorder) BalanceChanged(ctx context.Context, sink Sink, actor string, s Subject, oldBalance decimal.Decimal) error {
	e := r.entry(s, ActionUpdateBalance, actor, fmt.Sprintf("Balance changed from %s to %s", money(oldBalance), money(s.Balance)))
	e.OldBalance = decimal.NewNullDecimal(oldBalance)
	e.NewBalance = decimal.NewNullDecimal(s.Balance)
	return sink.Append(ctx, e)
}

// Transfer records one entry per card with the signed amount. Balances are
// left empty; the paired BalanceChanged entries carry them.
func (r *Recorder) Transfer(ctx context.Context, sink Sink, actor string, from, to Subject, amount decimal.Decimal) error {
	out := r.entry(from, ActionTransfer, actor, fmt.Sprintf("Transfer to card %s: -%s", to.CardID, money(amount)))
	in := r.entry(to, ActionTransfer, actor, fmt.Sprintf("Transfer from card %s: +%s", from.CardID, money(amount)))
	return sink.Append(ctx, out, in)
}

// BlockRequested records a holder's block request. s carries the new status.
func (r *Recorder) BlockRequested(ctx context.Context, sink Sink, actor string, s Subject, oldStatus string) error {
	e := r.entry(s, ActionBlockRequest, actor, "User requested card block")
	e.OldStatus = oldStatus
	e.NewStatus = s.Status
	return sink.Append(ctx, e)
}
