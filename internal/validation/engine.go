// Package validation holds the stateless business rules for cards and transfers.
package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cardvault/bankcards/internal/card"
	"github.com/cardvault/bankcards/internal/config"
)

// maxExpiryYears bounds how far in the future a new card may expire.
const maxExpiryYears = 5

// Engine checks business rules. It performs no I/O; counts it needs are
// supplied by the caller.
type Engine struct {
	rules config.BusinessRules
	now   func() time.Time
}

// NewEngine builds an Engine evaluating time-dependent rules against the wall clock.
func NewEngine(rules config.BusinessRules) *Engine {
	return &Engine{rules: rules, now: time.Now}
}

// NewEngineWithClock is NewEngine with an injectable clock.
func NewEngineWithClock(rules config.BusinessRules, now func() time.Time) *Engine {
	return &Engine{rules: rules, now: now}
}

// Rules returns the configured limits.
func (e *Engine) Rules() config.BusinessRules { return e.rules }

// ValidatePAN checks that pan is 16 digits and passes the Luhn checksum.
func (e *Engine) ValidatePAN(pan string) error {
	if len(pan) != 16 {
		return ErrPANFormat
	}
	for i := 0; i < len(pan); i++ {
		if pan[i] < '0' || pan[i] > '9' {
			return ErrPANFormat
		}
	}
	if !luhn(pan) {
		return ErrPANChecksum
	}
	return nil
}

func luhn(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}

// ValidateExpiryDate parses an MM/YY expiry and checks it lies between the
// current month and five years ahead, both inclusive.
func (e *Engine) ValidateExpiryDate(text string) (card.YearMonth, error) {
	expiry, err := card.ParseExpiry(strings.TrimSpace(text))
	if err != nil {
		return card.YearMonth{}, ErrExpiryFormat
	}
	current := card.YearMonthOf(e.now())
	if expiry.Before(current) {
		return card.YearMonth{}, ErrExpiryInPast
	}
	if expiry.After(current.AddYears(maxExpiryYears)) {
		return card.YearMonth{}, ErrExpiryTooFar
	}
	return expiry, nil
}

// ValidateOwnerName rejects blank names.
func (e *Engine) ValidateOwnerName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrOwnerName
	}
	return nil
}

// ValidateCardCreation checks the per-user card limit and the opening balance.
func (e *Engine) ValidateCardCreation(existingCount int, initialBalance decimal.Decimal) error {
	if existingCount >= e.rules.MaxCardsPerUser {
		return fmt.Errorf("%w: at most %d cards", ErrMaxCards, e.rules.MaxCardsPerUser)
	}
	if initialBalance.LessThan(e.rules.MinInitialBalance) {
		return fmt.Errorf("%w: must be at least %s", ErrInitialBalance, e.rules.MinInitialBalance.StringFixed(2))
	}
	return nil
}

// ValidateAmountScale rejects non-positive amounts and amounts with more than two fractional digits.
func (e *Engine) ValidateAmountScale(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrAmountScale
	}
	if !amount.Equal(amount.Truncate(2)) {
		return ErrAmountScale
	}
	return nil
}

// ValidateTransfer checks a movement of amount from one card to another.
// Checks run in a fixed order and the first failure wins.
func (e *Engine) ValidateTransfer(from, to card.Card, amount decimal.Decimal) error {
	if err := requireActive(from); err != nil {
		return err
	}
	if err := requireActive(to); err != nil {
		return err
	}
	now := e.now()
	if from.IsExpired(now) {
		return fmt.Errorf("%w: card %s", ErrCardExpired, from.ID)
	}
	if to.IsExpired(now) {
		return fmt.Errorf("%w: card %s", ErrCardExpired, to.ID)
	}
	if amount.LessThan(e.rules.MinTransferAmount) {
		return fmt.Errorf("%w: must be at least %s", ErrAmountTooSmall, e.rules.MinTransferAmount.StringFixed(2))
	}
	if amount.GreaterThan(e.rules.MaxTransferAmount) {
		return fmt.Errorf("%w: cannot exceed %s", ErrAmountTooLarge, e.rules.MaxTransferAmount.StringFixed(2))
	}
	if from.Balance.Sub(amount).LessThan(e.rules.MinCardBalance) {
		return fmt.Errorf("%w: minimum balance must be %s", ErrInsufficientFunds, e.rules.MinCardBalance.StringFixed(2))
	}
	if from.ID == to.ID {
		return ErrSameCard
	}
	return nil
}

func requireActive(c card.Card) error {
	if !c.IsActive() {
		return fmt.Errorf("%w: card %s has status %s", ErrCardNotActive, c.ID, c.Status)
	}
	return nil
}

// ValidateCardStatusChange applies the lifecycle transition table.
func (e *Engine) ValidateCardStatusChange(c card.Card, next card.Status) error {
	switch card.CanTransition(c.Status, next) {
	case card.TransitionAllowed:
		return nil
	case card.TransitionNoop:
		return fmt.Errorf("%w: %s", ErrStatusUnchanged, next)
	default:
		return fmt.Errorf("%w: %s to %s", ErrStatusTransition, c.Status, next)
	}
}

// ValidateCardDeletion allows deleting only non-active cards with no funds.
func (e *Engine) ValidateCardDeletion(c card.Card) error {
	if c.Balance.IsPositive() {
		return ErrDeletePositiveFund
	}
	if c.Status == card.StatusActive {
		return ErrDeleteActive
	}
	return nil
}
