package card

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a card.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusBlocked Status = "BLOCKED"
	StatusExpired Status = "EXPIRED"
)

// ErrUnknownStatus is returned by ParseStatus for values outside the lifecycle.
var ErrUnknownStatus = errors.New("unknown card status")

// ParseStatus converts user input into a Status. Matching is case-insensitive.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, nil
	case StatusBlocked:
		return StatusBlocked, nil
	case StatusExpired:
		return StatusExpired, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Transition classifies a requested status change.
type Transition uint8

const (
	TransitionDenied Transition = iota
	TransitionAllowed
	// TransitionNoop means the card is already in the requested status.
	TransitionNoop
)

var transitions = map[Status]map[Status]Transition{
	StatusActive: {
		StatusActive:  TransitionNoop,
		StatusBlocked: TransitionAllowed,
		StatusExpired: TransitionAllowed,
	},
	StatusBlocked: {
		StatusActive:  TransitionAllowed,
		StatusBlocked: TransitionNoop,
		StatusExpired: TransitionAllowed,
	},
	StatusExpired: {
		StatusActive:  TransitionDenied,
		StatusBlocked: TransitionAllowed,
		StatusExpired: TransitionNoop,
	},
}

// CanTransition reports how a move from one status to another is treated.
// Unknown statuses are always denied.
func CanTransition(from, to Status) Transition {
	row, ok := transitions[from]
	if !ok {
		return TransitionDenied
	}
	t, ok := row[to]
	if !ok {
		return TransitionDenied
	}
	return t
}

// YearMonth is a card expiry. A card is valid through the whole month.
type YearMonth struct {
	Year  int
	Month time.Month
}

// ErrExpiryFormat is returned when an expiry is not of the form MM/YY.
var ErrExpiryFormat = errors.New("expiry must be in MM/YY format")

// YearMonthOf returns the year-month containing t.
func YearMonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// ParseExpiry parses an MM/YY expiry. Two digit years are in the 2000s.
func ParseExpiry(s string) (YearMonth, error) {
	if len(s) != 5 || s[2] != '/' {
		return YearMonth{}, ErrExpiryFormat
	}
	month, err := strconv.Atoi(s[:2])
	if err != nil || month < 1 || month > 12 || !isDigits(s[:2]) {
		return YearMonth{}, ErrExpiryFormat
	}
	year, err := strconv.Atoi(s[3:])
	if err != nil || !isDigits(s[3:]) {
		return YearMonth{}, ErrExpiryFormat
	}
	return YearMonth{Year: 2000 + year, Month: time.Month(month)}, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (y YearMonth) index() int { return y.Year*12 + int(y.Month) - 1 }

// Before reports whether y is strictly earlier than o.
func (y YearMonth) Before(o YearMonth) bool { return y.index() < o.index() }

// After reports whether y is strictly later than o.
func (y YearMonth) After(o YearMonth) bool { return y.index() > o.index() }

// AddYears shifts y by n years.
func (y YearMonth) AddYears(n int) YearMonth { return YearMonth{Year: y.Year + n, Month: y.Month} }

// FirstDay returns midnight UTC on the first day of the month.
func (y YearMonth) FirstDay() time.Time {
	return time.Date(y.Year, y.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (y YearMonth) String() string {
	return fmt.Sprintf("%02d/%02d", int(y.Month), y.Year%100)
}

// Card is a stored bank card. EncryptedPAN never leaves the service.
type Card struct {
	ID             string
	UserID         string
	EncryptedPAN   string
	PANFingerprint string
	OwnerName      string
	Expiry         YearMonth
	Status         Status
	Balance        decimal.Decimal
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsExpired reports whether the card's expiry month is before the month of now.
// It is a pure predicate and never changes the stored status.
func (c Card) IsExpired(now time.Time) bool {
	return c.Expiry.Before(YearMonthOf(now))
}

// IsActive reports whether the card's status is ACTIVE.
func (c Card) IsActive() bool {
	return c.Status == StatusActive
}
