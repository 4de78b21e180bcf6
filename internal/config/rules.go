package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// BusinessRules holds the card and transfer thresholds. It is loaded once at
// startup and treated as read-only afterwards.
type BusinessRules struct {
	MinCardBalance    decimal.Decimal
	MinTransferAmount decimal.Decimal
	MaxTransferAmount decimal.Decimal
	MaxCardsPerUser   int
	MinInitialBalance decimal.Decimal
}

// ErrInvalidRules is returned when the configured thresholds are inconsistent.
var ErrInvalidRules = errors.New("invalid business rules")

// DefaultBusinessRules returns the thresholds used when nothing is configured.
func DefaultBusinessRules() BusinessRules {
	return BusinessRules{
		MinCardBalance:    decimal.RequireFromString("0.00"),
		MinTransferAmount: decimal.RequireFromString("0.01"),
		MaxTransferAmount: decimal.RequireFromString("1000000.00"),
		MaxCardsPerUser:   5,
		MinInitialBalance: decimal.RequireFromString("0.00"),
	}
}

// LoadBusinessRules overlays BUSINESS_* environment variables on the defaults
// and validates the result.
func LoadBusinessRules() (BusinessRules, error) {
	rules := DefaultBusinessRules()

	decimals := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"BUSINESS_MIN_CARD_BALANCE", &rules.MinCardBalance},
		{"BUSINESS_MIN_TRANSFER_AMOUNT", &rules.MinTransferAmount},
		{"BUSINESS_MAX_TRANSFER_AMOUNT", &rules.MaxTransferAmount},
		{"BUSINESS_MIN_INITIAL_BALANCE", &rules.MinInitialBalance},
	}
	for _, d := range decimals {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return BusinessRules{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if v := os.Getenv("BUSINESS_MAX_CARDS_PER_USER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return BusinessRules{}, fmt.Errorf("invalid BUSINESS_MAX_CARDS_PER_USER: %w", err)
		}
		rules.MaxCardsPerUser = n
	}

	if err := rules.Validate(); err != nil {
		return BusinessRules{}, err
	}
	return rules, nil
}

// Validate checks the relationships between thresholds.
func (r BusinessRules) Validate() error {
	switch {
	case r.MinCardBalance.IsNegative():
		return fmt.Errorf("%w: min card balance must be >= 0", ErrInvalidRules)
	case !r.MinTransferAmount.IsPositive():
		return fmt.Errorf("%w: min transfer amount must be > 0", ErrInvalidRules)
	case !r.MaxTransferAmount.IsPositive():
		return fmt.Errorf("%w: max transfer amount must be > 0", ErrInvalidRules)
	case !r.MaxTransferAmount.GreaterThan(r.MinTransferAmount):
		return fmt.Errorf("%w: max transfer amount must exceed min transfer amount", ErrInvalidRules)
	case r.MaxCardsPerUser < 0:
		return fmt.Errorf("%w: max cards per user must be >= 0", ErrInvalidRules)
	case r.MinInitialBalance.IsNegative():
		return fmt.Errorf("%w: min initial balance must be >= 0", ErrInvalidRules)
	}
	return nil
}
