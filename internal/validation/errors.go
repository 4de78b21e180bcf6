package validation

import (
	"errors"
	"fmt"
)

// ErrBusinessValidation is the kind shared by every rule violation except
// the card-not-active family.
var ErrBusinessValidation = errors.New("business validation failed")

// ErrCardNotActive is returned when a card taking part in a money movement
// is not ACTIVE or has passed its expiry month.
var ErrCardNotActive = errors.New("card is not active")

var (
	ErrPANFormat          = fmt.Errorf("%w: PAN must be exactly 16 digits", ErrBusinessValidation)
	ErrPANChecksum        = fmt.Errorf("%w: invalid PAN (failed Luhn check)", ErrBusinessValidation)
	ErrExpiryFormat       = fmt.Errorf("%w: invalid expiry date format, use MM/yy", ErrBusinessValidation)
	ErrExpiryInPast       = fmt.Errorf("%w: card expiry date is in the past", ErrBusinessValidation)
	ErrExpiryTooFar       = fmt.Errorf("%w: card expiry date cannot be more than 5 years in the future", ErrBusinessValidation)
	ErrOwnerName          = fmt.Errorf("%w: owner name is required", ErrBusinessValidation)
	ErrMaxCards           = fmt.Errorf("%w: user has reached the card limit", ErrBusinessValidation)
	ErrInitialBalance     = fmt.Errorf("%w: initial balance below minimum", ErrBusinessValidation)
	ErrAmountTooSmall     = fmt.Errorf("%w: transfer amount below minimum", ErrBusinessValidation)
	ErrAmountTooLarge     = fmt.Errorf("%w: transfer amount above maximum", ErrBusinessValidation)
	ErrAmountScale        = fmt.Errorf("%w: amount must be positive with at most 2 decimal places", ErrBusinessValidation)
	ErrSameCard           = fmt.Errorf("%w: cannot transfer to the same card", ErrBusinessValidation)
	ErrStatusUnchanged    = fmt.Errorf("%w: card already has this status", ErrBusinessValidation)
	ErrStatusTransition   = fmt.Errorf("%w: status change not allowed", ErrBusinessValidation)
	ErrDeletePositiveFund = fmt.Errorf("%w: cannot delete card with positive balance", ErrBusinessValidation)
	ErrDeleteActive       = fmt.Errorf("%w: cannot delete active card, block it first", ErrBusinessValidation)

	// ErrInsufficientFunds is a business violation of its own kind; it also
	// matches ErrBusinessValidation.
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", ErrBusinessValidation)

	ErrCardExpired = fmt.Errorf("%w: card has expired", ErrCardNotActive)
)
