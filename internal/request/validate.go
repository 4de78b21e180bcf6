// Package request parses and validates HTTP request payloads.
package request

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

func initValidator() (*validator.Validate, error) {
	vld := validator.New(validator.WithRequiredStructEnabled())

	if err := vld.RegisterValidation("positive_decimal", func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(decimal.Decimal)
		return ok && value.IsPositive()
	}); err != nil {
		return nil, fmt.Errorf("register positive_decimal: %w", err)
	}
	if err := vld.RegisterValidation("nonnegative_decimal", func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(decimal.Decimal)
		return ok && !value.IsNegative()
	}); err != nil {
		return nil, fmt.Errorf("register nonnegative_decimal: %w", err)
	}
	return vld, nil
}

// Validator returns the shared validator instance.
func Validator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidator()
	})
	return validate, errValidate
}

// ErrInvalidBody is returned when a payload is malformed or fails validation.
var ErrInvalidBody = errors.New("invalid request body")

// Validate runs struct tag validation and describes the first failure.
func Validate(payload any) error {
	vld, err := Validator()
	if err != nil {
		return err
	}
	if err := vld.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return describe(fieldErrs[0])
		}
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return nil
}

func describe(fe validator.FieldError) error {
	field := snake(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: '%s' is required", ErrInvalidBody, field)
	case "len":
		return fmt.Errorf("%w: '%s' must be %s characters", ErrInvalidBody, field, fe.Param())
	case "max":
		return fmt.Errorf("%w: '%s' must be at most %s characters", ErrInvalidBody, field, fe.Param())
	case "oneof":
		return fmt.Errorf("%w: '%s' must be one of [%s]", ErrInvalidBody, field, fe.Param())
	case "numeric":
		return fmt.Errorf("%w: '%s' must contain only digits", ErrInvalidBody, field)
	case "uuid":
		return fmt.Errorf("%w: '%s' must be a valid UUID", ErrInvalidBody, field)
	case "positive_decimal":
		return fmt.Errorf("%w: '%s' must be a positive amount", ErrInvalidBody, field)
	case "nonnegative_decimal":
		return fmt.Errorf("%w: '%s' must not be negative", ErrInvalidBody, field)
	}
	return fmt.Errorf("%w: '%s' failed '%s' check", ErrInvalidBody, field, fe.Tag())
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := s[i-1]
			if prev < 'A' || prev > 'Z' {
				b.WriteByte('_')
			}
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// ParseBody decodes the JSON body into payload and validates it. Failures
// come back as 400 fiber errors.
func ParseBody(c *fiber.Ctx, payload any) error {
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("%v: %v", ErrInvalidBody, err))
	}
	if err := Validate(payload); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// PageQuery reads zero-based ?page and ?size query parameters. Invalid
// values fall back to the first page of ten.
func PageQuery(c *fiber.Ctx) (page, size int) {
	page, err := strconv.Atoi(c.Query("page", "0"))
	if err != nil {
		page = 0
	}
	size, err = strconv.Atoi(c.Query("size", "10"))
	if err != nil {
		size = 10
	}
	return page, size
}
