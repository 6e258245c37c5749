package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Rounit002/silentlibrary-sub001/internal/domain"
	"github.com/Rounit002/silentlibrary-sub001/internal/money"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// decimals are validated through their string form; values outside the
	// stored range become an unparsable string so no digits are expanded
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		d, ok := f.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		if !money.InRange(d) {
			return outOfRange
		}
		return d.String()
	}, decimal.Decimal{})

	v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		d, ok := cents(fl.Field().String())
		return ok && d.IsPositive()
	})
	v.RegisterValidation("nonneg_amount", func(fl validator.FieldLevel) bool {
		d, ok := cents(fl.Field().String())
		return ok && !d.IsNegative()
	})
	return v
}

const outOfRange = "out of range"

// cents parses s and reports whether it is in range with at most two
// decimal places.
func cents(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil || !money.InRange(d) {
		return decimal.Zero, false
	}
	return d, d.Equal(d.Round(2))
}

// Validate checks a request DTO. Failures are reported as
// domain.ErrInvalidInput naming each offending field.
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "amount":
		return field + " must be a positive amount below 10000000000 with at most two decimals"
	case "nonneg_amount":
		return field + " must be a non-negative amount below 10000000000 with at most two decimals"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
