// Package money provides the fixed-point amount types used by the fee ledger.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeResult = errors.New("ledger: negative result")
	ErrNegativeAmount = errors.New("ledger: negative amount")
	ErrInvalidMethod  = errors.New("ledger: invalid payment method")
	ErrOutOfRange     = errors.New("ledger: amount out of range")
)

// Amounts are stored as NUMERIC(12,2).
const (
	MaxIntegerDigits = 10
	maxScale         = 12
)

// InRange reports whether d has at most MaxIntegerDigits integer digits and
// a bounded scale. It inspects the exponent and digit count only, so it is
// safe to call on untrusted values before any arithmetic.
func InRange(d decimal.Decimal) bool {
	exp := int(d.Exponent())
	if exp > MaxIntegerDigits || exp < -maxScale {
		return false
	}
	return d.NumDigits()+exp <= MaxIntegerDigits
}

// Method identifies how a payment reached the front desk.
type Method string

const (
	Cash   Method = "cash"
	Online Method = "online"
)

// ParseMethod accepts "cash" or "online", case-insensitively.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case Cash:
		return Cash, nil
	case Online:
		return Online, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
}

func (m Method) Valid() bool { return m == Cash || m == Online }

// Money is an immutable cash/online split. Both components are never negative.
type Money struct {
	cash   decimal.Decimal
	online decimal.Decimal
}

// Zero returns an empty split.
func Zero() Money { return Money{} }

// New builds a split, rejecting negative components.
func New(cash, online decimal.Decimal) (Money, error) {
	if cash.IsNegative() || online.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	return Money{cash: cash, online: online}, nil
}

// Of puts the whole amount on a single method.
func Of(amount decimal.Decimal, method Method) (Money, error) {
	switch method {
	case Cash:
		return New(amount, decimal.Zero)
	case Online:
		return New(decimal.Zero, amount)
	}
	return Money{}, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
}

// MustParse is for tests and constants: "400.00", "0".
func MustParse(cash, online string) Money {
	m, err := New(decimal.RequireFromString(cash), decimal.RequireFromString(online))
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Cash() decimal.Decimal   { return m.cash }
func (m Money) Online() decimal.Decimal { return m.online }

// Total returns cash + online.
func (m Money) Total() decimal.Decimal { return m.cash.Add(m.online) }

// Get returns the component for a method.
func (m Money) Get(method Method) decimal.Decimal {
	if method == Online {
		return m.online
	}
	return m.cash
}

// Add adds component-wise.
func (m Money) Add(other Money) Money {
	return Money{cash: m.cash.Add(other.cash), online: m.online.Add(other.online)}
}

// Subtract subtracts component-wise and fails with ErrNegativeResult if
// either component would drop below zero.
func (m Money) Subtract(other Money) (Money, error) {
	cash := m.cash.Sub(other.cash)
	online := m.online.Sub(other.online)
	if cash.IsNegative() || online.IsNegative() {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrNegativeResult, m, other)
	}
	return Money{cash: cash, online: online}, nil
}

func (m Money) IsZero() bool { return m.cash.IsZero() && m.online.IsZero() }

// Equal compares numerically, so 400 and 400.00 are equal.
func (m Money) Equal(other Money) bool {
	return m.cash.Equal(other.cash) && m.online.Equal(other.online)
}

// String renders the total with two decimals.
func (m Money) String() string { return Display(m.Total()) }

// Display formats an amount with two decimals: "1000.00".
func Display(d decimal.Decimal) string { return d.StringFixed(2) }

type moneyJSON struct {
	Cash   decimal.Decimal `json:"cash"`
	Online decimal.Decimal `json:"online"`
}

// MarshalJSON writes each component and the total as two-decimal strings.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Cash   string `json:"cash"`
		Online string `json:"online"`
		Total  string `json:"total"`
	}{
		Cash:   Display(m.cash),
		Online: Display(m.online),
		Total:  m.String(),
	})
}

// UnmarshalJSON implements json.Unmarshaler. Missing components are zero.
func (m *Money) UnmarshalJSON(b []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if !InRange(raw.Cash) || !InRange(raw.Online) {
		return ErrOutOfRange
	}
	v, err := New(raw.Cash, raw.Online)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
