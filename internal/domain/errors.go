package domain

import (
	"errors"

	"github.com/Rounit002/silentlibrary-sub001/internal/money"
)

// Validation failures. Reported to the caller, never retried.
var (
	ErrInvalidInput        = errors.New("ledger: invalid input")
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
	ErrExceedsDue          = errors.New("ledger: payment exceeds due")
	ErrBelowPaidAmount     = errors.New("ledger: total fee below amount already paid")
	ErrInsufficientBalance = errors.New("ledger: insufficient advance balance")
	ErrInactiveBalance     = errors.New("ledger: advance balance fully used")
	ErrInvalidPeriod       = errors.New("ledger: period end before start")
	ErrNotAdvanceUsage     = errors.New("ledger: entry is not an advance usage")
	ErrIdempotencyMismatch = errors.New("ledger: idempotency key reused with a different request")

	ErrNegativeResult = money.ErrNegativeResult
	ErrInvalidMethod  = money.ErrInvalidMethod
)

// Lookup failures.
var (
	ErrOwnerNotFound      = errors.New("ledger: owner not found")
	ErrFeeAccountNotFound = errors.New("ledger: fee account not found")
	ErrEntryNotFound      = errors.New("ledger: ledger entry not found")
)

// State conflicts.
var (
	ErrAlreadyEnrolled   = errors.New("ledger: owner already enrolled")
	ErrNoActiveAccount   = errors.New("ledger: owner has no active fee account")
	ErrAccountSuperseded = errors.New("ledger: fee account superseded by a renewal")
	ErrAlreadyReversed   = errors.New("ledger: advance usage already reversed")
)

// ErrLedgerMismatch means the ledger and an account's paid total disagree.
// It is never corrected automatically.
var ErrLedgerMismatch = errors.New("ledger: ledger does not match account paid total")

// ErrStoreUnavailable wraps transaction begin/commit failures; the whole
// operation may be retried.
var ErrStoreUnavailable = errors.New("ledger: store unavailable")

// IsValidation returns true for input and business-rule rejections.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrExceedsDue) ||
		errors.Is(err, ErrBelowPaidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInactiveBalance) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrNotAdvanceUsage) ||
		errors.Is(err, ErrIdempotencyMismatch) ||
		errors.Is(err, ErrNegativeResult) ||
		errors.Is(err, money.ErrNegativeAmount) ||
		errors.Is(err, money.ErrOutOfRange) ||
		errors.Is(err, ErrInvalidMethod)
}

// IsNotFound returns true if the error is a lookup failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOwnerNotFound) ||
		errors.Is(err, ErrFeeAccountNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}

// IsConflict returns true if the operation does not fit the owner's state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyEnrolled) ||
		errors.Is(err, ErrNoActiveAccount) ||
		errors.Is(err, ErrAccountSuperseded) ||
		errors.Is(err, ErrAlreadyReversed)
}

// IsRetryable returns true if the operation can be retried as a whole.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
