package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rounit002/silentlibrary-sub001/internal/money"
)

// dueTolerance absorbs sub-cent rounding when a payment is compared with
// the outstanding due. A payment within the tolerance is clamped to due.
var dueTolerance = decimal.New(1, -3)

// checkRange rejects amounts that cannot be stored, before any arithmetic
// touches them.
func checkRange(amounts ...decimal.Decimal) error {
	for _, d := range amounts {
		if !money.InRange(d) {
			return fmt.Errorf("%w: more than %d integer digits", ErrInvalidAmount, money.MaxIntegerDigits)
		}
	}
	return nil
}

// NewFeeAccount opens a billing period. The initial payment may not exceed
// the total fee.
func NewFeeAccount(ownerID int64, totalFee decimal.Decimal, initial money.Money, start, end time.Time, now time.Time) (FeeAccount, error) {
	if err := checkRange(totalFee, initial.Cash(), initial.Online()); err != nil {
		return FeeAccount{}, err
	}
	if totalFee.IsNegative() {
		return FeeAccount{}, fmt.Errorf("%w: total fee %s", ErrInvalidAmount, money.Display(totalFee))
	}
	if initial.Total().GreaterThan(totalFee) {
		return FeeAccount{}, fmt.Errorf("%w: initial payment %s exceeds total fee %s",
			ErrInvalidAmount, initial, money.Display(totalFee))
	}
	if !end.IsZero() && end.Before(start) {
		return FeeAccount{}, ErrInvalidPeriod
	}
	return FeeAccount{
		OwnerID:     ownerID,
		TotalFee:    totalFee,
		Paid:        initial,
		PeriodStart: start,
		PeriodEnd:   end,
		CreatedAt:   now,
	}, nil
}

// InitialEntries returns one initial_payment entry per non-zero method of
// the account's opening paid amount. The account must already have an ID.
func (a FeeAccount) InitialEntries(now time.Time) []LedgerEntry {
	var entries []LedgerEntry
	for _, m := range []money.Method{money.Cash, money.Online} {
		amt := a.Paid.Get(m)
		if !amt.IsPositive() {
			continue
		}
		part, _ := money.Of(amt, m)
		entries = append(entries, LedgerEntry{
			FeeAccountID: a.ID,
			OwnerID:      a.OwnerID,
			Kind:         KindInitialPayment,
			Method:       m,
			Amount:       part,
			OccurredAt:   now,
		})
	}
	return entries
}

// ApplyPayment records a collection against the account and returns the
// entry to append to the ledger.
func (a *FeeAccount) ApplyPayment(amount decimal.Decimal, method money.Method, now time.Time) (LedgerEntry, error) {
	return a.applyPayment(amount, method, KindCollection, now)
}

func (a *FeeAccount) applyPayment(amount decimal.Decimal, method money.Method, kind EntryKind, now time.Time) (LedgerEntry, error) {
	if err := checkRange(amount); err != nil {
		return LedgerEntry{}, err
	}
	if !amount.IsPositive() {
		return LedgerEntry{}, fmt.Errorf("%w: payment must be positive", ErrInvalidAmount)
	}
	if !method.Valid() {
		return LedgerEntry{}, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	due := a.Due()
	if !due.IsPositive() || amount.GreaterThan(due.Add(dueTolerance)) {
		return LedgerEntry{}, fmt.Errorf("%w: %s > %s", ErrExceedsDue, money.Display(amount), money.Display(due))
	}
	if amount.GreaterThan(due) {
		amount = due
	}

	part, err := money.Of(amount, method)
	if err != nil {
		return LedgerEntry{}, err
	}
	a.Paid = a.Paid.Add(part)
	return LedgerEntry{
		FeeAccountID: a.ID,
		OwnerID:      a.OwnerID,
		Kind:         kind,
		Method:       method,
		Amount:       part,
		OccurredAt:   now,
	}, nil
}

// removePayment takes a previously applied amount back off the account.
func (a *FeeAccount) removePayment(part money.Money) error {
	paid, err := a.Paid.Subtract(part)
	if err != nil {
		return err
	}
	a.Paid = paid
	return nil
}

// SetTotalFee edits the fee of the period. It may not drop below what has
// already been collected.
func (a *FeeAccount) SetTotalFee(total decimal.Decimal) error {
	if err := checkRange(total); err != nil {
		return err
	}
	if total.IsNegative() {
		return fmt.Errorf("%w: total fee %s", ErrInvalidAmount, money.Display(total))
	}
	if total.LessThan(a.Paid.Total()) {
		return fmt.Errorf("%w: %s < %s", ErrBelowPaidAmount, money.Display(total), a.Paid)
	}
	a.TotalFee = total
	return nil
}
