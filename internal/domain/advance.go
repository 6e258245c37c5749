package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rounit002/silentlibrary-sub001/internal/money"
)

// NewAdvanceBalance returns the empty pool for an owner. An empty pool has
// nothing remaining and is therefore fully used.
func NewAdvanceBalance(ownerID int64) AdvanceBalance {
	return AdvanceBalance{OwnerID: ownerID, Status: BalanceFullyUsed}
}

func (b *AdvanceBalance) refresh(now time.Time) {
	if b.Remaining().IsPositive() {
		b.Status = BalanceActive
	} else {
		b.Status = BalanceFullyUsed
	}
	b.UpdatedAt = now
}

// Deposit tops up the pool.
func (b *AdvanceBalance) Deposit(amount decimal.Decimal, method money.Method, now time.Time) (AdvanceDeposit, error) {
	if err := checkRange(amount, b.TotalDeposited.Add(amount)); err != nil {
		return AdvanceDeposit{}, err
	}
	if !amount.IsPositive() {
		return AdvanceDeposit{}, fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	if !method.Valid() {
		return AdvanceDeposit{}, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	b.TotalDeposited = b.TotalDeposited.Add(amount)
	b.refresh(now)
	return AdvanceDeposit{OwnerID: b.OwnerID, Amount: amount, Method: method, OccurredAt: now}, nil
}

// Use draws amount from the pool and applies it to acct. Nothing is
// changed unless both the draw and the payment succeed.
func (b *AdvanceBalance) Use(amount decimal.Decimal, method money.Method, acct *FeeAccount, now time.Time) (LedgerEntry, error) {
	if b.Status == BalanceFullyUsed {
		return LedgerEntry{}, ErrInactiveBalance
	}
	if err := checkRange(amount); err != nil {
		return LedgerEntry{}, err
	}
	if !amount.IsPositive() {
		return LedgerEntry{}, fmt.Errorf("%w: usage must be positive", ErrInvalidAmount)
	}
	if amount.GreaterThan(b.Remaining()) {
		return LedgerEntry{}, fmt.Errorf("%w: %s > %s", ErrInsufficientBalance,
			money.Display(amount), money.Display(b.Remaining()))
	}

	entry, err := acct.applyPayment(amount, method, KindAdvanceUsage, now)
	if err != nil {
		return LedgerEntry{}, err
	}
	// applyPayment may clamp to due within tolerance
	b.Used = b.Used.Add(entry.Amount.Total())
	b.refresh(now)
	return entry, nil
}

// Reverse returns an advance usage to the pool and takes the amount back
// off the account it was applied to.
func (b *AdvanceBalance) Reverse(usage LedgerEntry, acct *FeeAccount, now time.Time) (LedgerEntry, error) {
	if usage.Kind != KindAdvanceUsage {
		return LedgerEntry{}, fmt.Errorf("%w: entry %d is %s", ErrNotAdvanceUsage, usage.ID, usage.Kind)
	}
	if usage.FeeAccountID != acct.ID {
		return LedgerEntry{}, fmt.Errorf("%w: entry %d belongs to account %d", ErrFeeAccountNotFound, usage.ID, usage.FeeAccountID)
	}
	amount := usage.Amount.Total()
	used := b.Used.Sub(amount)
	if used.IsNegative() {
		return LedgerEntry{}, fmt.Errorf("%w: reversing %s from used %s", ErrNegativeResult,
			money.Display(amount), money.Display(b.Used))
	}
	if err := acct.removePayment(usage.Amount); err != nil {
		return LedgerEntry{}, err
	}
	b.Used = used
	b.refresh(now)

	reverses := usage.ID
	return LedgerEntry{
		FeeAccountID:    acct.ID,
		OwnerID:         acct.OwnerID,
		Kind:            KindAdvanceReversal,
		Method:          usage.Method,
		Amount:          usage.Amount,
		OccurredAt:      now,
		ReversesEntryID: &reverses,
	}, nil
}
