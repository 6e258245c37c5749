package domain

import (
	"fmt"

	"github.com/Rounit002/silentlibrary-sub001/internal/money"
)

// Tally accumulates the signed per-method totals of a set of entries.
func Tally(entries []LedgerEntry) PaymentTotals {
	var t PaymentTotals
	for _, e := range entries {
		t = t.With(e)
	}
	return t
}

// With adds (or, for reversals, subtracts) one entry.
func (t PaymentTotals) With(e LedgerEntry) PaymentTotals {
	if e.Kind.Credits() {
		return PaymentTotals{Cash: t.Cash.Add(e.Amount.Cash()), Online: t.Online.Add(e.Amount.Online())}
	}
	return PaymentTotals{Cash: t.Cash.Sub(e.Amount.Cash()), Online: t.Online.Sub(e.Amount.Online())}
}

// Verify checks the account's paid split against its ledger totals.
func Verify(acct FeeAccount, totals PaymentTotals) error {
	if acct.Paid.Cash().Equal(totals.Cash) && acct.Paid.Online().Equal(totals.Online) {
		return nil
	}
	return fmt.Errorf("%w: account %d paid cash=%s online=%s, ledger cash=%s online=%s",
		ErrLedgerMismatch, acct.ID,
		money.Display(acct.Paid.Cash()), money.Display(acct.Paid.Online()),
		money.Display(totals.Cash), money.Display(totals.Online))
}
