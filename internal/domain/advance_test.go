package domain

import (
	"errors"
	"testing"

	"github.com/Rounit002/silentlibrary-sub001/internal/money"
)

func TestAdvanceScenario(t *testing.T) {
	bal := NewAdvanceBalance(7)
	if _, err := bal.Deposit(dec("500"), money.Cash, now); err != nil {
		t.Fatal(err)
	}
	if !bal.TotalDeposited.Equal(dec("500")) || !bal.Remaining().Equal(dec("500")) || bal.Status != BalanceActive {
		t.Fatalf("after deposit: %+v remaining=%s", bal, bal.Remaining())
	}

	acct := newAccount(t, "500", money.Zero())
	entry, err := bal.Use(dec("500"), money.Cash, &acct, now)
	if err != nil {
		t.Fatal(err)
	}
	if !bal.Remaining().IsZero() || bal.Status != BalanceFullyUsed {
		t.Fatalf("after use: remaining=%s status=%s", bal.Remaining(), bal.Status)
	}
	if !acct.Due().IsZero() {
		t.Fatalf("account due: %s", acct.Due())
	}
	if entry.Kind != KindAdvanceUsage || entry.FeeAccountID != acct.ID {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if err := Verify(acct, Tally([]LedgerEntry{entry})); err != nil {
		t.Fatal(err)
	}
}

func TestAdvanceStatusToggles(t *testing.T) {
	bal := NewAdvanceBalance(1)
	if bal.Status != BalanceFullyUsed {
		t.Fatalf("empty pool status %s", bal.Status)
	}
	acct := newAccount(t, "1000", money.Zero())

	if _, err := bal.Use(dec("1"), money.Cash, &acct, now); !errors.Is(err, ErrInactiveBalance) {
		t.Fatalf("use on empty pool: got %v", err)
	}

	bal.Deposit(dec("100"), money.Online, now)
	if _, err := bal.Use(dec("60"), money.Cash, &acct, now); err != nil {
		t.Fatal(err)
	}
	if bal.Status != BalanceActive {
		t.Fatalf("status after partial use: %s", bal.Status)
	}
	if _, err := bal.Use(dec("40"), money.Online, &acct, now); err != nil {
		t.Fatal(err)
	}
	if bal.Status != BalanceFullyUsed {
		t.Fatalf("status after draining: %s", bal.Status)
	}
	if _, err := bal.Use(dec("1"), money.Cash, &acct, now); !errors.Is(err, ErrInactiveBalance) {
		t.Fatalf("use on drained pool: got %v", err)
	}

	bal.Deposit(dec("25"), money.Cash, now)
	if bal.Status != BalanceActive || !bal.Remaining().Equal(dec("25")) {
		t.Fatalf("after re-deposit: status=%s remaining=%s", bal.Status, bal.Remaining())
	}
}

func TestAdvanceNeverGoesNegative(t *testing.T) {
	bal := NewAdvanceBalance(1)
	acct := newAccount(t, "100000", money.Zero())
	deposits := []string{"100", "50.50", "0.25", "300"}
	uses := []string{"60", "100", "90.75", "0.01", "200", "500", "99.99"}

	deposited, used := dec("0"), dec("0")
	for i := 0; i < len(uses); i++ {
		if i < len(deposits) {
			if _, err := bal.Deposit(dec(deposits[i]), money.Cash, now); err != nil {
				t.Fatal(err)
			}
			deposited = deposited.Add(dec(deposits[i]))
		}
		if _, err := bal.Use(dec(uses[i]), money.Cash, &acct, now); err == nil {
			used = used.Add(dec(uses[i]))
		} else if !errors.Is(err, ErrInsufficientBalance) && !errors.Is(err, ErrInactiveBalance) {
			t.Fatalf("use %s: unexpected error %v", uses[i], err)
		}
		if bal.Remaining().IsNegative() {
			t.Fatalf("remaining negative after step %d: %s", i, bal.Remaining())
		}
		if !bal.Remaining().Equal(deposited.Sub(used)) {
			t.Fatalf("step %d: remaining %s, want %s", i, bal.Remaining(), deposited.Sub(used))
		}
	}
}

func TestAdvanceUseRejectedByAccountLeavesPoolUntouched(t *testing.T) {
	bal := NewAdvanceBalance(1)
	bal.Deposit(dec("500"), money.Cash, now)
	acct := newAccount(t, "100", money.Zero())

	if _, err := bal.Use(dec("200"), money.Cash, &acct, now); !errors.Is(err, ErrExceedsDue) {
		t.Fatalf("got %v, want ErrExceedsDue", err)
	}
	if !bal.Used.IsZero() || !acct.Paid.IsZero() {
		t.Fatalf("partial application: used=%s paid=%v", bal.Used, acct.Paid)
	}
}

func TestAdvanceReverse(t *testing.T) {
	bal := NewAdvanceBalance(1)
	bal.Deposit(dec("300"), money.Cash, now)
	acct := newAccount(t, "1000", money.MustParse("100", "0"))

	usage, err := bal.Use(dec("300"), money.Online, &acct, now)
	if err != nil {
		t.Fatal(err)
	}
	usage.ID = 42

	reversal, err := bal.Reverse(usage, &acct, now)
	if err != nil {
		t.Fatal(err)
	}
	if bal.Status != BalanceActive || !bal.Remaining().Equal(dec("300")) {
		t.Fatalf("after reverse: status=%s remaining=%s", bal.Status, bal.Remaining())
	}
	if !acct.Paid.Equal(money.MustParse("100", "0")) {
		t.Fatalf("paid after reverse: %v", acct.Paid)
	}
	if reversal.Kind != KindAdvanceReversal || reversal.ReversesEntryID == nil || *reversal.ReversesEntryID != 42 {
		t.Fatalf("unexpected reversal %+v", reversal)
	}

	initial := acct.InitialEntries(now)
	ledger := append(initial, usage, reversal)
	if err := Verify(acct, Tally(ledger)); err != nil {
		t.Fatal(err)
	}
}

func TestAdvanceReverseRejectsCollections(t *testing.T) {
	bal := NewAdvanceBalance(1)
	acct := newAccount(t, "100", money.Zero())
	e, _ := acct.ApplyPayment(dec("10"), money.Cash, now)
	if _, err := bal.Reverse(e, &acct, now); !errors.Is(err, ErrNotAdvanceUsage) {
		t.Fatalf("got %v", err)
	}
}

func TestDepositValidation(t *testing.T) {
	bal := NewAdvanceBalance(1)
	if _, err := bal.Deposit(dec("0"), money.Cash, now); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero deposit: %v", err)
	}
	if _, err := bal.Deposit(dec("10"), money.Method("cheque"), now); !errors.Is(err, ErrInvalidMethod) {
		t.Errorf("bad method: %v", err)
	}
	if _, err := bal.Deposit(dec("1e10000000"), money.Cash, now); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("huge deposit: %v", err)
	}
	if !bal.TotalDeposited.IsZero() {
		t.Errorf("rejected deposits changed the pool")
	}
}
