package service

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rounit002/silentlibrary-sub001/internal/domain"
	"github.com/Rounit002/silentlibrary-sub001/internal/money"
	"github.com/Rounit002/silentlibrary-sub001/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

// Now advances one second per call so entries have distinct timestamps.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T) (*Reconciler, store.Store, *fakeClock) {
	t.Helper()
	s := store.NewMemory()
	clock := newClock()
	return NewReconciler(s, WithClock(clock.Now)), s, clock
}

func newOwner(t *testing.T, r *Reconciler) domain.Owner {
	t.Helper()
	o, err := r.CreateOwner(context.Background(), "Asha", domain.OwnerStudent)
	if err != nil {
		t.Fatalf("CreateOwner: %v", err)
	}
	return o
}

func enroll(t *testing.T, r *Reconciler, ownerID int64, total string, initial money.Money) domain.FeeAccount {
	t.Helper()
	acct, err := r.Enroll(context.Background(), ownerID, EnrollInput{TotalFee: dec(total), Initial: initial})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	return acct
}

func collect(seq iter.Seq2[domain.LedgerEntry, error]) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for e, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

func pay(amount string, method money.Method) PaymentInput {
	return PaymentInput{Amount: dec(amount), Method: method}
}

func TestEnroll(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	o := newOwner(t, r)

	acct := enroll(t, r, o.ID, "1000", money.MustParse("100", "50"))
	if !acct.Due().Equal(dec("850")) {
		t.Fatalf("due: got %s", acct.Due())
	}

	entries, err := collect(r.History(ctx, o.ID, acct.ID))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d initial entries, want 2", len(entries))
	}

	sum, err := r.Summary(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.State != domain.StateActive || sum.Current == nil || sum.Current.ID != acct.ID {
		t.Fatalf("unexpected summary %+v", sum)
	}

	if _, err := r.Enroll(ctx, o.ID, EnrollInput{TotalFee: dec("10")}); !errors.Is(err, domain.ErrAlreadyEnrolled) {
		t.Fatalf("second enroll: got %v", err)
	}
}

func TestEnrollRejectsOverpayment(t *testing.T) {
	r, _, _ := setup(t)
	o := newOwner(t, r)
	_, err := r.Enroll(context.Background(), o.ID, EnrollInput{TotalFee: dec("100"), Initial: money.MustParse("101", "0")})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("got %v", err)
	}
	sum, _ := r.Summary(context.Background(), o.ID)
	if sum.State != domain.StateNoAccount {
		t.Fatalf("state after rejected enroll: %s", sum.State)
	}
}

func TestPaymentScenario(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	o := newOwner(t, r)
	enroll(t, r, o.ID, "1000", money.Zero())

	res, err := r.RecordPayment(ctx, o.ID, pay("400", money.Cash))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Account.Paid.Equal(money.MustParse("400", "0")) || !res.Account.Due().Equal(dec("600")) {
		t.Fatalf("after 400 cash: %+v", res.Account)
	}

	if _, err := r.RecordPayment(ctx, o.ID, pay("700", money.Online)); !errors.Is(err, domain.ErrExceedsDue) {
		t.Fatalf("700 online: got %v", err)
	}

	res, err = r.RecordPayment(ctx, o.ID, pay("600", money.Online))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Account.Paid.Equal(money.MustParse("400", "600")) || !res.Account.Due().IsZero() {
		t.Fatalf("after 600 online: %+v", res.Account)
	}
	if res.Entry.Kind != domain.KindCollection || res.Entry.PeriodStart != nil {
		t.Fatalf("unexpected entry %+v", res.Entry)
	}

	entries, err := collect(r.History(ctx, o.ID, res.Account.ID))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Method != money.Online || entries[1].Method != money.Cash {
		t.Fatalf("history not newest first: %+v", entries)
	}

	audit, err := r.Audit(ctx, o.ID)
	if err != nil || len(audit) != 1 || !audit[0].Consistent {
		t.Fatalf("audit: %+v %v", audit, err)
	}
}

func TestPaymentWithoutAccount(t *testing.T) {
	r, _, _ := setup(t)
	o := newOwner(t, r)
	if _, err := r.RecordPayment(context.Background(), o.ID, pay("1", money.Cash)); !errors.Is(err, domain.ErrNoActiveAccount) {
		t.Fatalf("got %v", err)
	}
	if _, err := r.RecordPayment(context.Background(), 999, pay("1", money.Cash)); !errors.Is(err, domain.ErrOwnerNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestRenewKeepsHistoryAndTagsLatePayments(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	o := newOwner(t, r)
	first := enroll(t, r, o.ID, "1000", money.MustParse("700", "0"))

	second, err := r.Renew(ctx, o.ID, EnrollInput{TotalFee: dec("1200"), Initial: money.MustParse("0", "200")})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID == first.ID || !second.Due().Equal(dec("1000")) {
		t.Fatalf("unexpected renewal %+v", second)
	}

	sum, err := r.Summary(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.State != domain.StateRenewed || sum.Current.ID != second.ID || len(sum.History) != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	old := sum.History[0]
	if old.ID != first.ID || !old.TotalFee.Equal(dec("1000")) || !old.Paid.Equal(first.Paid) {
		t.Fatalf("prior account was overwritten: %+v", old)
	}
	if old.SupersededBy == nil || *old.SupersededBy != second.ID {
		t.Fatalf("prior account not marked superseded: %+v", old)
	}

	// previous-month due paid late
	res, err := r.RecordPayment(ctx, o.ID, PaymentInput{Amount: dec("300"), Method: money.Cash, FeeAccountID: first.ID})
	if err != nil {
		t.Fatal(err)
	}
	if res.Account.ID != first.ID || !res.Account.Due().IsZero() {
		t.Fatalf("late payment hit the wrong account: %+v", res.Account)
	}
	if res.Entry.PeriodStart == nil || !res.Entry.PeriodStart.Equal(first.PeriodStart) {
		t.Fatalf("late payment not tagged with its period: %+v", res.Entry)
	}

	sum, _ = r.Summary(ctx, o.ID)
	if !sum.Current.Paid.Equal(second.Paid) {
		t.Fatalf("late payment changed current account: %+v", sum.Current)
	}

	if _, err := r.UpdateTotalFee(ctx, o.ID, first.ID, dec("2000")); !errors.Is(err, domain.ErrAccountSuperseded) {
		t.Fatalf("editing superseded fee: got %v", err)
	}
}

func TestRenewWithoutEnrollment(t *testing.T) {
	r, _, _ := setup(t)
	o := newOwner(t, r)
	if _, err := r.Renew(context.Background(), o.ID, EnrollInput{TotalFee: dec("10")}); !errors.Is(err, domain.ErrNoActiveAccount) {
		t.Fatalf("got %v", err)
	}
}

func TestUpdateTotalFee(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	o := newOwner(t, r)
	enroll(t, r, o.ID, "1000", money.MustParse("600", "0"))

	if _, err := r.UpdateTotalFee(ctx, o.ID, 0, dec("599")); !errors.Is(err, domain.ErrBelowPaidAmount) {
		t.Fatalf("got %v", err)
	}
	acct, err := r.UpdateTotalFee(ctx, o.ID, 0, dec("800"))
	if err != nil {
		t.Fatal(err)
	}
	if !acct.Due().Equal(dec("200")) {
		t.Fatalf("due: %s", acct.Due())
	}
}

func TestAdvanceScenario(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	o := newOwner(t, r)
	acct := enroll(t, r, o.ID, "500", money.Zero())

	bal, err := r.Deposit(ctx, o.ID, dec("500"), money.Cash)
	if err != nil {
		t.Fatal(err)
	}
	if !bal.TotalDeposited.Equal(dec("500")) || !bal.Remaining().Equal(dec("500")) || bal.Status != domain.BalanceActive {
		t.Fatalf("after deposit: %+v", bal)
	}

	res, err := r.UseAdvance(ctx, o.ID, pay("500", money.Cash))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Balance.Remaining().IsZero() || res.Balance.Status != domain.BalanceFullyUsed {
		t.Fatalf("balance after use: %+v", res.Balance)
	}
	if res.Account.ID != acct.ID || !res.Account.Due().IsZero() {
		t.Fatalf("account after use: %+v", res.Account)
	}
	if res.Entry.Kind != domain.KindAdvanceUsage {
		t.Fatalf("entry kind %s", res.Entry.Kind)
	}

	if _, err := r.UseAdvance(ctx, o.ID, pay("1", money.Cash)); !errors.Is(err, domain.ErrInactiveBalance) {
		t.Fatalf("use of drained pool: got %v", err)
	}
}

func TestAdvanceInsufficient(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	o := newOwner(t, r)
	enroll(t, r, o.ID, "1000", money.Zero())
	r.Deposit(ctx, o.ID, dec("100"), money.Online)

	if _, err := r.UseAdvance(ctx, o.ID, pay("100.01", money.Online)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("got %v", err)
	}
}

func TestReverseAdvance(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	o := newOwner(t, r)
	enroll(t, r, o.ID, "1000", money.Zero())
	r.Deposit(ctx, o.ID, dec("300"), money.Cash)

	used, err := r.UseAdvance(ctx, o.ID, pay("300", money.Cash))
	if err != nil {
		t.Fatal(err)
	}

	res, err := r.ReverseAdvance(ctx, o.ID, used.Entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Balance.Remaining().Equal(dec("300")) || res.Balance.Status != domain.BalanceActive {
		t.Fatalf("balance after reverse: %+v", res.Balance)
	}
	if !res.Account.Due().Equal(dec("1000")) {
		t.Fatalf("account after reverse: %+v", res.Account)
	}

	if _, err := r.ReverseAdvance(ctx, o.ID, used.Entry.ID); !errors.Is(err, domain.ErrAlreadyReversed) {
		t.Fatalf("second reverse: got %v", err)
	}
	if _, err := r.ReverseAdvance(ctx, o.ID, res.Entry.ID); !errors.Is(err, domain.ErrNotAdvanceUsage) {
		t.Fatalf("reversing a reversal: got %v", err)
	}
	if _, err := r.ReverseAdvance(ctx, o.ID, 424242); !errors.Is(err, domain.ErrEntryNotFound) {
		t.Fatalf("unknown entry: got %v", err)
	}

	if audit, err := r.Audit(ctx, o.ID); err != nil || !audit[0].Consistent {
		t.Fatalf("audit after reverse: %+v %v", audit, err)
	}
}

func TestDeleteOwnerCascades(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	o := newOwner(t, r)
	first := enroll(t, r, o.ID, "1000", money.MustParse("100", "0"))
	second, _ := r.Renew(ctx, o.ID, EnrollInput{TotalFee: dec("500")})
	r.Deposit(ctx, o.ID, dec("50"), money.Cash)

	keep := newOwner(t, r)
	kept := enroll(t, r, keep.ID, "10", money.MustParse("10", "0"))

	if err := r.DeleteOwner(ctx, o.ID); err != nil {
		t.Fatal(err)
	}

	for _, id := range []int64{first.ID, second.ID} {
		entries, err := collect(r.History(ctx, o.ID, id))
		if !errors.Is(err, domain.ErrOwnerNotFound) || len(entries) != 0 {
			t.Fatalf("history of deleted account %d: %v %v", id, entries, err)
		}
	}
	if _, err := r.Summary(ctx, o.ID); !errors.Is(err, domain.ErrOwnerNotFound) {
		t.Fatalf("summary: got %v", err)
	}
	if err := r.DeleteOwner(ctx, o.ID); !errors.Is(err, domain.ErrOwnerNotFound) {
		t.Fatalf("second delete: got %v", err)
	}

	entries, err := collect(r.History(ctx, keep.ID, kept.ID))
	if err != nil || len(entries) != 1 {
		t.Fatalf("other owner affected: %v %v", entries, err)
	}
}

func TestHistoryIsRestartable(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	o := newOwner(t, r)
	acct := enroll(t, r, o.ID, "1000", money.Zero())
	for _, a := range []string{"10", "20", "30"} {
		if _, err := r.RecordPayment(ctx, o.ID, pay(a, money.Cash)); err != nil {
			t.Fatal(err)
		}
	}

	seq := r.History(ctx, o.ID, acct.ID)
	first, err := collect(seq)
	if err != nil {
		t.Fatal(err)
	}
	second, err := collect(seq)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 || len(first) != len(second) {
		t.Fatalf("lengths %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("order changed at %d", i)
		}
	}

	r.RecordPayment(ctx, o.ID, pay("40", money.Online))
	third, _ := collect(seq)
	if len(third) != 4 || third[0].Method != money.Online {
		t.Fatalf("re-ranging did not re-read: %+v", third)
	}

	// stopping early is allowed
	for range seq {
		break
	}
}

func TestConcurrentPaymentsSameOwner(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	o := newOwner(t, r)
	acct := enroll(t, r, o.ID, "500", money.Zero())

	const workers = 80
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			method := money.Cash
			if i%2 == 0 {
				method = money.Online
			}
			_, err := r.RecordPayment(ctx, o.ID, pay("10", method))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrExceedsDue):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 50 || rejected != workers-50 {
		t.Fatalf("succeeded=%d rejected=%d", succeeded, rejected)
	}
	entries, err := collect(r.History(ctx, o.ID, acct.ID))
	if err != nil || len(entries) != 50 {
		t.Fatalf("entries=%d err=%v", len(entries), err)
	}
	audit, err := r.Audit(ctx, o.ID)
	if err != nil || !audit[0].Consistent {
		t.Fatalf("audit: %+v %v", audit, err)
	}
}

func TestConcurrentOwnersAreIndependent(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()

	var owners []domain.Owner
	for i := 0; i < 10; i++ {
		o := newOwner(t, r)
		enroll(t, r, o.ID, "100", money.Zero())
		owners = append(owners, o)
	}

	var wg sync.WaitGroup
	for _, o := range owners {
		for j := 0; j < 10; j++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				if _, err := r.RecordPayment(ctx, id, pay("10", money.Cash)); err != nil {
					t.Errorf("owner %d: %v", id, err)
				}
			}(o.ID)
		}
	}
	wg.Wait()

	for _, o := range owners {
		sum, err := r.Summary(ctx, o.ID)
		if err != nil || !sum.Current.Due().IsZero() {
			t.Fatalf("owner %d: %+v %v", o.ID, sum.Current, err)
		}
	}
}

func TestIdempotentPayment(t *testing.T) {
	r, _, _ := setup(t)
	o := newOwner(t, r)
	acct := enroll(t, r, o.ID, "1000", money.Zero())

	idem := &Idempotency{Key: "k-1", RequestHash: HashRequest([]byte(`{"amount":"100"}`)), Status: 201}
	first, err := r.RecordPayment(WithIdempotency(context.Background(), idem), o.ID, pay("100", money.Cash))
	if err != nil || idem.Replayed {
		t.Fatalf("first call: %v replayed=%v", err, idem.Replayed)
	}

	again := &Idempotency{Key: "k-1", RequestHash: idem.RequestHash}
	second, err := r.RecordPayment(WithIdempotency(context.Background(), again), o.ID, pay("100", money.Cash))
	if err != nil || !again.Replayed {
		t.Fatalf("replay: %v replayed=%v", err, again.Replayed)
	}
	if second.Entry.ID != first.Entry.ID || !second.Account.Due().Equal(dec("900")) {
		t.Fatalf("replay returned %+v", second)
	}
	if again.Status != 201 {
		t.Fatalf("replay status %d, want the stored 201", again.Status)
	}

	entries, _ := collect(r.History(context.Background(), o.ID, acct.ID))
	if len(entries) != 1 {
		t.Fatalf("replay wrote %d entries", len(entries))
	}

	other := &Idempotency{Key: "k-1", RequestHash: HashRequest([]byte(`{"amount":"200"}`))}
	if _, err := r.RecordPayment(WithIdempotency(context.Background(), other), o.ID, pay("200", money.Cash)); !errors.Is(err, domain.ErrIdempotencyMismatch) {
		t.Fatalf("mismatched body: got %v", err)
	}
}

// failingStore fails InsertEntry after the account update has been written.
type failingStore struct {
	*store.Memory
	failEntries bool
	skewLedger  bool
}

type failingTx struct {
	store.Tx
	s *failingStore
}

func (f *failingStore) InOwnerTx(ctx context.Context, ownerID int64, fn func(store.Tx) error) error {
	return f.Memory.InOwnerTx(ctx, ownerID, func(tx store.Tx) error {
		return fn(&failingTx{Tx: tx, s: f})
	})
}

var errDisk = errors.New("disk full")

func (t *failingTx) InsertEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if t.s.failEntries {
		return errDisk
	}
	return t.Tx.InsertEntry(ctx, e)
}

func (t *failingTx) SumPayments(ctx context.Context, accountID int64) (domain.PaymentTotals, error) {
	totals, err := t.Tx.SumPayments(ctx, accountID)
	if t.s.skewLedger {
		totals.Cash = totals.Cash.Add(decimal.NewFromInt(1))
	}
	return totals, err
}

func TestFailedStepRollsBackEverything(t *testing.T) {
	fs := &failingStore{Memory: store.NewMemory()}
	r := NewReconciler(fs, WithClock(newClock().Now))
	ctx := context.Background()
	o := newOwner(t, r)
	acct := enroll(t, r, o.ID, "1000", money.Zero())
	r.Deposit(ctx, o.ID, dec("200"), money.Cash)

	fs.failEntries = true
	if _, err := r.RecordPayment(ctx, o.ID, pay("100", money.Cash)); !errors.Is(err, errDisk) {
		t.Fatalf("got %v", err)
	}
	if _, err := r.UseAdvance(ctx, o.ID, pay("100", money.Cash)); !errors.Is(err, errDisk) {
		t.Fatalf("got %v", err)
	}
	fs.failEntries = false

	sum, err := r.Summary(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Current.Paid.IsZero() || !sum.Advance.Used.IsZero() {
		t.Fatalf("partial write visible: account=%+v advance=%+v", sum.Current, sum.Advance)
	}
	entries, _ := collect(r.History(ctx, o.ID, acct.ID))
	if len(entries) != 0 {
		t.Fatalf("entries leaked: %+v", entries)
	}
}

func TestLedgerMismatchAborts(t *testing.T) {
	fs := &failingStore{Memory: store.NewMemory()}
	r := NewReconciler(fs, WithClock(newClock().Now))
	ctx := context.Background()
	o := newOwner(t, r)
	enroll(t, r, o.ID, "1000", money.Zero())

	fs.skewLedger = true
	if _, err := r.RecordPayment(ctx, o.ID, pay("100", money.Cash)); !errors.Is(err, domain.ErrLedgerMismatch) {
		t.Fatalf("got %v", err)
	}
	audit, err := r.Audit(ctx, o.ID)
	if !errors.Is(err, domain.ErrLedgerMismatch) || len(audit) != 1 || audit[0].Consistent {
		t.Fatalf("audit: %+v %v", audit, err)
	}
	fs.skewLedger = false

	sum, _ := r.Summary(ctx, o.ID)
	if !sum.Current.Paid.IsZero() {
		t.Fatalf("mismatched payment committed: %+v", sum.Current)
	}
}

func TestCreateOwnerValidation(t *testing.T) {
	r, _, _ := setup(t)
	if _, err := r.CreateOwner(context.Background(), "  ", domain.OwnerStudent); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("blank name: got %v", err)
	}
	if _, err := r.CreateOwner(context.Background(), "Ravi", domain.OwnerKind("staff")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("bad kind: got %v", err)
	}
	o, err := r.CreateOwner(context.Background(), "Ravi", "")
	if err != nil || o.Kind != domain.OwnerStudent {
		t.Fatalf("default kind: %+v %v", o, err)
	}
}
