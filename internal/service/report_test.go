package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Rounit002/silentlibrary-sub001/internal/domain"
	"github.com/Rounit002/silentlibrary-sub001/internal/money"
)

func TestCollectionsAndProfitLoss(t *testing.T) {
	r, _, clock := setup(t)
	ctx := context.Background()
	from := clock.t

	o := newOwner(t, r)
	first := enroll(t, r, o.ID, "1000", money.MustParse("300", "100"))
	if _, err := r.Renew(ctx, o.ID, EnrollInput{TotalFee: dec("800")}); err != nil {
		t.Fatal(err)
	}
	r.RecordPayment(ctx, o.ID, PaymentInput{Amount: dec("200"), Method: money.Online, FeeAccountID: first.ID})
	r.RecordPayment(ctx, o.ID, pay("150", money.Cash))
	r.Deposit(ctx, o.ID, dec("250"), money.Cash)
	used, err := r.UseAdvance(ctx, o.ID, pay("100", money.Cash))
	if err != nil {
		t.Fatal(err)
	}
	r.ReverseAdvance(ctx, o.ID, used.Entry.ID)
	r.UseAdvance(ctx, o.ID, pay("40", money.Cash))

	if _, err := r.RecordExpense(ctx, ExpenseInput{Title: "electricity", Amount: dec("120"), Method: money.Online}); err != nil {
		t.Fatal(err)
	}
	to := clock.Now()

	col, err := r.Collections(ctx, from, to)
	if err != nil {
		t.Fatal(err)
	}
	if !col.Received.Equal(money.MustParse("450", "300")) {
		t.Fatalf("received: %+v", col.Received)
	}
	if !col.LatePayments.Equal(dec("200")) {
		t.Fatalf("late payments: %s", col.LatePayments)
	}
	if !col.AdvanceDeposits.Equal(money.MustParse("250", "0")) || !col.AdvanceApplied.Equal(dec("40")) {
		t.Fatalf("advance: deposits %s applied %s", col.AdvanceDeposits, col.AdvanceApplied)
	}
	if !col.Income().Total().Equal(dec("1000")) {
		t.Fatalf("income: %s", col.Income())
	}

	pl, err := r.ProfitLoss(ctx, from, to)
	if err != nil {
		t.Fatal(err)
	}
	if !pl.Expenses.Equal(money.MustParse("0", "120")) || !pl.Net.Equal(dec("880")) {
		t.Fatalf("profit/loss: %+v", pl)
	}

	empty, err := r.Collections(ctx, to.Add(time.Hour), to.Add(2*time.Hour))
	if err != nil || !empty.Received.IsZero() || empty.Entries != 0 {
		t.Fatalf("empty window: %+v %v", empty, err)
	}
}

func TestReportRejectsInvertedRange(t *testing.T) {
	r, _, _ := setup(t)
	now := time.Now()
	if _, err := r.Collections(context.Background(), now, now); !errors.Is(err, domain.ErrInvalidPeriod) {
		t.Fatalf("got %v", err)
	}
	if _, err := r.ProfitLoss(context.Background(), now, now.Add(-time.Hour)); !errors.Is(err, domain.ErrInvalidPeriod) {
		t.Fatalf("got %v", err)
	}
}

func TestRecordExpenseValidation(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	cases := []struct {
		name string
		in   ExpenseInput
		want error
	}{
		{"blank title", ExpenseInput{Title: " ", Amount: dec("1"), Method: money.Cash}, domain.ErrInvalidInput},
		{"zero amount", ExpenseInput{Title: "rent", Amount: dec("0"), Method: money.Cash}, domain.ErrInvalidAmount},
		{"too large", ExpenseInput{Title: "rent", Amount: dec("1e10000000"), Method: money.Cash}, domain.ErrInvalidAmount},
		{"bad method", ExpenseInput{Title: "rent", Amount: dec("1"), Method: "cheque"}, domain.ErrInvalidMethod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.RecordExpense(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}
