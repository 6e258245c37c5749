package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rounit002/silentlibrary-sub001/internal/domain"
	"github.com/Rounit002/silentlibrary-sub001/internal/money"
)

// CollectionsReport covers money received in [From, To), by the time it
// was received rather than by the rows it touched.
type CollectionsReport struct {
	From time.Time
	To   time.Time
	// Received is desk money: initial payments and collections.
	Received money.Money
	// LatePayments is the part of Received that settled superseded periods.
	LatePayments    decimal.Decimal
	AdvanceDeposits money.Money
	// AdvanceApplied is advance usage net of reversals. It moves money
	// already counted in AdvanceDeposits and is not income.
	AdvanceApplied decimal.Decimal
	Entries        int
}

// Income is what came in through the desk in the period.
func (c CollectionsReport) Income() money.Money { return c.Received.Add(c.AdvanceDeposits) }

type ProfitLoss struct {
	From     time.Time
	To       time.Time
	Income   money.Money
	Expenses money.Money
	Net      decimal.Decimal
}

func checkRange(from, to time.Time) error {
	if !to.After(from) {
		return fmt.Errorf("%w: %s .. %s", domain.ErrInvalidPeriod, from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	return nil
}

func addTo(m money.Money, amount decimal.Decimal, method money.Method) money.Money {
	part, err := money.Of(amount, method)
	if err != nil {
		return m
	}
	return m.Add(part)
}

func (r *Reconciler) Collections(ctx context.Context, from, to time.Time) (CollectionsReport, error) {
	if err := checkRange(from, to); err != nil {
		return CollectionsReport{}, err
	}
	entries, err := r.store.EntriesBetween(ctx, from, to)
	if err != nil {
		return CollectionsReport{}, err
	}
	deposits, err := r.store.DepositsBetween(ctx, from, to)
	if err != nil {
		return CollectionsReport{}, err
	}

	rep := CollectionsReport{From: from, To: to, Entries: len(entries)}
	for _, e := range entries {
		switch e.Kind {
		case domain.KindInitialPayment, domain.KindCollection:
			rep.Received = rep.Received.Add(e.Amount)
			if e.PeriodStart != nil {
				rep.LatePayments = rep.LatePayments.Add(e.Amount.Total())
			}
		case domain.KindAdvanceUsage:
			rep.AdvanceApplied = rep.AdvanceApplied.Add(e.Amount.Total())
		case domain.KindAdvanceReversal:
			rep.AdvanceApplied = rep.AdvanceApplied.Sub(e.Amount.Total())
		}
	}
	for _, d := range deposits {
		rep.AdvanceDeposits = addTo(rep.AdvanceDeposits, d.Amount, d.Method)
	}
	return rep, nil
}

func (r *Reconciler) ProfitLoss(ctx context.Context, from, to time.Time) (ProfitLoss, error) {
	col, err := r.Collections(ctx, from, to)
	if err != nil {
		return ProfitLoss{}, err
	}
	expenses, err := r.store.ExpensesBetween(ctx, from, to)
	if err != nil {
		return ProfitLoss{}, err
	}

	pl := ProfitLoss{From: from, To: to, Income: col.Income()}
	for _, e := range expenses {
		pl.Expenses = addTo(pl.Expenses, e.Amount, e.Method)
	}
	pl.Net = pl.Income.Total().Sub(pl.Expenses.Total())
	return pl, nil
}

// ExpenseInput records an outgoing payment. Zero OccurredAt means now.
type ExpenseInput struct {
	Title      string
	Amount     decimal.Decimal
	Method     money.Method
	OccurredAt time.Time
}

func (r *Reconciler) RecordExpense(ctx context.Context, in ExpenseInput) (domain.Expense, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Expense{}, fmt.Errorf("%w: expense title required", domain.ErrInvalidInput)
	}
	if !in.Amount.IsPositive() || !money.InRange(in.Amount) {
		return domain.Expense{}, fmt.Errorf("%w: expense must be positive and storable", domain.ErrInvalidAmount)
	}
	if !in.Method.Valid() {
		return domain.Expense{}, fmt.Errorf("%w: %q", domain.ErrInvalidMethod, in.Method)
	}
	at := in.OccurredAt
	if at.IsZero() {
		at = r.now()
	}
	e, err := r.store.RecordExpense(ctx, domain.Expense{
		Title:      title,
		Amount:     in.Amount,
		Method:     in.Method,
		OccurredAt: at.UTC(),
	})
	operationsTotal.WithLabelValues("record_expense", outcome(err)).Inc()
	return e, err
}
