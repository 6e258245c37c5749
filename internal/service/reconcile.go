package service

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rounit002/silentlibrary-sub001/internal/domain"
	"github.com/Rounit002/silentlibrary-sub001/internal/money"
	"github.com/Rounit002/silentlibrary-sub001/internal/store"
)

// Reconciler keeps fee accounts, the ledger and advance balances in step.
// Each operation runs in a single owner-locked store transaction and
// cross-checks every account it touched against the ledger before commit.
type Reconciler struct {
	store store.Store
	clock func() time.Time
	log   *slog.Logger
}

type Option func(*Reconciler)

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) { r.clock = clock }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

func NewReconciler(s store.Store, opts ...Option) *Reconciler {
	r := &Reconciler{store: s, clock: time.Now, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// now is truncated to what Postgres can store.
func (r *Reconciler) now() time.Time {
	return r.clock().UTC().Truncate(time.Microsecond)
}

// EnrollInput opens a billing period. Zero PeriodStart means now.
type EnrollInput struct {
	TotalFee    decimal.Decimal
	Initial     money.Money
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// PaymentInput targets the current account when FeeAccountID is zero.
type PaymentInput struct {
	Amount       decimal.Decimal
	Method       money.Method
	FeeAccountID int64
}

type PaymentResult struct {
	Account domain.FeeAccount
	Entry   domain.LedgerEntry
}

type AdvanceResult struct {
	Balance domain.AdvanceBalance
	Account domain.FeeAccount
	Entry   domain.LedgerEntry
}

type OwnerSummary struct {
	Owner   domain.Owner
	State   domain.OwnerState
	Current *domain.FeeAccount
	// History holds superseded accounts, newest first.
	History []domain.FeeAccount
	Advance domain.AdvanceBalance
}

type AccountAudit struct {
	AccountID  int64
	Paid       money.Money
	Ledger     domain.PaymentTotals
	Consistent bool
}

// run executes fn inside the owner's transaction, honoring an idempotency
// key from ctx.
func run[T any](ctx context.Context, r *Reconciler, op string, ownerID int64, fn func(store.Tx) (T, error)) (T, error) {
	idem := idempotencyFrom(ctx)
	var out T
	err := r.store.InOwnerTx(ctx, ownerID, func(tx store.Tx) error {
		if idem != nil {
			rec, err := tx.Idempotency(ctx, idem.Key)
			if err != nil {
				return err
			}
			if rec != nil {
				if rec.RequestHash != idem.RequestHash {
					return domain.ErrIdempotencyMismatch
				}
				if err := json.Unmarshal(rec.ResponseBody, &out); err != nil {
					return fmt.Errorf("decode stored result for key %q: %w", idem.Key, err)
				}
				idem.Replayed = true
				if rec.ResponseStatus != 0 {
					idem.Status = rec.ResponseStatus
				}
				return nil
			}
		}

		res, err := fn(tx)
		if err != nil {
			return err
		}

		if idem != nil {
			body, err := json.Marshal(res)
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			err = tx.SaveIdempotency(ctx, domain.IdempotencyRecord{
				OwnerID:        ownerID,
				Key:            idem.Key,
				RequestHash:    idem.RequestHash,
				ResponseStatus: idem.Status,
				ResponseBody:   body,
				CreatedAt:      r.now(),
			})
			if err != nil {
				return err
			}
		}
		out = res
		return nil
	})

	operationsTotal.WithLabelValues(op, outcome(err)).Inc()
	if idem != nil && idem.Replayed && err == nil {
		idempotentReplays.WithLabelValues(op).Inc()
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// verify compares an account with its ledger. A mismatch aborts the
// transaction and is reported, never patched.
func (r *Reconciler) verify(ctx context.Context, tx store.Tx, acct domain.FeeAccount) error {
	totals, err := tx.SumPayments(ctx, acct.ID)
	if err != nil {
		return err
	}
	if err := domain.Verify(acct, totals); err != nil {
		consistencyFailures.Inc()
		r.log.Error("ledger consistency check failed",
			"owner_id", acct.OwnerID,
			"account_id", acct.ID,
			"error", err)
		return err
	}
	return nil
}

func (r *Reconciler) CreateOwner(ctx context.Context, name string, kind domain.OwnerKind) (domain.Owner, error) {
	if kind == "" {
		kind = domain.OwnerStudent
	}
	name = strings.TrimSpace(name)
	if name == "" || !kind.Valid() {
		return domain.Owner{}, fmt.Errorf("%w: owner needs a name and kind student or hostel_stay", domain.ErrInvalidInput)
	}
	o, err := r.store.CreateOwner(ctx, name, kind)
	operationsTotal.WithLabelValues("create_owner", outcome(err)).Inc()
	return o, err
}

// Ping reports whether the store is reachable.
func (r *Reconciler) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func (r *Reconciler) GetOwner(ctx context.Context, id int64) (domain.Owner, error) {
	return r.store.GetOwner(ctx, id)
}

func (r *Reconciler) ListOwners(ctx context.Context) ([]domain.Owner, error) {
	return r.store.ListOwners(ctx)
}

// openAccount inserts a new account with its initial entries.
func (r *Reconciler) openAccount(ctx context.Context, tx store.Tx, in EnrollInput, now time.Time) (domain.FeeAccount, error) {
	acct, err := domain.NewFeeAccount(tx.Owner().ID, in.TotalFee, in.Initial, in.PeriodStart, in.PeriodEnd, now)
	if err != nil {
		return domain.FeeAccount{}, err
	}
	if err := tx.InsertAccount(ctx, &acct); err != nil {
		return domain.FeeAccount{}, err
	}
	for _, e := range acct.InitialEntries(now) {
		if err := tx.InsertEntry(ctx, &e); err != nil {
			return domain.FeeAccount{}, err
		}
	}
	if err := tx.SetCurrentAccount(ctx, acct.ID); err != nil {
		return domain.FeeAccount{}, err
	}
	return acct, r.verify(ctx, tx, acct)
}

// Enroll opens the owner's first fee account.
func (r *Reconciler) Enroll(ctx context.Context, ownerID int64, in EnrollInput) (domain.FeeAccount, error) {
	return run(ctx, r, "enroll", ownerID, func(tx store.Tx) (domain.FeeAccount, error) {
		if tx.Owner().CurrentAccountID != nil {
			return domain.FeeAccount{}, domain.ErrAlreadyEnrolled
		}
		now := r.now()
		if in.PeriodStart.IsZero() {
			in.PeriodStart = now
		}
		return r.openAccount(ctx, tx, in, now)
	})
}

// Renew opens a new current account. The previous one is kept unchanged
// apart from being marked superseded.
func (r *Reconciler) Renew(ctx context.Context, ownerID int64, in EnrollInput) (domain.FeeAccount, error) {
	return run(ctx, r, "renew", ownerID, func(tx store.Tx) (domain.FeeAccount, error) {
		current := tx.Owner().CurrentAccountID
		if current == nil {
			return domain.FeeAccount{}, domain.ErrNoActiveAccount
		}
		prev, err := tx.Account(ctx, *current)
		if err != nil {
			return domain.FeeAccount{}, err
		}

		now := r.now()
		if in.PeriodStart.IsZero() {
			in.PeriodStart = now
			if !prev.PeriodEnd.IsZero() && prev.PeriodEnd.After(now) {
				in.PeriodStart = prev.PeriodEnd
			}
		}
		acct, err := r.openAccount(ctx, tx, in, now)
		if err != nil {
			return domain.FeeAccount{}, err
		}

		prev.SupersededBy = &acct.ID
		if err := tx.UpdateAccount(ctx, prev); err != nil {
			return domain.FeeAccount{}, err
		}
		return acct, nil
	})
}

func targetAccount(ctx context.Context, tx store.Tx, id int64) (domain.FeeAccount, error) {
	if id == 0 {
		current := tx.Owner().CurrentAccountID
		if current == nil {
			return domain.FeeAccount{}, domain.ErrNoActiveAccount
		}
		id = *current
	}
	return tx.Account(ctx, id)
}

// tagPriorPeriod marks a payment that settles a superseded account.
func tagPriorPeriod(e *domain.LedgerEntry, acct domain.FeeAccount) {
	if acct.Superseded() {
		start := acct.PeriodStart
		e.PeriodStart = &start
	}
}

// RecordPayment collects a payment against the current account, or against
// an earlier account when in.FeeAccountID names one.
func (r *Reconciler) RecordPayment(ctx context.Context, ownerID int64, in PaymentInput) (PaymentResult, error) {
	return run(ctx, r, "record_payment", ownerID, func(tx store.Tx) (PaymentResult, error) {
		acct, err := targetAccount(ctx, tx, in.FeeAccountID)
		if err != nil {
			return PaymentResult{}, err
		}
		entry, err := acct.ApplyPayment(in.Amount, in.Method, r.now())
		if err != nil {
			return PaymentResult{}, err
		}
		tagPriorPeriod(&entry, acct)

		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return PaymentResult{}, err
		}
		if err := tx.InsertEntry(ctx, &entry); err != nil {
			return PaymentResult{}, err
		}
		if err := r.verify(ctx, tx, acct); err != nil {
			return PaymentResult{}, err
		}
		return PaymentResult{Account: acct, Entry: entry}, nil
	})
}

// UpdateTotalFee edits the fee of the current account (accountID 0) or of
// a named, not yet superseded account.
func (r *Reconciler) UpdateTotalFee(ctx context.Context, ownerID, accountID int64, total decimal.Decimal) (domain.FeeAccount, error) {
	return run(ctx, r, "update_total_fee", ownerID, func(tx store.Tx) (domain.FeeAccount, error) {
		acct, err := targetAccount(ctx, tx, accountID)
		if err != nil {
			return domain.FeeAccount{}, err
		}
		if acct.Superseded() {
			return domain.FeeAccount{}, domain.ErrAccountSuperseded
		}
		if err := acct.SetTotalFee(total); err != nil {
			return domain.FeeAccount{}, err
		}
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return domain.FeeAccount{}, err
		}
		return acct, r.verify(ctx, tx, acct)
	})
}

// Deposit tops up the owner's advance pool.
func (r *Reconciler) Deposit(ctx context.Context, ownerID int64, amount decimal.Decimal, method money.Method) (domain.AdvanceBalance, error) {
	return run(ctx, r, "deposit", ownerID, func(tx store.Tx) (domain.AdvanceBalance, error) {
		bal, err := tx.Advance(ctx)
		if err != nil {
			return domain.AdvanceBalance{}, err
		}
		dep, err := bal.Deposit(amount, method, r.now())
		if err != nil {
			return domain.AdvanceBalance{}, err
		}
		if err := tx.InsertDeposit(ctx, &dep); err != nil {
			return domain.AdvanceBalance{}, err
		}
		if err := tx.SaveAdvance(ctx, bal); err != nil {
			return domain.AdvanceBalance{}, err
		}
		return bal, nil
	})
}

// UseAdvance pays a fee account out of the advance pool.
func (r *Reconciler) UseAdvance(ctx context.Context, ownerID int64, in PaymentInput) (AdvanceResult, error) {
	return run(ctx, r, "use_advance", ownerID, func(tx store.Tx) (AdvanceResult, error) {
		acct, err := targetAccount(ctx, tx, in.FeeAccountID)
		if err != nil {
			return AdvanceResult{}, err
		}
		bal, err := tx.Advance(ctx)
		if err != nil {
			return AdvanceResult{}, err
		}
		entry, err := bal.Use(in.Amount, in.Method, &acct, r.now())
		if err != nil {
			return AdvanceResult{}, err
		}
		tagPriorPeriod(&entry, acct)
		return r.saveAdvanceMove(ctx, tx, bal, acct, entry)
	})
}

// ReverseAdvance undoes an advance usage while its account still exists.
func (r *Reconciler) ReverseAdvance(ctx context.Context, ownerID, usageEntryID int64) (AdvanceResult, error) {
	return run(ctx, r, "reverse_advance", ownerID, func(tx store.Tx) (AdvanceResult, error) {
		usage, err := tx.Entry(ctx, usageEntryID)
		if err != nil {
			return AdvanceResult{}, err
		}
		reversed, err := tx.Reversed(ctx, usage.ID)
		if err != nil {
			return AdvanceResult{}, err
		}
		if reversed {
			return AdvanceResult{}, domain.ErrAlreadyReversed
		}
		acct, err := tx.Account(ctx, usage.FeeAccountID)
		if err != nil {
			return AdvanceResult{}, err
		}
		bal, err := tx.Advance(ctx)
		if err != nil {
			return AdvanceResult{}, err
		}
		entry, err := bal.Reverse(usage, &acct, r.now())
		if err != nil {
			return AdvanceResult{}, err
		}
		return r.saveAdvanceMove(ctx, tx, bal, acct, entry)
	})
}

func (r *Reconciler) saveAdvanceMove(ctx context.Context, tx store.Tx, bal domain.AdvanceBalance, acct domain.FeeAccount, entry domain.LedgerEntry) (AdvanceResult, error) {
	if err := tx.UpdateAccount(ctx, acct); err != nil {
		return AdvanceResult{}, err
	}
	if err := tx.InsertEntry(ctx, &entry); err != nil {
		return AdvanceResult{}, err
	}
	if err := tx.SaveAdvance(ctx, bal); err != nil {
		return AdvanceResult{}, err
	}
	if err := r.verify(ctx, tx, acct); err != nil {
		return AdvanceResult{}, err
	}
	return AdvanceResult{Balance: bal, Account: acct, Entry: entry}, nil
}

// DeleteOwner closes the owner and removes its accounts, ledger, advance
// pool and idempotency records.
func (r *Reconciler) DeleteOwner(ctx context.Context, ownerID int64) error {
	err := r.store.InOwnerTx(ctx, ownerID, func(tx store.Tx) error {
		return tx.DeleteOwner(ctx)
	})
	operationsTotal.WithLabelValues("delete_owner", outcome(err)).Inc()
	if err == nil {
		r.log.Info("owner deleted", "owner_id", ownerID)
	}
	return err
}

// Summary reads the owner's accounts and advance pool under its lock, so
// the snapshot is consistent.
func (r *Reconciler) Summary(ctx context.Context, ownerID int64) (OwnerSummary, error) {
	var sum OwnerSummary
	err := r.store.InOwnerTx(ctx, ownerID, func(tx store.Tx) error {
		accounts, err := tx.Accounts(ctx)
		if err != nil {
			return err
		}
		bal, err := tx.Advance(ctx)
		if err != nil {
			return err
		}
		owner := tx.Owner()
		sum = OwnerSummary{
			Owner:   owner,
			State:   domain.StateOf(owner, len(accounts)),
			Advance: bal,
		}
		for _, a := range accounts {
			if owner.CurrentAccountID != nil && a.ID == *owner.CurrentAccountID {
				cur := a
				sum.Current = &cur
				continue
			}
			sum.History = append(sum.History, a)
		}
		return nil
	})
	return sum, err
}

// History yields an account's ledger entries, newest first. Ranging over
// it again re-reads the store.
func (r *Reconciler) History(ctx context.Context, ownerID, accountID int64) iter.Seq2[domain.LedgerEntry, error] {
	return r.store.Entries(ctx, ownerID, accountID)
}

// Audit cross-checks every account of the owner. The report is returned
// together with ErrLedgerMismatch when any account disagrees.
func (r *Reconciler) Audit(ctx context.Context, ownerID int64) ([]AccountAudit, error) {
	var report []AccountAudit
	var mismatch error
	err := r.store.InOwnerTx(ctx, ownerID, func(tx store.Tx) error {
		accounts, err := tx.Accounts(ctx)
		if err != nil {
			return err
		}
		for _, a := range accounts {
			totals, err := tx.SumPayments(ctx, a.ID)
			if err != nil {
				return err
			}
			res := AccountAudit{AccountID: a.ID, Paid: a.Paid, Ledger: totals, Consistent: true}
			if err := domain.Verify(a, totals); err != nil {
				res.Consistent = false
				consistencyFailures.Inc()
				r.log.Error("ledger audit found mismatch", "owner_id", ownerID, "account_id", a.ID, "error", err)
				if mismatch == nil {
					mismatch = err
				}
			}
			report = append(report, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, mismatch
}
