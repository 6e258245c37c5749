// Package store persists owners, fee accounts, the payment ledger and
// advance balances. Every owner mutation runs inside InOwnerTx, which holds
// an exclusive per-owner lock for the lifetime of the transaction.
package store

import (
	"context"
	"iter"
	"time"

	"github.com/Rounit002/silentlibrary-sub001/internal/domain"
)

// Store is implemented by Postgres and Memory.
type Store interface {
	CreateOwner(ctx context.Context, name string, kind domain.OwnerKind) (domain.Owner, error)
	GetOwner(ctx context.Context, id int64) (domain.Owner, error)
	ListOwners(ctx context.Context) ([]domain.Owner, error)

	// InOwnerTx runs fn in a transaction that holds the owner's lock. The
	// transaction commits if fn returns nil and rolls back otherwise.
	InOwnerTx(ctx context.Context, ownerID int64, fn func(Tx) error) error

	// Entries yields an account's ledger newest first. Each range over the
	// returned sequence queries the store again.
	Entries(ctx context.Context, ownerID, accountID int64) iter.Seq2[domain.LedgerEntry, error]

	// EntriesBetween returns every ledger entry with from <= occurred_at < to.
	EntriesBetween(ctx context.Context, from, to time.Time) ([]domain.LedgerEntry, error)
	DepositsBetween(ctx context.Context, from, to time.Time) ([]domain.AdvanceDeposit, error)

	RecordExpense(ctx context.Context, e domain.Expense) (domain.Expense, error)
	ExpensesBetween(ctx context.Context, from, to time.Time) ([]domain.Expense, error)

	Ping(ctx context.Context) error
	Close()
}

// Tx is a transaction scoped to one locked owner. Lookups of accounts or
// entries belonging to another owner fail with a not-found error.
type Tx interface {
	Owner() domain.Owner

	Account(ctx context.Context, id int64) (domain.FeeAccount, error)
	// Accounts returns every account of the owner, newest first.
	Accounts(ctx context.Context) ([]domain.FeeAccount, error)
	InsertAccount(ctx context.Context, a *domain.FeeAccount) error
	UpdateAccount(ctx context.Context, a domain.FeeAccount) error
	SetCurrentAccount(ctx context.Context, accountID int64) error

	InsertEntry(ctx context.Context, e *domain.LedgerEntry) error
	Entry(ctx context.Context, id int64) (domain.LedgerEntry, error)
	// Reversed reports whether an advance_reversal already references entryID.
	Reversed(ctx context.Context, entryID int64) (bool, error)
	SumPayments(ctx context.Context, accountID int64) (domain.PaymentTotals, error)

	Advance(ctx context.Context) (domain.AdvanceBalance, error)
	SaveAdvance(ctx context.Context, b domain.AdvanceBalance) error
	InsertDeposit(ctx context.Context, d *domain.AdvanceDeposit) error

	// DeleteOwner removes the owner and everything it owns.
	DeleteOwner(ctx context.Context) error

	// Idempotency returns nil when the key has not been seen.
	Idempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	SaveIdempotency(ctx context.Context, rec domain.IdempotencyRecord) error
}
