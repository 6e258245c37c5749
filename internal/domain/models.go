package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rounit002/silentlibrary-sub001/internal/money"
)

// OwnerKind distinguishes library students from hostel stays.
type OwnerKind string

const (
	OwnerStudent    OwnerKind = "student"
	OwnerHostelStay OwnerKind = "hostel_stay"
)

func (k OwnerKind) Valid() bool { return k == OwnerStudent || k == OwnerHostelStay }

// Owner is the student or hostel stay whose fees are tracked.
type Owner struct {
	ID               int64
	Name             string
	Kind             OwnerKind
	CurrentAccountID *int64
	CreatedAt        time.Time
}

// OwnerState is the reconciliation lifecycle position of an owner.
type OwnerState string

const (
	StateNoAccount OwnerState = "no_account"
	StateActive    OwnerState = "active"
	StateRenewed   OwnerState = "renewed"
)

// StateOf derives the lifecycle state from the owner and how many fee
// accounts it has accumulated.
func StateOf(o Owner, accounts int) OwnerState {
	switch {
	case o.CurrentAccountID == nil || accounts == 0:
		return StateNoAccount
	case accounts == 1:
		return StateActive
	default:
		return StateRenewed
	}
}

// FeeAccount is one billing period: a membership term or a hostel stay.
// Due is derived and never stored.
type FeeAccount struct {
	ID           int64
	OwnerID      int64
	TotalFee     decimal.Decimal
	Paid         money.Money
	PeriodStart  time.Time
	PeriodEnd    time.Time
	SupersededBy *int64
	CreatedAt    time.Time
}

// Due returns TotalFee - Paid.Total.
func (a FeeAccount) Due() decimal.Decimal { return a.TotalFee.Sub(a.Paid.Total()) }

func (a FeeAccount) Superseded() bool { return a.SupersededBy != nil }

// EntryKind classifies ledger entries.
type EntryKind string

const (
	KindInitialPayment  EntryKind = "initial_payment"
	KindCollection      EntryKind = "collection"
	KindAdvanceUsage    EntryKind = "advance_usage"
	KindAdvanceReversal EntryKind = "advance_reversal"
)

// Credits reports whether the entry adds to the account's paid total.
func (k EntryKind) Credits() bool { return k != KindAdvanceReversal }

// LedgerEntry is an immutable record of one payment-affecting event.
// Amount carries a single non-zero component matching Method.
type LedgerEntry struct {
	ID           int64
	FeeAccountID int64
	OwnerID      int64
	Kind         EntryKind
	Method       money.Method
	Amount       money.Money
	OccurredAt   time.Time
	// PeriodStart is set when a payment settles a superseded account, so
	// reports can attribute it to the period it belongs to.
	PeriodStart     *time.Time
	ReversesEntryID *int64
}

// BalanceStatus of an advance pool.
type BalanceStatus string

const (
	BalanceActive    BalanceStatus = "active"
	BalanceFullyUsed BalanceStatus = "fully_used"
)

// AdvanceBalance is the owner's pool of prepaid, unused funds.
type AdvanceBalance struct {
	OwnerID        int64
	TotalDeposited decimal.Decimal
	Used           decimal.Decimal
	Status         BalanceStatus
	UpdatedAt      time.Time
}

// Remaining returns TotalDeposited - Used.
func (b AdvanceBalance) Remaining() decimal.Decimal { return b.TotalDeposited.Sub(b.Used) }

// AdvanceDeposit logs a single top-up of the advance pool.
type AdvanceDeposit struct {
	ID         int64
	OwnerID    int64
	Amount     decimal.Decimal
	Method     money.Method
	OccurredAt time.Time
}

// Expense is money paid out by the library or hostel.
type Expense struct {
	ID         int64
	Title      string
	Amount     decimal.Decimal
	Method     money.Method
	OccurredAt time.Time
}

// PaymentTotals is the signed per-method sum of an account's ledger.
type PaymentTotals struct {
	Cash   decimal.Decimal
	Online decimal.Decimal
}

// IdempotencyRecord is the stored outcome of a keyed request.
type IdempotencyRecord struct {
	OwnerID        int64
	Key            string
	RequestHash    string
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
}
