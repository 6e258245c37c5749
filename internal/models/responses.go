package models

import (
	"time"

	"github.com/Rounit002/silentlibrary-sub001/internal/domain"
	"github.com/Rounit002/silentlibrary-sub001/internal/money"
	"github.com/Rounit002/silentlibrary-sub001/internal/service"
)

// Amounts in responses are fixed two-decimal strings, e.g. "1000.00".

type OwnerResponse struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Kind             string    `json:"kind"`
	CurrentAccountID *int64    `json:"currentAccountId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

func ToOwnerResponse(o domain.Owner) OwnerResponse {
	return OwnerResponse{
		ID:               o.ID,
		Name:             o.Name,
		Kind:             string(o.Kind),
		CurrentAccountID: o.CurrentAccountID,
		CreatedAt:        o.CreatedAt,
	}
}

func ToOwnerResponses(owners []domain.Owner) []OwnerResponse {
	out := make([]OwnerResponse, 0, len(owners))
	for _, o := range owners {
		out = append(out, ToOwnerResponse(o))
	}
	return out
}

type FeeAccountResponse struct {
	ID           int64       `json:"id"`
	OwnerID      int64       `json:"ownerId"`
	TotalFee     string      `json:"totalFee"`
	Paid         money.Money `json:"paid"`
	Due          string      `json:"due"`
	PeriodStart  time.Time   `json:"periodStart"`
	PeriodEnd    *time.Time  `json:"periodEnd,omitempty"`
	SupersededBy *int64      `json:"supersededBy,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

func ToFeeAccountResponse(a domain.FeeAccount) FeeAccountResponse {
	res := FeeAccountResponse{
		ID:           a.ID,
		OwnerID:      a.OwnerID,
		TotalFee:     money.Display(a.TotalFee),
		Paid:         a.Paid,
		Due:          money.Display(a.Due()),
		PeriodStart:  a.PeriodStart,
		SupersededBy: a.SupersededBy,
		CreatedAt:    a.CreatedAt,
	}
	if !a.PeriodEnd.IsZero() {
		end := a.PeriodEnd
		res.PeriodEnd = &end
	}
	return res
}

type LedgerEntryResponse struct {
	ID              int64      `json:"id"`
	FeeAccountID    int64      `json:"feeAccountId"`
	Kind            string     `json:"kind"`
	Method          string     `json:"method"`
	Amount          string     `json:"amount"`
	OccurredAt      time.Time  `json:"occurredAt"`
	PeriodStart     *time.Time `json:"periodStart,omitempty"`
	ReversesEntryID *int64     `json:"reversesEntryId,omitempty"`
}

func ToLedgerEntryResponse(e domain.LedgerEntry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:              e.ID,
		FeeAccountID:    e.FeeAccountID,
		Kind:            string(e.Kind),
		Method:          string(e.Method),
		Amount:          money.Display(e.Amount.Total()),
		OccurredAt:      e.OccurredAt,
		PeriodStart:     e.PeriodStart,
		ReversesEntryID: e.ReversesEntryID,
	}
}

type AdvanceBalanceResponse struct {
	TotalDeposited string    `json:"totalDeposited"`
	Used           string    `json:"used"`
	Remaining      string    `json:"remaining"`
	Status         string    `json:"status"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func ToAdvanceBalanceResponse(b domain.AdvanceBalance) AdvanceBalanceResponse {
	return AdvanceBalanceResponse{
		TotalDeposited: money.Display(b.TotalDeposited),
		Used:           money.Display(b.Used),
		Remaining:      money.Display(b.Remaining()),
		Status:         string(b.Status),
		UpdatedAt:      b.UpdatedAt,
	}
}

type OwnerSummaryResponse struct {
	Owner            OwnerResponse          `json:"owner"`
	State            string                 `json:"state"`
	CurrentAccount   *FeeAccountResponse    `json:"currentAccount,omitempty"`
	PreviousAccounts []FeeAccountResponse   `json:"previousAccounts"`
	Advance          AdvanceBalanceResponse `json:"advance"`
}

func ToOwnerSummaryResponse(s service.OwnerSummary) OwnerSummaryResponse {
	res := OwnerSummaryResponse{
		Owner:            ToOwnerResponse(s.Owner),
		State:            string(s.State),
		PreviousAccounts: make([]FeeAccountResponse, 0, len(s.History)),
		Advance:          ToAdvanceBalanceResponse(s.Advance),
	}
	if s.Current != nil {
		cur := ToFeeAccountResponse(*s.Current)
		res.CurrentAccount = &cur
	}
	for _, a := range s.History {
		res.PreviousAccounts = append(res.PreviousAccounts, ToFeeAccountResponse(a))
	}
	return res
}

type PaymentResponse struct {
	Account FeeAccountResponse  `json:"account"`
	Entry   LedgerEntryResponse `json:"entry"`
}

func ToPaymentResponse(r service.PaymentResult) PaymentResponse {
	return PaymentResponse{
		Account: ToFeeAccountResponse(r.Account),
		Entry:   ToLedgerEntryResponse(r.Entry),
	}
}

type AdvanceResponse struct {
	Balance AdvanceBalanceResponse `json:"balance"`
	Account FeeAccountResponse     `json:"account"`
	Entry   LedgerEntryResponse    `json:"entry"`
}

func ToAdvanceResponse(r service.AdvanceResult) AdvanceResponse {
	return AdvanceResponse{
		Balance: ToAdvanceBalanceResponse(r.Balance),
		Account: ToFeeAccountResponse(r.Account),
		Entry:   ToLedgerEntryResponse(r.Entry),
	}
}

type AccountAuditResponse struct {
	AccountID    int64       `json:"accountId"`
	Paid         money.Money `json:"paid"`
	LedgerCash   string      `json:"ledgerCash"`
	LedgerOnline string      `json:"ledgerOnline"`
	Consistent   bool        `json:"consistent"`
}

type AuditResponse struct {
	Consistent bool                   `json:"consistent"`
	Accounts   []AccountAuditResponse `json:"accounts"`
}

func ToAuditResponse(report []service.AccountAudit) AuditResponse {
	res := AuditResponse{Consistent: true, Accounts: make([]AccountAuditResponse, 0, len(report))}
	for _, a := range report {
		res.Consistent = res.Consistent && a.Consistent
		res.Accounts = append(res.Accounts, AccountAuditResponse{
			AccountID:    a.AccountID,
			Paid:         a.Paid,
			LedgerCash:   money.Display(a.Ledger.Cash),
			LedgerOnline: money.Display(a.Ledger.Online),
			Consistent:   a.Consistent,
		})
	}
	return res
}

type ExpenseResponse struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Amount     string    `json:"amount"`
	Method     string    `json:"method"`
	OccurredAt time.Time `json:"occurredAt"`
}

func ToExpenseResponse(e domain.Expense) ExpenseResponse {
	return ExpenseResponse{
		ID:         e.ID,
		Title:      e.Title,
		Amount:     money.Display(e.Amount),
		Method:     string(e.Method),
		OccurredAt: e.OccurredAt,
	}
}

type CollectionsResponse struct {
	From            time.Time   `json:"from"`
	To              time.Time   `json:"to"`
	Received        money.Money `json:"received"`
	LatePayments    string      `json:"latePayments"`
	AdvanceDeposits money.Money `json:"advanceDeposits"`
	AdvanceApplied  string      `json:"advanceApplied"`
	Income          money.Money `json:"income"`
	Entries         int         `json:"entries"`
}

func ToCollectionsResponse(c service.CollectionsReport) CollectionsResponse {
	return CollectionsResponse{
		From:            c.From,
		To:              c.To,
		Received:        c.Received,
		LatePayments:    money.Display(c.LatePayments),
		AdvanceDeposits: c.AdvanceDeposits,
		AdvanceApplied:  money.Display(c.AdvanceApplied),
		Income:          c.Income(),
		Entries:         c.Entries,
	}
}

type ProfitLossResponse struct {
	From     time.Time   `json:"from"`
	To       time.Time   `json:"to"`
	Income   money.Money `json:"income"`
	Expenses money.Money `json:"expenses"`
	Net      string      `json:"net"`
}

func ToProfitLossResponse(p service.ProfitLoss) ProfitLossResponse {
	return ProfitLossResponse{
		From:     p.From,
		To:       p.To,
		Income:   p.Income,
		Expenses: p.Expenses,
		Net:      money.Display(p.Net),
	}
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}
