package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rounit002/silentlibrary-sub001/internal/domain"
	"github.com/Rounit002/silentlibrary-sub001/internal/money"
	"github.com/Rounit002/silentlibrary-sub001/internal/service"
)

type CreateOwnerRequest struct {
	Name string `json:"name" validate:"required,max=120"`
	Kind string `json:"kind" validate:"omitempty,oneof=student hostel_stay"`
}

func (r CreateOwnerRequest) Fields() (string, domain.OwnerKind) {
	return strings.TrimSpace(r.Name), domain.OwnerKind(r.Kind)
}

// SplitAmount is a payment split across cash and online.
type SplitAmount struct {
	Cash   decimal.Decimal `json:"cash" validate:"nonneg_amount"`
	Online decimal.Decimal `json:"online" validate:"nonneg_amount"`
}

// EnrollRequest opens a fee account, for enrollment and renewal alike.
type EnrollRequest struct {
	TotalFee    decimal.Decimal `json:"totalFee" validate:"nonneg_amount"`
	Initial     SplitAmount     `json:"initial"`
	PeriodStart *time.Time      `json:"periodStart"`
	PeriodEnd   *time.Time      `json:"periodEnd"`
}

func (r EnrollRequest) Input() (service.EnrollInput, error) {
	initial, err := money.New(r.Initial.Cash, r.Initial.Online)
	if err != nil {
		return service.EnrollInput{}, err
	}
	in := service.EnrollInput{TotalFee: r.TotalFee, Initial: initial}
	if r.PeriodStart != nil {
		in.PeriodStart = r.PeriodStart.UTC()
	}
	if r.PeriodEnd != nil {
		in.PeriodEnd = r.PeriodEnd.UTC()
	}
	return in, nil
}

// PaymentRequest is used for desk payments and advance usage. A zero
// FeeAccountID targets the current account.
type PaymentRequest struct {
	Amount       decimal.Decimal `json:"amount" validate:"amount"`
	Method       string          `json:"method" validate:"required,oneof=cash online"`
	FeeAccountID int64           `json:"feeAccountId" validate:"gte=0"`
}

func (r PaymentRequest) Input() service.PaymentInput {
	return service.PaymentInput{
		Amount:       r.Amount,
		Method:       money.Method(r.Method),
		FeeAccountID: r.FeeAccountID,
	}
}

type UpdateFeeRequest struct {
	TotalFee     decimal.Decimal `json:"totalFee" validate:"nonneg_amount"`
	FeeAccountID int64           `json:"feeAccountId" validate:"gte=0"`
}

type DepositRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"amount"`
	Method string          `json:"method" validate:"required,oneof=cash online"`
}

type ExpenseRequest struct {
	Title      string          `json:"title" validate:"required,max=200"`
	Amount     decimal.Decimal `json:"amount" validate:"amount"`
	Method     string          `json:"method" validate:"required,oneof=cash online"`
	OccurredAt *time.Time      `json:"occurredAt"`
}

func (r ExpenseRequest) Input() service.ExpenseInput {
	in := service.ExpenseInput{Title: r.Title, Amount: r.Amount, Method: money.Method(r.Method)}
	if r.OccurredAt != nil {
		in.OccurredAt = *r.OccurredAt
	}
	return in
}
