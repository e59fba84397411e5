package handler

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	appfinance "github.com/tradeledger/backend/internal/application/finance"
)

// DiscountRequest is the discount mode of a set of commercial terms.
// Kind is NONE, DISCOUNT_OR_PREMIUM (needs rate) or INDIRECT_DISCOUNT
// (needs extra_quantity).
type DiscountRequest struct {
	Kind          string           `json:"kind"`
	Rate          *decimal.Decimal `json:"rate,omitempty"`
	ExtraQuantity *decimal.Decimal `json:"extra_quantity,omitempty"`
}

func (d DiscountRequest) toInput() appfinance.DiscountInput {
	return appfinance.DiscountInput{Kind: d.Kind, Rate: d.Rate, ExtraQuantity: d.ExtraQuantity}
}

// ComputeAmountsBody is the body of POST /ledger/amounts/compute
type ComputeAmountsBody struct {
	Quantity decimal.Decimal `json:"quantity" binding:"gte=0"`
	Rate     decimal.Decimal `json:"rate" binding:"gte=0"`
	Discount DiscountRequest `json:"discount"`
}

// CreateTradeBody is the body of POST /ledger/trades
type CreateTradeBody struct {
	Kind           string          `json:"kind" binding:"required"`
	CounterpartyID string          `json:"counterparty_id" binding:"required,max=64"`
	Reference      string          `json:"reference" binding:"max=100"`
	TradeDate      string          `json:"trade_date"`
	Quantity       decimal.Decimal `json:"quantity" binding:"gte=0"`
	Rate           decimal.Decimal `json:"rate" binding:"gte=0"`
	Discount       DiscountRequest `json:"discount"`
	Notes          string          `json:"notes" binding:"max=500"`
}

// ChangeTermsBody is the body of PUT /ledger/trades/:id/terms
type ChangeTermsBody struct {
	Quantity decimal.Decimal `json:"quantity" binding:"gte=0"`
	Rate     decimal.Decimal `json:"rate" binding:"gte=0"`
	Discount DiscountRequest `json:"discount"`
}

// ListTradesQuery is the query of GET /ledger/trades
type ListTradesQuery struct {
	CounterpartyID string `form:"counterparty_id"`
	Kind           string `form:"kind"`
	OpenOnly       bool   `form:"open_only"`
	FromDate       string `form:"from_date"`
	ToDate         string `form:"to_date"`
	Page           int    `form:"page" binding:"omitempty,min=1"`
	PageSize       int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// ObligationsQuery is the query of GET /ledger/obligations
type ObligationsQuery struct {
	CounterpartyID string `form:"counterparty_id" binding:"required"`
	Thread         string `form:"thread"`
	Direction      string `form:"direction"`
	OpenOnly       bool   `form:"open_only"`
}

// PlanAllocationBody is the body of POST /ledger/allocations/plan
type PlanAllocationBody struct {
	CounterpartyID string          `json:"counterparty_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Direction      string          `json:"direction" binding:"required"`
	Thread         string          `json:"thread" binding:"required"`
}

// AllocationEntryBody is one caller-supplied allocation line
type AllocationEntryBody struct {
	ObligationID    uuid.UUID       `json:"obligation_id" binding:"required"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
}

// ValidateAllocationBody is the body of POST /ledger/allocations/validate
type ValidateAllocationBody struct {
	CounterpartyID string                `json:"counterparty_id" binding:"required"`
	Amount         decimal.Decimal       `json:"amount"`
	Direction      string                `json:"direction" binding:"required"`
	Thread         string                `json:"thread" binding:"required"`
	Entries        []AllocationEntryBody `json:"entries" binding:"dive"`
}

// CommitCashEventBody is the body of POST /ledger/cash-events. The
// Idempotency-Key header takes precedence over idempotency_key.
type CommitCashEventBody struct {
	CounterpartyID string                `json:"counterparty_id" binding:"required"`
	Amount         decimal.Decimal       `json:"amount"`
	Direction      string                `json:"direction" binding:"required"`
	Thread         string                `json:"thread" binding:"required"`
	Notes          string                `json:"notes" binding:"max=500"`
	IdempotencyKey string                `json:"idempotency_key" binding:"max=128"`
	Entries        []AllocationEntryBody `json:"entries" binding:"dive"`
}

// ListCashEventsQuery is the query of GET /ledger/cash-events
type ListCashEventsQuery struct {
	CounterpartyID string `form:"counterparty_id"`
	Direction      string `form:"direction"`
	From           string `form:"from"`
	To             string `form:"to"`
	Page           int    `form:"page" binding:"omitempty,min=1"`
	PageSize       int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

func toAllocationLines(entries []AllocationEntryBody) []appfinance.AllocationLine {
	lines := make([]appfinance.AllocationLine, len(entries))
	for i, e := range entries {
		lines[i] = appfinance.AllocationLine{ObligationID: e.ObligationID, AllocatedAmount: e.AllocatedAmount}
	}
	return lines
}
