package finance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/finance"
	"github.com/tradeledger/backend/internal/domain/shared"
)

// DiscountInput is the flat form of a discount mode
type DiscountInput struct {
	Kind          string
	Rate          *decimal.Decimal
	ExtraQuantity *decimal.Decimal
}

func (d DiscountInput) mode() (finance.DiscountMode, error) {
	return finance.ParseDiscountMode(d.Kind, d.Rate, d.ExtraQuantity)
}

// ComputeAmountsRequest asks for the derived amounts of commercial terms
type ComputeAmountsRequest struct {
	Quantity decimal.Decimal
	Rate     decimal.Decimal
	Discount DiscountInput
}

// CreateTradeRequest enters a sale, purchase or pending bill
type CreateTradeRequest struct {
	Kind           string
	CounterpartyID string
	Reference      string
	TradeDate      *time.Time
	Quantity       decimal.Decimal
	Rate           decimal.Decimal
	Discount       DiscountInput
	Notes          string
}

// ChangeTermsRequest replaces the commercial terms of a trade record
type ChangeTermsRequest struct {
	Quantity decimal.Decimal
	Rate     decimal.Decimal
	Discount DiscountInput
}

// TradeListFilter defines filtering options for trade record list queries
type TradeListFilter struct {
	CounterpartyID string
	Kind           string
	OpenOnly       bool
	FromDate       *time.Time
	ToDate         *time.Time
	Page           int
	PageSize       int
}

// ObligationQuery selects obligations of one counterparty. Empty thread or
// direction means all.
type ObligationQuery struct {
	CounterpartyID string
	Thread         string
	Direction      string
	OpenOnly       bool
}

// PlanAllocationRequest asks for a proposed split of a cash amount
type PlanAllocationRequest struct {
	CounterpartyID string
	TargetAmount   decimal.Decimal
	Direction      string
	Thread         string
}

// AllocationLine is one caller-supplied allocation
type AllocationLine struct {
	ObligationID    uuid.UUID
	AllocatedAmount decimal.Decimal
}

// ValidateAllocationRequest checks a caller-edited split
type ValidateAllocationRequest struct {
	CounterpartyID string
	Thread         string
	Direction      string
	TargetAmount   decimal.Decimal
	Entries        []AllocationLine
}

// CommitCashEventRequest records a cash movement and applies its split
type CommitCashEventRequest struct {
	CounterpartyID string
	Thread         string
	Direction      string
	Amount         decimal.Decimal
	Notes          string
	IdempotencyKey string
	Entries        []AllocationLine
}

// CashEventListFilter defines filtering options for cash event history
type CashEventListFilter struct {
	CounterpartyID string
	Direction      string
	From           *time.Time
	To             *time.Time
	Page           int
	PageSize       int
}

// TradeRecordResponse represents a trade record in API responses
type TradeRecordResponse struct {
	ID                   uuid.UUID              `json:"id"`
	Kind                 string                 `json:"kind"`
	CounterpartyID       string                 `json:"counterparty_id"`
	Reference            string                 `json:"reference,omitempty"`
	TradeDate            time.Time              `json:"trade_date"`
	Quantity             decimal.Decimal        `json:"quantity"`
	Rate                 decimal.Decimal        `json:"rate"`
	DiscountKind         string                 `json:"discount_kind"`
	DiscountRate         *decimal.Decimal       `json:"discount_rate,omitempty"`
	ExtraQuantity        *decimal.Decimal       `json:"extra_quantity,omitempty"`
	Amounts              finance.DerivedAmounts `json:"amounts"`
	AmountPaid           decimal.Decimal        `json:"amount_paid"`
	PaymentStatus        string                 `json:"payment_status"`
	DifferenceAmountPaid *decimal.Decimal       `json:"difference_amount_paid,omitempty"`
	DifferenceStatus     string                 `json:"difference_status,omitempty"`
	Obligations          []finance.Obligation   `json:"obligations"`
	Settled              bool                   `json:"settled"`
	Notes                string                 `json:"notes,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
	Version              int                    `json:"version"`
}

// CashEventResponse represents a persisted cash event
type CashEventResponse struct {
	ID             uuid.UUID                 `json:"id"`
	CounterpartyID string                    `json:"counterparty_id"`
	Direction      string                    `json:"direction"`
	Thread         string                    `json:"thread"`
	Amount         decimal.Decimal           `json:"amount"`
	Notes          string                    `json:"notes,omitempty"`
	IdempotencyKey string                    `json:"idempotency_key,omitempty"`
	Allocations    []finance.AllocationEntry `json:"allocations"`
	CreatedAt      time.Time                 `json:"created_at"`
	Replayed       bool                      `json:"replayed"`
}

// ToTradeRecordResponse converts a trade record to its response shape
func ToTradeRecordResponse(r *finance.TradeRecord) TradeRecordResponse {
	resp := TradeRecordResponse{
		ID:             r.ID,
		Kind:           string(r.Kind),
		CounterpartyID: r.CounterpartyID,
		Reference:      r.Reference,
		TradeDate:      r.TradeDate,
		Quantity:       r.Terms.Quantity,
		Rate:           r.Terms.Rate,
		DiscountKind:   string(r.Terms.Discount.Kind()),
		DiscountRate:   finance.DiscountRate(r.Terms.Discount),
		ExtraQuantity:  finance.ExtraQuantity(r.Terms.Discount),
		Amounts:        r.Amounts,
		AmountPaid:     r.AmountPaid,
		PaymentStatus:  string(r.PaymentStatus),
		Obligations:    r.Obligations(),
		Settled:        r.IsSettled(),
		Notes:          r.Notes,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		Version:        r.Version,
	}
	if r.Kind.HasDifferenceThread() {
		paid := r.DifferenceAmountPaid
		resp.DifferenceAmountPaid = &paid
		resp.DifferenceStatus = string(r.DifferenceStatus)
	}
	return resp
}

// ToCashEventResponse converts a cash event to its response shape
func ToCashEventResponse(e *finance.CashEvent) CashEventResponse {
	allocations := e.Allocations
	if allocations == nil {
		allocations = []finance.AllocationEntry{}
	}
	return CashEventResponse{
		ID:             e.ID,
		CounterpartyID: e.CounterpartyID,
		Direction:      string(e.Direction),
		Thread:         string(e.Thread),
		Amount:         e.Amount,
		Notes:          e.Notes,
		IdempotencyKey: e.IdempotencyKey,
		Allocations:    allocations,
		CreatedAt:      e.CreatedAt,
	}
}

func toAllocationEntries(lines []AllocationLine) []finance.AllocationEntry {
	entries := make([]finance.AllocationEntry, len(lines))
	for i, l := range lines {
		entries[i] = finance.AllocationEntry{ObligationID: l.ObligationID, AllocatedAmount: l.AllocatedAmount}
	}
	return entries
}

func toPagination(page, pageSize int) shared.Pagination {
	return shared.Pagination{Page: page, PageSize: pageSize}.Normalize()
}
