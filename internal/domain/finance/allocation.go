package finance

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationEntry is one line of a proposed or committed split.
// Entries frozen into a CashEvent are never modified.
type AllocationEntry struct {
	ObligationID       uuid.UUID       `json:"obligation_id"`
	AllocatedAmount    decimal.Decimal `json:"allocated_amount"`
	PreviousAmountPaid decimal.Decimal `json:"previous_amount_paid"`
	NewAmountPaid      decimal.Decimal `json:"new_amount_paid"`
	NewStatus          PaymentStatus   `json:"new_status"`
}

// AllocationPlan is the planner's proposal for one cash amount
type AllocationPlan struct {
	CounterpartyID string            `json:"counterparty_id"`
	Thread         Thread            `json:"thread"`
	Direction      Direction         `json:"direction"`
	TargetAmount   decimal.Decimal   `json:"target_amount"`
	Order          AllocationOrder   `json:"order"`
	Entries        []AllocationEntry `json:"entries"`
	TotalAllocated decimal.Decimal   `json:"total_allocated"`
	Remaining      decimal.Decimal   `json:"remaining"`
}

// FullyAllocated returns true if the plan covers the whole target amount
func (p *AllocationPlan) FullyAllocated() bool {
	return p.Remaining.IsZero()
}

// SumAllocated totals the allocated amounts of entries
func SumAllocated(entries []AllocationEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.AllocatedAmount)
	}
	return total
}
