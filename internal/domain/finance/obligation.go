package finance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Thread is one of the independent payment tracks a trade record carries
type Thread string

const (
	ThreadPortal     Thread = "PORTAL"     // Invoiced amount including GST
	ThreadDifference Thread = "DIFFERENCE" // Revenue minus portal totals, sales only
)

// IsValid checks if the thread is valid
func (t Thread) IsValid() bool {
	return t == ThreadPortal || t == ThreadDifference
}

// String returns the string representation of Thread
func (t Thread) String() string {
	return string(t)
}

// Signed reports whether the thread's total due may be negative
func (t Thread) Signed() bool {
	return t == ThreadDifference
}

// Direction is the flow of a cash movement relative to the plant
type Direction string

const (
	DirectionIn  Direction = "IN"  // Cash received from the counterparty
	DirectionOut Direction = "OUT" // Cash paid to the counterparty
)

// IsValid checks if the direction is valid
func (d Direction) IsValid() bool {
	return d == DirectionIn || d == DirectionOut
}

// String returns the string representation of Direction
func (d Direction) String() string {
	return string(d)
}

// PendingAmount returns what is still owed on a thread.
// For the signed thread the paid total moves the balance toward zero from
// either side: pending = abs(totalDue + paid) when totalDue < 0, else abs(totalDue - paid).
func PendingAmount(thread Thread, totalDue, amountPaid decimal.Decimal) decimal.Decimal {
	if !thread.Signed() {
		return totalDue.Sub(amountPaid)
	}
	if totalDue.IsNegative() {
		return totalDue.Add(amountPaid).Abs()
	}
	return totalDue.Sub(amountPaid).Abs()
}

// StatusFor derives the payment status of a thread
func StatusFor(thread Thread, totalDue, amountPaid decimal.Decimal) PaymentStatus {
	if thread.Signed() {
		return StatusForSigned(totalDue, amountPaid)
	}
	return StatusForUnsigned(totalDue, amountPaid)
}

// Obligation is a read-only projection of one thread of a trade record
type Obligation struct {
	ID             uuid.UUID       `json:"id"`
	CounterpartyID string          `json:"counterparty_id"`
	Kind           TradeKind       `json:"kind"`
	Reference      string          `json:"reference,omitempty"`
	Thread         Thread          `json:"thread"`
	Direction      Direction       `json:"direction"`
	Date           time.Time       `json:"date"`
	CreatedAt      time.Time       `json:"created_at"`
	TotalDue       decimal.Decimal `json:"total_due"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	PendingAmount  decimal.Decimal `json:"pending_amount"`
	Status         PaymentStatus   `json:"status"`
}

// IsOpen reports whether the obligation can still absorb cash
func (o Obligation) IsOpen() bool {
	return o.PendingAmount.IsPositive()
}

// Preview returns the allocation entry that assigning amount would produce
func (o Obligation) Preview(amount decimal.Decimal) AllocationEntry {
	newPaid := o.AmountPaid.Add(amount)
	return AllocationEntry{
		ObligationID:       o.ID,
		AllocatedAmount:    amount,
		PreviousAmountPaid: o.AmountPaid,
		NewAmountPaid:      newPaid,
		NewStatus:          StatusFor(o.Thread, o.TotalDue, newPaid),
	}
}

// OpenObligations filters obligations to the open ones for a counterparty,
// thread and settling direction.
func OpenObligations(obligations []Obligation, counterpartyID string, thread Thread, direction Direction) []Obligation {
	open := make([]Obligation, 0, len(obligations))
	for _, o := range obligations {
		if o.CounterpartyID != counterpartyID || o.Thread != thread || o.Direction != direction {
			continue
		}
		if !o.IsOpen() {
			continue
		}
		open = append(open, o)
	}
	return open
}

// settlingDirection names the cash flow that pays down a thread of a record
func settlingDirection(kind TradeKind, thread Thread, totalDue decimal.Decimal) Direction {
	if thread == ThreadDifference {
		if totalDue.IsNegative() {
			return DirectionOut
		}
		return DirectionIn
	}
	if kind == TradeKindPurchase {
		return DirectionOut
	}
	return DirectionIn
}
