package finance

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared"
)

// AggregateTypeTradeRecord is the aggregate type name used in domain events
const AggregateTypeTradeRecord = "TradeRecord"

// TradeKind is the variant of a trade record
type TradeKind string

const (
	TradeKindSale        TradeKind = "SALE"
	TradeKindPurchase    TradeKind = "PURCHASE"
	TradeKindPendingBill TradeKind = "PENDING_BILL" // Sale billed later, settled on the portal thread only
)

// IsValid checks if the trade kind is valid
func (k TradeKind) IsValid() bool {
	switch k {
	case TradeKindSale, TradeKindPurchase, TradeKindPendingBill:
		return true
	}
	return false
}

// String returns the string representation of TradeKind
func (k TradeKind) String() string {
	return string(k)
}

// HasDifferenceThread reports whether records of this kind track a difference balance
func (k TradeKind) HasDifferenceThread() bool {
	return k == TradeKindSale
}

// TradeTerms are the commercial inputs every derived amount is computed from
type TradeTerms struct {
	Quantity decimal.Decimal
	Rate     decimal.Decimal
	Discount DiscountMode
}

// NewTradeRecordParams carries the inputs for entering a trade
type NewTradeRecordParams struct {
	Kind           TradeKind
	CounterpartyID string
	Reference      string
	TradeDate      time.Time
	Terms          TradeTerms
	Notes          string
}

// TradeRecord is the aggregate root for a sale, purchase or pending bill.
// Amounts is only ever written by the AmountCalculator through NewTradeRecord
// and ChangeTerms. The paid totals and statuses are only written by the LedgerCommitter.
type TradeRecord struct {
	shared.BaseAggregateRoot
	Kind                 TradeKind
	CounterpartyID       string
	Reference            string
	TradeDate            time.Time
	Terms                TradeTerms
	Amounts              DerivedAmounts
	AmountPaid           decimal.Decimal
	PaymentStatus        PaymentStatus
	DifferenceAmountPaid decimal.Decimal
	DifferenceStatus     PaymentStatus // Empty for kinds without a difference thread
	Notes                string
}

// NewTradeRecord enters a trade and derives its amounts
func NewTradeRecord(calc *AmountCalculator, params NewTradeRecordParams, now time.Time) (*TradeRecord, error) {
	if !params.Kind.IsValid() {
		return nil, invalidInput("Invalid trade kind", map[string]any{"field": "kind", "value": string(params.Kind)})
	}
	counterpartyID := strings.TrimSpace(params.CounterpartyID)
	if counterpartyID == "" {
		return nil, invalidInput("Counterparty ID cannot be empty", map[string]any{"field": "counterparty_id"})
	}
	if len(counterpartyID) > 64 {
		return nil, invalidInput("Counterparty ID cannot exceed 64 characters", map[string]any{"field": "counterparty_id"})
	}
	if len(params.Reference) > 100 {
		return nil, invalidInput("Reference cannot exceed 100 characters", map[string]any{"field": "reference"})
	}

	terms := normalizeTerms(params.Terms)
	amounts, err := calc.Compute(terms.Quantity, terms.Rate, terms.Discount)
	if err != nil {
		return nil, err
	}

	tradeDate := params.TradeDate
	if tradeDate.IsZero() {
		tradeDate = now
	}

	record := &TradeRecord{
		BaseAggregateRoot:    shared.NewBaseAggregateRoot(now),
		Kind:                 params.Kind,
		CounterpartyID:       counterpartyID,
		Reference:            params.Reference,
		TradeDate:            tradeDate,
		Terms:                terms,
		Amounts:              amounts,
		AmountPaid:           decimal.Zero,
		DifferenceAmountPaid: decimal.Zero,
		Notes:                params.Notes,
	}
	record.deriveStatuses()
	record.AddDomainEvent(NewTradeRecordCreatedEvent(record, now))
	return record, nil
}

func normalizeTerms(t TradeTerms) TradeTerms {
	if t.Discount == nil {
		t.Discount = NoDiscount{}
	}
	return t
}

func (r *TradeRecord) deriveStatuses() {
	r.PaymentStatus = StatusForUnsigned(r.Amounts.TotalPortalAmount, r.AmountPaid)
	if r.Kind.HasDifferenceThread() {
		r.DifferenceStatus = StatusForSigned(r.Amounts.DifferenceAmount, r.DifferenceAmountPaid)
	} else {
		r.DifferenceStatus = ""
	}
}

// ChangeTerms recomputes derived amounts from new commercial terms and
// re-derives both statuses. A change is refused when it would leave a thread
// paid beyond its new total, or flip the sign of a difference that has
// already received payments.
func (r *TradeRecord) ChangeTerms(calc *AmountCalculator, terms TradeTerms, now time.Time) error {
	terms = normalizeTerms(terms)
	amounts, err := calc.Compute(terms.Quantity, terms.Rate, terms.Discount)
	if err != nil {
		return err
	}

	if amounts.TotalPortalAmount.LessThan(r.AmountPaid) {
		return invalidInput("New total falls below the amount already paid", map[string]any{
			"total_portal_amount": amounts.TotalPortalAmount.StringFixed(2),
			"amount_paid":         r.AmountPaid.StringFixed(2),
		})
	}
	if r.Kind.HasDifferenceThread() && r.DifferenceAmountPaid.IsPositive() {
		if amounts.DifferenceAmount.Sign() != r.Amounts.DifferenceAmount.Sign() {
			return invalidInput("Difference would change sign after difference payments were made", map[string]any{
				"difference_amount":      amounts.DifferenceAmount.StringFixed(2),
				"difference_amount_paid": r.DifferenceAmountPaid.StringFixed(2),
			})
		}
		if amounts.DifferenceAmount.Abs().LessThan(r.DifferenceAmountPaid) {
			return invalidInput("New difference falls below the difference already paid", map[string]any{
				"difference_amount":      amounts.DifferenceAmount.StringFixed(2),
				"difference_amount_paid": r.DifferenceAmountPaid.StringFixed(2),
			})
		}
	}

	previous := r.Amounts
	r.Terms = terms
	r.Amounts = amounts
	r.deriveStatuses()
	r.Touch(now)
	r.AddDomainEvent(NewTradeTermsChangedEvent(r, previous, now))
	return nil
}

// TotalDue returns the signed total owed on a thread
func (r *TradeRecord) TotalDue(thread Thread) decimal.Decimal {
	if thread == ThreadDifference {
		return r.Amounts.DifferenceAmount
	}
	return r.Amounts.TotalPortalAmount
}

// Obligation projects one thread of the record. The second result is false
// when the record does not carry that thread.
func (r *TradeRecord) Obligation(thread Thread) (Obligation, bool) {
	var paid decimal.Decimal
	var status PaymentStatus
	switch thread {
	case ThreadPortal:
		paid, status = r.AmountPaid, r.PaymentStatus
	case ThreadDifference:
		if !r.Kind.HasDifferenceThread() {
			return Obligation{}, false
		}
		paid, status = r.DifferenceAmountPaid, r.DifferenceStatus
	default:
		return Obligation{}, false
	}

	totalDue := r.TotalDue(thread)
	return Obligation{
		ID:             r.ID,
		CounterpartyID: r.CounterpartyID,
		Kind:           r.Kind,
		Reference:      r.Reference,
		Thread:         thread,
		Direction:      settlingDirection(r.Kind, thread, totalDue),
		Date:           r.TradeDate,
		CreatedAt:      r.CreatedAt,
		TotalDue:       totalDue,
		AmountPaid:     paid,
		PendingAmount:  PendingAmount(thread, totalDue, paid),
		Status:         status,
	}, true
}

// Obligations projects every thread the record carries
func (r *TradeRecord) Obligations() []Obligation {
	obligations := make([]Obligation, 0, 2)
	for _, thread := range []Thread{ThreadPortal, ThreadDifference} {
		if o, ok := r.Obligation(thread); ok {
			obligations = append(obligations, o)
		}
	}
	return obligations
}

// IsSettled returns true when every thread of the record is PAID
func (r *TradeRecord) IsSettled() bool {
	if r.PaymentStatus != PaymentStatusPaid {
		return false
	}
	if r.Kind.HasDifferenceThread() {
		return r.DifferenceStatus == PaymentStatusPaid
	}
	return true
}

// Clone returns a copy without pending domain events. DiscountMode variants are
// values, so the copy shares no mutable state with the original.
func (r *TradeRecord) Clone() *TradeRecord {
	c := *r
	c.ClearDomainEvents()
	return &c
}

// applyAllocation adds amount to the paid total of a thread and advances its status
func (r *TradeRecord) applyAllocation(thread Thread, amount decimal.Decimal, now time.Time) (AllocationEntry, error) {
	if amount.IsNegative() {
		return AllocationEntry{}, invalidEntry(r.ID, "negative amount")
	}
	obligation, ok := r.Obligation(thread)
	if !ok {
		return AllocationEntry{}, invalidEntry(r.ID, "record has no "+thread.String()+" thread")
	}

	entry := obligation.Preview(amount)
	if err := ValidateTransition(obligation.Status, entry.NewStatus); err != nil {
		return AllocationEntry{}, err
	}

	switch thread {
	case ThreadPortal:
		r.AmountPaid = entry.NewAmountPaid
		r.PaymentStatus = entry.NewStatus
	case ThreadDifference:
		r.DifferenceAmountPaid = entry.NewAmountPaid
		r.DifferenceStatus = entry.NewStatus
	}
	r.Touch(now)
	return entry, nil
}
