package finance

import (
	"github.com/shopspring/decimal"
)

// PaymentStatus is the settlement state of one thread of a trade record
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "PENDING"        // Nothing paid yet
	PaymentStatusPartiallyPaid PaymentStatus = "PARTIALLY_PAID" // 0 < paid < due
	PaymentStatusPaid          PaymentStatus = "PAID"           // paid >= due
)

// IsValid checks if the status is a valid PaymentStatus
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPartiallyPaid, PaymentStatusPaid:
		return true
	}
	return false
}

// String returns the string representation of PaymentStatus
func (s PaymentStatus) String() string {
	return string(s)
}

// IsTerminal returns true once the thread is fully settled
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusPaid
}

func (s PaymentStatus) rank() int {
	switch s {
	case PaymentStatusPending:
		return 0
	case PaymentStatusPartiallyPaid:
		return 1
	case PaymentStatusPaid:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether moving to next keeps the status monotonic.
// Staying in the same status is allowed.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	return next.rank() >= s.rank()
}

// ValidateTransition returns ErrInvalidStatusChange when the move would regress
func ValidateTransition(from, to PaymentStatus) error {
	if from.CanTransitionTo(to) {
		return nil
	}
	return ErrInvalidStatusChange.WithDetails(map[string]any{
		"from": from.String(),
		"to":   to.String(),
	})
}

// StatusForUnsigned derives the status of a thread whose total due is never negative
func StatusForUnsigned(totalDue, amountPaid decimal.Decimal) PaymentStatus {
	if amountPaid.GreaterThanOrEqual(totalDue) {
		return PaymentStatusPaid
	}
	if amountPaid.IsPositive() {
		return PaymentStatusPartiallyPaid
	}
	return PaymentStatusPending
}

// StatusForSigned derives the status of a thread whose total due may be negative.
// Paid amounts accumulate as a non-negative total compared against abs(totalDue).
func StatusForSigned(totalDue, amountPaid decimal.Decimal) PaymentStatus {
	if totalDue.IsZero() {
		return PaymentStatusPaid
	}
	return StatusForUnsigned(totalDue.Abs(), amountPaid)
}
