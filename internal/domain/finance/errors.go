package finance

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared"
)

// Error codes returned by the ledger engine
const (
	CodeInvalidInput           = "INVALID_INPUT"
	CodeNoOpenObligations      = "NO_OPEN_OBLIGATIONS"
	CodeOverallocation         = "OVERALLOCATION"
	CodeAllocationSumMismatch  = "ALLOCATION_SUM_MISMATCH"
	CodeInvalidEntry           = "INVALID_ENTRY"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeInvalidStatusChange    = "INVALID_STATUS_TRANSITION"
)

// Sentinels for errors.Is. Returned errors carry the same code plus details.
var (
	ErrInvalidInput           = shared.NewDomainError(CodeInvalidInput, "Invalid input")
	ErrNoOpenObligations      = shared.NewDomainError(CodeNoOpenObligations, "Counterparty has no open obligations for this thread and direction")
	ErrOverallocation         = shared.NewDomainError(CodeOverallocation, "Amount exceeds the total pending across open obligations")
	ErrAllocationSumMismatch  = shared.NewDomainError(CodeAllocationSumMismatch, "Allocated total does not equal the cash amount")
	ErrInvalidEntry           = shared.NewDomainError(CodeInvalidEntry, "Invalid allocation entry")
	ErrConcurrentModification = shared.NewDomainError(CodeConcurrentModification, "Obligations changed since the allocation was planned, re-plan and retry")
	ErrInvalidStatusChange    = shared.NewDomainError(CodeInvalidStatusChange, "Payment status cannot move backwards")
)

func invalidInput(message string, details map[string]any) *shared.DomainError {
	return &shared.DomainError{Code: CodeInvalidInput, Message: message, Details: details}
}

func invalidEntry(obligationID uuid.UUID, reason string) *shared.DomainError {
	return &shared.DomainError{
		Code:    CodeInvalidEntry,
		Message: "Invalid allocation entry: " + reason,
		Details: map[string]any{
			"obligation_id": obligationID.String(),
			"reason":        reason,
		},
	}
}

// NewOverallocationError reports the part of the cash amount no obligation could absorb
func NewOverallocationError(remaining decimal.Decimal) *shared.DomainError {
	return ErrOverallocation.WithDetails(map[string]any{
		"remaining": remaining.StringFixed(2),
	})
}

// NewAllocationSumMismatchError names the required total and the sum actually supplied
func NewAllocationSumMismatchError(required, actual decimal.Decimal) *shared.DomainError {
	return &shared.DomainError{
		Code:    CodeAllocationSumMismatch,
		Message: "Allocated total " + actual.StringFixed(2) + " does not equal required " + required.StringFixed(2),
		Details: map[string]any{
			"required": required.StringFixed(2),
			"actual":   actual.StringFixed(2),
		},
	}
}

// NewConcurrentModificationError reports an entry that no longer fits its obligation
func NewConcurrentModificationError(obligationID uuid.UUID, allocated, pending decimal.Decimal) *shared.DomainError {
	return ErrConcurrentModification.WithDetails(map[string]any{
		"obligation_id": obligationID.String(),
		"allocated":     allocated.StringFixed(2),
		"pending":       pending.StringFixed(2),
	})
}
