package finance

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValidationRequest is a caller-edited allocation set to check before commit
type ValidationRequest struct {
	CounterpartyID string
	Thread         Thread
	Direction      Direction
	TargetAmount   decimal.Decimal
	Entries        []AllocationEntry // Only ObligationID and AllocatedAmount are read
}

// AllocationValidator checks edited allocation sets against current obligations
type AllocationValidator struct{}

// NewAllocationValidator creates a new validator
func NewAllocationValidator() *AllocationValidator {
	return &AllocationValidator{}
}

// Validate checks every entry against the obligations as they stand now and
// requires the entries to sum to the target exactly. On success it returns the
// entries with previous and new paid amounts and statuses recomputed from the
// current state, in the caller's order.
func (v *AllocationValidator) Validate(req ValidationRequest, obligations []Obligation) ([]AllocationEntry, error) {
	if strings.TrimSpace(req.CounterpartyID) == "" {
		return nil, invalidInput("Counterparty ID cannot be empty", map[string]any{"field": "counterparty_id"})
	}
	if !req.Thread.IsValid() {
		return nil, invalidInput("Invalid thread", map[string]any{"field": "thread", "value": string(req.Thread)})
	}
	if !req.Direction.IsValid() {
		return nil, invalidInput("Invalid direction", map[string]any{"field": "direction", "value": string(req.Direction)})
	}
	if !req.TargetAmount.IsPositive() || !IsMoneyScale(req.TargetAmount) {
		return nil, invalidInput("Amount must be positive with at most 2 decimal places", map[string]any{"field": "amount"})
	}

	index := make(map[uuid.UUID]Obligation, len(obligations))
	for _, o := range obligations {
		if o.CounterpartyID == req.CounterpartyID && o.Thread == req.Thread {
			index[o.ID] = o
		}
	}

	seen := make(map[uuid.UUID]struct{}, len(req.Entries))
	validated := make([]AllocationEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		if _, dup := seen[e.ObligationID]; dup {
			return nil, invalidEntry(e.ObligationID, "duplicate obligation")
		}
		seen[e.ObligationID] = struct{}{}

		if e.AllocatedAmount.IsNegative() {
			return nil, invalidEntry(e.ObligationID, "negative amount")
		}
		if !IsMoneyScale(e.AllocatedAmount) {
			return nil, invalidEntry(e.ObligationID, "more than 2 decimal places")
		}

		o, ok := index[e.ObligationID]
		if !ok {
			return nil, invalidEntry(e.ObligationID, "unknown obligation for counterparty and thread")
		}
		if o.Direction != req.Direction && e.AllocatedAmount.IsPositive() {
			return nil, invalidEntry(e.ObligationID, "obligation is not settled by "+req.Direction.String()+" cash")
		}
		if e.AllocatedAmount.GreaterThan(o.PendingAmount) {
			return nil, invalidEntry(e.ObligationID, "amount exceeds pending "+o.PendingAmount.StringFixed(2))
		}

		validated = append(validated, o.Preview(e.AllocatedAmount))
	}

	if total := SumAllocated(validated); !total.Equal(req.TargetAmount) {
		return nil, NewAllocationSumMismatchError(req.TargetAmount, total)
	}
	return validated, nil
}
