package finance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommitRequest is a validated-by-caller allocation set plus event metadata
type CommitRequest struct {
	CounterpartyID string
	Thread         Thread
	Direction      Direction
	Amount         decimal.Decimal
	Notes          string
	IdempotencyKey string
	Entries        []AllocationEntry // Only ObligationID and AllocatedAmount are read
}

// CommitResult holds the new cash event and the records it changed
type CommitResult struct {
	Event   *CashEvent
	Updated []*TradeRecord
}

// LedgerCommitter applies an allocation set to trade records.
// It never mutates the records passed in: changes are made on clones, so a
// failure at any point leaves the caller's snapshot untouched.
type LedgerCommitter struct {
	validator *AllocationValidator
}

// NewLedgerCommitter creates a new committer
func NewLedgerCommitter(validator *AllocationValidator) *LedgerCommitter {
	if validator == nil {
		validator = NewAllocationValidator()
	}
	return &LedgerCommitter{validator: validator}
}

// Commit re-checks every entry against records, which must be the current
// persisted state of the counterparty's trades, and applies the allocation.
//
// An entry that exceeds its obligation's current pending amount fails the whole
// commit with CONCURRENT_MODIFICATION and the caller must re-plan. Other
// problems surface as the validator's errors. Zero-amount lines are accepted
// and dropped from the resulting event.
func (c *LedgerCommitter) Commit(req CommitRequest, records []*TradeRecord, now time.Time) (*CommitResult, error) {
	byID := make(map[uuid.UUID]*TradeRecord, len(records))
	obligations := make([]Obligation, 0, len(records))
	for _, r := range records {
		if r.CounterpartyID != req.CounterpartyID {
			continue
		}
		byID[r.ID] = r
		if o, ok := r.Obligation(req.Thread); ok {
			obligations = append(obligations, o)
			if stale := staleEntry(req.Entries, o); stale != nil {
				return nil, NewConcurrentModificationError(o.ID, stale.AllocatedAmount, o.PendingAmount)
			}
		}
	}

	validated, err := c.validator.Validate(ValidationRequest{
		CounterpartyID: req.CounterpartyID,
		Thread:         req.Thread,
		Direction:      req.Direction,
		TargetAmount:   req.Amount,
		Entries:        req.Entries,
	}, obligations)
	if err != nil {
		return nil, err
	}

	applied := make([]AllocationEntry, 0, len(validated))
	updated := make([]*TradeRecord, 0, len(validated))
	for _, e := range validated {
		if e.AllocatedAmount.IsZero() {
			continue
		}
		record := byID[e.ObligationID].Clone()
		entry, err := record.applyAllocation(req.Thread, e.AllocatedAmount, now)
		if err != nil {
			return nil, err
		}
		applied = append(applied, entry)
		updated = append(updated, record)
	}

	return &CommitResult{
		Event:   newCashEvent(req, applied, now),
		Updated: updated,
	}, nil
}

// staleEntry returns the entry for o whose amount no longer fits o's pending balance
func staleEntry(entries []AllocationEntry, o Obligation) *AllocationEntry {
	for i := range entries {
		if entries[i].ObligationID == o.ID && entries[i].AllocatedAmount.GreaterThan(o.PendingAmount) {
			return &entries[i]
		}
	}
	return nil
}
