package finance

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared"
)

// AggregateTypeCashEvent is the aggregate type name used in domain events
const AggregateTypeCashEvent = "CashEvent"

// CashEvent is the append-only audit record of one cash movement and the
// allocations it settled. It is created only by the LedgerCommitter and never
// updated after it is persisted.
type CashEvent struct {
	shared.BaseAggregateRoot
	CounterpartyID string
	Direction      Direction
	Thread         Thread
	Amount         decimal.Decimal
	Notes          string
	IdempotencyKey string
	Allocations    []AllocationEntry
}

// AllocatedTotal sums the event's allocation lines
func (e *CashEvent) AllocatedTotal() decimal.Decimal {
	return SumAllocated(e.Allocations)
}

// Timestamp is when the cash movement was committed
func (e *CashEvent) Timestamp() time.Time {
	return e.CreatedAt
}

func newCashEvent(req CommitRequest, allocations []AllocationEntry, now time.Time) *CashEvent {
	frozen := make([]AllocationEntry, len(allocations))
	copy(frozen, allocations)

	event := &CashEvent{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(now),
		CounterpartyID:    req.CounterpartyID,
		Direction:         req.Direction,
		Thread:            req.Thread,
		Amount:            req.Amount,
		Notes:             strings.TrimSpace(req.Notes),
		IdempotencyKey:    strings.TrimSpace(req.IdempotencyKey),
		Allocations:       frozen,
	}
	event.AddDomainEvent(NewCashEventCommittedEvent(event))
	return event
}
