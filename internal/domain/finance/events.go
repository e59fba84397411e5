package finance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/shared"
)

// Event type constants
const (
	EventTypeTradeRecordCreated = "TradeRecordCreated"
	EventTypeTradeTermsChanged  = "TradeTermsChanged"
	EventTypeCashEventCommitted = "CashEventCommitted"
)

// TradeRecordCreatedEvent is raised when a trade is entered
type TradeRecordCreatedEvent struct {
	shared.BaseDomainEvent
	TradeRecordID  uuid.UUID      `json:"trade_record_id"`
	Kind           TradeKind      `json:"kind"`
	CounterpartyID string         `json:"counterparty_id"`
	Reference      string         `json:"reference,omitempty"`
	Amounts        DerivedAmounts `json:"amounts"`
}

// NewTradeRecordCreatedEvent creates a new TradeRecordCreatedEvent
func NewTradeRecordCreatedEvent(record *TradeRecord, at time.Time) *TradeRecordCreatedEvent {
	return &TradeRecordCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeTradeRecordCreated, AggregateTypeTradeRecord, record.ID, at),
		TradeRecordID:   record.ID,
		Kind:            record.Kind,
		CounterpartyID:  record.CounterpartyID,
		Reference:       record.Reference,
		Amounts:         record.Amounts,
	}
}

// TradeTermsChangedEvent is raised when a trade's commercial terms are edited
type TradeTermsChangedEvent struct {
	shared.BaseDomainEvent
	TradeRecordID    uuid.UUID      `json:"trade_record_id"`
	CounterpartyID   string         `json:"counterparty_id"`
	PreviousAmounts  DerivedAmounts `json:"previous_amounts"`
	Amounts          DerivedAmounts `json:"amounts"`
	PaymentStatus    PaymentStatus  `json:"payment_status"`
	DifferenceStatus PaymentStatus  `json:"difference_status,omitempty"`
}

// NewTradeTermsChangedEvent creates a new TradeTermsChangedEvent
func NewTradeTermsChangedEvent(record *TradeRecord, previous DerivedAmounts, at time.Time) *TradeTermsChangedEvent {
	return &TradeTermsChangedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventTypeTradeTermsChanged, AggregateTypeTradeRecord, record.ID, at),
		TradeRecordID:    record.ID,
		CounterpartyID:   record.CounterpartyID,
		PreviousAmounts:  previous,
		Amounts:          record.Amounts,
		PaymentStatus:    record.PaymentStatus,
		DifferenceStatus: record.DifferenceStatus,
	}
}

// CashEventCommittedEvent is raised after a cash event and its allocations are persisted
type CashEventCommittedEvent struct {
	shared.BaseDomainEvent
	CashEventID    uuid.UUID         `json:"cash_event_id"`
	CounterpartyID string            `json:"counterparty_id"`
	Direction      Direction         `json:"direction"`
	Thread         Thread            `json:"thread"`
	Amount         decimal.Decimal   `json:"amount"`
	Notes          string            `json:"notes,omitempty"`
	Allocations    []AllocationEntry `json:"allocations"`
}

// NewCashEventCommittedEvent creates a new CashEventCommittedEvent
func NewCashEventCommittedEvent(event *CashEvent) *CashEventCommittedEvent {
	return &CashEventCommittedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCashEventCommitted, AggregateTypeCashEvent, event.ID, event.CreatedAt),
		CashEventID:     event.ID,
		CounterpartyID:  event.CounterpartyID,
		Direction:       event.Direction,
		Thread:          event.Thread,
		Amount:          event.Amount,
		Notes:           event.Notes,
		Allocations:     event.Allocations,
	}
}
