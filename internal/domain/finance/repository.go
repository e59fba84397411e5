package finance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/shared"
)

// TradeRecordFilter defines filtering options for trade record queries
type TradeRecordFilter struct {
	shared.Pagination
	CounterpartyID string     // Filter by counterparty
	Kind           *TradeKind // Filter by kind
	OpenOnly       bool       // Only records with at least one unpaid thread
	FromDate       *time.Time // Trade date range start
	ToDate         *time.Time // Trade date range end
}

// TradeRecordRepository defines the interface for trade record persistence
type TradeRecordRepository interface {
	// FindByID finds a trade record by ID
	FindByID(ctx context.Context, id uuid.UUID) (*TradeRecord, error)

	// FindByCounterparty loads every trade record of a counterparty, oldest first
	FindByCounterparty(ctx context.Context, counterpartyID string) ([]*TradeRecord, error)

	// FindAll finds trade records matching the filter and the total match count
	FindAll(ctx context.Context, filter TradeRecordFilter) ([]*TradeRecord, int64, error)

	// Create inserts a new trade record
	Create(ctx context.Context, record *TradeRecord) error

	// SaveWithLock updates a record only if the stored version is record.Version-1.
	// A lost race returns ErrConcurrentModification.
	SaveWithLock(ctx context.Context, record *TradeRecord) error
}

// CashEventFilter defines filtering options for cash event history queries
type CashEventFilter struct {
	shared.Pagination
	CounterpartyID string
	Direction      *Direction
	From           *time.Time
	To             *time.Time
}

// CashEventRepository defines the interface for the append-only cash event log
type CashEventRepository interface {
	// FindByID finds a cash event with its allocations
	FindByID(ctx context.Context, id uuid.UUID) (*CashEvent, error)

	// FindByIdempotencyKey finds the event committed under a key, or ErrNotFound
	FindByIdempotencyKey(ctx context.Context, key string) (*CashEvent, error)

	// FindAll finds cash events newest first with the total match count
	FindAll(ctx context.Context, filter CashEventFilter) ([]*CashEvent, int64, error)

	// Create appends a cash event and its allocations
	Create(ctx context.Context, event *CashEvent) error
}
