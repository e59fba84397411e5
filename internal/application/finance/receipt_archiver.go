package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/finance"
	"github.com/tradeledger/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// ReceiptStore persists archived cash event receipts
type ReceiptStore interface {
	// PutReceipt writes body under key, replacing any previous receipt
	PutReceipt(ctx context.Context, key string, body []byte) error
}

// AmountFormatter renders a money amount for human readers
type AmountFormatter interface {
	FormatAmount(amount decimal.Decimal) string
}

// Receipt is the archived document for one committed cash event
type Receipt struct {
	ID             uuid.UUID                 `json:"id"`
	CounterpartyID string                    `json:"counterparty_id"`
	Direction      finance.Direction         `json:"direction"`
	Thread         finance.Thread            `json:"thread"`
	Amount         decimal.Decimal           `json:"amount"`
	Notes          string                    `json:"notes,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
	Allocations    []finance.AllocationEntry `json:"allocations"`
	Summary        string                    `json:"summary"`
}

// ReceiptArchiver writes a JSON receipt for every committed cash event
type ReceiptArchiver struct {
	store     ReceiptStore
	formatter AmountFormatter
	prefix    string
	logger    *zap.Logger
}

// NewReceiptArchiver creates a new ReceiptArchiver
func NewReceiptArchiver(store ReceiptStore, formatter AmountFormatter, prefix string, logger *zap.Logger) *ReceiptArchiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptArchiver{
		store:     store,
		formatter: formatter,
		prefix:    prefix,
		logger:    logger,
	}
}

// EventTypes returns the event types this handler is interested in
func (a *ReceiptArchiver) EventTypes() []string {
	return []string{finance.EventTypeCashEventCommitted}
}

// Handle archives the receipt of a CashEventCommittedEvent
func (a *ReceiptArchiver) Handle(ctx context.Context, event shared.DomainEvent) error {
	committed, ok := event.(*finance.CashEventCommittedEvent)
	if !ok {
		a.logger.Error("unexpected event type",
			zap.String("expected", finance.EventTypeCashEventCommitted),
			zap.String("actual", event.EventType()),
		)
		return fmt.Errorf("unexpected event type: expected %s, got %s",
			finance.EventTypeCashEventCommitted, event.EventType())
	}

	receipt := a.BuildReceipt(committed)
	body, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}

	key := a.ReceiptKey(committed)
	if err := a.store.PutReceipt(ctx, key, body); err != nil {
		a.logger.Warn("Failed to archive cash event receipt",
			zap.String("cash_event_id", committed.CashEventID.String()),
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to archive receipt %s: %w", key, err)
	}

	a.logger.Info("Cash event receipt archived",
		zap.String("cash_event_id", committed.CashEventID.String()),
		zap.String("key", key),
	)
	return nil
}

// BuildReceipt converts a committed event into its archived shape
func (a *ReceiptArchiver) BuildReceipt(event *finance.CashEventCommittedEvent) Receipt {
	return Receipt{
		ID:             event.CashEventID,
		CounterpartyID: event.CounterpartyID,
		Direction:      event.Direction,
		Thread:         event.Thread,
		Amount:         event.Amount,
		Notes:          event.Notes,
		CreatedAt:      event.OccurredAt(),
		Allocations:    event.Allocations,
		Summary:        a.summary(event),
	}
}

// ReceiptKey returns the object key: <prefix>/<counterparty>/<yyyy>/<mm>/<cash event id>.json
func (a *ReceiptArchiver) ReceiptKey(event *finance.CashEventCommittedEvent) string {
	at := event.OccurredAt().UTC()
	key := fmt.Sprintf("%s/%04d/%02d/%s.json", event.CounterpartyID, at.Year(), int(at.Month()), event.CashEventID)
	if a.prefix == "" {
		return key
	}
	return a.prefix + "/" + key
}

func (a *ReceiptArchiver) summary(event *finance.CashEventCommittedEvent) string {
	verb := "received from"
	if event.Direction == finance.DirectionOut {
		verb = "paid to"
	}
	bills := "bills"
	if len(event.Allocations) == 1 {
		bills = "bill"
	}
	return fmt.Sprintf("%s %s %s against %d %s %s",
		a.format(event.Amount), verb, event.CounterpartyID,
		len(event.Allocations), event.Thread, bills)
}

func (a *ReceiptArchiver) format(amount decimal.Decimal) string {
	if a.formatter == nil {
		return amount.StringFixed(2)
	}
	return a.formatter.FormatAmount(amount)
}
