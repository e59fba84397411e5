package finance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeledger/backend/internal/domain/finance"
	"github.com/tradeledger/backend/internal/domain/shared"
	"go.uber.org/zap"
)

type rupeeFormatter struct{}

func (rupeeFormatter) FormatAmount(amount decimal.Decimal) string {
	return "Rs " + amount.StringFixed(2)
}

func committedEvent() *finance.CashEventCommittedEvent {
	event := &finance.CashEvent{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(testNow),
		CounterpartyID:    "cp-1",
		Direction:         finance.DirectionIn,
		Thread:            finance.ThreadPortal,
		Amount:            dec("10000"),
		Notes:             "cheque 4411",
		Allocations: []finance.AllocationEntry{
			{ObligationID: uuid.New(), AllocatedAmount: dec("5000"), NewAmountPaid: dec("5000"), NewStatus: finance.PaymentStatusPaid},
			{ObligationID: uuid.New(), AllocatedAmount: dec("5000"), NewAmountPaid: dec("5000"), NewStatus: finance.PaymentStatusPartiallyPaid},
		},
	}
	return finance.NewCashEventCommittedEvent(event)
}

func TestReceiptArchiver_Handle(t *testing.T) {
	store := newMemReceiptStore()
	archiver := NewReceiptArchiver(store, rupeeFormatter{}, "receipts", zap.NewNop())
	event := committedEvent()

	require.NoError(t, archiver.Handle(context.Background(), event))

	key := "receipts/cp-1/2026/03/" + event.CashEventID.String() + ".json"
	body, ok := store.items[key]
	require.True(t, ok, "receipt stored under %s", key)

	var receipt Receipt
	require.NoError(t, json.Unmarshal(body, &receipt))
	assert.Equal(t, event.CashEventID, receipt.ID)
	assert.Equal(t, finance.DirectionIn, receipt.Direction)
	assert.True(t, dec("10000").Equal(receipt.Amount))
	assert.Len(t, receipt.Allocations, 2)
	assert.Equal(t, "Rs 10000.00 received from cp-1 against 2 PORTAL bills", receipt.Summary)
	assert.Equal(t, []string{finance.EventTypeCashEventCommitted}, archiver.EventTypes())
}

func TestReceiptArchiver_Summary(t *testing.T) {
	archiver := NewReceiptArchiver(newMemReceiptStore(), nil, "", nil)
	event := committedEvent()
	event.Direction = finance.DirectionOut
	event.Allocations = event.Allocations[:1]

	receipt := archiver.BuildReceipt(event)
	assert.Equal(t, "10000.00 paid to cp-1 against 1 PORTAL bill", receipt.Summary)
	assert.Equal(t, "cp-1/2026/03/"+event.CashEventID.String()+".json", archiver.ReceiptKey(event))
}

func TestReceiptArchiver_Errors(t *testing.T) {
	t.Run("store failure", func(t *testing.T) {
		store := newMemReceiptStore()
		store.err = errStoreDown
		archiver := NewReceiptArchiver(store, nil, "", zap.NewNop())

		err := archiver.Handle(context.Background(), committedEvent())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errStoreDown))
	})

	t.Run("unexpected event", func(t *testing.T) {
		archiver := NewReceiptArchiver(newMemReceiptStore(), nil, "", zap.NewNop())
		record, err := finance.NewTradeRecord(finance.NewAmountCalculator(), finance.NewTradeRecordParams{
			Kind:           finance.TradeKindSale,
			CounterpartyID: "cp-1",
			Terms:          finance.TradeTerms{Quantity: dec("1"), Rate: dec("1")},
		}, testNow)
		require.NoError(t, err)

		err = archiver.Handle(context.Background(), record.GetDomainEvents()[0])
		assert.Error(t, err)
	})
}
