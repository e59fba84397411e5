package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/domain/finance"
)

// TradeRecordModel is the persistence model for the TradeRecord aggregate root.
// Commercial terms are stored flat: the discount mode is a kind column plus
// the nullable payload column its variant needs.
type TradeRecordModel struct {
	AggregateModel
	Kind                 finance.TradeKind     `gorm:"type:varchar(20);not null;index"`
	CounterpartyID       string                `gorm:"type:varchar(64);not null;index:idx_trade_records_counterparty_date,priority:1"`
	Reference            string                `gorm:"type:varchar(100)"`
	TradeDate            time.Time             `gorm:"not null;index:idx_trade_records_counterparty_date,priority:2"`
	Quantity             decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	Rate                 decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	DiscountKind         finance.DiscountKind  `gorm:"type:varchar(30);not null"`
	DiscountRate         *decimal.Decimal      `gorm:"type:decimal(18,4)"`
	ExtraQuantity        *decimal.Decimal      `gorm:"type:decimal(18,4)"`
	PortalAmount         decimal.Decimal       `gorm:"type:decimal(18,2);not null"`
	GSTAmount            decimal.Decimal       `gorm:"column:gst_amount;type:decimal(18,2);not null"`
	TotalPortalAmount    decimal.Decimal       `gorm:"type:decimal(18,2);not null"`
	RevenueAmount        decimal.Decimal       `gorm:"type:decimal(18,2);not null"`
	TotalRevenueAmount   decimal.Decimal       `gorm:"type:decimal(18,2);not null"`
	DifferenceAmount     decimal.Decimal       `gorm:"type:decimal(18,2);not null"`
	Bags                 decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	AmountPaid           decimal.Decimal       `gorm:"type:decimal(18,2);not null;default:0"`
	PaymentStatus        finance.PaymentStatus `gorm:"type:varchar(20);not null;index"`
	DifferenceAmountPaid decimal.Decimal       `gorm:"type:decimal(18,2);not null;default:0"`
	DifferenceStatus     finance.PaymentStatus `gorm:"type:varchar(20)"`
	Notes                string                `gorm:"type:text"`
}

// TableName returns the table name for GORM.
func (TradeRecordModel) TableName() string {
	return "trade_records"
}

// ToDomain converts the persistence model to a domain TradeRecord.
// It fails only when the stored discount columns are inconsistent.
func (m *TradeRecordModel) ToDomain() (*finance.TradeRecord, error) {
	discount, err := finance.ParseDiscountMode(string(m.DiscountKind), m.DiscountRate, m.ExtraQuantity)
	if err != nil {
		return nil, err
	}
	return &finance.TradeRecord{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		Kind:              m.Kind,
		CounterpartyID:    m.CounterpartyID,
		Reference:         m.Reference,
		TradeDate:         m.TradeDate,
		Terms: finance.TradeTerms{
			Quantity: m.Quantity,
			Rate:     m.Rate,
			Discount: discount,
		},
		Amounts: finance.DerivedAmounts{
			PortalAmount:       m.PortalAmount,
			GSTAmount:          m.GSTAmount,
			TotalPortalAmount:  m.TotalPortalAmount,
			RevenueAmount:      m.RevenueAmount,
			TotalRevenueAmount: m.TotalRevenueAmount,
			DifferenceAmount:   m.DifferenceAmount,
			Bags:               m.Bags,
		},
		AmountPaid:           m.AmountPaid,
		PaymentStatus:        m.PaymentStatus,
		DifferenceAmountPaid: m.DifferenceAmountPaid,
		DifferenceStatus:     m.DifferenceStatus,
		Notes:                m.Notes,
	}, nil
}

// FromDomain populates the persistence model from a domain TradeRecord.
func (m *TradeRecordModel) FromDomain(r *finance.TradeRecord) {
	m.FromDomainAggregateRoot(r.BaseAggregateRoot)
	m.Kind = r.Kind
	m.CounterpartyID = r.CounterpartyID
	m.Reference = r.Reference
	m.TradeDate = r.TradeDate
	m.Quantity = r.Terms.Quantity
	m.Rate = r.Terms.Rate
	m.DiscountKind = finance.DiscountKindNone
	if r.Terms.Discount != nil {
		m.DiscountKind = r.Terms.Discount.Kind()
	}
	m.DiscountRate = finance.DiscountRate(r.Terms.Discount)
	m.ExtraQuantity = finance.ExtraQuantity(r.Terms.Discount)
	m.PortalAmount = r.Amounts.PortalAmount
	m.GSTAmount = r.Amounts.GSTAmount
	m.TotalPortalAmount = r.Amounts.TotalPortalAmount
	m.RevenueAmount = r.Amounts.RevenueAmount
	m.TotalRevenueAmount = r.Amounts.TotalRevenueAmount
	m.DifferenceAmount = r.Amounts.DifferenceAmount
	m.Bags = r.Amounts.Bags
	m.AmountPaid = r.AmountPaid
	m.PaymentStatus = r.PaymentStatus
	m.DifferenceAmountPaid = r.DifferenceAmountPaid
	m.DifferenceStatus = r.DifferenceStatus
	m.Notes = r.Notes
}

// TradeRecordModelFromDomain creates a new persistence model from a domain TradeRecord.
func TradeRecordModelFromDomain(r *finance.TradeRecord) *TradeRecordModel {
	m := &TradeRecordModel{}
	m.FromDomain(r)
	return m
}

// CashEventModel is the persistence model for the append-only CashEvent log.
// IdempotencyKey is NULL when the caller supplied none so the unique index
// only constrains real keys.
type CashEventModel struct {
	AggregateModel
	CounterpartyID string                `gorm:"type:varchar(64);not null;index:idx_cash_events_counterparty"`
	Direction      finance.Direction     `gorm:"type:varchar(10);not null"`
	Thread         finance.Thread        `gorm:"type:varchar(20);not null"`
	Amount         decimal.Decimal       `gorm:"type:decimal(18,2);not null"`
	Notes          string                `gorm:"type:text"`
	IdempotencyKey *string               `gorm:"type:varchar(128);uniqueIndex"`
	Allocations    []CashAllocationModel `gorm:"foreignKey:CashEventID;references:ID"`
}

// TableName returns the table name for GORM.
func (CashEventModel) TableName() string {
	return "cash_events"
}

// ToDomain converts the persistence model to a domain CashEvent.
func (m *CashEventModel) ToDomain() *finance.CashEvent {
	event := &finance.CashEvent{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		CounterpartyID:    m.CounterpartyID,
		Direction:         m.Direction,
		Thread:            m.Thread,
		Amount:            m.Amount,
		Notes:             m.Notes,
		Allocations:       make([]finance.AllocationEntry, len(m.Allocations)),
	}
	if m.IdempotencyKey != nil {
		event.IdempotencyKey = *m.IdempotencyKey
	}
	for i, line := range m.Allocations {
		event.Allocations[i] = line.ToDomain()
	}
	return event
}

// FromDomain populates the persistence model from a domain CashEvent.
func (m *CashEventModel) FromDomain(e *finance.CashEvent) {
	m.FromDomainAggregateRoot(e.BaseAggregateRoot)
	m.CounterpartyID = e.CounterpartyID
	m.Direction = e.Direction
	m.Thread = e.Thread
	m.Amount = e.Amount
	m.Notes = e.Notes
	m.IdempotencyKey = nil
	if e.IdempotencyKey != "" {
		key := e.IdempotencyKey
		m.IdempotencyKey = &key
	}
	m.Allocations = make([]CashAllocationModel, len(e.Allocations))
	for i, entry := range e.Allocations {
		m.Allocations[i] = CashAllocationModelFromDomain(e.ID, i+1, entry)
	}
}

// CashEventModelFromDomain creates a new persistence model from a domain CashEvent.
func CashEventModelFromDomain(e *finance.CashEvent) *CashEventModel {
	m := &CashEventModel{}
	m.FromDomain(e)
	return m
}

// CashAllocationModel is one frozen allocation line of a cash event.
// LineNo keeps the committed order of the lines.
type CashAllocationModel struct {
	CashEventID        uuid.UUID             `gorm:"type:uuid;primaryKey"`
	LineNo             int                   `gorm:"primaryKey;autoIncrement:false"`
	TradeRecordID      uuid.UUID             `gorm:"type:uuid;not null;index"`
	AllocatedAmount    decimal.Decimal       `gorm:"type:decimal(18,2);not null"`
	PreviousAmountPaid decimal.Decimal       `gorm:"type:decimal(18,2);not null"`
	NewAmountPaid      decimal.Decimal       `gorm:"type:decimal(18,2);not null"`
	NewStatus          finance.PaymentStatus `gorm:"type:varchar(20);not null"`
}

// TableName returns the table name for GORM.
func (CashAllocationModel) TableName() string {
	return "cash_allocations"
}

// ToDomain converts the persistence model to a domain AllocationEntry.
func (m *CashAllocationModel) ToDomain() finance.AllocationEntry {
	return finance.AllocationEntry{
		ObligationID:       m.TradeRecordID,
		AllocatedAmount:    m.AllocatedAmount,
		PreviousAmountPaid: m.PreviousAmountPaid,
		NewAmountPaid:      m.NewAmountPaid,
		NewStatus:          m.NewStatus,
	}
}

// CashAllocationModelFromDomain creates an allocation line for event eventID.
func CashAllocationModelFromDomain(eventID uuid.UUID, lineNo int, e finance.AllocationEntry) CashAllocationModel {
	return CashAllocationModel{
		CashEventID:        eventID,
		LineNo:             lineNo,
		TradeRecordID:      e.ObligationID,
		AllocatedAmount:    e.AllocatedAmount,
		PreviousAmountPaid: e.PreviousAmountPaid,
		NewAmountPaid:      e.NewAmountPaid,
		NewStatus:          e.NewStatus,
	}
}

// LedgerModels lists the ledger tables in creation order, for AutoMigrate in tests and tooling.
func LedgerModels() []any {
	return []any{&TradeRecordModel{}, &CashEventModel{}, &CashAllocationModel{}}
}
