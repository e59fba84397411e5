package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/finance"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
	"github.com/tradeledger/backend/internal/infrastructure/telemetry"
	"gorm.io/gorm"
)

// GormTradeRecordRepository implements finance.TradeRecordRepository using GORM
type GormTradeRecordRepository struct {
	db *gorm.DB
}

// NewGormTradeRecordRepository creates a new GormTradeRecordRepository
func NewGormTradeRecordRepository(db *gorm.DB) *GormTradeRecordRepository {
	return &GormTradeRecordRepository{db: db}
}

// FindByID finds a trade record by its ID
func (r *GormTradeRecordRepository) FindByID(ctx context.Context, id uuid.UUID) (*finance.TradeRecord, error) {
	var model models.TradeRecordModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// FindByCounterparty loads every trade record of a counterparty, oldest first.
// The id tiebreak keeps the order stable for records entered in the same instant.
func (r *GormTradeRecordRepository) FindByCounterparty(ctx context.Context, counterpartyID string) ([]*finance.TradeRecord, error) {
	var rows []models.TradeRecordModel
	if err := r.db.WithContext(ctx).
		Where("counterparty_id = ?", counterpartyID).
		Order("trade_date ASC, created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainRecords(rows)
}

// FindAll finds trade records matching the filter, newest first, with the total match count
func (r *GormTradeRecordRepository) FindAll(ctx context.Context, filter finance.TradeRecordFilter) ([]*finance.TradeRecord, int64, error) {
	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.TradeRecordModel{}), filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Pagination.Normalize()
	var rows []models.TradeRecordModel
	if err := query.
		Order("trade_date DESC, created_at DESC, id DESC").
		Offset(page.Offset()).
		Limit(page.PageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	records, err := toDomainRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *GormTradeRecordRepository) applyFilter(query *gorm.DB, filter finance.TradeRecordFilter) *gorm.DB {
	if filter.CounterpartyID != "" {
		query = query.Where("counterparty_id = ?", filter.CounterpartyID)
	}
	if filter.Kind != nil {
		query = query.Where("kind = ?", *filter.Kind)
	}
	if filter.OpenOnly {
		query = query.Where("(payment_status <> ? OR (kind = ? AND difference_status <> ?))",
			finance.PaymentStatusPaid, finance.TradeKindSale, finance.PaymentStatusPaid)
	}
	if filter.FromDate != nil {
		query = query.Where("trade_date >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("trade_date <= ?", *filter.ToDate)
	}
	return query
}

// Create inserts a new trade record
func (r *GormTradeRecordRepository) Create(ctx context.Context, record *finance.TradeRecord) error {
	if err := r.db.WithContext(ctx).Create(models.TradeRecordModelFromDomain(record)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// SaveWithLock saves with optimistic locking (checks version)
func (r *GormTradeRecordRepository) SaveWithLock(ctx context.Context, record *finance.TradeRecord) error {
	m := models.TradeRecordModelFromDomain(record)
	result := r.db.WithContext(ctx).
		Model(&models.TradeRecordModel{}).
		Where("id = ? AND version = ?", record.ID, record.Version-1).
		Updates(map[string]any{
			"quantity":               m.Quantity,
			"rate":                   m.Rate,
			"discount_kind":          m.DiscountKind,
			"discount_rate":          m.DiscountRate,
			"extra_quantity":         m.ExtraQuantity,
			"portal_amount":          m.PortalAmount,
			"gst_amount":             m.GSTAmount,
			"total_portal_amount":    m.TotalPortalAmount,
			"revenue_amount":         m.RevenueAmount,
			"total_revenue_amount":   m.TotalRevenueAmount,
			"difference_amount":      m.DifferenceAmount,
			"bags":                   m.Bags,
			"amount_paid":            m.AmountPaid,
			"payment_status":         m.PaymentStatus,
			"difference_amount_paid": m.DifferenceAmountPaid,
			"difference_status":      m.DifferenceStatus,
			"version":                m.Version,
			"updated_at":             m.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return finance.ErrConcurrentModification.WithDetails(map[string]any{
			"trade_record_id":  record.ID.String(),
			"expected_version": record.Version - 1,
		})
	}
	return nil
}

// CountOpenObligations counts unpaid obligations per thread and direction.
// Portal obligations of sales and pending bills are collected (IN), purchases
// are paid out (OUT). A sale's difference thread is collected when the difference
// is positive and paid back when it is negative.
func (r *GormTradeRecordRepository) CountOpenObligations(ctx context.Context) ([]telemetry.OpenObligationCount, error) {
	var portal []struct {
		Kind  string
		Count int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.TradeRecordModel{}).
		Select("kind, COUNT(*) AS count").
		Where("payment_status <> ?", finance.PaymentStatusPaid).
		Group("kind").
		Scan(&portal).Error; err != nil {
		return nil, fmt.Errorf("count open portal obligations: %w", err)
	}

	var difference []struct {
		Negative bool
		Count    int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.TradeRecordModel{}).
		Select("difference_amount < 0 AS negative, COUNT(*) AS count").
		Where("kind = ? AND difference_status <> ?", finance.TradeKindSale, finance.PaymentStatusPaid).
		Group("difference_amount < 0").
		Scan(&difference).Error; err != nil {
		return nil, fmt.Errorf("count open difference obligations: %w", err)
	}

	byKey := map[[2]string]int64{}
	for _, row := range portal {
		direction := finance.DirectionIn
		if finance.TradeKind(row.Kind) == finance.TradeKindPurchase {
			direction = finance.DirectionOut
		}
		byKey[[2]string{string(finance.ThreadPortal), string(direction)}] += row.Count
	}
	for _, row := range difference {
		direction := finance.DirectionIn
		if row.Negative {
			direction = finance.DirectionOut
		}
		byKey[[2]string{string(finance.ThreadDifference), string(direction)}] += row.Count
	}

	counts := make([]telemetry.OpenObligationCount, 0, 4)
	for _, thread := range []finance.Thread{finance.ThreadPortal, finance.ThreadDifference} {
		for _, direction := range []finance.Direction{finance.DirectionIn, finance.DirectionOut} {
			counts = append(counts, telemetry.OpenObligationCount{
				Thread:    string(thread),
				Direction: string(direction),
				Count:     byKey[[2]string{string(thread), string(direction)}],
			})
		}
	}
	return counts, nil
}

func toDomainRecords(rows []models.TradeRecordModel) ([]*finance.TradeRecord, error) {
	records := make([]*finance.TradeRecord, 0, len(rows))
	for i := range rows {
		record, err := rows[i].ToDomain()
		if err != nil {
			return nil, fmt.Errorf("trade record %s: %w", rows[i].ID, err)
		}
		records = append(records, record)
	}
	return records, nil
}

var (
	_ finance.TradeRecordRepository     = (*GormTradeRecordRepository)(nil)
	_ telemetry.OpenObligationsProvider = (*GormTradeRecordRepository)(nil)
)
