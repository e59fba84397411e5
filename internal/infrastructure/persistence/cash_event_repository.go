package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/finance"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormCashEventRepository implements finance.CashEventRepository using GORM.
// Events are only ever inserted; there is no update or delete path.
type GormCashEventRepository struct {
	db *gorm.DB
}

// NewGormCashEventRepository creates a new GormCashEventRepository
func NewGormCashEventRepository(db *gorm.DB) *GormCashEventRepository {
	return &GormCashEventRepository{db: db}
}

func preloadAllocations(db *gorm.DB) *gorm.DB {
	return db.Order("line_no ASC")
}

// FindByID finds a cash event with its allocation lines
func (r *GormCashEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*finance.CashEvent, error) {
	var model models.CashEventModel
	if err := r.db.WithContext(ctx).
		Preload("Allocations", preloadAllocations).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIdempotencyKey finds the event committed under key
func (r *GormCashEventRepository) FindByIdempotencyKey(ctx context.Context, key string) (*finance.CashEvent, error) {
	if key == "" {
		return nil, shared.ErrNotFound
	}
	var model models.CashEventModel
	if err := r.db.WithContext(ctx).
		Preload("Allocations", preloadAllocations).
		First(&model, "idempotency_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll finds cash events newest first with the total match count
func (r *GormCashEventRepository) FindAll(ctx context.Context, filter finance.CashEventFilter) ([]*finance.CashEvent, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.CashEventModel{})
	if filter.CounterpartyID != "" {
		query = query.Where("counterparty_id = ?", filter.CounterpartyID)
	}
	if filter.Direction != nil {
		query = query.Where("direction = ?", *filter.Direction)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Pagination.Normalize()
	var rows []models.CashEventModel
	if err := query.
		Preload("Allocations", preloadAllocations).
		Order("created_at DESC, id DESC").
		Offset(page.Offset()).
		Limit(page.PageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	events := make([]*finance.CashEvent, len(rows))
	for i := range rows {
		events[i] = rows[i].ToDomain()
	}
	return events, total, nil
}

// Create appends a cash event and its allocation lines.
// A reused idempotency key surfaces as shared.ErrAlreadyExists.
func (r *GormCashEventRepository) Create(ctx context.Context, event *finance.CashEvent) error {
	if err := r.db.WithContext(ctx).Create(models.CashEventModelFromDomain(event)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists.WithDetails(map[string]any{"idempotency_key": event.IdempotencyKey})
		}
		return err
	}
	return nil
}

var _ finance.CashEventRepository = (*GormCashEventRepository)(nil)
