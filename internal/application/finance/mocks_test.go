package finance

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/tradeledger/backend/internal/domain/finance"
	"github.com/tradeledger/backend/internal/domain/shared"
)

// MockEventPublisher records published events
type MockEventPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
	err    error
}

func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{events: make([]shared.DomainEvent, 0)}
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return m.err
}

func (m *MockEventPublisher) GetEventsByType(eventType string) []shared.DomainEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]shared.DomainEvent, 0)
	for _, e := range m.events {
		if e.EventType() == eventType {
			result = append(result, e)
		}
	}
	return result
}

// MockTradeRecordRepository is a mock implementation of finance.TradeRecordRepository
type MockTradeRecordRepository struct {
	mock.Mock
}

func (m *MockTradeRecordRepository) FindByID(ctx context.Context, id uuid.UUID) (*finance.TradeRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.TradeRecord), args.Error(1)
}

func (m *MockTradeRecordRepository) FindByCounterparty(ctx context.Context, counterpartyID string) ([]*finance.TradeRecord, error) {
	args := m.Called(ctx, counterpartyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*finance.TradeRecord), args.Error(1)
}

func (m *MockTradeRecordRepository) FindAll(ctx context.Context, filter finance.TradeRecordFilter) ([]*finance.TradeRecord, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*finance.TradeRecord), args.Get(1).(int64), args.Error(2)
}

func (m *MockTradeRecordRepository) Create(ctx context.Context, record *finance.TradeRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockTradeRecordRepository) SaveWithLock(ctx context.Context, record *finance.TradeRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// MockCashEventRepository is a mock implementation of finance.CashEventRepository
type MockCashEventRepository struct {
	mock.Mock
}

func (m *MockCashEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*finance.CashEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.CashEvent), args.Error(1)
}

func (m *MockCashEventRepository) FindByIdempotencyKey(ctx context.Context, key string) (*finance.CashEvent, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.CashEvent), args.Error(1)
}

func (m *MockCashEventRepository) FindAll(ctx context.Context, filter finance.CashEventFilter) ([]*finance.CashEvent, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*finance.CashEvent), args.Get(1).(int64), args.Error(2)
}

func (m *MockCashEventRepository) Create(ctx context.Context, event *finance.CashEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// memTradeRepo is an in-memory TradeRecordRepository with the optimistic
// version check of the GORM implementation
type memTradeRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*finance.TradeRecord
	saves   int
	// beforeSave runs before each SaveWithLock and can simulate a racing writer
	beforeSave func(record *finance.TradeRecord)
}

func newMemTradeRepo() *memTradeRepo {
	return &memTradeRepo{records: make(map[uuid.UUID]*finance.TradeRecord)}
}

func (r *memTradeRepo) FindByID(_ context.Context, id uuid.UUID) (*finance.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *memTradeRepo) FindByCounterparty(_ context.Context, counterpartyID string) ([]*finance.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*finance.TradeRecord, 0)
	for _, rec := range r.records {
		if rec.CounterpartyID == counterpartyID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TradeDate.Equal(out[j].TradeDate) {
			return out[i].TradeDate.Before(out[j].TradeDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memTradeRepo) FindAll(ctx context.Context, filter finance.TradeRecordFilter) ([]*finance.TradeRecord, int64, error) {
	all, _ := r.FindByCounterparty(ctx, filter.CounterpartyID)
	return all, int64(len(all)), nil
}

func (r *memTradeRepo) Create(_ context.Context, record *finance.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.ID]; exists {
		return shared.ErrAlreadyExists
	}
	r.records[record.ID] = record.Clone()
	return nil
}

func (r *memTradeRepo) SaveWithLock(_ context.Context, record *finance.TradeRecord) error {
	if r.beforeSave != nil {
		r.beforeSave(record)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[record.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != record.Version-1 {
		return finance.ErrConcurrentModification
	}
	r.records[record.ID] = record.Clone()
	r.saves++
	return nil
}

// bump simulates a write by another instance
func (r *memTradeRepo) bump(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[id].IncrementVersion()
}

// memCashRepo is an in-memory CashEventRepository
type memCashRepo struct {
	mu     sync.Mutex
	events []*finance.CashEvent
	err    error
}

func newMemCashRepo() *memCashRepo {
	return &memCashRepo{}
}

func (r *memCashRepo) FindByID(_ context.Context, id uuid.UUID) (*finance.CashEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memCashRepo) FindByIdempotencyKey(_ context.Context, key string) (*finance.CashEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.IdempotencyKey == key {
			return e, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memCashRepo) FindAll(_ context.Context, _ finance.CashEventFilter) ([]*finance.CashEvent, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*finance.CashEvent, len(r.events))
	copy(out, r.events)
	return out, int64(len(out)), nil
}

func (r *memCashRepo) Create(_ context.Context, event *finance.CashEvent) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *memCashRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// snapshotScope applies a transaction's trade record writes only when fn
// succeeds, which is what the GORM scope guarantees
type snapshotScope struct {
	trades *memTradeRepo
	cash   *memCashRepo
}

func (s *snapshotScope) Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error {
	s.trades.mu.Lock()
	snapshot := make(map[uuid.UUID]*finance.TradeRecord, len(s.trades.records))
	for id, rec := range s.trades.records {
		snapshot[id] = rec.Clone()
	}
	s.trades.mu.Unlock()

	if err := fn(NewNoOpTransactionScope(s.trades, s.cash)); err != nil {
		s.trades.mu.Lock()
		s.trades.records = snapshot
		s.trades.mu.Unlock()
		return err
	}
	return nil
}

// recordingLocker serialises by key and records every lock request
type recordingLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	keys  []string
	err   error
}

func newRecordingLocker() *recordingLocker {
	return &recordingLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *recordingLocker) WithLock(ctx context.Context, counterpartyID string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.keys = append(l.keys, counterpartyID)
	if l.err != nil {
		l.mu.Unlock()
		return l.err
	}
	m, ok := l.locks[counterpartyID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[counterpartyID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// memReceiptStore keeps archived receipts by key
type memReceiptStore struct {
	mu    sync.Mutex
	items map[string][]byte
	err   error
}

func newMemReceiptStore() *memReceiptStore {
	return &memReceiptStore{items: make(map[string][]byte)}
}

func (s *memReceiptStore) PutReceipt(_ context.Context, key string, body []byte) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = body
	return nil
}

var errStoreDown = errors.New("store unavailable")
