package finance

import (
	"context"

	"github.com/tradeledger/backend/internal/domain/finance"
)

// TransactionScope runs ledger writes in one database transaction.
// If fn returns an error the transaction is rolled back.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories exposes repositories bound to the current transaction.
// Trade record updates and the cash event insert of one commit go through the
// same instance so they land or roll back together.
type TransactionalRepositories interface {
	TradeRecordRepo() finance.TradeRecordRepository
	CashEventRepo() finance.CashEventRepository
}

// NoOpTransactionScope runs fn against plain repositories without a transaction.
type NoOpTransactionScope struct {
	tradeRecordRepo finance.TradeRecordRepository
	cashEventRepo   finance.CashEventRepository
}

// NewNoOpTransactionScope creates a NoOpTransactionScope with the given repositories.
func NewNoOpTransactionScope(tradeRecordRepo finance.TradeRecordRepository, cashEventRepo finance.CashEventRepository) *NoOpTransactionScope {
	return &NoOpTransactionScope{tradeRecordRepo: tradeRecordRepo, cashEventRepo: cashEventRepo}
}

// Execute runs fn directly.
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

// TradeRecordRepo returns the trade record repository.
func (s *NoOpTransactionScope) TradeRecordRepo() finance.TradeRecordRepository {
	return s.tradeRecordRepo
}

// CashEventRepo returns the cash event repository.
func (s *NoOpTransactionScope) CashEventRepo() finance.CashEventRepository {
	return s.cashEventRepo
}

var (
	_ TransactionScope          = (*NoOpTransactionScope)(nil)
	_ TransactionalRepositories = (*NoOpTransactionScope)(nil)
)

// CounterpartyLocker serialises commits for one counterparty.
// fn runs only while the lock is held. Implementations return an error
// without calling fn when the lock cannot be acquired.
type CounterpartyLocker interface {
	WithLock(ctx context.Context, counterpartyID string, fn func(ctx context.Context) error) error
}
