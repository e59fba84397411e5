//go:build integration

package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	appfinance "github.com/tradeledger/backend/internal/application/finance"
	"github.com/tradeledger/backend/internal/domain/finance"
	"github.com/tradeledger/backend/internal/infrastructure/config"
	"github.com/tradeledger/backend/internal/infrastructure/lock"
	"github.com/tradeledger/backend/internal/infrastructure/migration"
)

const (
	pgDatabase = "ledger_test"
	pgUser     = "ledger"
	pgPassword = "ledger"
)

// setupPostgres starts a throwaway postgres, applies the embedded migrations
// and returns a Database opened through the production code path.
func setupPostgres(t *testing.T) *Database {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase(pgDatabase),
		tcpostgres.WithUsername(pgUser),
		tcpostgres.WithPassword(pgPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// The migrator owns and closes its connection
	sqlDB, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	m, err := migration.New(sqlDB, "postgres", nil)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Close())

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	db, err := NewDatabase(&config.DatabaseConfig{
		Driver:       "postgres",
		Host:         host,
		Port:         port.Int(),
		User:         pgUser,
		Password:     pgPassword,
		DBName:       pgDatabase,
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newPostgresService(db *Database) *appfinance.LedgerService {
	return appfinance.NewLedgerService(
		NewGormTradeRecordRepository(db.DB),
		NewGormCashEventRepository(db.DB),
		NewGormTransactionScope(db.DB),
		lock.NewMemoryLocker(),
		appfinance.WithAmountCalculator(zeroGST),
	)
}

func TestPostgres_RepositoriesAgainstMigratedSchema(t *testing.T) {
	db := setupPostgres(t)
	require.Equal(t, "postgres", db.Driver())
	ctx := context.Background()

	trades := NewGormTradeRecordRepository(db.DB)
	record := newRecord(t, finance.TradeKindSale, "cp-pg", "100", "5", nil, 3)
	require.NoError(t, trades.Create(ctx, record))

	found, err := trades.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, found.Amounts.TotalPortalAmount.Equal(dec("500")))

	t.Run("stale version is rejected", func(t *testing.T) {
		stale := found.Clone()
		require.NoError(t, found.ChangeTerms(zeroGST, finance.TradeTerms{Quantity: dec("100"), Rate: dec("6")}, baseTime.Add(time.Hour)))
		require.NoError(t, trades.SaveWithLock(ctx, found))

		require.NoError(t, stale.ChangeTerms(zeroGST, finance.TradeTerms{Quantity: dec("90"), Rate: dec("5")}, baseTime.Add(2*time.Hour)))
		assert.ErrorIs(t, trades.SaveWithLock(ctx, stale), finance.ErrConcurrentModification)
	})

	t.Run("idempotency keys are unique", func(t *testing.T) {
		events := NewGormCashEventRepository(db.DB)
		// allocation lines reference real trade records
		first := newCashEvent("cp-pg", "utr-pg", baseTime, 1)
		first.Allocations[0].ObligationID = record.ID
		dup := newCashEvent("cp-pg", "utr-pg", baseTime, 1)
		dup.Allocations[0].ObligationID = record.ID

		require.NoError(t, events.Create(ctx, first))
		assert.Error(t, events.Create(ctx, dup))

		got, err := events.FindByIdempotencyKey(ctx, "utr-pg")
		require.NoError(t, err)
		assert.Len(t, got.Allocations, 1)
	})
}

func TestPostgres_ConcurrentCommitsSettleExactly(t *testing.T) {
	db := setupPostgres(t)
	service := newPostgresService(db)
	ctx := context.Background()

	tradeDate := baseTime
	sale, err := service.CreateTrade(ctx, appfinance.CreateTradeRequest{
		Kind:           "SALE",
		CounterpartyID: "FARMER-PG",
		TradeDate:      &tradeDate,
		Quantity:       dec("10"),
		Rate:           dec("100"),
		Discount:       appfinance.DiscountInput{Kind: "NONE"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, sale.Obligations)
	obligationID := sale.Obligations[0].ID

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = service.CommitCashEvent(ctx, appfinance.CommitCashEventRequest{
				CounterpartyID: "FARMER-PG",
				Thread:         "PORTAL",
				Direction:      "IN",
				Amount:         dec("100"),
				IdempotencyKey: fmt.Sprintf("neft-%d", i),
				Entries:        []appfinance.AllocationLine{{ObligationID: obligationID, AllocatedAmount: dec("100")}},
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err, "commit %d", i)
	}

	settled, err := service.GetTrade(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, settled.AmountPaid.Equal(decimal.NewFromInt(1000)), settled.AmountPaid.String())
	assert.Equal(t, string(finance.PaymentStatusPaid), settled.PaymentStatus)

	_, total, err := service.ListCashEvents(ctx, appfinance.CashEventListFilter{CounterpartyID: "FARMER-PG"})
	require.NoError(t, err)
	assert.Equal(t, int64(workers), total)

	// The obligation is settled, so one more unit must be refused
	_, err = service.CommitCashEvent(ctx, appfinance.CommitCashEventRequest{
		CounterpartyID: "FARMER-PG",
		Thread:         "PORTAL",
		Direction:      "IN",
		Amount:         dec("1"),
		Entries:        []appfinance.AllocationLine{{ObligationID: obligationID, AllocatedAmount: dec("1")}},
	})
	assert.Error(t, err)
}
