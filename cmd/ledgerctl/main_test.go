package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appfinance "github.com/tradeledger/backend/internal/application/finance"
	"github.com/tradeledger/backend/internal/client"
	"github.com/tradeledger/backend/internal/domain/finance"
	"github.com/tradeledger/backend/internal/infrastructure/config"
	"github.com/tradeledger/backend/internal/infrastructure/lock"
	"github.com/tradeledger/backend/internal/infrastructure/persistence"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
	"github.com/tradeledger/backend/internal/interfaces/http/handler"
	"github.com/tradeledger/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

func newLedgerServer(t *testing.T) (*commands, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := persistence.NewDatabase(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:", LogLevel: "silent"})
	require.NoError(t, err)
	require.NoError(t, db.DB.AutoMigrate(models.LedgerModels()...))
	t.Cleanup(func() { _ = db.Close() })

	service := appfinance.NewLedgerService(
		persistence.NewGormTradeRecordRepository(db.DB),
		persistence.NewGormCashEventRepository(db.DB),
		persistence.NewGormTransactionScope(db.DB),
		lock.NewMemoryLocker(),
		appfinance.WithAmountCalculator(finance.NewAmountCalculator(finance.WithGSTRate(decimal.Zero))),
	)
	server := httptest.NewServer(router.NewEngine(router.EngineConfig{
		HTTP:   config.HTTPConfig{WriteTimeout: 5 * time.Second},
		Ledger: handler.NewLedgerHandler(service),
	}))
	t.Cleanup(server.Close)

	out := &bytes.Buffer{}
	return &commands{client: client.New(server.URL), out: out, log: zap.NewNop()}, out
}

func seedSale(t *testing.T, c *commands, counterparty, date, quantity, rate string) appfinance.TradeRecordResponse {
	t.Helper()
	rec, err := c.client.CreateTrade(context.Background(), handler.CreateTradeBody{
		Kind:           "SALE",
		CounterpartyID: counterparty,
		TradeDate:      date,
		Quantity:       decimal.RequireFromString(quantity),
		Rate:           decimal.RequireFromString(rate),
		Discount:       handler.DiscountRequest{Kind: "NONE"},
	})
	require.NoError(t, err)
	return *rec
}

func TestCompute(t *testing.T) {
	c, out := newLedgerServer(t)

	err := c.run(context.Background(), "compute", []string{
		"-quantity", "100", "-rate", "50", "-discount", "discount_or_premium", "-actual-rate", "45",
	})
	require.NoError(t, err)

	var amounts finance.DerivedAmounts
	require.NoError(t, json.Unmarshal(out.Bytes(), &amounts))
	assert.True(t, amounts.TotalPortalAmount.Equal(decimal.NewFromInt(5000)))
	assert.True(t, amounts.DifferenceAmount.Equal(decimal.NewFromInt(-500)))
}

func TestCommitAllocatesByPlan(t *testing.T) {
	c, out := newLedgerServer(t)
	first := seedSale(t, c, "FARMER-1", "2026-01-05", "10", "100")
	second := seedSale(t, c, "FARMER-1", "2026-01-09", "5", "100")

	args := []string{"-counterparty", "FARMER-1", "-amount", "1200", "-key", "utr-1"}
	require.NoError(t, c.run(context.Background(), "commit", args))

	var event appfinance.CashEventResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &event))
	require.Len(t, event.Allocations, 2)
	assert.Equal(t, first.ID, event.Allocations[0].ObligationID)
	assert.True(t, event.Allocations[0].AllocatedAmount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, second.ID, event.Allocations[1].ObligationID)
	assert.False(t, event.Replayed)

	// Only 300 is still pending, so planning the same amount again fails before anything is posted
	out.Reset()
	err := c.run(context.Background(), "commit", args)
	require.Error(t, err)
	assert.True(t, client.IsCode(err, "OVERALLOCATION"), err.Error())
}

func TestCommitBatch(t *testing.T) {
	c, out := newLedgerServer(t)
	sale := seedSale(t, c, "FARMER-2", "2026-02-01", "10", "100")

	lines := []string{
		"# cheques deposited on 2026-02-10",
		`{"counterparty_id":"FARMER-2","direction":"IN","thread":"PORTAL","amount":"400","idempotency_key":"chq-1","entries":[{"obligation_id":"` + sale.ID.String() + `","allocated_amount":"400"}]}`,
		`not json`,
		`{"counterparty_id":"FARMER-2","direction":"IN","thread":"PORTAL","amount":"400","idempotency_key":"chq-1","entries":[{"obligation_id":"` + sale.ID.String() + `","allocated_amount":"400"}]}`,
	}
	path := filepath.Join(t.TempDir(), "payments.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600))

	err := c.run(context.Background(), "commit", []string{"-file", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 cash events failed")

	dec := json.NewDecoder(out)
	var results []batchResult
	for dec.More() {
		var r batchResult
		require.NoError(t, dec.Decode(&r))
		results = append(results, r)
	}
	require.Len(t, results, 3)
	assert.Equal(t, 2, results[0].Line)
	assert.NotEmpty(t, results[0].EventID)
	assert.Contains(t, results[1].Error, "malformed JSON")
	assert.Equal(t, results[0].EventID, results[2].EventID)
	assert.True(t, results[2].Replay)

	rec, err := c.client.GetTrade(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.True(t, rec.AmountPaid.Equal(decimal.NewFromInt(400)), "replayed line must not double-post")
}

func TestPlanPrintsPartialPlanOnOverallocation(t *testing.T) {
	c, out := newLedgerServer(t)
	seedSale(t, c, "FARMER-3", "2026-03-01", "10", "100")

	err := c.run(context.Background(), "plan", []string{"-counterparty", "FARMER-3", "-amount", "1500"})
	require.Error(t, err)
	assert.True(t, client.IsCode(err, "OVERALLOCATION"))

	var plan finance.AllocationPlan
	require.NoError(t, json.Unmarshal(out.Bytes(), &plan))
	assert.True(t, plan.Remaining.Equal(decimal.NewFromInt(500)))
}

func TestHistoryAndArgumentErrors(t *testing.T) {
	c, out := newLedgerServer(t)

	require.NoError(t, c.run(context.Background(), "history", []string{"-counterparty", "NOBODY"}))
	assert.Contains(t, out.String(), `"total": 0`)

	tests := []struct {
		name string
		cmd  string
		args []string
		want string
	}{
		{"missing quantity", "compute", []string{"-rate", "1"}, "-quantity is required"},
		{"bad amount", "plan", []string{"-counterparty", "X", "-amount", "ten"}, "invalid -amount"},
		{"missing counterparty", "obligations", nil, "-counterparty is required"},
		{"bad date", "history", []string{"-from", "01/02/2026"}, "invalid date"},
		{"unknown command", "settle", nil, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.run(context.Background(), tt.cmd, tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
