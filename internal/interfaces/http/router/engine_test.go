package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appfinance "github.com/tradeledger/backend/internal/application/finance"
	"github.com/tradeledger/backend/internal/domain/finance"
	"github.com/tradeledger/backend/internal/infrastructure/config"
	"github.com/tradeledger/backend/internal/infrastructure/lock"
	"github.com/tradeledger/backend/internal/infrastructure/persistence"
	"github.com/tradeledger/backend/internal/infrastructure/persistence/models"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
	"github.com/tradeledger/backend/internal/interfaces/http/handler"
	"github.com/tradeledger/backend/internal/interfaces/http/middleware"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestEngine(t *testing.T, mutate func(*EngineConfig)) http.Handler {
	t.Helper()

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

	cfg := EngineConfig{
		HTTP: config.HTTPConfig{
			WriteTimeout: 5 * time.Second,
			MaxBodySize:  64 << 10,
		},
		ServiceName: "ledger-test",
		Health:      handler.NewHealthHandler(db, "test"),
		Ledger:      handler.NewLedgerHandler(service),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewEngine(cfg)
}

func postJSON(t *testing.T, h http.Handler, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) handler.APIResponse[T] {
	t.Helper()
	var resp handler.APIResponse[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestEngine_Health(t *testing.T) {
	engine := newTestEngine(t, nil)

	w := serve(engine, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[handler.HealthStatus](t, w)
	assert.Equal(t, "ok", resp.Data.Status)
	assert.Equal(t, "sqlite", resp.Data.Driver)

	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestEngine_RequestIDPropagates(t *testing.T) {
	engine := newTestEngine(t, nil)

	w := postJSON(t, engine, "/api/v1/ledger/allocations/plan", map[string]any{
		"counterparty_id": "NOBODY",
		"amount":          "10",
		"direction":       "IN",
		"thread":          "PORTAL",
	}, middleware.RequestIDHeader, "trace-me")

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "trace-me", w.Header().Get(middleware.RequestIDHeader))
	resp := decode[any](t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeNoOpenObligations, resp.Error.Code)
	assert.Equal(t, "trace-me", resp.Error.RequestID)
}

func TestEngine_SettleThroughAPI(t *testing.T) {
	engine := newTestEngine(t, nil)

	w := postJSON(t, engine, "/api/v1/ledger/trades", map[string]any{
		"kind":            "SALE",
		"counterparty_id": "FARMER-9",
		"trade_date":      "2026-03-01",
		"quantity":        "10",
		"rate":            "100",
		"discount":        map[string]any{"kind": "NONE"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	trade := decode[appfinance.TradeRecordResponse](t, w).Data

	w = postJSON(t, engine, "/api/v1/ledger/cash-events", map[string]any{
		"counterparty_id": "FARMER-9",
		"direction":       "IN",
		"thread":          "PORTAL",
		"amount":          "1000",
		"entries": []map[string]any{
			{"obligation_id": trade.ID.String(), "allocated_amount": "1000"},
		},
	}, handler.IdempotencyKeyHeader, "neft-77")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = serve(engine, http.MethodGet, "/api/v1/ledger/trades/"+trade.ID.String())
	require.Equal(t, http.StatusOK, w.Code)
	settled := decode[appfinance.TradeRecordResponse](t, w).Data
	assert.Equal(t, string(finance.PaymentStatusPaid), settled.PaymentStatus)
	assert.True(t, settled.AmountPaid.Equal(decimal.NewFromInt(1000)))
}

func TestEngine_BodyLimit(t *testing.T) {
	engine := newTestEngine(t, func(cfg *EngineConfig) { cfg.HTTP.MaxBodySize = 64 })

	w := postJSON(t, engine, "/api/v1/ledger/amounts/compute", map[string]any{
		"quantity": "1",
		"rate":     "1",
		"notes":    strings.Repeat("x", 200),
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestEngine_RateLimit(t *testing.T) {
	limiter := middleware.NewRateLimiter(0.001, 1, time.Minute)
	engine := newTestEngine(t, func(cfg *EngineConfig) {
		cfg.HTTP.RateLimitEnabled = true
		cfg.RateLimiter = limiter
	})

	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/api/v1/ledger/trades").Code)
	w := serve(engine, http.MethodGet, "/api/v1/ledger/trades")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/health").Code, "health is outside the limited group")
}

func TestEngine_HTTPMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	engine := newTestEngine(t, func(cfg *EngineConfig) { cfg.Meter = mp.Meter("test") })
	serve(engine, http.MethodGet, "/api/v1/ledger/trades")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "http_server_request_total" {
				found = true
			}
		}
	}
	assert.True(t, found)
}
