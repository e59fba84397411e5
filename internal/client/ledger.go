package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	appfinance "github.com/tradeledger/backend/internal/application/finance"
	"github.com/tradeledger/backend/internal/domain/finance"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
	"github.com/tradeledger/backend/internal/interfaces/http/handler"
)

// Page is one page of a list endpoint
type Page[T any] struct {
	Items []T
	Meta  dto.Meta
}

func pageOf[T any](res *result[[]T]) *Page[T] {
	p := &Page[T]{Items: res.data}
	if res.meta != nil {
		p.Meta = *res.meta
	}
	return p
}

// ComputeAmounts derives amounts for commercial terms
func (c *Client) ComputeAmounts(ctx context.Context, body handler.ComputeAmountsBody) (*finance.DerivedAmounts, error) {
	res, err := do[finance.DerivedAmounts](ctx, c, call{
		method: http.MethodPost, path: apiPrefix + "/amounts/compute", body: body, policy: retryIdempotent,
	})
	if err != nil {
		return nil, err
	}
	return &res.data, nil
}

// CreateTrade enters a trade record. Transport failures are not retried, so
// a lost answer never turns into a second record.
func (c *Client) CreateTrade(ctx context.Context, body handler.CreateTradeBody) (*appfinance.TradeRecordResponse, error) {
	res, err := do[appfinance.TradeRecordResponse](ctx, c, call{
		method: http.MethodPost, path: apiPrefix + "/trades", body: body, policy: retryRejected,
	})
	if err != nil {
		return nil, err
	}
	return &res.data, nil
}

// GetTrade fetches one trade record
func (c *Client) GetTrade(ctx context.Context, id uuid.UUID) (*appfinance.TradeRecordResponse, error) {
	res, err := do[appfinance.TradeRecordResponse](ctx, c, call{
		method: http.MethodGet, path: apiPrefix + "/trades/" + id.String(), policy: retryIdempotent,
	})
	if err != nil {
		return nil, err
	}
	return &res.data, nil
}

// TradeFilter narrows ListTrades
type TradeFilter struct {
	CounterpartyID string
	Kind           string
	OpenOnly       bool
	From, To       *time.Time
	Page, PageSize int
}

// ListTrades lists trade records, newest trade date first
func (c *Client) ListTrades(ctx context.Context, f TradeFilter) (*Page[appfinance.TradeRecordResponse], error) {
	q := map[string]string{}
	setIf(q, "counterparty_id", f.CounterpartyID)
	setIf(q, "kind", f.Kind)
	if f.OpenOnly {
		q["open_only"] = "true"
	}
	setDate(q, "from_date", f.From)
	setDate(q, "to_date", f.To)
	setPage(q, f.Page, f.PageSize)

	res, err := do[[]appfinance.TradeRecordResponse](ctx, c, call{
		method: http.MethodGet, path: apiPrefix + "/trades", query: q, policy: retryIdempotent,
	})
	if err != nil {
		return nil, err
	}
	return pageOf(res), nil
}

// ChangeTerms replaces a trade record's commercial terms
func (c *Client) ChangeTerms(ctx context.Context, id uuid.UUID, body handler.ChangeTermsBody) (*appfinance.TradeRecordResponse, error) {
	res, err := do[appfinance.TradeRecordResponse](ctx, c, call{
		method: http.MethodPut, path: apiPrefix + "/trades/" + id.String() + "/terms", body: body, policy: retryIdempotent,
	})
	if err != nil {
		return nil, err
	}
	return &res.data, nil
}

// ObligationFilter narrows ListObligations; CounterpartyID is required
type ObligationFilter struct {
	CounterpartyID string
	Thread         string
	Direction      string
	OpenOnly       bool
}

// ListObligations returns a counterparty's obligations in allocation order
func (c *Client) ListObligations(ctx context.Context, f ObligationFilter) ([]finance.Obligation, error) {
	q := map[string]string{"counterparty_id": f.CounterpartyID}
	setIf(q, "thread", f.Thread)
	setIf(q, "direction", f.Direction)
	if f.OpenOnly {
		q["open_only"] = "true"
	}
	res, err := do[[]finance.Obligation](ctx, c, call{
		method: http.MethodGet, path: apiPrefix + "/obligations", query: q, policy: retryIdempotent,
	})
	if err != nil {
		return nil, err
	}
	return res.data, nil
}

// PlanAllocation asks for a suggested allocation. On OVERALLOCATION the
// partial plan is returned together with the error.
func (c *Client) PlanAllocation(ctx context.Context, body handler.PlanAllocationBody) (*finance.AllocationPlan, error) {
	res, err := do[finance.AllocationPlan](ctx, c, call{
		method: http.MethodPost, path: apiPrefix + "/allocations/plan", body: body, policy: retryIdempotent,
	})
	if res == nil {
		return nil, err
	}
	if err != nil && !IsCode(err, dto.ErrCodeOverallocation) {
		return nil, err
	}
	return &res.data, err
}

// ValidateAllocation checks manual lines and returns the status preview
func (c *Client) ValidateAllocation(ctx context.Context, body handler.ValidateAllocationBody) ([]finance.AllocationEntry, error) {
	res, err := do[handler.ValidationPreview](ctx, c, call{
		method: http.MethodPost, path: apiPrefix + "/allocations/validate", body: body, policy: retryIdempotent,
	})
	if err != nil {
		return nil, err
	}
	return res.data.Entries, nil
}

// CommitCashEvent commits a cash event. A missing idempotency key is
// generated, which makes the commit safe to retry after a lost answer.
func (c *Client) CommitCashEvent(ctx context.Context, body handler.CommitCashEventBody) (*appfinance.CashEventResponse, error) {
	if body.IdempotencyKey == "" {
		body.IdempotencyKey = uuid.NewString()
	}
	res, err := do[appfinance.CashEventResponse](ctx, c, call{
		method:  http.MethodPost,
		path:    apiPrefix + "/cash-events",
		body:    body,
		headers: map[string]string{handler.IdempotencyKeyHeader: body.IdempotencyKey},
		policy:  retryIdempotent,
	})
	if err != nil {
		return nil, err
	}
	return &res.data, nil
}

// GetCashEvent fetches one cash event
func (c *Client) GetCashEvent(ctx context.Context, id uuid.UUID) (*appfinance.CashEventResponse, error) {
	res, err := do[appfinance.CashEventResponse](ctx, c, call{
		method: http.MethodGet, path: apiPrefix + "/cash-events/" + id.String(), policy: retryIdempotent,
	})
	if err != nil {
		return nil, err
	}
	return &res.data, nil
}

// CashEventFilter narrows ListCashEvents
type CashEventFilter struct {
	CounterpartyID string
	Direction      string
	From, To       *time.Time
	Page, PageSize int
}

// ListCashEvents lists cash event history, newest first
func (c *Client) ListCashEvents(ctx context.Context, f CashEventFilter) (*Page[appfinance.CashEventResponse], error) {
	q := map[string]string{}
	setIf(q, "counterparty_id", f.CounterpartyID)
	setIf(q, "direction", f.Direction)
	if f.From != nil {
		q["from"] = f.From.Format(time.RFC3339)
	}
	if f.To != nil {
		q["to"] = f.To.Format(time.RFC3339)
	}
	setPage(q, f.Page, f.PageSize)

	res, err := do[[]appfinance.CashEventResponse](ctx, c, call{
		method: http.MethodGet, path: apiPrefix + "/cash-events", query: q, policy: retryIdempotent,
	})
	if err != nil {
		return nil, err
	}
	return pageOf(res), nil
}

// Health returns the server's health status
func (c *Client) Health(ctx context.Context) (*handler.HealthStatus, error) {
	res, err := do[handler.HealthStatus](ctx, c, call{method: http.MethodGet, path: "/health", policy: retryIdempotent})
	if err != nil {
		return nil, err
	}
	return &res.data, nil
}

// PlanData decodes the data of an APIError, e.g. the plan of an overallocation
func PlanData(err *APIError) (*finance.AllocationPlan, bool) {
	if err == nil || len(err.Data) == 0 {
		return nil, false
	}
	var plan finance.AllocationPlan
	if json.Unmarshal(err.Data, &plan) != nil {
		return nil, false
	}
	return &plan, true
}

func setIf(q map[string]string, key, value string) {
	if value != "" {
		q[key] = value
	}
}

func setDate(q map[string]string, key string, t *time.Time) {
	if t != nil {
		q[key] = t.Format("2006-01-02")
	}
}

func setPage(q map[string]string, page, pageSize int) {
	if page > 0 {
		q["page"] = strconv.Itoa(page)
	}
	if pageSize > 0 {
		q["page_size"] = strconv.Itoa(pageSize)
	}
}
