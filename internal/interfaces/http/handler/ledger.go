package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appfinance "github.com/tradeledger/backend/internal/application/finance"
	"github.com/tradeledger/backend/internal/domain/finance"
	"github.com/tradeledger/backend/internal/domain/shared"
)

// IdempotencyKeyHeader carries the client's replay key for cash event commits
const IdempotencyKeyHeader = "Idempotency-Key"

// LedgerService is the application surface the ledger handler drives
type LedgerService interface {
	ComputeTradeAmounts(ctx context.Context, req appfinance.ComputeAmountsRequest) (*finance.DerivedAmounts, error)
	CreateTrade(ctx context.Context, req appfinance.CreateTradeRequest) (*appfinance.TradeRecordResponse, error)
	GetTrade(ctx context.Context, id uuid.UUID) (*appfinance.TradeRecordResponse, error)
	ListTrades(ctx context.Context, filter appfinance.TradeListFilter) ([]appfinance.TradeRecordResponse, int64, error)
	ChangeTerms(ctx context.Context, id uuid.UUID, req appfinance.ChangeTermsRequest) (*appfinance.TradeRecordResponse, error)
	ListObligations(ctx context.Context, query appfinance.ObligationQuery) ([]finance.Obligation, error)
	PlanAllocation(ctx context.Context, req appfinance.PlanAllocationRequest) (*finance.AllocationPlan, error)
	ValidateAllocation(ctx context.Context, req appfinance.ValidateAllocationRequest) ([]finance.AllocationEntry, error)
	CommitCashEvent(ctx context.Context, req appfinance.CommitCashEventRequest) (*appfinance.CashEventResponse, error)
	GetCashEvent(ctx context.Context, id uuid.UUID) (*appfinance.CashEventResponse, error)
	ListCashEvents(ctx context.Context, filter appfinance.CashEventListFilter) ([]appfinance.CashEventResponse, int64, error)
}

var _ LedgerService = (*appfinance.LedgerService)(nil)

// LedgerHandler handles trade record, allocation and cash event endpoints
type LedgerHandler struct {
	BaseHandler
	ledger LedgerService
}

// NewLedgerHandler creates a new LedgerHandler
func NewLedgerHandler(ledger LedgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// ValidationPreview is the data of a successful validate call
type ValidationPreview struct {
	Entries []finance.AllocationEntry `json:"entries"`
}

// ===================== Amounts and trade records =====================

// ComputeAmounts derives amounts for commercial terms without storing anything
func (h *LedgerHandler) ComputeAmounts(c *gin.Context) {
	var req ComputeAmountsBody
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindingError(c, err)
		return
	}

	amounts, err := h.ledger.ComputeTradeAmounts(c.Request.Context(), appfinance.ComputeAmountsRequest{
		Quantity: req.Quantity,
		Rate:     req.Rate,
		Discount: req.Discount.toInput(),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, amounts)
}

// CreateTrade enters a sale, purchase or pending bill
func (h *LedgerHandler) CreateTrade(c *gin.Context) {
	var req CreateTradeBody
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindingError(c, err)
		return
	}
	tradeDate, err := parseDateParam(req.TradeDate, false)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	tagCounterparty(c, req.CounterpartyID)

	record, err := h.ledger.CreateTrade(c.Request.Context(), appfinance.CreateTradeRequest{
		Kind:           req.Kind,
		CounterpartyID: req.CounterpartyID,
		Reference:      req.Reference,
		TradeDate:      tradeDate,
		Quantity:       req.Quantity,
		Rate:           req.Rate,
		Discount:       req.Discount.toInput(),
		Notes:          req.Notes,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, record)
}

// GetTrade returns one trade record with its obligations
func (h *LedgerHandler) GetTrade(c *gin.Context) {
	id, err := pathUUID(c, "id")
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	record, err := h.ledger.GetTrade(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	tagCounterparty(c, record.CounterpartyID)
	h.Success(c, record)
}

// ListTrades lists trade records, newest trade date first
func (h *LedgerHandler) ListTrades(c *gin.Context) {
	var query ListTradesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BindingError(c, err)
		return
	}
	from, err := parseDateParam(query.FromDate, false)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	to, err := parseDateParam(query.ToDate, true)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	tagCounterparty(c, query.CounterpartyID)

	page := shared.Pagination{Page: query.Page, PageSize: query.PageSize}.Normalize()
	records, total, err := h.ledger.ListTrades(c.Request.Context(), appfinance.TradeListFilter{
		CounterpartyID: query.CounterpartyID,
		Kind:           query.Kind,
		OpenOnly:       query.OpenOnly,
		FromDate:       from,
		ToDate:         to,
		Page:           page.Page,
		PageSize:       page.PageSize,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, records, total, page.Page, page.PageSize)
}

// ChangeTerms replaces the commercial terms of a trade record
func (h *LedgerHandler) ChangeTerms(c *gin.Context) {
	id, err := pathUUID(c, "id")
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	var req ChangeTermsBody
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindingError(c, err)
		return
	}

	record, err := h.ledger.ChangeTerms(c.Request.Context(), id, appfinance.ChangeTermsRequest{
		Quantity: req.Quantity,
		Rate:     req.Rate,
		Discount: req.Discount.toInput(),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	tagCounterparty(c, record.CounterpartyID)
	h.Success(c, record)
}

// ===================== Obligations and allocation =====================

// ListObligations returns the live obligation view of a counterparty in
// allocation order
func (h *LedgerHandler) ListObligations(c *gin.Context) {
	var query ObligationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BindingError(c, err)
		return
	}
	tagCounterparty(c, query.CounterpartyID)

	obligations, err := h.ledger.ListObligations(c.Request.Context(), appfinance.ObligationQuery{
		CounterpartyID: query.CounterpartyID,
		Thread:         query.Thread,
		Direction:      query.Direction,
		OpenOnly:       query.OpenOnly,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, obligations)
}

// PlanAllocation proposes a split of a cash amount. When the amount exceeds
// everything pending the 422 response still carries the plan in data, so the
// caller can see how much could be placed.
func (h *LedgerHandler) PlanAllocation(c *gin.Context) {
	var req PlanAllocationBody
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindingError(c, err)
		return
	}
	tagCounterparty(c, req.CounterpartyID)

	plan, err := h.ledger.PlanAllocation(c.Request.Context(), appfinance.PlanAllocationRequest{
		CounterpartyID: req.CounterpartyID,
		TargetAmount:   req.Amount,
		Direction:      req.Direction,
		Thread:         req.Thread,
	})
	if err != nil {
		if errors.Is(err, finance.ErrOverallocation) && plan != nil {
			h.handleErrorWithData(c, err, plan)
			return
		}
		h.HandleError(c, err)
		return
	}
	h.Success(c, plan)
}

// ValidateAllocation checks a caller-edited split without committing it
func (h *LedgerHandler) ValidateAllocation(c *gin.Context) {
	var req ValidateAllocationBody
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindingError(c, err)
		return
	}
	tagCounterparty(c, req.CounterpartyID)

	entries, err := h.ledger.ValidateAllocation(c.Request.Context(), appfinance.ValidateAllocationRequest{
		CounterpartyID: req.CounterpartyID,
		Thread:         req.Thread,
		Direction:      req.Direction,
		TargetAmount:   req.Amount,
		Entries:        toAllocationLines(req.Entries),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, ValidationPreview{Entries: entries})
}

// ===================== Cash events =====================

// CommitCashEvent records a cash movement and applies its allocations. A
// replayed idempotency key answers 200 with the original event instead of 201.
func (h *LedgerHandler) CommitCashEvent(c *gin.Context) {
	var req CommitCashEventBody
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindingError(c, err)
		return
	}
	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if key == "" {
		key = req.IdempotencyKey
	}
	tagCounterparty(c, req.CounterpartyID)

	event, err := h.ledger.CommitCashEvent(c.Request.Context(), appfinance.CommitCashEventRequest{
		CounterpartyID: req.CounterpartyID,
		Thread:         req.Thread,
		Direction:      req.Direction,
		Amount:         req.Amount,
		Notes:          req.Notes,
		IdempotencyKey: key,
		Entries:        toAllocationLines(req.Entries),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if event.Replayed {
		h.Success(c, event)
		return
	}
	h.Created(c, event)
}

// GetCashEvent returns one cash event with its allocations
func (h *LedgerHandler) GetCashEvent(c *gin.Context) {
	id, err := pathUUID(c, "id")
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	event, err := h.ledger.GetCashEvent(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	tagCounterparty(c, event.CounterpartyID)
	h.Success(c, event)
}

// ListCashEvents lists cash event history, newest first
func (h *LedgerHandler) ListCashEvents(c *gin.Context) {
	var query ListCashEventsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BindingError(c, err)
		return
	}
	from, err := parseDateParam(query.From, false)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	to, err := parseDateParam(query.To, true)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	tagCounterparty(c, query.CounterpartyID)

	page := shared.Pagination{Page: query.Page, PageSize: query.PageSize}.Normalize()
	events, total, err := h.ledger.ListCashEvents(c.Request.Context(), appfinance.CashEventListFilter{
		CounterpartyID: query.CounterpartyID,
		Direction:      query.Direction,
		From:           from,
		To:             to,
		Page:           page.Page,
		PageSize:       page.PageSize,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, events, total, page.Page, page.PageSize)
}
