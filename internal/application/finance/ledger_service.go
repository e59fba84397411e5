package finance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/domain/finance"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/infrastructure/logger"
	"github.com/tradeledger/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

const serviceName = "ledger"

// LedgerService exposes the reconciliation engine to transports.
// Reads and plans run without locks. Commits and term changes run under the
// counterparty lock inside one transaction and re-read current state there.
type LedgerService struct {
	tradeRepo finance.TradeRecordRepository
	cashRepo  finance.CashEventRepository
	txScope   TransactionScope
	locker    CounterpartyLocker

	calc      *finance.AmountCalculator
	planner   *finance.AllocationPlanner
	validator *finance.AllocationValidator
	committer *finance.LedgerCommitter

	clock     shared.Clock
	publisher shared.EventPublisher
	metrics   *telemetry.LedgerMetrics
	logger    *zap.Logger
}

// LedgerServiceOption is a functional option for configuring LedgerService
type LedgerServiceOption func(*LedgerService)

// WithAmountCalculator sets the calculator used for new and changed terms
func WithAmountCalculator(calc *finance.AmountCalculator) LedgerServiceOption {
	return func(s *LedgerService) {
		if calc != nil {
			s.calc = calc
		}
	}
}

// WithOrderingStrategy sets the order in which plans consume obligations
func WithOrderingStrategy(ordering finance.OrderingStrategy) LedgerServiceOption {
	return func(s *LedgerService) {
		s.planner = finance.NewAllocationPlanner(ordering)
	}
}

// WithClock sets the clock used for audit timestamps
func WithClock(clock shared.Clock) LedgerServiceOption {
	return func(s *LedgerService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithEventPublisher sets the publisher for domain events raised by writes
func WithEventPublisher(publisher shared.EventPublisher) LedgerServiceOption {
	return func(s *LedgerService) {
		s.publisher = publisher
	}
}

// WithLedgerMetrics sets the metrics recorder
func WithLedgerMetrics(metrics *telemetry.LedgerMetrics) LedgerServiceOption {
	return func(s *LedgerService) {
		s.metrics = metrics
	}
}

// WithLogger sets the service logger
func WithLogger(l *zap.Logger) LedgerServiceOption {
	return func(s *LedgerService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(
	tradeRepo finance.TradeRecordRepository,
	cashRepo finance.CashEventRepository,
	txScope TransactionScope,
	locker CounterpartyLocker,
	opts ...LedgerServiceOption,
) *LedgerService {
	validator := finance.NewAllocationValidator()
	s := &LedgerService{
		tradeRepo: tradeRepo,
		cashRepo:  cashRepo,
		txScope:   txScope,
		locker:    locker,
		calc:      finance.NewAmountCalculator(),
		planner:   finance.NewAllocationPlanner(nil),
		validator: validator,
		committer: finance.NewLedgerCommitter(validator),
		clock:     shared.SystemClock{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.txScope == nil {
		s.txScope = NewNoOpTransactionScope(tradeRepo, cashRepo)
	}
	return s
}

// Planner returns the allocation planner for inspection
func (s *LedgerService) Planner() *finance.AllocationPlanner {
	return s.planner
}

// ===================== Amounts and trade records =====================

// ComputeTradeAmounts derives portal, revenue and difference amounts without persisting anything
func (s *LedgerService) ComputeTradeAmounts(ctx context.Context, req ComputeAmountsRequest) (*finance.DerivedAmounts, error) {
	_, span := telemetry.StartServiceSpan(ctx, serviceName, "compute_trade_amounts")
	defer span.End()

	mode, err := req.Discount.mode()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	amounts, err := s.calc.Compute(req.Quantity, req.Rate, mode)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return &amounts, nil
}

// CreateTrade enters a new trade record
func (s *LedgerService) CreateTrade(ctx context.Context, req CreateTradeRequest) (*TradeRecordResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "create_trade",
		telemetry.WithAttribute(telemetry.SpanAttrTradeKind, req.Kind),
	)
	defer span.End()

	mode, err := req.Discount.mode()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	now := s.clock.Now()
	params := finance.NewTradeRecordParams{
		Kind:           finance.TradeKind(strings.ToUpper(strings.TrimSpace(req.Kind))),
		CounterpartyID: req.CounterpartyID,
		Reference:      req.Reference,
		Terms:          finance.TradeTerms{Quantity: req.Quantity, Rate: req.Rate, Discount: mode},
		Notes:          req.Notes,
	}
	if req.TradeDate != nil {
		params.TradeDate = *req.TradeDate
	}

	record, err := finance.NewTradeRecord(s.calc, params, now)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := s.tradeRepo.Create(ctx, record); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to create trade record: %w", err)
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrTradeRecordID, record.ID.String())
	s.metrics.RecordTradeRecordCreated(ctx, string(record.Kind))
	s.publish(ctx, record.GetDomainEvents()...)
	record.ClearDomainEvents()

	resp := ToTradeRecordResponse(record)
	return &resp, nil
}

// GetTrade gets a trade record by ID
func (s *LedgerService) GetTrade(ctx context.Context, id uuid.UUID) (*TradeRecordResponse, error) {
	record, err := s.tradeRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToTradeRecordResponse(record)
	return &resp, nil
}

// ListTrades lists trade records matching filter and the total match count
func (s *LedgerService) ListTrades(ctx context.Context, filter TradeListFilter) ([]TradeRecordResponse, int64, error) {
	domainFilter := finance.TradeRecordFilter{
		Pagination:     toPagination(filter.Page, filter.PageSize),
		CounterpartyID: strings.TrimSpace(filter.CounterpartyID),
		OpenOnly:       filter.OpenOnly,
		FromDate:       filter.FromDate,
		ToDate:         filter.ToDate,
	}
	if filter.Kind != "" {
		kind := finance.TradeKind(strings.ToUpper(filter.Kind))
		if !kind.IsValid() {
			return nil, 0, shared.NewDomainError(finance.CodeInvalidInput, "Invalid trade kind").WithDetails(map[string]any{"field": "kind", "value": filter.Kind})
		}
		domainFilter.Kind = &kind
	}

	records, total, err := s.tradeRepo.FindAll(ctx, domainFilter)
	if err != nil {
		return nil, 0, err
	}
	items := make([]TradeRecordResponse, len(records))
	for i, r := range records {
		items[i] = ToTradeRecordResponse(r)
	}
	return items, total, nil
}

// ChangeTerms replaces a record's commercial terms and re-derives its amounts and statuses
func (s *LedgerService) ChangeTerms(ctx context.Context, id uuid.UUID, req ChangeTermsRequest) (*TradeRecordResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "change_terms",
		telemetry.WithAttribute(telemetry.SpanAttrTradeRecordID, id.String()),
	)
	defer span.End()

	mode, err := req.Discount.mode()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	current, err := s.tradeRepo.FindByID(ctx, id)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var changed *finance.TradeRecord
	err = s.locker.WithLock(ctx, current.CounterpartyID, func(lockCtx context.Context) error {
		return s.txScope.Execute(lockCtx, func(repos TransactionalRepositories) error {
			record, err := repos.TradeRecordRepo().FindByID(lockCtx, id)
			if err != nil {
				return err
			}
			terms := finance.TradeTerms{Quantity: req.Quantity, Rate: req.Rate, Discount: mode}
			if err := record.ChangeTerms(s.calc, terms, s.clock.Now()); err != nil {
				return err
			}
			if err := repos.TradeRecordRepo().SaveWithLock(lockCtx, record); err != nil {
				return err
			}
			changed = record
			return nil
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.publish(ctx, changed.GetDomainEvents()...)
	changed.ClearDomainEvents()

	resp := ToTradeRecordResponse(changed)
	return &resp, nil
}

// ===================== Obligations and allocation =====================

// ListObligations returns the live obligation view of a counterparty
func (s *LedgerService) ListObligations(ctx context.Context, query ObligationQuery) ([]finance.Obligation, error) {
	counterpartyID := strings.TrimSpace(query.CounterpartyID)
	if counterpartyID == "" {
		return nil, shared.NewDomainError(finance.CodeInvalidInput, "Counterparty ID cannot be empty").WithDetails(map[string]any{"field": "counterparty_id"})
	}
	thread := finance.Thread(strings.ToUpper(query.Thread))
	if thread != "" && !thread.IsValid() {
		return nil, shared.NewDomainError(finance.CodeInvalidInput, "Invalid thread").WithDetails(map[string]any{"field": "thread", "value": query.Thread})
	}
	direction := finance.Direction(strings.ToUpper(query.Direction))
	if direction != "" && !direction.IsValid() {
		return nil, shared.NewDomainError(finance.CodeInvalidInput, "Invalid direction").WithDetails(map[string]any{"field": "direction", "value": query.Direction})
	}

	records, err := s.tradeRepo.FindByCounterparty(ctx, counterpartyID)
	if err != nil {
		return nil, err
	}

	obligations := make([]finance.Obligation, 0, len(records)*2)
	for _, r := range records {
		for _, o := range r.Obligations() {
			if thread != "" && o.Thread != thread {
				continue
			}
			if direction != "" && o.Direction != direction {
				continue
			}
			if query.OpenOnly && !o.IsOpen() {
				continue
			}
			obligations = append(obligations, o)
		}
	}
	return s.planner.Ordering().Sort(obligations), nil
}

// PlanAllocation proposes a split of a cash amount across open obligations.
// On OVERALLOCATION the plan is returned alongside the error.
func (s *LedgerService) PlanAllocation(ctx context.Context, req PlanAllocationRequest) (*finance.AllocationPlan, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "plan_allocation",
		telemetry.WithAttribute(telemetry.SpanAttrThread, req.Thread),
		telemetry.WithAttribute(telemetry.SpanAttrDirection, req.Direction),
	)
	defer span.End()

	order := string(s.planner.Ordering().Order())
	planReq := finance.PlanRequest{
		CounterpartyID: strings.TrimSpace(req.CounterpartyID),
		TargetAmount:   req.TargetAmount,
		Direction:      finance.Direction(strings.ToUpper(req.Direction)),
		Thread:         finance.Thread(strings.ToUpper(req.Thread)),
	}

	var (
		plan    *finance.AllocationPlan
		planErr error
	)
	telemetry.WithProfilingLabels(ctx, telemetry.LedgerOperationLabels("plan", string(planReq.Thread), string(planReq.Direction)), func(c context.Context) {
		records, err := s.tradeRepo.FindByCounterparty(c, planReq.CounterpartyID)
		if err != nil {
			planErr = err
			return
		}
		plan, planErr = s.planner.Plan(planReq, obligationsOf(records))
	})

	switch {
	case planErr == nil:
		s.metrics.RecordPlan(ctx, order, "full")
	case errors.Is(planErr, finance.ErrOverallocation):
		s.metrics.RecordPlan(ctx, order, "partial")
	case errors.Is(planErr, finance.ErrNoOpenObligations):
		s.metrics.RecordPlan(ctx, order, "none")
	default:
		s.metrics.RecordPlan(ctx, order, "invalid")
	}
	if planErr != nil {
		telemetry.RecordError(span, planErr)
	}
	if plan != nil {
		telemetry.SetAttributes(span, telemetry.SpanAttrEntryCount, len(plan.Entries))
	}
	return plan, planErr
}

// ValidateAllocation checks a caller-edited split against current balances
// and returns the entries previewed with their resulting statuses
func (s *LedgerService) ValidateAllocation(ctx context.Context, req ValidateAllocationRequest) ([]finance.AllocationEntry, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "validate_allocation",
		telemetry.WithAttribute(telemetry.SpanAttrEntryCount, len(req.Entries)),
	)
	defer span.End()

	counterpartyID := strings.TrimSpace(req.CounterpartyID)
	records, err := s.tradeRepo.FindByCounterparty(ctx, counterpartyID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	entries, err := s.validator.Validate(finance.ValidationRequest{
		CounterpartyID: counterpartyID,
		Thread:         finance.Thread(strings.ToUpper(req.Thread)),
		Direction:      finance.Direction(strings.ToUpper(req.Direction)),
		TargetAmount:   req.TargetAmount,
		Entries:        toAllocationEntries(req.Entries),
	}, obligationsOf(records))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return entries, nil
}

// CommitCashEvent records a cash movement and applies its allocations atomically.
//
// The counterparty's records are reloaded under the counterparty lock and inside
// the transaction, so an entry planned against a stale balance fails with
// CONCURRENT_MODIFICATION and nothing is written. A repeated idempotency key
// returns the originally committed event.
func (s *LedgerService) CommitCashEvent(ctx context.Context, req CommitCashEventRequest) (*CashEventResponse, error) {
	commitReq := finance.CommitRequest{
		CounterpartyID: strings.TrimSpace(req.CounterpartyID),
		Thread:         finance.Thread(strings.ToUpper(req.Thread)),
		Direction:      finance.Direction(strings.ToUpper(req.Direction)),
		Amount:         req.Amount,
		Notes:          req.Notes,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		Entries:        toAllocationEntries(req.Entries),
	}

	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "commit_cash_event",
		telemetry.WithAttribute(telemetry.SpanAttrThread, string(commitReq.Thread)),
		telemetry.WithAttribute(telemetry.SpanAttrDirection, string(commitReq.Direction)),
		telemetry.WithAttribute(telemetry.SpanAttrAmount, commitReq.Amount.StringFixed(2)),
		telemetry.WithAttribute(telemetry.SpanAttrEntryCount, len(commitReq.Entries)),
	)
	defer span.End()

	ctx, log := logger.WithCounterpartyID(ctx, logger.FromContextOr(ctx, s.logger), commitReq.CounterpartyID)
	if commitReq.CounterpartyID == "" {
		err := shared.NewDomainError(finance.CodeInvalidInput, "Counterparty ID cannot be empty").WithDetails(map[string]any{"field": "counterparty_id"})
		telemetry.RecordError(span, err)
		return nil, err
	}

	if replay, err := s.findReplay(ctx, s.cashRepo, commitReq); err != nil || replay != nil {
		if err != nil {
			telemetry.RecordError(span, err)
		}
		return replay, err
	}

	start := time.Now()
	var (
		event  *finance.CashEvent
		replay *CashEventResponse
		opErr  error
	)
	telemetry.WithProfilingLabels(ctx, telemetry.LedgerOperationLabels("commit", string(commitReq.Thread), string(commitReq.Direction)), func(c context.Context) {
		opErr = s.locker.WithLock(c, commitReq.CounterpartyID, func(lockCtx context.Context) error {
			return s.txScope.Execute(lockCtx, func(repos TransactionalRepositories) error {
				// Another instance may have committed the same key while we waited for the lock
				existing, err := s.findReplay(lockCtx, repos.CashEventRepo(), commitReq)
				if err != nil || existing != nil {
					replay = existing
					return err
				}

				records, err := repos.TradeRecordRepo().FindByCounterparty(lockCtx, commitReq.CounterpartyID)
				if err != nil {
					return err
				}
				telemetry.AddEvent(span, "obligations_reloaded", "records", len(records))

				result, err := s.committer.Commit(commitReq, records, s.clock.Now())
				if err != nil {
					return err
				}
				for _, record := range result.Updated {
					if err := repos.TradeRecordRepo().SaveWithLock(lockCtx, record); err != nil {
						return err
					}
				}
				if err := repos.CashEventRepo().Create(lockCtx, result.Event); err != nil {
					return fmt.Errorf("failed to create cash event: %w", err)
				}
				event = result.Event
				return nil
			})
		})
	})

	if opErr != nil {
		telemetry.RecordError(span, opErr)
		if errors.Is(opErr, finance.ErrConcurrentModification) {
			s.metrics.RecordConflict(ctx, string(commitReq.Thread))
			log.Warn("Cash event rejected by concurrent modification", zap.Error(opErr))
		}
		return nil, opErr
	}
	if replay != nil {
		return replay, nil
	}

	s.metrics.RecordCashEvent(ctx, string(event.Direction), string(event.Thread), event.AllocatedTotal(), time.Since(start))
	telemetry.SetAttributes(span, telemetry.SpanAttrCashEventID, event.ID.String())
	log.Info("Cash event committed",
		zap.String("cash_event_id", event.ID.String()),
		zap.String("direction", string(event.Direction)),
		zap.String("thread", string(event.Thread)),
		zap.String("amount", event.Amount.StringFixed(2)),
		zap.Int("allocations", len(event.Allocations)),
	)

	s.publish(ctx, event.GetDomainEvents()...)
	event.ClearDomainEvents()

	resp := ToCashEventResponse(event)
	return &resp, nil
}

// findReplay returns the event already committed under req's idempotency key.
// A key reused for a different movement, split or note is rejected.
func (s *LedgerService) findReplay(ctx context.Context, repo finance.CashEventRepository, req finance.CommitRequest) (*CashEventResponse, error) {
	if req.IdempotencyKey == "" {
		return nil, nil
	}
	existing, err := repo.FindByIdempotencyKey(ctx, req.IdempotencyKey)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !sameMovement(existing, req) {
		return nil, shared.NewDomainError(finance.CodeInvalidInput, "Idempotency key was already used for a different cash event").WithDetails(map[string]any{
			"field":         "idempotency_key",
			"cash_event_id": existing.ID.String(),
		})
	}

	s.metrics.RecordReplay(ctx)
	resp := ToCashEventResponse(existing)
	resp.Replayed = true
	return &resp, nil
}

// sameMovement reports whether req describes the committed event. Zero lines
// are never stored, so they are skipped before the split is compared in order.
func sameMovement(existing *finance.CashEvent, req finance.CommitRequest) bool {
	if existing.CounterpartyID != req.CounterpartyID ||
		existing.Direction != req.Direction ||
		existing.Thread != req.Thread ||
		!existing.Amount.Equal(req.Amount) ||
		existing.Notes != strings.TrimSpace(req.Notes) {
		return false
	}

	lines := make([]finance.AllocationEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		if !e.AllocatedAmount.IsZero() {
			lines = append(lines, e)
		}
	}
	if len(lines) != len(existing.Allocations) {
		return false
	}
	for i, e := range lines {
		stored := existing.Allocations[i]
		if stored.ObligationID != e.ObligationID || !stored.AllocatedAmount.Equal(e.AllocatedAmount) {
			return false
		}
	}
	return true
}

// ===================== Cash event history =====================

// GetCashEvent gets a cash event with its allocations
func (s *LedgerService) GetCashEvent(ctx context.Context, id uuid.UUID) (*CashEventResponse, error) {
	event, err := s.cashRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToCashEventResponse(event)
	return &resp, nil
}

// ListCashEvents lists cash events newest first and the total match count
func (s *LedgerService) ListCashEvents(ctx context.Context, filter CashEventListFilter) ([]CashEventResponse, int64, error) {
	domainFilter := finance.CashEventFilter{
		Pagination:     toPagination(filter.Page, filter.PageSize),
		CounterpartyID: strings.TrimSpace(filter.CounterpartyID),
		From:           filter.From,
		To:             filter.To,
	}
	if filter.Direction != "" {
		direction := finance.Direction(strings.ToUpper(filter.Direction))
		if !direction.IsValid() {
			return nil, 0, shared.NewDomainError(finance.CodeInvalidInput, "Invalid direction").WithDetails(map[string]any{"field": "direction", "value": filter.Direction})
		}
		domainFilter.Direction = &direction
	}

	events, total, err := s.cashRepo.FindAll(ctx, domainFilter)
	if err != nil {
		return nil, 0, err
	}
	items := make([]CashEventResponse, len(events))
	for i, e := range events {
		items[i] = ToCashEventResponse(e)
	}
	return items, total, nil
}

// publish hands events to the publisher after the transaction committed.
// Handler failures are logged and do not undo the write.
func (s *LedgerService) publish(ctx context.Context, events ...shared.DomainEvent) {
	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		logger.WithLogger(ctx, logger.FromContextOr(ctx, s.logger)).Warn("Failed to publish domain events", zap.Error(err), zap.Int("count", len(events)))
	}
}

func obligationsOf(records []*finance.TradeRecord) []finance.Obligation {
	obligations := make([]finance.Obligation, 0, len(records)*2)
	for _, r := range records {
		obligations = append(obligations, r.Obligations()...)
	}
	return obligations
}
