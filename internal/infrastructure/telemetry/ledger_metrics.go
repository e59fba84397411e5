package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// LedgerMetrics records cash allocation activity. A nil *LedgerMetrics is
// valid and records nothing.
type LedgerMetrics struct {
	logger *zap.Logger

	tradeRecordsCreated *Counter
	cashEventsTotal     *Counter
	allocatedPaise      *Counter
	conflictsTotal      *Counter
	replaysTotal        *Counter
	planOutcomes        *Counter
	commitDuration      *Histogram
	openObligations     metric.Int64Gauge

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once
	interval    time.Duration
	provider    OpenObligationsProvider
}

// OpenObligationCount is the number of open obligations for one thread and direction.
type OpenObligationCount struct {
	Thread    string
	Direction string
	Count     int64
}

// OpenObligationsProvider supplies open obligation counts for periodic collection.
type OpenObligationsProvider interface {
	CountOpenObligations(ctx context.Context) ([]OpenObligationCount, error)
}

// LedgerMetricsConfig holds configuration for ledger metrics.
type LedgerMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // Default: 1 minute
	Provider        OpenObligationsProvider
}

// NewLedgerMetrics creates the ledger instruments on cfg.Meter.
func NewLedgerMetrics(cfg LedgerMetricsConfig) (*LedgerMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.CollectInterval
	if interval <= 0 {
		interval = time.Minute
	}

	lm := &LedgerMetrics{
		logger:   logger,
		stopChan: make(chan struct{}),
		interval: interval,
		provider: cfg.Provider,
	}

	var err error
	if lm.tradeRecordsCreated, err = NewCounter(cfg.Meter, "ledger.trade_records.created", "Trade records created", "{record}"); err != nil {
		return nil, err
	}
	if lm.cashEventsTotal, err = NewCounter(cfg.Meter, "ledger.cash_events.total", "Cash events committed", "{event}"); err != nil {
		return nil, err
	}
	if lm.allocatedPaise, err = NewCounter(cfg.Meter, "ledger.allocated.amount", "Amount allocated to obligations in paise", "{paise}"); err != nil {
		return nil, err
	}
	if lm.conflictsTotal, err = NewCounter(cfg.Meter, "ledger.commit.conflicts", "Commits rejected because obligations changed", "{commit}"); err != nil {
		return nil, err
	}
	if lm.replaysTotal, err = NewCounter(cfg.Meter, "ledger.commit.replays", "Commits answered from an earlier idempotency key", "{commit}"); err != nil {
		return nil, err
	}
	if lm.planOutcomes, err = NewCounter(cfg.Meter, "ledger.plans.total", "Allocation plans by outcome", "{plan}"); err != nil {
		return nil, err
	}
	if lm.commitDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "ledger.commit.duration",
		Description: "Time spent committing a cash event",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if lm.openObligations, err = cfg.Meter.Int64Gauge("ledger.obligations.open",
		metric.WithDescription("Open obligations by thread and direction"),
		metric.WithUnit("{obligation}"),
	); err != nil {
		return nil, err
	}

	return lm, nil
}

// RecordTradeRecordCreated counts a new trade record.
func (lm *LedgerMetrics) RecordTradeRecordCreated(ctx context.Context, kind string) {
	if lm == nil {
		return
	}
	lm.tradeRecordsCreated.Inc(ctx, AttrTradeKind.String(kind))
}

// RecordCashEvent counts a committed cash event and the amount it allocated.
func (lm *LedgerMetrics) RecordCashEvent(ctx context.Context, direction, thread string, amount decimal.Decimal, elapsed time.Duration) {
	if lm == nil {
		return
	}
	attrs := []attribute.KeyValue{AttrDirection.String(direction), AttrThread.String(thread)}
	lm.cashEventsTotal.Inc(ctx, attrs...)
	lm.allocatedPaise.Add(ctx, amount.Shift(2).Round(0).IntPart(), attrs...)
	lm.commitDuration.RecordDuration(ctx, elapsed, attrs...)
}

// RecordConflict counts a commit lost to a concurrent modification.
func (lm *LedgerMetrics) RecordConflict(ctx context.Context, thread string) {
	if lm == nil {
		return
	}
	lm.conflictsTotal.Inc(ctx, AttrThread.String(thread))
}

// RecordReplay counts a commit that returned an earlier event for the same idempotency key.
func (lm *LedgerMetrics) RecordReplay(ctx context.Context) {
	if lm == nil {
		return
	}
	lm.replaysTotal.Inc(ctx)
}

// RecordPlan counts a plan by ordering and outcome (full, partial, none, invalid).
func (lm *LedgerMetrics) RecordPlan(ctx context.Context, order, outcome string) {
	if lm == nil {
		return
	}
	lm.planOutcomes.Inc(ctx, AttrOrder.String(order), AttrOutcome.String(outcome))
}

// StartCollector periodically records open obligation gauges until Stop.
// Calling it more than once has no effect.
func (lm *LedgerMetrics) StartCollector(ctx context.Context) {
	if lm == nil || lm.provider == nil {
		return
	}
	lm.collectOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(lm.interval)
			defer ticker.Stop()

			lm.collect(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-lm.stopChan:
					return
				case <-ticker.C:
					lm.collect(ctx)
				}
			}
		}()
	})
}

func (lm *LedgerMetrics) collect(ctx context.Context) {
	counts, err := lm.provider.CountOpenObligations(ctx)
	if err != nil {
		lm.logger.Warn("Failed to collect open obligation counts", zap.Error(err))
		return
	}
	for _, c := range counts {
		lm.openObligations.Record(ctx, c.Count, metric.WithAttributes(
			AttrThread.String(c.Thread),
			AttrDirection.String(c.Direction),
		))
	}
}

// Stop stops the periodic collector.
func (lm *LedgerMetrics) Stop() {
	if lm == nil {
		return
	}
	lm.stopOnce.Do(func() {
		close(lm.stopChan)
	})
}

// ErrMeterNil is returned when no meter is supplied.
var ErrMeterNil = &MetricsError{Op: "NewLedgerMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
