package finance

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PlanRequest describes a cash amount to be split across open obligations
type PlanRequest struct {
	CounterpartyID string
	TargetAmount   decimal.Decimal
	Direction      Direction
	Thread         Thread
}

func (r PlanRequest) validate() error {
	if strings.TrimSpace(r.CounterpartyID) == "" {
		return invalidInput("Counterparty ID cannot be empty", map[string]any{"field": "counterparty_id"})
	}
	if !r.TargetAmount.IsPositive() {
		return invalidInput("Amount must be positive", map[string]any{"field": "amount"})
	}
	if !IsMoneyScale(r.TargetAmount) {
		return invalidInput("Amount cannot have more than 2 decimal places", map[string]any{"field": "amount"})
	}
	if !r.Direction.IsValid() {
		return invalidInput("Invalid direction", map[string]any{"field": "direction", "value": string(r.Direction)})
	}
	if !r.Thread.IsValid() {
		return invalidInput("Invalid thread", map[string]any{"field": "thread", "value": string(r.Thread)})
	}
	return nil
}

// AllocationPlanner proposes greedy splits of a cash amount. It reads only the
// obligations handed to it, so a returned plan is advisory and goes stale as
// soon as other commits land.
type AllocationPlanner struct {
	ordering OrderingStrategy
}

// NewAllocationPlanner creates a planner. A nil ordering selects FIFO.
func NewAllocationPlanner(ordering OrderingStrategy) *AllocationPlanner {
	if ordering == nil {
		ordering = NewFIFOOrdering()
	}
	return &AllocationPlanner{ordering: ordering}
}

// Ordering returns the planner's ordering strategy
func (p *AllocationPlanner) Ordering() OrderingStrategy {
	return p.ordering
}

// Plan assigns min(remaining, pending) to each open obligation in order until
// the target or the obligations run out.
//
// When the target exceeds everything pending the full plan is returned together
// with an OVERALLOCATION error carrying the unabsorbed remainder.
func (p *AllocationPlanner) Plan(req PlanRequest, obligations []Obligation) (*AllocationPlan, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	open := OpenObligations(obligations, req.CounterpartyID, req.Thread, req.Direction)
	if len(open) == 0 {
		return nil, ErrNoOpenObligations.WithDetails(map[string]any{
			"counterparty_id": req.CounterpartyID,
			"thread":          req.Thread.String(),
			"direction":       req.Direction.String(),
		})
	}

	plan := &AllocationPlan{
		CounterpartyID: req.CounterpartyID,
		Thread:         req.Thread,
		Direction:      req.Direction,
		TargetAmount:   req.TargetAmount,
		Order:          p.ordering.Order(),
		Entries:        make([]AllocationEntry, 0, len(open)),
		TotalAllocated: decimal.Zero,
	}

	remaining := req.TargetAmount
	for _, o := range p.ordering.Sort(open) {
		if !remaining.IsPositive() {
			break
		}
		amount := decimal.Min(remaining, o.PendingAmount)
		plan.Entries = append(plan.Entries, o.Preview(amount))
		plan.TotalAllocated = plan.TotalAllocated.Add(amount)
		remaining = remaining.Sub(amount)
	}
	plan.Remaining = remaining

	if remaining.IsPositive() {
		return plan, NewOverallocationError(remaining)
	}
	return plan, nil
}
