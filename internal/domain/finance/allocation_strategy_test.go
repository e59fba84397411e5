package finance

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeledger/backend/internal/domain/shared/strategy"
)

func orderingFixture() []Obligation {
	day := func(d int) time.Time { return testNow.AddDate(0, 0, d) }
	return []Obligation{
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000003"), Date: day(-1), CreatedAt: day(-1), PendingAmount: dec("100")},
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Date: day(-5), CreatedAt: day(-5), PendingAmount: dec("300")},
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Date: day(-5), CreatedAt: day(-4), PendingAmount: dec("300")},
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000004"), Date: day(-3), CreatedAt: day(-3), PendingAmount: dec("50")},
	}
}

func ids(obligations []Obligation) []string {
	out := make([]string, len(obligations))
	for i, o := range obligations {
		out[i] = o.ID.String()[len(o.ID.String())-1:]
	}
	return out
}

func TestOrderingStrategies_Sort(t *testing.T) {
	tests := []struct {
		name     string
		strategy OrderingStrategy
		want     []string
	}{
		{"fifo uses date then creation time", NewFIFOOrdering(), []string{"1", "2", "4", "3"}},
		{"newest first", NewNewestFirstOrdering(), []string{"3", "4", "2", "1"}},
		{"largest first breaks ties oldest first", NewLargestFirstOrdering(), []string{"1", "2", "3", "4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := orderingFixture()
			sorted := tt.strategy.Sort(input)
			assert.Equal(t, tt.want, ids(sorted))
			assert.Equal(t, []string{"3", "1", "2", "4"}, ids(input), "input must not be reordered")
			assert.Equal(t, strategy.StrategyTypeOrdering, tt.strategy.Type())
			assert.NotEmpty(t, tt.strategy.Name())
			assert.NotEmpty(t, tt.strategy.Description())
		})
	}
}

func TestOrderingStrategies_IDTiebreak(t *testing.T) {
	a := Obligation{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000b"), Date: testNow, CreatedAt: testNow}
	b := Obligation{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000a"), Date: testNow, CreatedAt: testNow}

	sorted := NewFIFOOrdering().Sort([]Obligation{a, b})
	assert.Equal(t, b.ID, sorted[0].ID)
}

func TestNewOrderingStrategy(t *testing.T) {
	for _, order := range AllAllocationOrders() {
		t.Run(order.String(), func(t *testing.T) {
			s, err := NewOrderingStrategy(order)
			require.NoError(t, err)
			assert.Equal(t, order, s.Order())
			assert.True(t, order.IsValid())
		})
	}

	t.Run("empty defaults to FIFO", func(t *testing.T) {
		s, err := NewOrderingStrategy("")
		require.NoError(t, err)
		assert.Equal(t, AllocationOrderFIFO, s.Order())
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := NewOrderingStrategy("RANDOM")
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})
}

func TestAllocationPlanner_Plan_LargestFirst(t *testing.T) {
	billA, billB := twoOpenSales(t)
	planner := NewAllocationPlanner(NewLargestFirstOrdering())

	plan, err := planner.Plan(PlanRequest{
		CounterpartyID: "cp-1",
		TargetAmount:   dec("10000"),
		Direction:      DirectionIn,
		Thread:         ThreadPortal,
	}, obligationsOf(billA, billB))
	require.NoError(t, err)

	require.Len(t, plan.Entries, 2)
	assert.Equal(t, billB.ID, plan.Entries[0].ObligationID)
	assertDecimal(t, "8000", plan.Entries[0].AllocatedAmount)
	assertDecimal(t, "2000", plan.Entries[1].AllocatedAmount)
	assert.Equal(t, AllocationOrderLargestFirst, plan.Order)
}
