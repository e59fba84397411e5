package finance

import (
	"sort"

	"github.com/tradeledger/backend/internal/domain/shared/strategy"
)

// AllocationOrder names the order in which open obligations absorb cash
type AllocationOrder string

const (
	AllocationOrderFIFO         AllocationOrder = "FIFO"          // Oldest trade date first
	AllocationOrderNewestFirst  AllocationOrder = "NEWEST_FIRST"  // Latest trade date first
	AllocationOrderLargestFirst AllocationOrder = "LARGEST_FIRST" // Largest pending amount first
)

// IsValid checks if the allocation order is valid
func (o AllocationOrder) IsValid() bool {
	switch o {
	case AllocationOrderFIFO, AllocationOrderNewestFirst, AllocationOrderLargestFirst:
		return true
	}
	return false
}

// String returns the string representation
func (o AllocationOrder) String() string {
	return string(o)
}

// AllAllocationOrders returns all valid allocation orders
func AllAllocationOrders() []AllocationOrder {
	return []AllocationOrder{
		AllocationOrderFIFO,
		AllocationOrderNewestFirst,
		AllocationOrderLargestFirst,
	}
}

// OrderingStrategy sorts open obligations into allocation order
type OrderingStrategy interface {
	strategy.Strategy
	// Order returns the allocation order this strategy implements
	Order() AllocationOrder
	// Sort returns a sorted copy of obligations. The input is not modified.
	Sort(obligations []Obligation) []Obligation
}

// fifoLess orders by trade date, then creation time, then ID so ties are deterministic
func fifoLess(a, b Obligation) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func sortedCopy(obligations []Obligation, less func(a, b Obligation) bool) []Obligation {
	sorted := make([]Obligation, len(obligations))
	copy(sorted, obligations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(sorted[i], sorted[j])
	})
	return sorted
}

// FIFOOrdering settles the oldest obligations first
type FIFOOrdering struct {
	strategy.BaseStrategy
}

// NewFIFOOrdering creates a new FIFO ordering strategy
func NewFIFOOrdering() *FIFOOrdering {
	return &FIFOOrdering{
		BaseStrategy: strategy.NewBaseStrategy(
			"fifo_allocation",
			strategy.StrategyTypeOrdering,
			"FIFO allocation - settles oldest trade date first, then creation time",
		),
	}
}

// Order returns the allocation order
func (s *FIFOOrdering) Order() AllocationOrder {
	return AllocationOrderFIFO
}

// Sort orders obligations oldest first
func (s *FIFOOrdering) Sort(obligations []Obligation) []Obligation {
	return sortedCopy(obligations, fifoLess)
}

// NewestFirstOrdering settles the most recent obligations first
type NewestFirstOrdering struct {
	strategy.BaseStrategy
}

// NewNewestFirstOrdering creates a new newest-first ordering strategy
func NewNewestFirstOrdering() *NewestFirstOrdering {
	return &NewestFirstOrdering{
		BaseStrategy: strategy.NewBaseStrategy(
			"newest_first_allocation",
			strategy.StrategyTypeOrdering,
			"Newest-first allocation - settles latest trade date first",
		),
	}
}

// Order returns the allocation order
func (s *NewestFirstOrdering) Order() AllocationOrder {
	return AllocationOrderNewestFirst
}

// Sort orders obligations newest first
func (s *NewestFirstOrdering) Sort(obligations []Obligation) []Obligation {
	return sortedCopy(obligations, func(a, b Obligation) bool {
		return fifoLess(b, a)
	})
}

// LargestFirstOrdering settles the largest pending balances first
type LargestFirstOrdering struct {
	strategy.BaseStrategy
}

// NewLargestFirstOrdering creates a new largest-first ordering strategy
func NewLargestFirstOrdering() *LargestFirstOrdering {
	return &LargestFirstOrdering{
		BaseStrategy: strategy.NewBaseStrategy(
			"largest_first_allocation",
			strategy.StrategyTypeOrdering,
			"Largest-first allocation - settles largest pending amount first, oldest on ties",
		),
	}
}

// Order returns the allocation order
func (s *LargestFirstOrdering) Order() AllocationOrder {
	return AllocationOrderLargestFirst
}

// Sort orders obligations by pending amount descending
func (s *LargestFirstOrdering) Sort(obligations []Obligation) []Obligation {
	return sortedCopy(obligations, func(a, b Obligation) bool {
		if !a.PendingAmount.Equal(b.PendingAmount) {
			return a.PendingAmount.GreaterThan(b.PendingAmount)
		}
		return fifoLess(a, b)
	})
}

// NewOrderingStrategy returns the strategy for an allocation order.
// An empty order selects FIFO.
func NewOrderingStrategy(order AllocationOrder) (OrderingStrategy, error) {
	switch order {
	case "", AllocationOrderFIFO:
		return NewFIFOOrdering(), nil
	case AllocationOrderNewestFirst:
		return NewNewestFirstOrdering(), nil
	case AllocationOrderLargestFirst:
		return NewLargestFirstOrdering(), nil
	}
	return nil, invalidInput("Unknown allocation order", map[string]any{"field": "allocation_order", "value": string(order)})
}

// Ensure strategies implement OrderingStrategy
var (
	_ OrderingStrategy = (*FIFOOrdering)(nil)
	_ OrderingStrategy = (*NewestFirstOrdering)(nil)
	_ OrderingStrategy = (*LargestFirstOrdering)(nil)
)
