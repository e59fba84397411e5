package finance

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeledger/backend/internal/domain/shared"
)

func line(id uuid.UUID, amount string) AllocationEntry {
	return AllocationEntry{ObligationID: id, AllocatedAmount: dec(amount)}
}

func TestAllocationValidator_Validate(t *testing.T) {
	billA, billB := twoOpenSales(t)
	purchase := createTestRecord(t, TradeKindPurchase, "cp-1", testNow, "10", "10", nil)
	foreign := createTestRecord(t, TradeKindSale, "cp-2", testNow, "10", "10", nil)
	obligations := obligationsOf(billA, billB, purchase, foreign)
	validator := NewAllocationValidator()

	base := ValidationRequest{
		CounterpartyID: "cp-1",
		Thread:         ThreadPortal,
		Direction:      DirectionIn,
		TargetAmount:   dec("10000"),
	}

	t.Run("user rebalanced plan", func(t *testing.T) {
		req := base
		req.Entries = []AllocationEntry{line(billB.ID, "8000"), line(billA.ID, "2000")}

		entries, err := validator.Validate(req, obligations)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, billB.ID, entries[0].ObligationID)
		assert.Equal(t, PaymentStatusPaid, entries[0].NewStatus)
		assert.Equal(t, PaymentStatusPartiallyPaid, entries[1].NewStatus)
		assertDecimal(t, "2000", entries[1].NewAmountPaid)
	})

	t.Run("zero lines are accepted", func(t *testing.T) {
		req := base
		req.Entries = []AllocationEntry{line(billA.ID, "5000"), line(billB.ID, "5000"), line(purchase.ID, "0")}

		entries, err := validator.Validate(req, obligations)
		require.NoError(t, err)
		assert.Len(t, entries, 3)
	})

	t.Run("sum mismatch names the required total", func(t *testing.T) {
		req := base
		req.Entries = []AllocationEntry{line(billA.ID, "5000"), line(billB.ID, "4999.99")}

		_, err := validator.Validate(req, obligations)
		require.True(t, errors.Is(err, ErrAllocationSumMismatch))

		var domainErr *shared.DomainError
		require.True(t, errors.As(err, &domainErr))
		assert.Equal(t, "10000.00", domainErr.Details["required"])
		assert.Equal(t, "9999.99", domainErr.Details["actual"])
	})

	t.Run("empty entries", func(t *testing.T) {
		_, err := validator.Validate(base, obligations)
		assert.True(t, errors.Is(err, ErrAllocationSumMismatch))
	})

	invalid := []struct {
		name    string
		entries []AllocationEntry
	}{
		{"negative amount", []AllocationEntry{line(billA.ID, "-1"), line(billB.ID, "8000")}},
		{"sub-cent amount", []AllocationEntry{line(billA.ID, "4999.995"), line(billB.ID, "5000.005")}},
		{"exceeds pending", []AllocationEntry{line(billA.ID, "6000"), line(billB.ID, "4000")}},
		{"duplicate obligation", []AllocationEntry{line(billA.ID, "5000"), line(billA.ID, "5000")}},
		{"unknown obligation", []AllocationEntry{line(uuid.New(), "10000")}},
		{"other counterparty", []AllocationEntry{line(foreign.ID, "100"), line(billB.ID, "8000")}},
		{"wrong direction", []AllocationEntry{line(purchase.ID, "100"), line(billB.ID, "8000")}},
	}

	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			req.Entries = tt.entries
			_, err := validator.Validate(req, obligations)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidEntry), "got %v", err)
		})
	}

	t.Run("invalid request", func(t *testing.T) {
		req := base
		req.TargetAmount = dec("0")
		_, err := validator.Validate(req, obligations)
		assert.True(t, errors.Is(err, ErrInvalidInput))

		req = base
		req.Thread = "BOTH"
		_, err = validator.Validate(req, obligations)
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})
}

func TestAllocationValidator_UsesCurrentPending(t *testing.T) {
	billA, billB := twoOpenSales(t)
	validator := NewAllocationValidator()

	// A payment lands on bill A after the plan was produced
	_, err := billA.applyAllocation(ThreadPortal, dec("4000"), testNow)
	require.NoError(t, err)

	_, err = validator.Validate(ValidationRequest{
		CounterpartyID: "cp-1",
		Thread:         ThreadPortal,
		Direction:      DirectionIn,
		TargetAmount:   dec("10000"),
		Entries:        []AllocationEntry{line(billA.ID, "5000"), line(billB.ID, "5000")},
	}, obligationsOf(billA, billB))
	assert.True(t, errors.Is(err, ErrInvalidEntry))

	var domainErr *shared.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, billA.ID.String(), domainErr.Details["obligation_id"])
}
