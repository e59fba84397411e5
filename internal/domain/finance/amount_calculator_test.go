package finance

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeledger/backend/internal/domain/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(expected).Equal(actual), append([]any{"expected %s, got %s", expected, actual.String()}, msgAndArgs...)...)
}

func TestAmountCalculator_Compute_NoDiscount(t *testing.T) {
	calc := NewAmountCalculator()

	amounts, err := calc.Compute(dec("1000"), dec("30"), NoDiscount{})
	require.NoError(t, err)

	assertDecimal(t, "30000.00", amounts.PortalAmount)
	assertDecimal(t, "1500.00", amounts.GSTAmount)
	assertDecimal(t, "31500.00", amounts.TotalPortalAmount)
	assertDecimal(t, "30000.00", amounts.RevenueAmount)
	assertDecimal(t, "31500.00", amounts.TotalRevenueAmount)
	assertDecimal(t, "0", amounts.DifferenceAmount)
	assertDecimal(t, "40", amounts.Bags)
	assert.Equal(t, PaymentStatusPaid, StatusForSigned(amounts.DifferenceAmount, decimal.Zero))
}

func TestAmountCalculator_Compute_DiscountOrPremium(t *testing.T) {
	calc := NewAmountCalculator()

	t.Run("discount below original rate", func(t *testing.T) {
		amounts, err := calc.Compute(dec("1000"), dec("30"), DiscountOrPremium{Rate: dec("28")})
		require.NoError(t, err)

		assertDecimal(t, "30000.00", amounts.PortalAmount)
		assertDecimal(t, "1500.00", amounts.GSTAmount)
		assertDecimal(t, "28000.00", amounts.RevenueAmount)
		assertDecimal(t, "29500.00", amounts.TotalRevenueAmount)
		assertDecimal(t, "-2000.00", amounts.DifferenceAmount)
	})

	t.Run("premium above original rate", func(t *testing.T) {
		amounts, err := calc.Compute(dec("500"), dec("20"), DiscountOrPremium{Rate: dec("21.5")})
		require.NoError(t, err)

		assertDecimal(t, "10000", amounts.PortalAmount)
		assertDecimal(t, "10750", amounts.RevenueAmount)
		assertDecimal(t, "750", amounts.DifferenceAmount)
	})

	t.Run("negative discounted rate", func(t *testing.T) {
		_, err := calc.Compute(dec("500"), dec("20"), DiscountOrPremium{Rate: dec("-1")})
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})
}

func TestAmountCalculator_Compute_IndirectDiscount(t *testing.T) {
	calc := NewAmountCalculator()

	amounts, err := calc.Compute(dec("1000"), dec("30"), IndirectDiscount{ExtraQuantity: dec("50")})
	require.NoError(t, err)

	assertDecimal(t, "30000", amounts.PortalAmount)
	assertDecimal(t, "28500", amounts.RevenueAmount)
	assertDecimal(t, "30000", amounts.TotalRevenueAmount)
	assertDecimal(t, "-1500", amounts.DifferenceAmount)

	t.Run("extra quantity equal to quantity", func(t *testing.T) {
		amounts, err := calc.Compute(dec("100"), dec("10"), IndirectDiscount{ExtraQuantity: dec("100")})
		require.NoError(t, err)
		assertDecimal(t, "0", amounts.RevenueAmount)
	})

	t.Run("extra quantity exceeds quantity", func(t *testing.T) {
		_, err := calc.Compute(dec("100"), dec("10"), IndirectDiscount{ExtraQuantity: dec("101")})
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})
}

func TestAmountCalculator_Compute_InvalidInput(t *testing.T) {
	calc := NewAmountCalculator()

	tests := []struct {
		name     string
		quantity string
		rate     string
		mode     DiscountMode
	}{
		{"negative quantity", "-1", "30", NoDiscount{}},
		{"negative rate", "10", "-0.01", NoDiscount{}},
		{"negative extra quantity", "10", "30", IndirectDiscount{ExtraQuantity: dec("-1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := calc.Compute(dec(tt.quantity), dec(tt.rate), tt.mode)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestAmountCalculator_Compute_TermScale(t *testing.T) {
	calc := NewAmountCalculator(WithGSTRate(decimal.Zero))

	tests := []struct {
		name      string
		quantity  string
		rate      string
		mode      DiscountMode
		wantField string
	}{
		{"quantity with five places", "1000.12345", "30", NoDiscount{}, "quantity"},
		{"rate with five places", "100", "30.00001", NoDiscount{}, "rate"},
		{"discount rate with five places", "100", "30", DiscountOrPremium{Rate: dec("29.99999")}, "discount_rate"},
		{"extra quantity with five places", "100", "30", IndirectDiscount{ExtraQuantity: dec("1.00001")}, "extra_quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := calc.Compute(dec(tt.quantity), dec(tt.rate), tt.mode)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))

			var domainErr *shared.DomainError
			require.True(t, errors.As(err, &domainErr))
			assert.Equal(t, tt.wantField, domainErr.Details["field"])
			assert.Equal(t, termPlaces, domainErr.Details["max_places"])
		})
	}

	t.Run("four places are stored as given", func(t *testing.T) {
		amounts, err := calc.Compute(dec("1000.1235"), dec("30"), IndirectDiscount{ExtraQuantity: dec("0.0001")})
		require.NoError(t, err)
		assertDecimal(t, "30003.71", amounts.PortalAmount)
		assertDecimal(t, "30003.70", amounts.RevenueAmount)
	})

	t.Run("trailing zeros do not count", func(t *testing.T) {
		assert.True(t, IsTermScale(dec("12.340000")))
		assert.False(t, IsTermScale(dec("12.34001")))
	})
}

func TestAmountCalculator_Compute_RoundsEachStep(t *testing.T) {
	calc := NewAmountCalculator()

	// 333.333 * 3 = 999.999 rounds to 1000.00, GST on the rounded portal is 50.00
	amounts, err := calc.Compute(dec("333.333"), dec("3"), DiscountOrPremium{Rate: dec("2.995")})
	require.NoError(t, err)

	assertDecimal(t, "1000.00", amounts.PortalAmount)
	assertDecimal(t, "50.00", amounts.GSTAmount)
	assertDecimal(t, "998.33", amounts.RevenueAmount)

	t.Run("totals add up to the cent", func(t *testing.T) {
		assert.True(t, amounts.TotalPortalAmount.Equal(amounts.PortalAmount.Add(amounts.GSTAmount)))
		assert.True(t, amounts.TotalRevenueAmount.Equal(amounts.RevenueAmount.Add(amounts.GSTAmount)))
		assert.True(t, amounts.DifferenceAmount.Equal(amounts.TotalRevenueAmount.Sub(amounts.TotalPortalAmount)))
	})

	t.Run("half rounds away from zero", func(t *testing.T) {
		assertDecimal(t, "0.13", RoundMoney(dec("0.125")))
		assertDecimal(t, "-0.13", RoundMoney(dec("-0.125")))
	})
}

func TestAmountCalculator_Options(t *testing.T) {
	calc := NewAmountCalculator(WithGSTRate(dec("0.12")), WithBagWeight(dec("50")))

	amounts, err := calc.Compute(dec("100"), dec("10"), nil)
	require.NoError(t, err)

	assertDecimal(t, "120", amounts.GSTAmount)
	assertDecimal(t, "2", amounts.Bags)
	assertDecimal(t, "0.12", calc.GSTRate())

	t.Run("non-positive bag weight is ignored", func(t *testing.T) {
		calc := NewAmountCalculator(WithBagWeight(decimal.Zero))
		amounts, err := calc.Compute(dec("50"), dec("1"), nil)
		require.NoError(t, err)
		assertDecimal(t, "2", amounts.Bags)
	})
}

func TestParseDiscountMode(t *testing.T) {
	rate := dec("28")
	extra := dec("10")

	tests := []struct {
		name    string
		kind    string
		rate    *decimal.Decimal
		extra   *decimal.Decimal
		want    DiscountKind
		wantErr bool
	}{
		{"empty is none", "", nil, nil, DiscountKindNone, false},
		{"none", "NONE", &rate, nil, DiscountKindNone, false},
		{"discount with rate", "DISCOUNT_OR_PREMIUM", &rate, nil, DiscountKindDiscountOrPremium, false},
		{"discount without rate", "DISCOUNT_OR_PREMIUM", nil, nil, "", true},
		{"indirect with extra", "INDIRECT_DISCOUNT", nil, &extra, DiscountKindIndirectDiscount, false},
		{"indirect without extra", "INDIRECT_DISCOUNT", nil, nil, "", true},
		{"unknown", "BOGUS", nil, nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := ParseDiscountMode(tt.kind, tt.rate, tt.extra)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, mode.Kind())
		})
	}

	t.Run("payload accessors", func(t *testing.T) {
		assert.True(t, DiscountRate(DiscountOrPremium{Rate: rate}).Equal(rate))
		assert.Nil(t, DiscountRate(NoDiscount{}))
		assert.True(t, ExtraQuantity(IndirectDiscount{ExtraQuantity: extra}).Equal(extra))
		assert.Nil(t, ExtraQuantity(DiscountOrPremium{Rate: rate}))
	})
}
