package finance

import (
	"github.com/shopspring/decimal"
)

// Business constants used when no configuration overrides them
var (
	DefaultGSTRate     = decimal.NewFromFloat(0.05)
	DefaultBagWeightKg = decimal.NewFromInt(25)
)

// moneyPlaces is the scale of every persisted and printed amount
const moneyPlaces = 2

// RoundMoney rounds to 2 decimal places, half away from zero
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// IsMoneyScale reports whether d has no more than 2 decimal places
func IsMoneyScale(d decimal.Decimal) bool {
	return d.Equal(RoundMoney(d))
}

// termPlaces is the stored scale of quantities and rates.
const termPlaces = 4

// IsTermScale reports whether d has no more than 4 decimal places, so it is
// persisted without rounding.
func IsTermScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(termPlaces))
}

func termScaleError(field string, d decimal.Decimal) error {
	return invalidInput("Value has more than 4 decimal places", map[string]any{
		"field":      field,
		"value":      d.String(),
		"max_places": termPlaces,
	})
}

// DerivedAmounts holds every monetary field derived from a trade's commercial terms
type DerivedAmounts struct {
	PortalAmount       decimal.Decimal `json:"portal_amount"`
	GSTAmount          decimal.Decimal `json:"gst_amount"`
	TotalPortalAmount  decimal.Decimal `json:"total_portal_amount"`
	RevenueAmount      decimal.Decimal `json:"revenue_amount"`
	TotalRevenueAmount decimal.Decimal `json:"total_revenue_amount"`
	DifferenceAmount   decimal.Decimal `json:"difference_amount"`
	Bags               decimal.Decimal `json:"bags"`
}

// AmountCalculator derives trade amounts. It is stateless apart from its rates
// and safe for concurrent use.
type AmountCalculator struct {
	gstRate     decimal.Decimal
	bagWeightKg decimal.Decimal
}

// CalculatorOption configures an AmountCalculator
type CalculatorOption func(*AmountCalculator)

// WithGSTRate overrides the GST rate (0.05 = 5%)
func WithGSTRate(rate decimal.Decimal) CalculatorOption {
	return func(c *AmountCalculator) {
		c.gstRate = rate
	}
}

// WithBagWeight overrides the kilograms per bag used for the display bag count
func WithBagWeight(kg decimal.Decimal) CalculatorOption {
	return func(c *AmountCalculator) {
		if kg.IsPositive() {
			c.bagWeightKg = kg
		}
	}
}

// NewAmountCalculator creates a calculator with 5% GST and 25 kg bags unless overridden
func NewAmountCalculator(opts ...CalculatorOption) *AmountCalculator {
	c := &AmountCalculator{
		gstRate:     DefaultGSTRate,
		bagWeightKg: DefaultBagWeightKg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GSTRate returns the configured GST rate
func (c *AmountCalculator) GSTRate() decimal.Decimal {
	return c.gstRate
}

// Compute derives portal, GST, revenue and difference amounts.
// Portal and revenue are rounded first and every later figure is derived from
// the rounded values, so the totals always add up to the cent.
func (c *AmountCalculator) Compute(quantity, rate decimal.Decimal, mode DiscountMode) (DerivedAmounts, error) {
	if quantity.IsNegative() {
		return DerivedAmounts{}, invalidInput("Quantity cannot be negative", map[string]any{"field": "quantity"})
	}
	if rate.IsNegative() {
		return DerivedAmounts{}, invalidInput("Rate cannot be negative", map[string]any{"field": "rate"})
	}
	if !IsTermScale(quantity) {
		return DerivedAmounts{}, termScaleError("quantity", quantity)
	}
	if !IsTermScale(rate) {
		return DerivedAmounts{}, termScaleError("rate", rate)
	}
	if mode == nil {
		mode = NoDiscount{}
	}

	portal := RoundMoney(quantity.Mul(rate))

	var revenue decimal.Decimal
	switch m := mode.(type) {
	case NoDiscount:
		revenue = portal
	case DiscountOrPremium:
		if m.Rate.IsNegative() {
			return DerivedAmounts{}, invalidInput("Discounted rate cannot be negative", map[string]any{"field": "discount_rate"})
		}
		if !IsTermScale(m.Rate) {
			return DerivedAmounts{}, termScaleError("discount_rate", m.Rate)
		}
		revenue = RoundMoney(quantity.Mul(m.Rate))
	case IndirectDiscount:
		if m.ExtraQuantity.IsNegative() {
			return DerivedAmounts{}, invalidInput("Extra quantity cannot be negative", map[string]any{"field": "extra_quantity"})
		}
		if !IsTermScale(m.ExtraQuantity) {
			return DerivedAmounts{}, termScaleError("extra_quantity", m.ExtraQuantity)
		}
		if m.ExtraQuantity.GreaterThan(quantity) {
			return DerivedAmounts{}, invalidInput("Extra quantity cannot exceed quantity", map[string]any{
				"field":          "extra_quantity",
				"quantity":       quantity.String(),
				"extra_quantity": m.ExtraQuantity.String(),
			})
		}
		revenue = RoundMoney(quantity.Sub(m.ExtraQuantity).Mul(rate))
	default:
		return DerivedAmounts{}, invalidInput("Unknown discount mode", map[string]any{"field": "discount_mode"})
	}

	gst := RoundMoney(portal.Mul(c.gstRate))
	totalPortal := portal.Add(gst)
	totalRevenue := revenue.Add(gst)

	return DerivedAmounts{
		PortalAmount:       portal,
		GSTAmount:          gst,
		TotalPortalAmount:  totalPortal,
		RevenueAmount:      revenue,
		TotalRevenueAmount: totalRevenue,
		DifferenceAmount:   totalRevenue.Sub(totalPortal),
		Bags:               RoundMoney(quantity.Div(c.bagWeightKg)),
	}, nil
}
