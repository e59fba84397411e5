package finance

import (
	"github.com/shopspring/decimal"
)

// DiscountKind names a discount mode variant
type DiscountKind string

const (
	DiscountKindNone              DiscountKind = "NONE"
	DiscountKindDiscountOrPremium DiscountKind = "DISCOUNT_OR_PREMIUM"
	DiscountKindIndirectDiscount  DiscountKind = "INDIRECT_DISCOUNT"
)

// IsValid checks if the discount kind is valid
func (k DiscountKind) IsValid() bool {
	switch k {
	case DiscountKindNone, DiscountKindDiscountOrPremium, DiscountKindIndirectDiscount:
		return true
	}
	return false
}

// String returns the string representation of DiscountKind
func (k DiscountKind) String() string {
	return string(k)
}

// DiscountMode determines how the revenue amount diverges from the portal amount.
// It is closed to the three variants declared in this file.
type DiscountMode interface {
	Kind() DiscountKind
	discountMode()
}

// NoDiscount bills revenue at the original rate
type NoDiscount struct{}

// DiscountOrPremium bills revenue at a different per-kg rate, lower for a discount or higher for a premium
type DiscountOrPremium struct {
	Rate decimal.Decimal
}

// IndirectDiscount gives away ExtraQuantity kg free, billed at the original rate on the rest
type IndirectDiscount struct {
	ExtraQuantity decimal.Decimal
}

func (NoDiscount) Kind() DiscountKind        { return DiscountKindNone }
func (DiscountOrPremium) Kind() DiscountKind { return DiscountKindDiscountOrPremium }
func (IndirectDiscount) Kind() DiscountKind  { return DiscountKindIndirectDiscount }

func (NoDiscount) discountMode()        {}
func (DiscountOrPremium) discountMode() {}
func (IndirectDiscount) discountMode()  {}

// ParseDiscountMode builds a DiscountMode from its flat wire or storage representation.
// An empty kind is read as NONE.
func ParseDiscountMode(kind string, rate, extraQuantity *decimal.Decimal) (DiscountMode, error) {
	switch DiscountKind(kind) {
	case "", DiscountKindNone:
		return NoDiscount{}, nil
	case DiscountKindDiscountOrPremium:
		if rate == nil {
			return nil, invalidInput("Discount or premium requires a discounted rate", map[string]any{"field": "discount_rate"})
		}
		return DiscountOrPremium{Rate: *rate}, nil
	case DiscountKindIndirectDiscount:
		if extraQuantity == nil {
			return nil, invalidInput("Indirect discount requires an extra quantity", map[string]any{"field": "extra_quantity"})
		}
		return IndirectDiscount{ExtraQuantity: *extraQuantity}, nil
	}
	return nil, invalidInput("Unknown discount mode", map[string]any{"field": "discount_mode", "value": kind})
}

// DiscountRate returns the payload rate of a DiscountOrPremium mode
func DiscountRate(mode DiscountMode) *decimal.Decimal {
	if m, ok := mode.(DiscountOrPremium); ok {
		r := m.Rate
		return &r
	}
	return nil
}

// ExtraQuantity returns the payload quantity of an IndirectDiscount mode
func ExtraQuantity(mode DiscountMode) *decimal.Decimal {
	if m, ok := mode.(IndirectDiscount); ok {
		q := m.ExtraQuantity
		return &q
	}
	return nil
}
