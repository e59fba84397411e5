package storage

import (
	"github.com/shopspring/decimal"
	appfinance "github.com/tradeledger/backend/internal/application/finance"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const rupeeSymbol = "₹"

// INRFormatter renders amounts in rupees with Indian digit grouping, e.g. ₹12,34,567.50
type INRFormatter struct {
	printer *message.Printer
}

// NewINRFormatter creates a formatter bound to the en-IN locale
func NewINRFormatter() *INRFormatter {
	return &INRFormatter{printer: message.NewPrinter(language.MustParse("en-IN"))}
}

// FormatAmount rounds to paise (half away from zero) and groups the rupee part by lakh and crore
func (f *INRFormatter) FormatAmount(amount decimal.Decimal) string {
	rounded := amount.Round(2)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}
	return sign + rupeeSymbol + f.printer.Sprint(number.Decimal(rounded.InexactFloat64(), number.Scale(2)))
}

var _ appfinance.AmountFormatter = (*INRFormatter)(nil)
