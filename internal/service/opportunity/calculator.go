// Package opportunity projects what a purchase price could grow to if it
// were invested instead of spent.
package opportunity

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
)

// DefaultAnnualReturn is a long-run broad market average.
const DefaultAnnualReturn = 0.07

const defaultCurrency = "USD"

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"INR": "₹",
	"CAD": "CA$",
	"AUD": "A$",
	"IDR": "Rp",
}

// Calculator implements domain.OpportunityCalculator with annual compounding.
type Calculator struct {
	growth decimal.Decimal
}

var _ domain.OpportunityCalculator = (*Calculator)(nil)

// NewCalculator returns a calculator for the given yearly return. Rates that
// are not finite or not above -100% fall back to DefaultAnnualReturn.
func NewCalculator(annualReturn float64) *Calculator {
	if math.IsNaN(annualReturn) || math.IsInf(annualReturn, 0) || annualReturn <= -1 {
		annualReturn = DefaultAnnualReturn
	}
	return &Calculator{growth: decimal.NewFromInt(1).Add(decimal.NewFromFloat(annualReturn))}
}

// Calculate projects amount over 5, 10 and 20 years. Negative or non-finite
// amounts count as zero.
func (c *Calculator) Calculate(amount float64, currency string) domain.OpportunityCost {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		amount = 0
	}
	currency = normalizeCurrency(currency)
	principal := decimal.NewFromFloat(amount).Round(2)

	y5 := c.project(principal, 5)
	y10 := c.project(principal, 10)
	y20 := c.project(principal, 20)

	return domain.OpportunityCost{
		Amount:   principal.InexactFloat64(),
		Currency: currency,
		Projections: domain.Projections{
			Years5:  y5.InexactFloat64(),
			Years10: y10.InexactFloat64(),
			Years20: y20.InexactFloat64(),
		},
		ComparisonText: fmt.Sprintf("Investing %s instead could grow to %s in 10 years and %s in 20 years.",
			FormatMoney(principal, currency), FormatMoney(y10, currency), FormatMoney(y20, currency)),
	}
}

func (c *Calculator) project(principal decimal.Decimal, years int) decimal.Decimal {
	v := principal
	for i := 0; i < years; i++ {
		v = v.Mul(c.growth)
	}
	return v.Round(2)
}

// FormatMoney renders d with two decimals and the currency symbol when known.
func FormatMoney(d decimal.Decimal, currency string) string {
	currency = normalizeCurrency(currency)
	if sym, ok := currencySymbols[currency]; ok {
		return sym + d.StringFixed(2)
	}
	return d.StringFixed(2) + " " + currency
}

func normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return defaultCurrency
	}
	return currency
}
