// Package money defines the dual-currency scheme used across the treasury
// back-office. All monetary amounts are arbitrary-precision decimals; binary
// floats are never used for money.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency identifies one of the two drawer currencies.
type Currency string

const (
	// USD is the institution's reporting currency.
	USD Currency = "USD"
	// CDF is the Congolese franc, held physically in the drawer.
	CDF Currency = "CDF"
)

// Currencies lists the supported currencies in display order.
var Currencies = []Currency{USD, CDF}

// ParseCurrency normalises and validates a currency code.
func ParseCurrency(raw string) (Currency, error) {
	switch Currency(strings.ToUpper(strings.TrimSpace(raw))) {
	case USD:
		return USD, nil
	case CDF:
		return CDF, nil
	default:
		return "", fmt.Errorf("money: unknown currency %q", raw)
	}
}

// Valid reports whether c is a supported currency.
func (c Currency) Valid() bool {
	return c == USD || c == CDF
}

// ParseAmount parses a decimal amount from its string form.
func ParseAmount(raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("money: invalid amount %q: %w", raw, err)
	}
	return v, nil
}

// Format renders an amount with two fixed decimal places, the canonical
// representation for exports and documents.
func Format(v decimal.Decimal) string {
	return v.StringFixed(2)
}
