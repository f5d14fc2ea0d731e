// Package billetage implements the denomination count accumulator. A
// CountSheet is an immutable value: every mutation returns a new sheet, so
// recomputing totals from the same sheet is trivially idempotent.
package billetage

import (
	"github.com/shopspring/decimal"

	"github.com/tresoria-erp/tresoria/internal/money"
)

// CountSheet maps denomination values to counted quantities, per currency.
// The zero value is an empty sheet.
type CountSheet struct {
	counts map[money.Currency]map[string]int64
}

// NewCountSheet returns an empty sheet.
func NewCountSheet() CountSheet {
	return CountSheet{}
}

// FromBreakdown builds a sheet from raw per-currency breakdowns. Negative
// quantities are clamped to zero, never rejected.
func FromBreakdown(usd, cdf map[string]int64) CountSheet {
	sheet := NewCountSheet()
	for raw, qty := range usd {
		value, err := money.ParseAmount(raw)
		if err != nil {
			continue
		}
		sheet = sheet.SetCount(money.USD, value, qty)
	}
	for raw, qty := range cdf {
		value, err := money.ParseAmount(raw)
		if err != nil {
			continue
		}
		sheet = sheet.SetCount(money.CDF, value, qty)
	}
	return sheet
}

// SetCount returns a copy of the sheet with the quantity for the given
// denomination replaced. Negative quantities are clamped to zero.
func (s CountSheet) SetCount(currency money.Currency, value decimal.Decimal, qty int64) CountSheet {
	if !currency.Valid() || value.Sign() <= 0 {
		return s
	}
	if qty < 0 {
		qty = 0
	}
	next := s.clone()
	if next.counts[currency] == nil {
		next.counts[currency] = make(map[string]int64)
	}
	if qty == 0 {
		delete(next.counts[currency], value.String())
	} else {
		next.counts[currency][value.String()] = qty
	}
	return next
}

// Quantity returns the counted quantity for a denomination, zero if unset.
func (s CountSheet) Quantity(currency money.Currency, value decimal.Decimal) int64 {
	return s.counts[currency][value.String()]
}

// Total computes the physical subtotal for one currency as the exact sum of
// value times quantity over every entry.
func (s CountSheet) Total(currency money.Currency) decimal.Decimal {
	total := decimal.Zero
	for raw, qty := range s.counts[currency] {
		value, err := money.ParseAmount(raw)
		if err != nil {
			continue
		}
		total = total.Add(value.Mul(decimal.NewFromInt(qty)))
	}
	return total
}

// Breakdown returns a copy of the per-denomination quantities for a currency.
func (s CountSheet) Breakdown(currency money.Currency) map[string]int64 {
	out := make(map[string]int64, len(s.counts[currency]))
	for value, qty := range s.counts[currency] {
		out[value] = qty
	}
	return out
}

// Restrict drops entries whose denomination value is not in the allowed set
// for its currency. Unknown denomination keys are ignored, not errors.
func (s CountSheet) Restrict(allowed map[money.Currency]map[string]struct{}) CountSheet {
	next := CountSheet{counts: make(map[money.Currency]map[string]int64, len(s.counts))}
	for currency, entries := range s.counts {
		keep := allowed[currency]
		for value, qty := range entries {
			if _, ok := keep[value]; !ok {
				continue
			}
			if next.counts[currency] == nil {
				next.counts[currency] = make(map[string]int64)
			}
			next.counts[currency][value] = qty
		}
	}
	return next
}

// Empty reports whether no denomination has a non-zero quantity.
func (s CountSheet) Empty() bool {
	for _, entries := range s.counts {
		if len(entries) > 0 {
			return false
		}
	}
	return true
}

func (s CountSheet) clone() CountSheet {
	next := CountSheet{counts: make(map[money.Currency]map[string]int64, len(s.counts))}
	for currency, entries := range s.counts {
		copied := make(map[string]int64, len(entries))
		for value, qty := range entries {
			copied[value] = qty
		}
		next.counts[currency] = copied
	}
	return next
}
