// Package denomination serves the catalog of currency unit values backing
// the counting grid. The catalog is reference data: read-only to the engine,
// owned by configuration.
package denomination

import (
	"github.com/shopspring/decimal"

	"github.com/tresoria-erp/tresoria/internal/money"
)

// Unit is a discrete banknote or coin value for one currency.
type Unit struct {
	ID       int64           `json:"id"`
	Currency money.Currency  `json:"currency"`
	Value    decimal.Decimal `json:"value"`
	Active   bool            `json:"active"`
	Ordering int             `json:"order"`
}

// AllowedValues indexes unit values per currency, the shape consumed by the
// count sheet when discarding unknown denomination keys.
func AllowedValues(units []Unit) map[money.Currency]map[string]struct{} {
	allowed := make(map[money.Currency]map[string]struct{}, len(money.Currencies))
	for _, unit := range units {
		if allowed[unit.Currency] == nil {
			allowed[unit.Currency] = make(map[string]struct{})
		}
		allowed[unit.Currency][unit.Value.String()] = struct{}{}
	}
	return allowed
}

// fallbackUnits is served when both the database and the cache are down so
// the counting grid stays usable.
var fallbackUnits = []Unit{
	{Currency: money.USD, Value: decimal.NewFromInt(100), Active: true, Ordering: 1},
	{Currency: money.USD, Value: decimal.NewFromInt(50), Active: true, Ordering: 2},
	{Currency: money.USD, Value: decimal.NewFromInt(20), Active: true, Ordering: 3},
	{Currency: money.USD, Value: decimal.NewFromInt(10), Active: true, Ordering: 4},
	{Currency: money.USD, Value: decimal.NewFromInt(5), Active: true, Ordering: 5},
	{Currency: money.USD, Value: decimal.NewFromInt(1), Active: true, Ordering: 6},
	{Currency: money.CDF, Value: decimal.NewFromInt(20000), Active: true, Ordering: 1},
	{Currency: money.CDF, Value: decimal.NewFromInt(10000), Active: true, Ordering: 2},
	{Currency: money.CDF, Value: decimal.NewFromInt(5000), Active: true, Ordering: 3},
	{Currency: money.CDF, Value: decimal.NewFromInt(1000), Active: true, Ordering: 4},
	{Currency: money.CDF, Value: decimal.NewFromInt(500), Active: true, Ordering: 5},
	{Currency: money.CDF, Value: decimal.NewFromInt(200), Active: true, Ordering: 6},
	{Currency: money.CDF, Value: decimal.NewFromInt(100), Active: true, Ordering: 7},
	{Currency: money.CDF, Value: decimal.NewFromInt(50), Active: true, Ordering: 8},
}

// Fallback returns a copy of the built-in denomination catalog.
func Fallback() []Unit {
	return append([]Unit(nil), fallbackUnits...)
}
