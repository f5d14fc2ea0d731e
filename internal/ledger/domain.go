// Package ledger consumes the external accounting service that computes the
// theoretical drawer balance. The snapshot is trusted input: this subsystem
// never derives balances from underlying transactions itself.
package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tresoria-erp/tresoria/internal/money"
)

// BalanceSnapshot is the theoretical ledger position as of "now".
type BalanceSnapshot struct {
	From *time.Time
	To   *time.Time

	// ExchangeRate is expressed as CDF per USD. Zero or negative means the
	// rate is unusable and the USD equivalence must be treated as undefined.
	ExchangeRate decimal.Decimal

	OpeningUSD     decimal.Decimal
	OpeningCDF     decimal.Decimal
	InflowsUSD     decimal.Decimal
	InflowsCDF     decimal.Decimal
	OutflowsUSD    decimal.Decimal
	OutflowsCDF    decimal.Decimal
	TheoreticalUSD decimal.Decimal
	TheoreticalCDF decimal.Decimal
}

// ErrUnavailable indicates the balance provider could not be reached.
var ErrUnavailable = errors.New("ledger: balance provider unavailable")

// Theoretical returns the theoretical closing balance for a currency.
func (s BalanceSnapshot) Theoretical(currency money.Currency) decimal.Decimal {
	if currency == money.CDF {
		return s.TheoreticalCDF
	}
	return s.TheoreticalUSD
}

// RateDefined reports whether the exchange rate can be used for conversion.
func (s BalanceSnapshot) RateDefined() bool {
	return s.ExchangeRate.Sign() > 0
}

// ConsistentTheoretical checks the provider invariant
// theoretical = opening + inflows - outflows for one currency. The engine
// trusts the provider; a violation is logged upstream, never corrected.
func (s BalanceSnapshot) ConsistentTheoretical(currency money.Currency) bool {
	var expected decimal.Decimal
	switch currency {
	case money.CDF:
		expected = s.OpeningCDF.Add(s.InflowsCDF).Sub(s.OutflowsCDF)
	default:
		expected = s.OpeningUSD.Add(s.InflowsUSD).Sub(s.OutflowsUSD)
	}
	return s.Theoretical(currency).Equal(expected)
}
