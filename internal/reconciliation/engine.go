// Package reconciliation implements the cash drawer reconciliation engine:
// it compares a physical denomination count against the theoretical ledger
// balance across the dual-currency scheme and classifies the variance.
package reconciliation

import (
	"github.com/shopspring/decimal"

	"github.com/tresoria-erp/tresoria/internal/billetage"
	"github.com/tresoria-erp/tresoria/internal/ledger"
	"github.com/tresoria-erp/tresoria/internal/money"
)

// Classification labels the overall variance of a closing.
type Classification string

const (
	// Balanced means every defined variance is exactly zero.
	Balanced Classification = "BALANCED"
	// Shortfall means at least one defined variance is negative. It takes
	// precedence over surplus even when the other currency is positive.
	Shortfall Classification = "SHORTFALL"
	// Surplus means no variance is negative and at least one is positive.
	Surplus Classification = "SURPLUS"
)

// Result is the derived outcome of one reconciliation pass. It is a pure
// function of its inputs and is never persisted until submit.
//
// The variance policy is deliberately asymmetric: USD is the reporting
// currency, so the CDF drawer is folded into USD through the exchange rate
// when judging overall shortfall or surplus, while the CDF variance is also
// reported in native terms. A closing can therefore read balanced in USD and
// in surplus in CDF at the same time.
type Result struct {
	PhysicalUSD decimal.Decimal `json:"physical_usd"`
	PhysicalCDF decimal.Decimal `json:"physical_cdf"`

	// UsdEquivalent and VarianceUSD are nil when the exchange rate is zero
	// or missing: the conversion is then undefined, never coerced to zero.
	UsdEquivalent     *decimal.Decimal `json:"physical_usd_equivalent,omitempty"`
	VarianceUSD       *decimal.Decimal `json:"variance_usd,omitempty"`
	EquivalentDefined bool             `json:"equivalent_defined"`

	VarianceCDF decimal.Decimal `json:"variance_cdf"`

	Classification Classification `json:"classification"`
}

// Compute derives the reconciliation result from a balance snapshot and a
// count sheet. Calling it twice with the same inputs yields identical
// outputs: there is no hidden state.
func Compute(snap ledger.BalanceSnapshot, sheet billetage.CountSheet) Result {
	result := Result{
		PhysicalUSD: sheet.Total(money.USD),
		PhysicalCDF: sheet.Total(money.CDF),
	}
	result.VarianceCDF = result.PhysicalCDF.Sub(snap.TheoreticalCDF)

	if snap.RateDefined() {
		equivalent := result.PhysicalUSD.Add(result.PhysicalCDF.Div(snap.ExchangeRate))
		variance := equivalent.Sub(snap.TheoreticalUSD)
		result.UsdEquivalent = &equivalent
		result.VarianceUSD = &variance
		result.EquivalentDefined = true
	}

	result.Classification = classify(result.VarianceUSD, result.VarianceCDF)
	return result
}

func classify(varianceUSD *decimal.Decimal, varianceCDF decimal.Decimal) Classification {
	variances := []decimal.Decimal{varianceCDF}
	if varianceUSD != nil {
		variances = append(variances, *varianceUSD)
	}
	balanced := true
	for _, v := range variances {
		if v.Sign() < 0 {
			return Shortfall
		}
		if !v.IsZero() {
			balanced = false
		}
	}
	if balanced {
		return Balanced
	}
	return Surplus
}
