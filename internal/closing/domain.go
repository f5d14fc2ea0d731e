// Package closing owns the cash drawer closing lifecycle: submitting a
// reconciled count as an immutable record, listing history, and the proof
// document handshake.
package closing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tresoria-erp/tresoria/internal/reconciliation"
	"github.com/tresoria-erp/tresoria/internal/shared"
)

// Status captures the two-phase lifecycle of a closing record. A closing is
// complete as soon as it is created; it is archived only once its proof
// document has been attached.
type Status string

const (
	// StatusPendingProof means the record exists but no proof document has
	// been attached yet.
	StatusPendingProof Status = "PENDING_PROOF"
	// StatusArchived means the proof document is stored against the record.
	StatusArchived Status = "ARCHIVED"
)

// Record is a finalized closing. Immutable once created, except for the
// single archival transition that sets PdfPath.
type Record struct {
	ID        int64     `json:"id"`
	Reference string    `json:"reference_numero"`
	ClosedAt  time.Time `json:"date_cloture"`
	CashierID int64     `json:"caissier_id"`

	ExchangeRate   decimal.Decimal `json:"exchange_rate_applied"`
	OpeningUSD     decimal.Decimal `json:"opening_usd"`
	OpeningCDF     decimal.Decimal `json:"opening_cdf"`
	InflowsUSD     decimal.Decimal `json:"inflows_usd"`
	InflowsCDF     decimal.Decimal `json:"inflows_cdf"`
	OutflowsUSD    decimal.Decimal `json:"outflows_usd"`
	OutflowsCDF    decimal.Decimal `json:"outflows_cdf"`
	TheoreticalUSD decimal.Decimal `json:"theoretical_usd"`
	TheoreticalCDF decimal.Decimal `json:"theoretical_cdf"`

	PhysicalUSD   decimal.Decimal  `json:"physical_usd"`
	PhysicalCDF   decimal.Decimal  `json:"physical_cdf"`
	UsdEquivalent *decimal.Decimal `json:"physical_usd_equivalent,omitempty"`
	VarianceUSD   *decimal.Decimal `json:"variance_usd,omitempty"`
	VarianceCDF   decimal.Decimal  `json:"variance_cdf"`

	Classification reconciliation.Classification `json:"classification"`

	BreakdownUSD map[string]int64 `json:"denomination_breakdown_usd"`
	BreakdownCDF map[string]int64 `json:"denomination_breakdown_cdf"`

	Observation string    `json:"observation,omitempty"`
	Status      Status    `json:"status"`
	PdfPath     *string   `json:"pdf_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CountInput carries the raw operator counts for a preview computation.
type CountInput struct {
	BreakdownUSD map[string]int64 `json:"denomination_breakdown_usd"`
	BreakdownCDF map[string]int64 `json:"denomination_breakdown_cdf"`
}

// SubmitInput carries everything needed to finalize a closing. Zero counts
// are legitimate: an empty drawer closes like any other.
type SubmitInput struct {
	CashierID      int64
	BreakdownUSD   map[string]int64
	BreakdownCDF   map[string]int64
	Observation    string
	IdempotencyKey string
}

const observationMaxLen = 2000

// Validate ensures the submit input is coherent. Counts are not validated
// here: negative quantities are clamped and unknown denominations ignored.
func (in SubmitInput) Validate() error {
	if in.CashierID == 0 {
		return fmt.Errorf("%w: cashier required", shared.ErrValidation)
	}
	if len(in.Observation) > observationMaxLen {
		return fmt.Errorf("%w: observation exceeds %d characters", shared.ErrValidation, observationMaxLen)
	}
	return nil
}

// ListFilters narrows the closing history. A new filter replaces the prior
// one; filters never merge.
type ListFilters struct {
	DateFrom  *time.Time
	DateTo    *time.Time
	CashierID *int64
	Limit     int
	Offset    int
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Normalize clamps paging parameters to safe bounds.
func (f ListFilters) Normalize() ListFilters {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// MovementKind distinguishes drawer inflows from disbursements.
type MovementKind string

const (
	// MovementIn is an encaissement.
	MovementIn MovementKind = "ENCAISSEMENT"
	// MovementOut is a décaissement.
	MovementOut MovementKind = "DECAISSEMENT"
)

// LineItem is one constituent transaction shown in the proof document body.
type LineItem struct {
	ID         int64           `json:"id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Kind       MovementKind    `json:"kind"`
	Label      string          `json:"label"`
	Reference  string          `json:"reference"`
	AmountUSD  decimal.Decimal `json:"amount_usd"`
	AmountCDF  decimal.Decimal `json:"amount_cdf"`
}

// ProofData bundles a record with the transactions it covers, the input to
// the proof document generator.
type ProofData struct {
	Record    Record     `json:"record"`
	LineItems []LineItem `json:"line_items"`
}

// ErrRecordNotFound indicates an unknown closing record id.
var ErrRecordNotFound = fmt.Errorf("closing record %w", shared.ErrNotFound)

// ErrDocumentMissing indicates the record exists but no proof is archived.
var ErrDocumentMissing = fmt.Errorf("proof document %w", shared.ErrNotFound)
