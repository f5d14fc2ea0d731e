package closing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tresoria-erp/tresoria/internal/billetage"
	"github.com/tresoria-erp/tresoria/internal/denomination"
	"github.com/tresoria-erp/tresoria/internal/ledger"
	"github.com/tresoria-erp/tresoria/internal/money"
	"github.com/tresoria-erp/tresoria/internal/reconciliation"
	"github.com/tresoria-erp/tresoria/internal/shared"
)

const idempotencyModule = "closing"

// BalanceProvider supplies the theoretical ledger snapshot.
type BalanceProvider interface {
	Snapshot(ctx context.Context) (ledger.BalanceSnapshot, error)
}

// Catalog supplies the active denomination units.
type Catalog interface {
	Active(ctx context.Context) ([]denomination.Unit, error)
}

// IdempotencyStore guards submit against duplicate creation.
type IdempotencyStore interface {
	Reserve(ctx context.Context, tx pgx.Tx, key, module string, recordID int64) error
	Lookup(ctx context.Context, key, module string) (int64, bool, error)
}

// AuditRecorder persists audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ProofEnqueuer schedules background proof archival for a record.
type ProofEnqueuer interface {
	EnqueueProofArchive(ctx context.Context, closingID int64) error
}

// Service orchestrates the closing lifecycle.
type Service struct {
	repo     Repository
	balances BalanceProvider
	catalog  Catalog
	idem     IdempotencyStore
	audit    AuditRecorder
	enqueuer ProofEnqueuer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service. Idempotency store, audit recorder and
// enqueuer are optional.
func NewService(repo Repository, balances BalanceProvider, catalog Catalog, idem IdempotencyStore, audit AuditRecorder, enqueuer ProofEnqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		balances: balances,
		catalog:  catalog,
		idem:     idem,
		audit:    audit,
		enqueuer: enqueuer,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Balance returns the current theoretical snapshot for display.
func (s *Service) Balance(ctx context.Context) (ledger.BalanceSnapshot, error) {
	snap, err := s.balances.Snapshot(ctx)
	if err != nil {
		return ledger.BalanceSnapshot{}, fmt.Errorf("%w: %v", shared.ErrUpstream, err)
	}
	return snap, nil
}

// Preview reconciles the given counts against the current snapshot without
// persisting anything. This is the computation re-run on every count edit.
func (s *Service) Preview(ctx context.Context, in CountInput) (reconciliation.Result, error) {
	snap, err := s.Balance(ctx)
	if err != nil {
		return reconciliation.Result{}, err
	}
	sheet, err := s.buildSheet(ctx, in.BreakdownUSD, in.BreakdownCDF)
	if err != nil {
		return reconciliation.Result{}, err
	}
	return reconciliation.Compute(snap, sheet), nil
}

// Submit finalizes a closing: it reconciles the counts, writes the immutable
// record, and schedules proof archival. When an idempotency key is supplied
// and was already processed, the original record is returned with replayed
// set to true and nothing new is created.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Record, bool, error) {
	if err := in.Validate(); err != nil {
		return Record{}, false, err
	}

	if rec, ok, err := s.replay(ctx, in.IdempotencyKey); err != nil || ok {
		return rec, ok, err
	}

	snap, err := s.Balance(ctx)
	if err != nil {
		return Record{}, false, err
	}
	sheet, err := s.buildSheet(ctx, in.BreakdownUSD, in.BreakdownCDF)
	if err != nil {
		return Record{}, false, err
	}
	result := reconciliation.Compute(snap, sheet)

	rec := Record{
		ClosedAt:       s.now(),
		CashierID:      in.CashierID,
		ExchangeRate:   snap.ExchangeRate,
		OpeningUSD:     snap.OpeningUSD,
		OpeningCDF:     snap.OpeningCDF,
		InflowsUSD:     snap.InflowsUSD,
		InflowsCDF:     snap.InflowsCDF,
		OutflowsUSD:    snap.OutflowsUSD,
		OutflowsCDF:    snap.OutflowsCDF,
		TheoreticalUSD: snap.TheoreticalUSD,
		TheoreticalCDF: snap.TheoreticalCDF,
		PhysicalUSD:    result.PhysicalUSD,
		PhysicalCDF:    result.PhysicalCDF,
		UsdEquivalent:  result.UsdEquivalent,
		VarianceUSD:    result.VarianceUSD,
		VarianceCDF:    result.VarianceCDF,
		Classification: result.Classification,
		BreakdownUSD:   sheet.Breakdown(money.USD),
		BreakdownCDF:   sheet.Breakdown(money.CDF),
		Observation:    in.Observation,
		Status:         StatusPendingProof,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		inserted, err := s.repo.Insert(ctx, tx, rec)
		if err != nil {
			return err
		}
		rec = inserted
		if in.IdempotencyKey != "" && s.idem != nil {
			return s.idem.Reserve(ctx, tx, in.IdempotencyKey, idempotencyModule, rec.ID)
		}
		return nil
	})
	if err != nil {
		// Lost the race against a concurrent retry with the same key: the
		// other attempt's record is the authoritative one.
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			if rec, ok, lookupErr := s.replay(ctx, in.IdempotencyKey); lookupErr == nil && ok {
				return rec, true, nil
			}
		}
		return Record{}, false, err
	}

	s.recordAudit(ctx, rec, "closing.submit")
	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueProofArchive(ctx, rec.ID); err != nil {
			s.logger.Warn("enqueue proof archive", slog.Int64("closing_id", rec.ID), slog.Any("error", err))
		}
	}
	return rec, false, nil
}

// List returns a page of closing history, most recent first.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Record, shared.Pagination, error) {
	filters = filters.Normalize()
	records, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return records, shared.NewPagination(filters.Limit, filters.Offset, total), nil
}

// Get loads one record.
func (s *Service) Get(ctx context.Context, id int64) (Record, error) {
	return s.repo.Get(ctx, id)
}

// ProofData assembles a record with the drawer movements it covers, the
// window running from the previous closing (exclusive) to this one.
func (s *Service) ProofData(ctx context.Context, id int64) (ProofData, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return ProofData{}, err
	}
	var from time.Time
	previous, err := s.repo.PreviousClosedAt(ctx, rec.ClosedAt)
	if err != nil {
		return ProofData{}, err
	}
	if previous != nil {
		from = *previous
	}
	items, err := s.repo.ListMovements(ctx, from, rec.ClosedAt)
	if err != nil {
		return ProofData{}, err
	}
	return ProofData{Record: rec, LineItems: items}, nil
}

// AttachDocument archives a rendered proof against the record. The record
// must already exist; archival is retry-able independently of submission.
func (s *Service) AttachDocument(ctx context.Context, id int64, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty document", shared.ErrValidation)
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if filename == "" {
		filename = rec.Reference + ".pdf"
	}
	path := "closings/" + rec.Reference + ".pdf"
	if err := s.repo.AttachDocument(ctx, id, path, filename, data); err != nil {
		return "", err
	}
	s.recordAudit(ctx, rec, "closing.archive_proof")
	return path, nil
}

// Document retrieves a previously archived proof.
func (s *Service) Document(ctx context.Context, id int64) ([]byte, string, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, "", err
	}
	return s.repo.Document(ctx, id)
}

// exportLimit bounds the server-side spreadsheet export.
const exportLimit = 1000

// Export streams the filtered history as the delimited export artifact.
// Output is byte-for-byte stable for identical data.
func (s *Service) Export(ctx context.Context, filters ListFilters, w io.Writer) error {
	filters = filters.Normalize()
	filters.Limit = exportLimit
	filters.Offset = 0
	records, _, err := s.repo.List(ctx, filters)
	if err != nil {
		return err
	}
	return WriteHistoryCSV(w, records)
}

func (s *Service) replay(ctx context.Context, key string) (Record, bool, error) {
	if key == "" || s.idem == nil {
		return Record{}, false, nil
	}
	recordID, found, err := s.idem.Lookup(ctx, key, idempotencyModule)
	if err != nil || !found {
		return Record{}, false, err
	}
	rec, err := s.repo.Get(ctx, recordID)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *Service) buildSheet(ctx context.Context, usd, cdf map[string]int64) (billetage.CountSheet, error) {
	units, err := s.catalog.Active(ctx)
	if err != nil {
		return billetage.CountSheet{}, fmt.Errorf("%w: %v", shared.ErrUpstream, err)
	}
	sheet := billetage.FromBreakdown(usd, cdf)
	return sheet.Restrict(denomination.AllowedValues(units)), nil
}

func (s *Service) recordAudit(ctx context.Context, rec Record, action string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  rec.CashierID,
		Action:   action,
		Entity:   "closing",
		EntityID: rec.Reference,
		Meta: map[string]any{
			"classification": string(rec.Classification),
			"physical_usd":   rec.PhysicalUSD.String(),
			"physical_cdf":   rec.PhysicalCDF.String(),
		},
	})
	if err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
