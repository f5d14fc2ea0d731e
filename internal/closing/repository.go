package closing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tresoria-erp/tresoria/internal/platform/db"
	"github.com/tresoria-erp/tresoria/internal/reconciliation"
)

// Repository persists closing records and their proof documents.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
	Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	Get(ctx context.Context, id int64) (Record, error)
	List(ctx context.Context, filters ListFilters) ([]Record, int, error)
	AttachDocument(ctx context.Context, id int64, path, filename string, data []byte) error
	Document(ctx context.Context, id int64) ([]byte, string, error)
	ListMovements(ctx context.Context, from, to time.Time) ([]LineItem, error)
	PreviousClosedAt(ctx context.Context, before time.Time) (*time.Time, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("closing: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}

const recordColumns = `id, reference, closed_at, cashier_id,
	exchange_rate::text,
	opening_usd::text, opening_cdf::text,
	inflows_usd::text, inflows_cdf::text,
	outflows_usd::text, outflows_cdf::text,
	theoretical_usd::text, theoretical_cdf::text,
	physical_usd::text, physical_cdf::text,
	usd_equivalent::text, variance_usd::text, variance_cdf::text,
	classification, breakdown_usd, breakdown_cdf,
	observation, status, pdf_path, created_at`

// Insert creates the immutable record row. The human-readable reference is
// generated here from a dedicated sequence, e.g. CLO-202608-0042.
func (r *repository) Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('closing_reference_seq')`).Scan(&seq); err != nil {
		return Record{}, err
	}
	rec.Reference = fmt.Sprintf("CLO-%s-%04d", rec.ClosedAt.Format("200601"), seq)

	breakdownUSD, err := json.Marshal(rec.BreakdownUSD)
	if err != nil {
		return Record{}, err
	}
	breakdownCDF, err := json.Marshal(rec.BreakdownCDF)
	if err != nil {
		return Record{}, err
	}

	err = tx.QueryRow(ctx, `INSERT INTO closings (
			reference, closed_at, cashier_id, exchange_rate,
			opening_usd, opening_cdf, inflows_usd, inflows_cdf,
			outflows_usd, outflows_cdf, theoretical_usd, theoretical_cdf,
			physical_usd, physical_cdf, usd_equivalent, variance_usd, variance_cdf,
			classification, breakdown_usd, breakdown_cdf, observation, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		RETURNING id, created_at`,
		rec.Reference, rec.ClosedAt, rec.CashierID, rec.ExchangeRate.String(),
		rec.OpeningUSD.String(), rec.OpeningCDF.String(),
		rec.InflowsUSD.String(), rec.InflowsCDF.String(),
		rec.OutflowsUSD.String(), rec.OutflowsCDF.String(),
		rec.TheoreticalUSD.String(), rec.TheoreticalCDF.String(),
		rec.PhysicalUSD.String(), rec.PhysicalCDF.String(),
		decimalPtrToText(rec.UsdEquivalent), decimalPtrToText(rec.VarianceUSD),
		rec.VarianceCDF.String(),
		string(rec.Classification), breakdownUSD, breakdownCDF,
		rec.Observation, string(rec.Status),
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Get fetches one record by id.
func (r *repository) Get(ctx context.Context, id int64) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM closings WHERE id=$1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// List returns records most recent first, applying the dynamic filter set.
func (r *repository) List(ctx context.Context, filters ListFilters) ([]Record, int, error) {
	filters = filters.Normalize()

	where := ` WHERE 1=1`
	args := []any{}
	argCount := 0
	if filters.DateFrom != nil {
		argCount++
		where += ` AND closed_at >= $` + strconv.Itoa(argCount)
		args = append(args, *filters.DateFrom)
	}
	if filters.DateTo != nil {
		argCount++
		where += ` AND closed_at <= $` + strconv.Itoa(argCount)
		args = append(args, *filters.DateTo)
	}
	if filters.CashierID != nil {
		argCount++
		where += ` AND cashier_id = $` + strconv.Itoa(argCount)
		args = append(args, *filters.CashierID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM closings`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + recordColumns + ` FROM closings` + where + ` ORDER BY closed_at DESC, id DESC`
	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, filters.Limit)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	args = append(args, filters.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// AttachDocument stores the rendered proof and flips the record to ARCHIVED.
// Re-uploading replaces the stored document; the transition is idempotent.
func (r *repository) AttachDocument(ctx context.Context, id int64, path, filename string, data []byte) error {
	return r.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE closings SET pdf_path=$2, status=$3 WHERE id=$1`,
			id, path, string(StatusArchived))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrRecordNotFound
		}
		_, err = tx.Exec(ctx, `INSERT INTO closing_documents (closing_id, filename, content, uploaded_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (closing_id) DO UPDATE SET filename=EXCLUDED.filename, content=EXCLUDED.content, uploaded_at=NOW()`,
			id, filename, data)
		return err
	})
}

// Document retrieves the archived proof bytes and filename.
func (r *repository) Document(ctx context.Context, id int64) ([]byte, string, error) {
	var (
		content  []byte
		filename string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT content, filename FROM closing_documents WHERE closing_id=$1`, id).
		Scan(&content, &filename)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrDocumentMissing
		}
		return nil, "", err
	}
	return content, filename, nil
}

// ListMovements returns the drawer transactions in (from, to], oldest first,
// the constituent lines of a proof document.
func (r *repository) ListMovements(ctx context.Context, from, to time.Time) ([]LineItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, occurred_at, kind, label, reference, amount_usd::text, amount_cdf::text
		 FROM cash_movements
		 WHERE occurred_at > $1 AND occurred_at <= $2
		 ORDER BY occurred_at, id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var (
			item     LineItem
			kind     string
			usd, cdf string
		)
		if err := rows.Scan(&item.ID, &item.OccurredAt, &kind, &item.Label, &item.Reference, &usd, &cdf); err != nil {
			return nil, err
		}
		item.Kind = MovementKind(kind)
		if item.AmountUSD, err = decimal.NewFromString(usd); err != nil {
			return nil, err
		}
		if item.AmountCDF, err = decimal.NewFromString(cdf); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// PreviousClosedAt returns the closing timestamp immediately before the
// given instant, nil when this is the first closing.
func (r *repository) PreviousClosedAt(ctx context.Context, before time.Time) (*time.Time, error) {
	var at time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT closed_at FROM closings WHERE closed_at < $1 ORDER BY closed_at DESC LIMIT 1`,
		before).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &at, nil
}

// Scanning helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec                            Record
		exchangeRate                   string
		openingUSD, openingCDF         string
		inflowsUSD, inflowsCDF         string
		outflowsUSD, outflowsCDF       string
		theoreticalUSD, theoreticalCDF string
		physicalUSD, physicalCDF       string
		usdEquivalent, varianceUSD     *string
		varianceCDF                    string
		classification, status         string
		breakdownUSD, breakdownCDF     []byte
	)
	err := row.Scan(&rec.ID, &rec.Reference, &rec.ClosedAt, &rec.CashierID,
		&exchangeRate,
		&openingUSD, &openingCDF,
		&inflowsUSD, &inflowsCDF,
		&outflowsUSD, &outflowsCDF,
		&theoreticalUSD, &theoreticalCDF,
		&physicalUSD, &physicalCDF,
		&usdEquivalent, &varianceUSD, &varianceCDF,
		&classification, &breakdownUSD, &breakdownCDF,
		&rec.Observation, &status, &rec.PdfPath, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}

	fields := []struct {
		raw    string
		target *decimal.Decimal
	}{
		{exchangeRate, &rec.ExchangeRate},
		{openingUSD, &rec.OpeningUSD},
		{openingCDF, &rec.OpeningCDF},
		{inflowsUSD, &rec.InflowsUSD},
		{inflowsCDF, &rec.InflowsCDF},
		{outflowsUSD, &rec.OutflowsUSD},
		{outflowsCDF, &rec.OutflowsCDF},
		{theoreticalUSD, &rec.TheoreticalUSD},
		{theoreticalCDF, &rec.TheoreticalCDF},
		{physicalUSD, &rec.PhysicalUSD},
		{physicalCDF, &rec.PhysicalCDF},
		{varianceCDF, &rec.VarianceCDF},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return Record{}, err
		}
		*f.target = v
	}
	if rec.UsdEquivalent, err = decimalFromTextPtr(usdEquivalent); err != nil {
		return Record{}, err
	}
	if rec.VarianceUSD, err = decimalFromTextPtr(varianceUSD); err != nil {
		return Record{}, err
	}

	rec.Classification = reconciliation.Classification(classification)
	rec.Status = Status(status)
	if len(breakdownUSD) > 0 {
		if err := json.Unmarshal(breakdownUSD, &rec.BreakdownUSD); err != nil {
			return Record{}, fmt.Errorf("decode usd breakdown: %w", err)
		}
	}
	if len(breakdownCDF) > 0 {
		if err := json.Unmarshal(breakdownCDF, &rec.BreakdownCDF); err != nil {
			return Record{}, fmt.Errorf("decode cdf breakdown: %w", err)
		}
	}
	return rec, nil
}

func decimalPtrToText(v *decimal.Decimal) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func decimalFromTextPtr(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	v, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
