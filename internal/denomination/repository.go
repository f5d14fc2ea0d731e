package denomination

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tresoria-erp/tresoria/internal/money"
)

// Repository loads the denomination catalog from postgres.
type Repository interface {
	List(ctx context.Context, activeOnly bool) ([]Unit, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// List returns catalog rows ordered per-currency by their configured order.
// Numeric values travel as text so no precision is lost.
func (r *repository) List(ctx context.Context, activeOnly bool) ([]Unit, error) {
	query := `SELECT id, currency, value::text, active, ordering
		FROM denominations`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY currency, ordering`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var (
			unit     Unit
			currency string
			value    string
		)
		if err := rows.Scan(&unit.ID, &currency, &value, &unit.Active, &unit.Ordering); err != nil {
			return nil, err
		}
		cur, err := money.ParseCurrency(currency)
		if err != nil {
			return nil, err
		}
		amount, err := money.ParseAmount(value)
		if err != nil {
			return nil, err
		}
		unit.Currency = cur
		unit.Value = amount
		units = append(units, unit)
	}
	return units, rows.Err()
}
