package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore persists processed keys together with the identifier of
// the record each key produced, so a replayed request can be answered with
// the original record instead of creating a duplicate.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// Reserve inserts the key inside the caller's transaction. A unique
// violation means the request was already processed.
func (s *IdempotencyStore) Reserve(ctx context.Context, tx pgx.Tx, key, module string, recordID int64) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO idempotency_keys (key, module, record_id, created_at) VALUES ($1, $2, $3, $4)`,
		key, module, recordID, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Lookup returns the record id previously bound to the key, if any.
func (s *IdempotencyStore) Lookup(ctx context.Context, key, module string) (int64, bool, error) {
	if s == nil || key == "" {
		return 0, false, nil
	}
	var recordID int64
	err := s.pool.QueryRow(ctx,
		`SELECT record_id FROM idempotency_keys WHERE key=$1 AND module=$2`,
		key, module).Scan(&recordID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return recordID, true, nil
}

// Cleanup removes entries created before the cutoff and reports how many
// rows were deleted.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
