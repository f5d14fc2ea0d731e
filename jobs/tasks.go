// Package jobs defines the background task types and the Asynq worker that
// processes them.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tresoria-erp/tresoria/internal/closing"
	"github.com/tresoria-erp/tresoria/internal/proof"
	"github.com/tresoria-erp/tresoria/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskProofArchive renders and archives the proof document of a closing.
	TaskProofArchive = "proof:archive"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ProofArchivePayload identifies the closing to archive.
type ProofArchivePayload struct {
	ClosingID int64 `json:"closing_id"`
}

// NewProofArchiveTask constructs an Asynq task for proof archival.
func NewProofArchiveTask(closingID int64) (*asynq.Task, error) {
	body, err := json.Marshal(ProofArchivePayload{ClosingID: closingID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProofArchive, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// ProofService is the slice of the closing service the archiver needs.
type ProofService interface {
	ProofData(ctx context.Context, id int64) (closing.ProofData, error)
	AttachDocument(ctx context.Context, id int64, filename string, data []byte) (string, error)
}

// ProofArchiver renders the proof PDF for a closing and attaches it.
type ProofArchiver struct {
	service   ProofService
	generator *proof.Generator
	logger    *slog.Logger
}

// NewProofArchiver constructs a ProofArchiver.
func NewProofArchiver(service ProofService, generator *proof.Generator, logger *slog.Logger) *ProofArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProofArchiver{service: service, generator: generator, logger: logger}
}

// Handle processes TaskProofArchive tasks. A record that is already archived
// is left alone: a manually uploaded proof must never be replaced by the
// server render.
func (a *ProofArchiver) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ProofArchivePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	data, err := a.service.ProofData(ctx, payload.ClosingID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			a.logger.Warn("proof archive for unknown closing", slog.Int64("closing_id", payload.ClosingID))
			return asynq.SkipRetry
		}
		return err
	}
	if data.Record.Status == closing.StatusArchived {
		a.logger.Info("proof already archived, skipping render", slog.Int64("closing_id", payload.ClosingID))
		return nil
	}
	pdf, err := a.generator.Closing(ctx, data)
	if err != nil {
		return fmt.Errorf("render proof for closing %d: %w", payload.ClosingID, err)
	}
	path, err := a.service.AttachDocument(ctx, payload.ClosingID, data.Record.Reference+".pdf", pdf)
	if err != nil {
		return fmt.Errorf("attach proof for closing %d: %w", payload.ClosingID, err)
	}
	a.logger.Info("proof archived",
		slog.Int64("closing_id", payload.ClosingID),
		slog.String("path", path))
	return nil
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

const defaultIdempotencyRetention = 48 * time.Hour

// NewIdempotencyCleanupTask constructs the scheduled cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	if retention <= 0 {
		retention = defaultIdempotencyRetention
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// KeyCleaner removes idempotency keys older than the cutoff.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}

// IdempotencyCleaner handles TaskIdempotencyCleanup tasks.
type IdempotencyCleaner struct {
	store  KeyCleaner
	logger *slog.Logger
	now    func() time.Time
}

// NewIdempotencyCleaner constructs an IdempotencyCleaner.
func NewIdempotencyCleaner(store KeyCleaner, logger *slog.Logger) *IdempotencyCleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleaner{store: store, logger: logger, now: time.Now}
}

// Handle purges keys past the retention window.
func (c *IdempotencyCleaner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := time.Duration(payload.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = defaultIdempotencyRetention
	}
	removed, err := c.store.Cleanup(ctx, c.now().Add(-retention))
	if err != nil {
		return err
	}
	c.logger.Info("idempotency keys purged", slog.Int64("removed", removed))
	return nil
}
