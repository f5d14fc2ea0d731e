// Package closinghttp exposes the closing subsystem as a JSON API.
package closinghttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tresoria-erp/tresoria/internal/closing"
	"github.com/tresoria-erp/tresoria/internal/denomination"
	"github.com/tresoria-erp/tresoria/internal/ledger"
	"github.com/tresoria-erp/tresoria/internal/platform/httpx"
	"github.com/tresoria-erp/tresoria/internal/reconciliation"
	"github.com/tresoria-erp/tresoria/internal/shared"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerOperatorID     = "X-Operator-ID"

	maxUploadBytes = 10 << 20
)

type closingService interface {
	Balance(ctx context.Context) (ledger.BalanceSnapshot, error)
	Preview(ctx context.Context, in closing.CountInput) (reconciliation.Result, error)
	Submit(ctx context.Context, in closing.SubmitInput) (closing.Record, bool, error)
	List(ctx context.Context, filters closing.ListFilters) ([]closing.Record, shared.Pagination, error)
	Get(ctx context.Context, id int64) (closing.Record, error)
	ProofData(ctx context.Context, id int64) (closing.ProofData, error)
	AttachDocument(ctx context.Context, id int64, filename string, data []byte) (string, error)
	Document(ctx context.Context, id int64) ([]byte, string, error)
	Export(ctx context.Context, filters closing.ListFilters, w io.Writer) error
}

type catalog interface {
	Active(ctx context.Context) ([]denomination.Unit, error)
	All(ctx context.Context) ([]denomination.Unit, error)
}

// Handler wires the closing endpoints.
type Handler struct {
	logger   *slog.Logger
	service  closingService
	catalog  catalog
	validate *validator.Validate
	now      func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service closingService, catalog catalog) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		catalog:  catalog,
		validate: validator.New(),
		now:      time.Now,
	}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balance", h.balance)
	r.Get("/denominations", h.denominations)
	r.Route("/closings", func(r chi.Router) {
		r.Post("/", h.submit)
		r.Post("/preview", h.preview)
		r.Get("/", h.list)
		r.Get("/export", h.export)
		r.Get("/{id}", h.show)
		r.Get("/{id}/proof-data", h.proofData)
		r.Post("/{id}/document", h.uploadDocument)
		r.Get("/{id}/document", h.downloadDocument)
	})
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Balance(r.Context())
	if err != nil {
		h.logger.Error("fetch balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) denominations(w http.ResponseWriter, r *http.Request) {
	load := h.catalog.Active
	if r.URL.Query().Get("active") == "false" {
		load = h.catalog.All
	}
	units, err := load(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": units})
}

type countRequest struct {
	BreakdownUSD map[string]int64 `json:"denomination_breakdown_usd"`
	BreakdownCDF map[string]int64 `json:"denomination_breakdown_cdf"`
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var req countRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body is not valid JSON")
		return
	}
	result, err := h.service.Preview(r.Context(), closing.CountInput{
		BreakdownUSD: req.BreakdownUSD,
		BreakdownCDF: req.BreakdownCDF,
	})
	if err != nil {
		h.logger.Error("preview closing", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type submitRequest struct {
	BreakdownUSD map[string]int64 `json:"denomination_breakdown_usd"`
	BreakdownCDF map[string]int64 `json:"denomination_breakdown_cdf"`
	Observation  string           `json:"observation" validate:"max=2000"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	operatorID, err := operatorFromHeader(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req submitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	rec, replayed, err := h.service.Submit(r.Context(), closing.SubmitInput{
		CashierID:      operatorID,
		BreakdownUSD:   req.BreakdownUSD,
		BreakdownCDF:   req.BreakdownCDF,
		Observation:    req.Observation,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(headerIdempotencyKey)),
	})
	if err != nil {
		h.logger.Error("submit closing", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, map[string]any{"data": rec, "replayed": replayed})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, page, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list closings", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": records, "pagination": page})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rec})
}

func (h *Handler) proofData(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	data, err := h.service.ProofData(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, data)
}

func (h *Handler) uploadDocument(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "expected multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "could not read uploaded file")
		return
	}
	if len(data) > maxUploadBytes {
		httpx.Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", "proof document exceeds the upload limit")
		return
	}
	path, err := h.service.AttachDocument(r.Context(), id, header.Filename, data)
	if err != nil {
		h.logger.Error("attach proof document", slog.Int64("closing_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"pdf_path": path, "status": closing.StatusArchived})
}

func (h *Handler) downloadDocument(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	data, filename, err := h.service.Document(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Attachment(w, "application/pdf", filename, data)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := h.service.Export(r.Context(), filters, &buf); err != nil {
		h.logger.Error("export closings", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	filename := fmt.Sprintf("closing_%s.csv", h.now().UTC().Format("2006-01-02"))
	httpx.Attachment(w, "text/csv; charset=utf-8", filename, buf.Bytes())
}

func operatorFromHeader(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(headerOperatorID))
	if raw == "" {
		return 0, fmt.Errorf("%w: %s header required", shared.ErrValidation, headerOperatorID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s header must be a positive integer", shared.ErrValidation, headerOperatorID)
	}
	return id, nil
}

func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", shared.ErrValidation)
	}
	return id, nil
}

func parseFilters(r *http.Request) (closing.ListFilters, error) {
	var filters closing.ListFilters
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("date_from")); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filters, fmt.Errorf("%w: date_from must be YYYY-MM-DD", shared.ErrValidation)
		}
		filters.DateFrom = &t
	}
	if raw := strings.TrimSpace(q.Get("date_to")); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filters, fmt.Errorf("%w: date_to must be YYYY-MM-DD", shared.ErrValidation)
		}
		// Inclusive upper bound: the whole day belongs to the range.
		end := t.Add(24*time.Hour - time.Nanosecond)
		filters.DateTo = &end
	}
	if raw := strings.TrimSpace(q.Get("cashier_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return filters, fmt.Errorf("%w: cashier_id must be a positive integer", shared.ErrValidation)
		}
		filters.CashierID = &id
	}
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			filters.Limit = v
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			filters.Offset = v
		}
	}
	return filters, nil
}

func validationDetail(err error) string {
	var fields []string
	if errs, ok := err.(validator.ValidationErrors); ok {
		for _, fieldErr := range errs {
			fields = append(fields, fieldErr.Field())
		}
	}
	if len(fields) == 0 {
		return "request failed validation"
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}
