package closinghttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tresoria-erp/tresoria/internal/closing"
	"github.com/tresoria-erp/tresoria/internal/denomination"
	"github.com/tresoria-erp/tresoria/internal/ledger"
	"github.com/tresoria-erp/tresoria/internal/reconciliation"
	"github.com/tresoria-erp/tresoria/internal/shared"
	_ "github.com/tresoria-erp/tresoria/testing"
)

type stubService struct {
	submitRecord   closing.Record
	submitReplayed bool
	submitErr      error
	submitInput    closing.SubmitInput

	records     []closing.Record
	listFilters closing.ListFilters

	document []byte
	docErr   error

	exportBody string
}

func (s *stubService) Balance(context.Context) (ledger.BalanceSnapshot, error) {
	return ledger.BalanceSnapshot{ExchangeRate: decimal.NewFromInt(2000)}, nil
}

func (s *stubService) Preview(_ context.Context, in closing.CountInput) (reconciliation.Result, error) {
	return reconciliation.Result{Classification: reconciliation.Balanced}, nil
}

func (s *stubService) Submit(_ context.Context, in closing.SubmitInput) (closing.Record, bool, error) {
	s.submitInput = in
	return s.submitRecord, s.submitReplayed, s.submitErr
}

func (s *stubService) List(_ context.Context, filters closing.ListFilters) ([]closing.Record, shared.Pagination, error) {
	s.listFilters = filters
	return s.records, shared.NewPagination(20, 0, len(s.records)), nil
}

func (s *stubService) Get(_ context.Context, id int64) (closing.Record, error) {
	for _, rec := range s.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return closing.Record{}, closing.ErrRecordNotFound
}

func (s *stubService) ProofData(_ context.Context, id int64) (closing.ProofData, error) {
	rec, err := s.Get(context.Background(), id)
	if err != nil {
		return closing.ProofData{}, err
	}
	return closing.ProofData{Record: rec}, nil
}

func (s *stubService) AttachDocument(_ context.Context, id int64, filename string, data []byte) (string, error) {
	if _, err := s.Get(context.Background(), id); err != nil {
		return "", err
	}
	s.document = data
	return "closings/CLO-202608-0001.pdf", nil
}

func (s *stubService) Document(_ context.Context, id int64) ([]byte, string, error) {
	if s.docErr != nil {
		return nil, "", s.docErr
	}
	return s.document, "CLO-202608-0001.pdf", nil
}

func (s *stubService) Export(_ context.Context, _ closing.ListFilters, w io.Writer) error {
	_, err := io.WriteString(w, s.exportBody)
	return err
}

type stubCatalog struct {
	activeCalls int
	allCalls    int
}

func (c *stubCatalog) Active(context.Context) ([]denomination.Unit, error) {
	c.activeCalls++
	return denomination.Fallback(), nil
}

func (c *stubCatalog) All(context.Context) ([]denomination.Unit, error) {
	c.allCalls++
	return denomination.Fallback(), nil
}

func newTestRouter(svc *stubService) (http.Handler, *Handler) {
	h := NewHandler(slog.New(slog.DiscardHandler), svc, &stubCatalog{})
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r, h
}

func sampleRecord() closing.Record {
	return closing.Record{
		ID:             1,
		Reference:      "CLO-202608-0001",
		ClosedAt:       time.Date(2026, 8, 31, 18, 0, 0, 0, time.UTC),
		CashierID:      7,
		ExchangeRate:   decimal.NewFromInt(2000),
		Classification: reconciliation.Balanced,
		Status:         closing.StatusPendingProof,
	}
}

func TestSubmitCreated(t *testing.T) {
	svc := &stubService{submitRecord: sampleRecord()}
	router, _ := newTestRouter(svc)

	body := `{"denomination_breakdown_usd":{"100":3},"observation":"RAS"}`
	req := httptest.NewRequest(http.MethodPost, "/closings/", strings.NewReader(body))
	req.Header.Set(headerOperatorID, "7")
	req.Header.Set(headerIdempotencyKey, "key-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(7), svc.submitInput.CashierID)
	assert.Equal(t, "key-1", svc.submitInput.IdempotencyKey)

	var payload struct {
		Replayed bool `json:"replayed"`
		Data     struct {
			Reference string `json:"reference_numero"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.False(t, payload.Replayed)
	assert.Equal(t, "CLO-202608-0001", payload.Data.Reference)
}

func TestSubmitReplayedReturnsOK(t *testing.T) {
	svc := &stubService{submitRecord: sampleRecord(), submitReplayed: true}
	router, _ := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/closings/", strings.NewReader(`{}`))
	req.Header.Set(headerOperatorID, "7")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitRequiresOperatorHeader(t *testing.T) {
	svc := &stubService{}
	router, _ := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/closings/", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), headerOperatorID)
}

func TestSubmitRejectsOversizedObservation(t *testing.T) {
	svc := &stubService{}
	router, _ := newTestRouter(svc)

	body, err := json.Marshal(map[string]any{"observation": strings.Repeat("x", 2001)})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/closings/", bytes.NewReader(body))
	req.Header.Set(headerOperatorID, "7")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRejectsMalformedDate(t *testing.T) {
	svc := &stubService{}
	router, _ := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/closings/?date_from=31-08-2026", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPassesFilters(t *testing.T) {
	svc := &stubService{records: []closing.Record{sampleRecord()}}
	router, _ := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/closings/?date_from=2026-08-01&date_to=2026-08-31&cashier_id=7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.listFilters.DateFrom)
	require.NotNil(t, svc.listFilters.DateTo)
	assert.True(t, svc.listFilters.DateTo.After(*svc.listFilters.DateFrom))
	require.NotNil(t, svc.listFilters.CashierID)
	assert.Equal(t, int64(7), *svc.listFilters.CashierID)
}

func TestDenominationsDefaultsToActive(t *testing.T) {
	cat := &stubCatalog{}
	h := NewHandler(slog.New(slog.DiscardHandler), &stubService{}, cat)
	r := chi.NewRouter()
	h.MountRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/denominations?active=true", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, cat.activeCalls)
	assert.Zero(t, cat.allCalls)
}

func TestDenominationsFullCatalog(t *testing.T) {
	cat := &stubCatalog{}
	h := NewHandler(slog.New(slog.DiscardHandler), &stubService{}, cat)
	r := chi.NewRouter()
	h.MountRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/denominations?active=false", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, cat.allCalls)
	assert.Zero(t, cat.activeCalls)
}

func TestShowUnknownRecord(t *testing.T) {
	svc := &stubService{}
	router, _ := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/closings/42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestUploadDocument(t *testing.T) {
	svc := &stubService{records: []closing.Record{sampleRecord()}}
	router, _ := newTestRouter(svc)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "proof.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.7 proof"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/closings/1/document", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte("%PDF-1.7 proof"), svc.document)
	assert.Contains(t, rec.Body.String(), "ARCHIVED")
}

func TestUploadDocumentRequiresFile(t *testing.T) {
	svc := &stubService{records: []closing.Record{sampleRecord()}}
	router, _ := newTestRouter(svc)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("note", "missing file"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/closings/1/document", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadDocumentMissing(t *testing.T) {
	svc := &stubService{docErr: closing.ErrDocumentMissing}
	router, _ := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/closings/1/document", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportAttachment(t *testing.T) {
	svc := &stubService{exportBody: "Reference\r\n"}
	router, h := newTestRouter(svc)
	h.now = func() time.Time {
		return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	}

	req := httptest.NewRequest(http.MethodGet, "/closings/export", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="closing_2026-08-31.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "Reference\r\n", rec.Body.String())
}
