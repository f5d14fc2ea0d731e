package closing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tresoria-erp/tresoria/internal/denomination"
	"github.com/tresoria-erp/tresoria/internal/ledger"
	"github.com/tresoria-erp/tresoria/internal/reconciliation"
	"github.com/tresoria-erp/tresoria/internal/shared"
)

type mockRepository struct {
	records     map[int64]Record
	nextID      int64
	insertErr   error
	documents   map[int64][]byte
	movements   []LineItem
	previousAt  *time.Time
	insertCalls int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		records:   map[int64]Record{},
		documents: map[int64][]byte{},
		nextID:    1,
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (m *mockRepository) Insert(_ context.Context, _ pgx.Tx, rec Record) (Record, error) {
	m.insertCalls++
	if m.insertErr != nil {
		return Record{}, m.insertErr
	}
	rec.ID = m.nextID
	rec.Reference = fmt.Sprintf("CLO-%s-%04d", rec.ClosedAt.Format("200601"), m.nextID)
	rec.CreatedAt = rec.ClosedAt
	m.nextID++
	m.records[rec.ID] = rec
	return rec, nil
}

func (m *mockRepository) Get(_ context.Context, id int64) (Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (m *mockRepository) List(_ context.Context, filters ListFilters) ([]Record, int, error) {
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, len(out), nil
}

func (m *mockRepository) AttachDocument(_ context.Context, id int64, path, filename string, data []byte) error {
	rec, ok := m.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.PdfPath = &path
	rec.Status = StatusArchived
	m.records[id] = rec
	m.documents[id] = data
	return nil
}

func (m *mockRepository) Document(_ context.Context, id int64) ([]byte, string, error) {
	data, ok := m.documents[id]
	if !ok {
		return nil, "", ErrDocumentMissing
	}
	return data, "proof.pdf", nil
}

func (m *mockRepository) ListMovements(_ context.Context, from, to time.Time) ([]LineItem, error) {
	return m.movements, nil
}

func (m *mockRepository) PreviousClosedAt(_ context.Context, before time.Time) (*time.Time, error) {
	return m.previousAt, nil
}

type stubBalances struct {
	snap ledger.BalanceSnapshot
	err  error
}

func (s *stubBalances) Snapshot(context.Context) (ledger.BalanceSnapshot, error) {
	if s.err != nil {
		return ledger.BalanceSnapshot{}, s.err
	}
	return s.snap, nil
}

type stubCatalog struct{}

func (stubCatalog) Active(context.Context) ([]denomination.Unit, error) {
	return denomination.Fallback(), nil
}

type stubIdempotency struct {
	reservations map[string]int64
	reserveErr   error
}

func (s *stubIdempotency) Reserve(_ context.Context, _ pgx.Tx, key, module string, recordID int64) error {
	if s.reserveErr != nil {
		return s.reserveErr
	}
	if s.reservations == nil {
		s.reservations = map[string]int64{}
	}
	if _, exists := s.reservations[key]; exists {
		return shared.ErrIdempotencyConflict
	}
	s.reservations[key] = recordID
	return nil
}

func (s *stubIdempotency) Lookup(_ context.Context, key, module string) (int64, bool, error) {
	id, ok := s.reservations[key]
	return id, ok, nil
}

type captureAudit struct {
	logs []shared.AuditLog
}

func (c *captureAudit) Record(_ context.Context, log shared.AuditLog) error {
	c.logs = append(c.logs, log)
	return nil
}

type captureEnqueuer struct {
	ids []int64
}

func (c *captureEnqueuer) EnqueueProofArchive(_ context.Context, closingID int64) error {
	c.ids = append(c.ids, closingID)
	return nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testSnapshot() ledger.BalanceSnapshot {
	return ledger.BalanceSnapshot{
		ExchangeRate:   dec("2000"),
		OpeningUSD:     dec("200"),
		OpeningCDF:     dec("50000"),
		InflowsUSD:     dec("350"),
		InflowsCDF:     dec("350000"),
		OutflowsUSD:    dec("50"),
		OutflowsCDF:    dec("100000"),
		TheoreticalUSD: dec("500"),
		TheoreticalCDF: dec("300000"),
	}
}

func newTestService(repo Repository, balances BalanceProvider, idem IdempotencyStore) (*Service, *captureAudit, *captureEnqueuer) {
	audit := &captureAudit{}
	enq := &captureEnqueuer{}
	svc := NewService(repo, balances, stubCatalog{}, idem, audit, enq, slog.New(slog.DiscardHandler))
	svc.WithNow(func() time.Time {
		return time.Date(2026, 8, 31, 18, 0, 0, 0, time.UTC)
	})
	return svc, audit, enq
}

func TestSubmitHappyPath(t *testing.T) {
	repo := newMockRepository()
	svc, audit, enq := newTestService(repo, &stubBalances{snap: testSnapshot()}, &stubIdempotency{})

	rec, replayed, err := svc.Submit(context.Background(), SubmitInput{
		CashierID:      7,
		BreakdownUSD:   map[string]int64{"100": 3},
		BreakdownCDF:   map[string]int64{"20000": 20},
		Observation:    "RAS",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "CLO-202608-0001", rec.Reference)
	assert.Equal(t, StatusPendingProof, rec.Status)
	assert.True(t, rec.PhysicalUSD.Equal(dec("300")))
	assert.True(t, rec.PhysicalCDF.Equal(dec("400000")))
	require.NotNil(t, rec.UsdEquivalent)
	assert.True(t, rec.UsdEquivalent.Equal(dec("500")))
	require.NotNil(t, rec.VarianceUSD)
	assert.True(t, rec.VarianceUSD.IsZero())
	assert.True(t, rec.VarianceCDF.Equal(dec("100000")))
	assert.Equal(t, reconciliation.Surplus, rec.Classification)

	require.Len(t, audit.logs, 1)
	assert.Equal(t, "closing.submit", audit.logs[0].Action)
	assert.Equal(t, []int64{rec.ID}, enq.ids)
}

func TestSubmitEmptyDrawer(t *testing.T) {
	snap := testSnapshot()
	snap.TheoreticalUSD = dec("0")
	snap.TheoreticalCDF = dec("0")
	repo := newMockRepository()
	svc, _, _ := newTestService(repo, &stubBalances{snap: snap}, nil)

	rec, _, err := svc.Submit(context.Background(), SubmitInput{CashierID: 7})
	require.NoError(t, err)
	assert.Equal(t, reconciliation.Balanced, rec.Classification)
	assert.True(t, rec.PhysicalUSD.IsZero())
	assert.True(t, rec.PhysicalCDF.IsZero())
}

func TestSubmitReplaysIdempotentRetry(t *testing.T) {
	repo := newMockRepository()
	idem := &stubIdempotency{}
	svc, _, _ := newTestService(repo, &stubBalances{snap: testSnapshot()}, idem)

	in := SubmitInput{
		CashierID:      7,
		BreakdownUSD:   map[string]int64{"100": 3},
		IdempotencyKey: "key-retry",
	}
	first, replayed, err := svc.Submit(context.Background(), in)
	require.NoError(t, err)
	require.False(t, replayed)

	second, replayed, err := svc.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Reference, second.Reference)
	assert.Equal(t, 1, repo.insertCalls)
}

func TestSubmitUpstreamFailureCreatesNothing(t *testing.T) {
	repo := newMockRepository()
	svc, _, enq := newTestService(repo, &stubBalances{err: ledger.ErrUnavailable}, nil)

	_, _, err := svc.Submit(context.Background(), SubmitInput{CashierID: 7})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrUpstream)
	assert.Zero(t, repo.insertCalls)
	assert.Empty(t, enq.ids)
}

func TestSubmitValidation(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo, &stubBalances{snap: testSnapshot()}, nil)

	_, _, err := svc.Submit(context.Background(), SubmitInput{})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestSubmitInsertFailurePropagates(t *testing.T) {
	repo := newMockRepository()
	repo.insertErr = errors.New("boom")
	svc, audit, _ := newTestService(repo, &stubBalances{snap: testSnapshot()}, nil)

	_, _, err := svc.Submit(context.Background(), SubmitInput{CashierID: 7})
	require.Error(t, err)
	assert.Empty(t, audit.logs)
}

func TestPreviewDoesNotPersist(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo, &stubBalances{snap: testSnapshot()}, nil)

	result, err := svc.Preview(context.Background(), CountInput{
		BreakdownUSD: map[string]int64{"100": 2, "50": 1},
	})
	require.NoError(t, err)
	assert.True(t, result.PhysicalUSD.Equal(dec("250")))
	assert.Equal(t, reconciliation.Shortfall, result.Classification)
	assert.Zero(t, repo.insertCalls)
}

func TestAttachDocumentUnknownRecord(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo, &stubBalances{snap: testSnapshot()}, nil)

	_, err := svc.AttachDocument(context.Background(), 99, "proof.pdf", []byte("%PDF-1.7"))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAttachDocumentArchives(t *testing.T) {
	repo := newMockRepository()
	svc, audit, _ := newTestService(repo, &stubBalances{snap: testSnapshot()}, nil)

	rec, _, err := svc.Submit(context.Background(), SubmitInput{CashierID: 7})
	require.NoError(t, err)

	path, err := svc.AttachDocument(context.Background(), rec.ID, "", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, "closings/"+rec.Reference+".pdf", path)

	stored, err := svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, stored.Status)
	require.NotNil(t, stored.PdfPath)

	require.Len(t, audit.logs, 2)
	assert.Equal(t, "closing.archive_proof", audit.logs[1].Action)
}

func TestAttachDocumentRejectsEmptyPayload(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo, &stubBalances{snap: testSnapshot()}, nil)

	_, err := svc.AttachDocument(context.Background(), 1, "proof.pdf", nil)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestProofDataWindow(t *testing.T) {
	repo := newMockRepository()
	previous := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)
	repo.previousAt = &previous
	repo.movements = []LineItem{
		{Kind: MovementIn, Label: "Cotisation", AmountUSD: dec("40")},
		{Kind: MovementOut, Label: "Fournitures", AmountCDF: dec("15000")},
	}
	svc, _, _ := newTestService(repo, &stubBalances{snap: testSnapshot()}, nil)

	rec, _, err := svc.Submit(context.Background(), SubmitInput{CashierID: 7})
	require.NoError(t, err)

	data, err := svc.ProofData(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Reference, data.Record.Reference)
	assert.Len(t, data.LineItems, 2)
}

func TestExportIsByteStable(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo, &stubBalances{snap: testSnapshot()}, nil)

	_, _, err := svc.Submit(context.Background(), SubmitInput{
		CashierID:    7,
		BreakdownUSD: map[string]int64{"100": 3},
		BreakdownCDF: map[string]int64{"20000": 20},
	})
	require.NoError(t, err)

	var first, second bytes.Buffer
	require.NoError(t, svc.Export(context.Background(), ListFilters{}, &first))
	require.NoError(t, svc.Export(context.Background(), ListFilters{}, &second))
	assert.Equal(t, first.Bytes(), second.Bytes())
	assert.Contains(t, first.String(), "Reference")
	assert.Contains(t, first.String(), "CLO-202608-0001")
	assert.Contains(t, first.String(), "\r\n")
}
