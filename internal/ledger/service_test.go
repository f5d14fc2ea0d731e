package ledger

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/tresoria-erp/tresoria/testing"
)

type countingFetcher struct {
	mu    sync.Mutex
	calls int
	snap  BalanceSnapshot
	err   error
}

func (f *countingFetcher) Fetch(ctx context.Context) (BalanceSnapshot, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.snap, f.err
}

func testSnapshot() BalanceSnapshot {
	return BalanceSnapshot{
		ExchangeRate:   decimal.NewFromInt(2000),
		OpeningUSD:     decimal.NewFromInt(100),
		InflowsUSD:     decimal.NewFromInt(500),
		OutflowsUSD:    decimal.NewFromInt(100),
		TheoreticalUSD: decimal.NewFromInt(500),
		TheoreticalCDF: decimal.Zero,
	}
}

func newTestService(t *testing.T, fetcher Fetcher) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(fetcher, client, slog.Default(), 0)
}

func TestSnapshotServedFromCacheOnSecondCall(t *testing.T) {
	fetcher := &countingFetcher{snap: testSnapshot()}
	svc := newTestService(t, fetcher)

	first, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	second, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.calls)
	assert.True(t, first.TheoreticalUSD.Equal(second.TheoreticalUSD))
	assert.True(t, second.ExchangeRate.Equal(decimal.NewFromInt(2000)))
}

func TestSnapshotPropagatesProviderFailure(t *testing.T) {
	fetcher := &countingFetcher{err: ErrUnavailable}
	svc := NewService(fetcher, nil, slog.Default(), 0)

	_, err := svc.Snapshot(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSnapshotWorksWithoutCache(t *testing.T) {
	fetcher := &countingFetcher{snap: testSnapshot()}
	svc := NewService(fetcher, nil, slog.Default(), 0)

	_, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	_, err = svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
}
