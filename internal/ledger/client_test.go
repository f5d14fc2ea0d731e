package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tresoria-erp/tresoria/internal/money"
)

func TestClientFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/balance", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"exchange_rate": "2000",
			"opening_usd": "100", "opening_cdf": "50000",
			"inflows_usd": "250", "inflows_cdf": "350000",
			"outflows_usd": "50", "outflows_cdf": "100000",
			"theoretical_usd": "300", "theoretical_cdf": "300000"
		}`))
	}))
	defer srv.Close()

	snap, err := NewClient(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.ExchangeRate.Equal(decimal.NewFromInt(2000)))
	assert.True(t, snap.TheoreticalUSD.Equal(decimal.NewFromInt(300)))
	assert.True(t, snap.Theoretical(money.USD).Equal(decimal.NewFromInt(300)))
	assert.True(t, snap.Theoretical(money.CDF).Equal(decimal.NewFromInt(300000)))
	assert.True(t, snap.RateDefined())
	assert.True(t, snap.ConsistentTheoretical(money.USD))
	assert.True(t, snap.ConsistentTheoretical(money.CDF))
}

func TestClientFetchMissingRateDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"exchange_rate": "",
			"opening_usd": "0", "opening_cdf": "0",
			"inflows_usd": "0", "inflows_cdf": "0",
			"outflows_usd": "0", "outflows_cdf": "0",
			"theoretical_usd": "0", "theoretical_cdf": "0"
		}`))
	}))
	defer srv.Close()

	snap, err := NewClient(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.RateDefined())
}

func TestClientFetchMissingFieldFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"exchange_rate": "2000"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening_usd")
}

func TestClientFetchUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}
