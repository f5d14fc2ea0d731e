package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const clientTimeout = 10 * time.Second

// Client fetches balance snapshots from the accounting service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a balance provider client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// snapshotDTO mirrors the provider's wire format. Monetary fields travel as
// strings so no precision is lost in transit.
type snapshotDTO struct {
	DateFrom       *time.Time `json:"date_from,omitempty"`
	DateTo         *time.Time `json:"date_to,omitempty"`
	ExchangeRate   string     `json:"exchange_rate"`
	OpeningUSD     string     `json:"opening_usd"`
	OpeningCDF     string     `json:"opening_cdf"`
	InflowsUSD     string     `json:"inflows_usd"`
	InflowsCDF     string     `json:"inflows_cdf"`
	OutflowsUSD    string     `json:"outflows_usd"`
	OutflowsCDF    string     `json:"outflows_cdf"`
	TheoreticalUSD string     `json:"theoretical_usd"`
	TheoreticalCDF string     `json:"theoretical_cdf"`
}

// Fetch retrieves the current theoretical balance.
func (c *Client) Fetch(ctx context.Context) (BalanceSnapshot, error) {
	if c == nil || c.baseURL == "" {
		return BalanceSnapshot{}, fmt.Errorf("%w: client not configured", ErrUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/balance", nil)
	if err != nil {
		return BalanceSnapshot{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return BalanceSnapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return BalanceSnapshot{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var dto snapshotDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return BalanceSnapshot{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return dto.toSnapshot()
}

func (d snapshotDTO) toSnapshot() (BalanceSnapshot, error) {
	snap := BalanceSnapshot{From: d.DateFrom, To: d.DateTo}
	fields := []struct {
		raw    string
		target *decimal.Decimal
		name   string
	}{
		{d.ExchangeRate, &snap.ExchangeRate, "exchange_rate"},
		{d.OpeningUSD, &snap.OpeningUSD, "opening_usd"},
		{d.OpeningCDF, &snap.OpeningCDF, "opening_cdf"},
		{d.InflowsUSD, &snap.InflowsUSD, "inflows_usd"},
		{d.InflowsCDF, &snap.InflowsCDF, "inflows_cdf"},
		{d.OutflowsUSD, &snap.OutflowsUSD, "outflows_usd"},
		{d.OutflowsCDF, &snap.OutflowsCDF, "outflows_cdf"},
		{d.TheoreticalUSD, &snap.TheoreticalUSD, "theoretical_usd"},
		{d.TheoreticalCDF, &snap.TheoreticalCDF, "theoretical_cdf"},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			// A missing rate degrades to the undefined-equivalence state,
			// any other missing field is a provider contract violation.
			if f.name == "exchange_rate" {
				continue
			}
			return BalanceSnapshot{}, fmt.Errorf("ledger: snapshot missing %s", f.name)
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return BalanceSnapshot{}, fmt.Errorf("ledger: snapshot field %s: %w", f.name, err)
		}
		*f.target = v
	}
	return snap, nil
}
