package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/tresoria-erp/tresoria/internal/money"
)

const (
	snapshotCacheKey        = "ledger:balance_snapshot"
	defaultSnapshotCacheTTL = 30 * time.Second
)

// Fetcher retrieves a snapshot from the provider.
type Fetcher interface {
	Fetch(ctx context.Context) (BalanceSnapshot, error)
}

// Service caches balance snapshots and deduplicates concurrent fetches.
type Service struct {
	fetcher Fetcher
	cache   *redis.Client
	logger  *slog.Logger
	ttl     time.Duration
	group   singleflight.Group
}

// NewService constructs a Service. The redis client may be nil, in which
// case every call goes to the provider.
func NewService(fetcher Fetcher, cache *redis.Client, logger *slog.Logger, ttl time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = defaultSnapshotCacheTTL
	}
	return &Service{fetcher: fetcher, cache: cache, logger: logger, ttl: ttl}
}

// Snapshot returns the current theoretical balance, served from cache when
// fresh. Concurrent callers share a single upstream request.
func (s *Service) Snapshot(ctx context.Context) (BalanceSnapshot, error) {
	if snap, ok := s.fromCache(ctx); ok {
		return snap, nil
	}
	v, err, _ := s.group.Do(snapshotCacheKey, func() (any, error) {
		snap, err := s.fetcher.Fetch(ctx)
		if err != nil {
			return BalanceSnapshot{}, err
		}
		for _, currency := range money.Currencies {
			if !snap.ConsistentTheoretical(currency) {
				s.logger.Warn("theoretical balance does not match opening+inflows-outflows",
					slog.String("currency", string(currency)))
			}
		}
		s.store(ctx, snap)
		return snap, nil
	})
	if err != nil {
		return BalanceSnapshot{}, err
	}
	return v.(BalanceSnapshot), nil
}

func (s *Service) fromCache(ctx context.Context) (BalanceSnapshot, bool) {
	if s.cache == nil {
		return BalanceSnapshot{}, false
	}
	raw, err := s.cache.Get(ctx, snapshotCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("snapshot cache read", slog.Any("error", err))
		}
		return BalanceSnapshot{}, false
	}
	var dto snapshotDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return BalanceSnapshot{}, false
	}
	snap, err := dto.toSnapshot()
	if err != nil {
		return BalanceSnapshot{}, false
	}
	return snap, true
}

func (s *Service) store(ctx context.Context, snap BalanceSnapshot) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(snapshotToDTO(snap))
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, snapshotCacheKey, raw, s.ttl).Err(); err != nil {
		s.logger.Warn("snapshot cache write", slog.Any("error", err))
	}
}

func snapshotToDTO(snap BalanceSnapshot) snapshotDTO {
	return snapshotDTO{
		DateFrom:       snap.From,
		DateTo:         snap.To,
		ExchangeRate:   snap.ExchangeRate.String(),
		OpeningUSD:     snap.OpeningUSD.String(),
		OpeningCDF:     snap.OpeningCDF.String(),
		InflowsUSD:     snap.InflowsUSD.String(),
		InflowsCDF:     snap.InflowsCDF.String(),
		OutflowsUSD:    snap.OutflowsUSD.String(),
		OutflowsCDF:    snap.OutflowsCDF.String(),
		TheoreticalUSD: snap.TheoreticalUSD.String(),
		TheoreticalCDF: snap.TheoreticalCDF.String(),
	}
}
