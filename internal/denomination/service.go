package denomination

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	catalogCacheKey = "denominations:active"
	catalogCacheTTL = 10 * time.Minute
)

// Service answers catalog queries with a cache and a degraded fallback.
type Service struct {
	repo   Repository
	cache  *redis.Client
	logger *slog.Logger
}

// NewService constructs a Service. The redis client may be nil.
func NewService(repo Repository, cache *redis.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Active returns the active catalog. When the database is unavailable the
// cached copy is served, and failing that the hardcoded fallback list, so
// the counting grid never goes blank.
func (s *Service) Active(ctx context.Context) ([]Unit, error) {
	units, err := s.repo.List(ctx, true)
	if err == nil {
		s.store(ctx, units)
		return units, nil
	}
	s.logger.Warn("denomination catalog load failed", slog.Any("error", err))
	if cached, ok := s.fromCache(ctx); ok {
		return cached, nil
	}
	return Fallback(), nil
}

// All returns the full catalog, retired denominations included. No degraded
// path: the full list is an administrative view, not the counting grid.
func (s *Service) All(ctx context.Context) ([]Unit, error) {
	return s.repo.List(ctx, false)
}

func (s *Service) fromCache(ctx context.Context) ([]Unit, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, catalogCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("denomination cache read", slog.Any("error", err))
		}
		return nil, false
	}
	var units []Unit
	if err := json.Unmarshal(raw, &units); err != nil {
		return nil, false
	}
	return units, true
}

func (s *Service) store(ctx context.Context, units []Unit) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(units)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, catalogCacheKey, raw, catalogCacheTTL).Err(); err != nil {
		s.logger.Warn("denomination cache write", slog.Any("error", err))
	}
}
