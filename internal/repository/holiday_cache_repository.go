package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/evidencije/coursework-api/pkg/errors"
	"github.com/evidencije/coursework-api/pkg/holiday"
)

// HolidayCacheRepository caches external public-holiday payloads in Redis
// keyed by (country code, year). A nil client degrades to a permanent miss
// so the aggregator keeps working without Redis.
type HolidayCacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewHolidayCacheRepository constructs the cache repository.
func NewHolidayCacheRepository(client *redis.Client, logger *zap.Logger) *HolidayCacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HolidayCacheRepository{client: client, logger: logger}
}

// Key builds the cache key for a (country, year) pair.
func (r *HolidayCacheRepository) Key(countryCode string, year int) string {
	return fmt.Sprintf("calendar:holidays:%s:%d", strings.ToUpper(countryCode), year)
}

// Get returns the cached holidays for the key or ErrCacheMiss.
func (r *HolidayCacheRepository) Get(ctx context.Context, countryCode string, year int) ([]holiday.Holiday, error) {
	if r.client == nil {
		return nil, appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, r.Key(countryCode, year)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get holidays %s/%d: %w", countryCode, year, err)
	}

	var holidays []holiday.Holiday
	if err := json.Unmarshal(raw, &holidays); err != nil {
		return nil, fmt.Errorf("unmarshal cached holidays %s/%d: %w", countryCode, year, err)
	}
	return holidays, nil
}

// Set stores the holidays for the key with the given TTL. Failures are
// logged, not raised: a broken cache must not break aggregation.
func (r *HolidayCacheRepository) Set(ctx context.Context, countryCode string, year int, holidays []holiday.Holiday, ttl time.Duration) {
	if r.client == nil {
		return
	}

	payload, err := json.Marshal(holidays)
	if err != nil {
		r.logger.Warn("marshal holidays for cache failed", zap.String("country", countryCode), zap.Int("year", year), zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, r.Key(countryCode, year), payload, ttl).Err(); err != nil {
		r.logger.Warn("cache holidays failed", zap.String("country", countryCode), zap.Int("year", year), zap.Error(err))
	}
}
