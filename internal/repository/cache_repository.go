package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
)

// Cache key layout. Seat snapshots and schedule projections are invalidated
// on every enrollment commit and capacity override.
const (
	SeatCacheKeyPrefix     = "seats:section:"
	ScheduleCacheKeyPrefix = "schedule:student:"
)

// CacheRepository provides helpers around Redis for caching seat counts and
// schedule projections. A nil client degrades to a pass-through.
type CacheRepository struct {
	client  *redis.Client
	metrics CacheMetrics
	logger  *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// CacheMetrics receives hit/miss observations from lookups.
type CacheMetrics interface {
	RecordCacheOperation(hit bool)
}

// WithMetrics attaches a metrics sink and returns the repository.
func (r *CacheRepository) WithMetrics(metrics CacheMetrics) *CacheRepository {
	r.metrics = metrics
	return r
}

// Get retrieves and unmarshals the cached value into the provided destination.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			if r.metrics != nil {
				r.metrics.RecordCacheOperation(false)
			}
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if r.metrics != nil {
		r.metrics.RecordCacheOperation(true)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}

	return nil
}

// Set marshals the provided value and stores it with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

// Delete removes specific keys; missing keys are not an error.
func (r *CacheRepository) Delete(ctx context.Context, keys ...string) error {
	if r.client == nil || len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// InvalidateSection drops the cached seat snapshot for a section.
func (r *CacheRepository) InvalidateSection(ctx context.Context, sectionID string) {
	if err := r.Delete(ctx, SeatCacheKeyPrefix+sectionID); err != nil {
		r.logger.Warn("seat cache invalidation failed", zap.String("section_id", sectionID), zap.Error(err))
	}
}

// InvalidateSchedule drops the cached schedule projection for a student.
func (r *CacheRepository) InvalidateSchedule(ctx context.Context, studentID string) {
	if err := r.Delete(ctx, ScheduleCacheKeyPrefix+studentID); err != nil {
		r.logger.Warn("schedule cache invalidation failed", zap.String("student_id", studentID), zap.Error(err))
	}
}
