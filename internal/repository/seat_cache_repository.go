package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/campusreg/enroll-api/pkg/errors"
)

// SeatCacheRepository keeps an advisory remaining-seats figure per course
// instance in Redis. It is a read optimisation only: admission decisions
// always recount inside the database transaction, so a stale or missing
// entry can never oversell a section.
type SeatCacheRepository struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewSeatCacheRepository constructs the cache repository. A nil client
// degrades every call to a cache miss.
func NewSeatCacheRepository(client *redis.Client, logger *zap.Logger, ttl time.Duration) *SeatCacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SeatCacheRepository{client: client, logger: logger, ttl: ttl}
}

func seatKey(instanceID string) string {
	return "seats:remaining:" + instanceID
}

// GetRemaining returns the cached remaining-seat figure for an instance.
func (r *SeatCacheRepository) GetRemaining(ctx context.Context, instanceID string) (int, error) {
	if r.client == nil {
		return 0, appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, seatKey(instanceID)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, appErrors.ErrCacheMiss
		}
		return 0, fmt.Errorf("redis get %s: %w", seatKey(instanceID), err)
	}

	remaining, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse cached seats for %s: %w", instanceID, err)
	}
	return remaining, nil
}

// SetRemaining stores the remaining-seat figure with the configured TTL.
func (r *SeatCacheRepository) SetRemaining(ctx context.Context, instanceID string, remaining int) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Set(ctx, seatKey(instanceID), strconv.Itoa(remaining), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", seatKey(instanceID), err)
	}
	return nil
}

// Invalidate drops the cached figure so the next advisory read falls back
// to a live count.
func (r *SeatCacheRepository) Invalidate(ctx context.Context, instanceID string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, seatKey(instanceID)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", seatKey(instanceID), err)
	}
	return nil
}
