package duplicate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Reserver claims a filename for one import so two runs cannot both import it.
// Reserve returns false when another run already holds the claim.
type Reserver interface {
	Reserve(ctx context.Context, filename, runID string) (bool, error)
	Release(ctx context.Context, filename string) error
}

// ReservationKey normalizes a filename into the key used by every Reserver
func ReservationKey(filename string) string {
	return strings.ToLower(strings.TrimSpace(filename))
}

// redisClient is the subset of redis.Cmdable used for reservations
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisReserver holds reservations as SETNX keys that expire after ttl
type RedisReserver struct {
	rdb    redisClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisReserver creates a new RedisReserver. A zero ttl keeps keys forever.
func NewRedisReserver(rdb redisClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisReserver {
	if prefix == "" {
		prefix = "docman:import:"
	}
	return &RedisReserver{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// Reserve claims the filename for runID
func (r *RedisReserver) Reserve(ctx context.Context, filename, runID string) (bool, error) {
	key := r.prefix + ReservationKey(filename)

	ok, err := r.rdb.SetNX(ctx, key, runID, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve %s: %w", filename, err)
	}
	if !ok {
		r.logger.Info("Filename already reserved by another run",
			zap.String("filename", filename),
			zap.String("key", key))
	}
	return ok, nil
}

// Release drops the claim so a later run may retry the file
func (r *RedisReserver) Release(ctx context.Context, filename string) error {
	key := r.prefix + ReservationKey(filename)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", filename, err)
	}
	return nil
}

// NopReserver grants every reservation; used when a single process owns the storage
type NopReserver struct{}

// Reserve always succeeds
func (NopReserver) Reserve(context.Context, string, string) (bool, error) { return true, nil }

// Release does nothing
func (NopReserver) Release(context.Context, string) error { return nil }
