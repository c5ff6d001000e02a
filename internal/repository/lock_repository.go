package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LockRepository provides a coarse leader lock over Redis so only one
// instance runs the reconciliation sweep at a time. Losing the lock is
// harmless: every settlement re-attempt is idempotent per request id.
type LockRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLockRepository constructs a lock repository.
func NewLockRepository(client *redis.Client, logger *zap.Logger) *LockRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockRepository{client: client, logger: logger}
}

// Acquire attempts to take the named lock for ttl. Returns false when
// another holder owns it. With no Redis client every caller wins, which
// degrades to at-least-once sweeps on single-instance deployments.
func (r *LockRepository) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, lockKey(name), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// Release drops the lock if this holder still owns it.
func (r *LockRepository) Release(ctx context.Context, name, holder string) error {
	if r.client == nil {
		return nil
	}
	current, err := r.client.Get(ctx, lockKey(name)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect lock %s: %w", name, err)
	}
	if current != holder {
		r.logger.Warn("lock held by another instance, skipping release",
			zap.String("lock", name), zap.String("holder", current))
		return nil
	}
	if err := r.client.Del(ctx, lockKey(name)).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

func lockKey(name string) string {
	return "moderation:lock:" + name
}
