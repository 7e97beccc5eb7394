package core

import (
	"context"
	"time"

	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
)

// LockAcquire is spec.md §6's lock_acquire(mode, resource_type,
// resource_id, holder, timeout_ms).
func (c *Core) LockAcquire(ctx context.Context, mode model.LockMode, resourceType, resourceID string, holder idgen.ID, timeoutMS int) (idgen.ID, error) {
	ttl := time.Duration(timeoutMS) * time.Millisecond
	if mode == model.LockShared {
		return c.Locks.TryLockShared(ctx, resourceType, resourceID, holder, ttl)
	}
	return c.Locks.TryLockExclusive(ctx, resourceType, resourceID, holder, ttl)
}

// LockRelease is spec.md §6's lock_release(lock_id).
func (c *Core) LockRelease(ctx context.Context, lockID idgen.ID) error {
	return c.Locks.Release(ctx, lockID)
}

// LockRenew is spec.md §6's lock_renew(lock_id, expected_version, new_expires_at).
func (c *Core) LockRenew(ctx context.Context, lockID idgen.ID, expectedVersion int, newExpiresAt time.Time) (int, error) {
	return c.Locks.CASRenew(ctx, lockID, expectedVersion, newExpiresAt)
}
