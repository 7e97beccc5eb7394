package core

import (
	"context"
	"time"

	"github.com/caliber-dev/caliber/internal/model"
)

// Watermark is spec.md §6's watermark(): the current tenant's change
// journal position, to be echoed back on the next changes_since call.
func (c *Core) Watermark(ctx context.Context) (int64, error) {
	return c.Journal.Watermark(ctx)
}

// HasChangesSince is spec.md §6's has_changes_since(watermark, entity_types?).
func (c *Core) HasChangesSince(ctx context.Context, watermark int64, entityTypes []string) (bool, error) {
	return c.Journal.HasChangesSince(ctx, watermark, entityTypes)
}

// ChangesSince is spec.md §6's changes_since(watermark, entity_types?, limit?).
func (c *Core) ChangesSince(ctx context.Context, watermark int64, entityTypes []string, limit int) ([]*model.Change, error) {
	return c.Journal.ChangesSince(ctx, watermark, entityTypes, limit)
}

// GCJournal is the gc-journal maintenance op: prune change rows older
// than retentionDays.
func (c *Core) GCJournal(ctx context.Context, retentionDays int) (int, error) {
	return c.Journal.Cleanup(ctx, retentionDays)
}

// GCLocks is the gc-locks maintenance op: release locks past their
// expires_at that nothing renewed in time.
func (c *Core) GCLocks(ctx context.Context) (int, error) {
	return c.Locks.CleanupExpired(ctx)
}

// GCIdempotency is the gc-idempotency maintenance op: purge idempotency
// records past their TTL.
func (c *Core) GCIdempotency(ctx context.Context, now time.Time) (int, error) {
	return c.Idempotency.Purge(ctx, now)
}
