// Package journal wraps storage.Store's change-journal methods with an
// in-process notification fan-out, so callers in the same process can
// wake up on new changes instead of polling changes_since. Change rows
// are written through storage.JournalStore.AppendChange (by Instrumented
// inside the mutation's transaction, or by Journal.Append); the
// notification fan-out is only a best-effort wakeup.
package journal

import (
	"context"
	"time"

	"github.com/caliber-dev/caliber/internal/clog"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage"
)

// Journal is a thin facade over storage.JournalStore plus an optional
// Notifier: Append writes a change row explicitly, and the read and
// cleanup methods pass through to the store. Entity mutations made
// through Core are journaled by Instrumented, not by Append.
type Journal struct {
	store    storage.JournalStore
	notifier *Notifier
	log      *clog.Logger
}

func New(store storage.JournalStore, notifier *Notifier) *Journal {
	return &Journal{store: store, notifier: notifier, log: clog.New("JOURNAL")}
}

// Append writes one change row and, on success, wakes any in-process
// subscribers for the entity type. The notify step is best-effort: a
// missed wakeup never loses data because changes_since by watermark
// stays authoritative.
func (j *Journal) Append(ctx context.Context, entityType string, entityID idgen.ID, op model.ChangeOperation) error {
	if err := j.store.AppendChange(ctx, &model.Change{
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		ChangedAt:  time.Now(),
	}); err != nil {
		return err
	}
	if j.notifier != nil {
		j.notifier.Publish(entityType)
	}
	return nil
}

func (j *Journal) Watermark(ctx context.Context) (int64, error) {
	return j.store.Watermark(ctx)
}

func (j *Journal) HasChangesSince(ctx context.Context, watermark int64, entityTypes []string) (bool, error) {
	return j.store.HasChangesSince(ctx, watermark, entityTypes)
}

func (j *Journal) ChangesSince(ctx context.Context, watermark int64, entityTypes []string, limit int) ([]*model.Change, error) {
	return j.store.ChangesSince(ctx, watermark, entityTypes, limit)
}

// Cleanup deletes change rows older than retentionDays, the gc-journal
// background job from spec.md's configuration surface.
func (j *Journal) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	n, err := j.store.CleanupChanges(ctx, retentionDays)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.log.Info("cleaned up %d change rows older than %d days", n, retentionDays)
	}
	return n, nil
}
