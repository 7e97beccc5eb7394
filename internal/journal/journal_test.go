package journal

import (
	"context"
	"testing"
	"time"

	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage/sqlitestore"
	"github.com/caliber-dev/caliber/internal/tenant"
)

func setup(t *testing.T) (context.Context, *Journal, *Notifier) {
	t.Helper()
	store, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := tenant.WithTenant(context.Background(), idgen.New())
	notifier := NewNotifier()
	return ctx, New(store, notifier), notifier
}

func TestAppendAdvancesWatermark(t *testing.T) {
	ctx, j, _ := setup(t)

	before, err := j.Watermark(ctx)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if err := j.Append(ctx, "note", idgen.New(), model.ChangeInsert); err != nil {
		t.Fatalf("append: %v", err)
	}
	after, err := j.Watermark(ctx)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if after <= before {
		t.Fatalf("expected watermark to advance: before=%d after=%d", before, after)
	}
}

func TestAppendPublishesToSubscriber(t *testing.T) {
	ctx, j, notifier := setup(t)
	ch := notifier.Subscribe("note")

	if err := j.Append(ctx, "note", idgen.New(), model.ChangeInsert); err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a wakeup on the note subscription")
	}
}

func TestChangesSinceReflectsAppendedRows(t *testing.T) {
	ctx, j, _ := setup(t)
	watermark, _ := j.Watermark(ctx)

	id := idgen.New()
	if err := j.Append(ctx, "artifact", id, model.ChangeUpdate); err != nil {
		t.Fatalf("append: %v", err)
	}

	has, err := j.HasChangesSince(ctx, watermark, nil)
	if err != nil {
		t.Fatalf("has_changes_since: %v", err)
	}
	if !has {
		t.Fatal("expected has_changes_since to report true")
	}

	changes, err := j.ChangesSince(ctx, watermark, nil, 0)
	if err != nil {
		t.Fatalf("changes_since: %v", err)
	}
	if len(changes) != 1 || changes[0].EntityID != id {
		t.Fatalf("unexpected changes: %+v", changes)
	}
}

func TestCleanupRemovesOldRows(t *testing.T) {
	ctx, j, _ := setup(t)
	if err := j.Append(ctx, "note", idgen.New(), model.ChangeInsert); err != nil {
		t.Fatalf("append: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	n, err := j.Cleanup(ctx, 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n == 0 {
		t.Fatal("expected cleanup to remove the just-inserted row under a zero-day retention window")
	}
}
