package journal

import (
	"context"
	"testing"

	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage/sqlitestore"
	"github.com/caliber-dev/caliber/internal/tenant"
)

func setupInstrumented(t *testing.T) (context.Context, *Instrumented, *Notifier) {
	t.Helper()
	store, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := tenant.WithTenant(context.Background(), idgen.New())
	notifier := NewNotifier()
	return ctx, Instrument(store, notifier), notifier
}

func TestInstrumentedCreateAppendsChangeRow(t *testing.T) {
	ctx, i, _ := setupInstrumented(t)

	before, err := i.Watermark(ctx)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}

	id, err := i.CreateTrajectory(ctx, &model.Trajectory{
		Name:   "investigate outage",
		Status: model.TrajectoryActive,
	})
	if err != nil {
		t.Fatalf("create trajectory: %v", err)
	}

	after, err := i.Watermark(ctx)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if after <= before {
		t.Fatalf("expected watermark to advance on create: before=%d after=%d", before, after)
	}

	changes, err := i.ChangesSince(ctx, before, []string{"trajectory"}, 0)
	if err != nil {
		t.Fatalf("changes_since: %v", err)
	}
	if len(changes) != 1 || changes[0].EntityID != id || changes[0].Operation != model.ChangeInsert {
		t.Fatalf("unexpected changes: %+v", changes)
	}
}

func TestInstrumentedUpdateAndDeleteAppendChangeRows(t *testing.T) {
	ctx, i, notifier := setupInstrumented(t)
	ch := notifier.Subscribe("trajectory")

	id, err := i.CreateTrajectory(ctx, &model.Trajectory{Name: "t", Status: model.TrajectoryActive})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	<-ch // drain the create notification

	watermark, _ := i.Watermark(ctx)

	if _, err := i.UpdateTrajectory(ctx, id, map[string]any{"status": model.TrajectoryCompleted}); err != nil {
		t.Fatalf("update: %v", err)
	}
	select {
	case <-ch:
	default:
		t.Fatal("expected update to publish a notification")
	}

	if err := i.DeleteTrajectory(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	changes, err := i.ChangesSince(ctx, watermark, []string{"trajectory"}, 0)
	if err != nil {
		t.Fatalf("changes_since: %v", err)
	}
	if len(changes) != 2 || changes[0].Operation != model.ChangeUpdate || changes[1].Operation != model.ChangeDelete {
		t.Fatalf("unexpected changes: %+v", changes)
	}
}
