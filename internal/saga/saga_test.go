package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage/sqlitestore"
	"github.com/caliber-dev/caliber/internal/tenant"
)

func newStore(t *testing.T) (*sqlitestore.Store, context.Context) {
	t.Helper()
	s, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := tenant.WithTenant(context.Background(), idgen.New())
	return s, ctx
}

func TestDelegationIllegalTransitionIsStateError(t *testing.T) {
	store, ctx := newStore(t)
	d := NewDelegations(store)

	trID, _ := store.CreateTrajectory(ctx, &model.Trajectory{Name: "t", Status: model.TrajectoryActive})
	id, err := store.CreateDelegation(ctx, &model.Delegation{
		DelegatorAgentID:   idgen.New(),
		TaskDescription:    "do the thing",
		ParentTrajectoryID: trID,
		Status:             model.DelegationPending,
		LastProgressAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("create delegation: %v", err)
	}

	if _, err := d.CASUpdate(ctx, id, 1, model.DelegationCompleted, nil); err == nil {
		t.Fatal("expected StateError jumping pending -> completed")
	} else if _, ok := errs.As[*errs.StateError](err); !ok {
		t.Fatalf("expected *errs.StateError, got %T", err)
	}

	if _, err := d.CASUpdate(ctx, id, 1, model.DelegationAccepted, nil); err != nil {
		t.Fatalf("legal transition should succeed: %v", err)
	}
}

func TestHandoffTimeoutIsIdempotent(t *testing.T) {
	store, ctx := newStore(t)
	h := NewHandoffs(store)

	trID, _ := store.CreateTrajectory(ctx, &model.Trajectory{Name: "t", Status: model.TrajectoryActive})
	scID, _ := store.CreateScope(ctx, &model.Scope{TrajectoryID: trID, Name: "s", IsActive: true, TokenBudget: 100})

	id, err := store.CreateHandoff(ctx, &model.Handoff{
		FromAgentID:       idgen.New(),
		TrajectoryID:      trID,
		ScopeID:           scID,
		ContextSnapshotID: idgen.New(),
		Status:            model.HandoffInitiated,
		LastProgressAt:    time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("create handoff: %v", err)
	}

	if err := h.Timeout(ctx, id, "stalled"); err != nil {
		t.Fatalf("first timeout: %v", err)
	}
	got, err := store.GetHandoff(ctx, id)
	if err != nil {
		t.Fatalf("get handoff: %v", err)
	}
	if got.Status != model.HandoffRejected {
		t.Fatalf("expected rejected, got %s", got.Status)
	}

	// second call must be a no-op, not an error, since the record is terminal.
	if err := h.Timeout(ctx, id, "stalled again"); err != nil {
		t.Fatalf("second timeout should be idempotent no-op: %v", err)
	}
}

func TestDelegationHeartbeatRejectsTerminalState(t *testing.T) {
	store, ctx := newStore(t)
	d := NewDelegations(store)

	trID, err := store.CreateTrajectory(ctx, &model.Trajectory{Name: "t", Status: model.TrajectoryActive})
	require.NoError(t, err)

	id, err := store.CreateDelegation(ctx, &model.Delegation{
		DelegatorAgentID:   idgen.New(),
		TaskDescription:    "do the thing",
		ParentTrajectoryID: trID,
		Status:             model.DelegationPending,
		LastProgressAt:     time.Now(),
	})
	require.NoError(t, err)

	_, err = d.CASUpdate(ctx, id, 1, model.DelegationFailed, nil)
	require.NoError(t, err, "pending -> failed is a legal terminal transition")

	_, err = d.Heartbeat(ctx, id, nil)
	require.Error(t, err, "heartbeat on a terminal delegation must be rejected")
	_, ok := errs.As[*errs.StateError](err)
	require.True(t, ok, "expected *errs.StateError, got %T", err)
}

func TestHandoffHeartbeatRejectsTerminalState(t *testing.T) {
	store, ctx := newStore(t)
	h := NewHandoffs(store)

	trID, err := store.CreateTrajectory(ctx, &model.Trajectory{Name: "t", Status: model.TrajectoryActive})
	require.NoError(t, err)
	scID, err := store.CreateScope(ctx, &model.Scope{TrajectoryID: trID, Name: "s", IsActive: true, TokenBudget: 100})
	require.NoError(t, err)

	id, err := store.CreateHandoff(ctx, &model.Handoff{
		FromAgentID:       idgen.New(),
		TrajectoryID:      trID,
		ScopeID:           scID,
		ContextSnapshotID: idgen.New(),
		Status:            model.HandoffInitiated,
		LastProgressAt:    time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, h.Timeout(ctx, id, "stalled"))

	_, err = h.Heartbeat(ctx, id, nil)
	require.Error(t, err, "heartbeat on a terminal handoff must be rejected")
	_, ok := errs.As[*errs.StateError](err)
	require.True(t, ok, "expected *errs.StateError, got %T", err)
}

func TestSweeperTimesOutStuckDelegations(t *testing.T) {
	store, ctx := newStore(t)
	sweeper := NewSweeper(store, time.Minute)

	trID, _ := store.CreateTrajectory(ctx, &model.Trajectory{Name: "t", Status: model.TrajectoryActive})
	_, err := store.CreateDelegation(ctx, &model.Delegation{
		DelegatorAgentID:   idgen.New(),
		TaskDescription:    "stuck task",
		ParentTrajectoryID: trID,
		Status:             model.DelegationPending,
		LastProgressAt:     time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("create delegation: %v", err)
	}

	n, err := sweeper.Sweep(ctx, time.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept delegation, got %d", n)
	}

	n, err = sweeper.Sweep(ctx, time.Now())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("second sweep should find nothing left active, got %d", n)
	}
}
