package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/caliber-dev/caliber/internal/clog"
	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage"
)

// HandoffMachine is the transition table from spec.md §4.6.
var HandoffMachine = Machine[model.HandoffStatus]{
	model.HandoffInitiated: {model.HandoffAccepted, model.HandoffRejected},
	model.HandoffAccepted:  {model.HandoffCompleted, model.HandoffRejected},
}

// Handoffs wraps storage.SagaStore with the handoff state machine.
type Handoffs struct {
	store storage.SagaStore
	log   *clog.Logger
}

func NewHandoffs(store storage.SagaStore) *Handoffs {
	return &Handoffs{store: store, log: clog.New("SAGA").With("handoff")}
}

func (h *Handoffs) CASUpdate(ctx context.Context, id idgen.ID, expectedVersion int, newStatus model.HandoffStatus, patch map[string]any) (int, error) {
	current, err := h.store.GetHandoff(ctx, id)
	if err != nil {
		return 0, err
	}
	if !HandoffMachine.Allowed(current.Status, newStatus) {
		return 0, &errs.StateError{From: string(current.Status), To: string(newStatus)}
	}

	full := map[string]any{}
	for k, v := range patch {
		full[k] = v
	}
	full["status"] = string(newStatus)
	full["last_progress_at"] = time.Now()

	newVersion, err := h.store.CASUpdateHandoff(ctx, id, expectedVersion, full)
	if err != nil {
		return 0, err
	}
	h.log.Info("handoff %s %s -> %s (v%d)", id, current.Status, newStatus, newVersion)
	return newVersion, nil
}

// Heartbeat refreshes last_progress_at without changing status. A
// handoff already in a terminal state rejects the heartbeat with
// *errs.StateError rather than silently touching a closed record.
func (h *Handoffs) Heartbeat(ctx context.Context, id idgen.ID, expectedVersion *int) (int, error) {
	current, err := h.store.GetHandoff(ctx, id)
	if err != nil {
		return 0, err
	}
	if HandoffMachine.Terminal(current.Status) {
		return 0, &errs.StateError{From: string(current.Status), To: string(current.Status)}
	}

	version := current.Version
	if expectedVersion != nil {
		version = *expectedVersion
	}
	return h.store.CASUpdateHandoff(ctx, id, version, map[string]any{"last_progress_at": time.Now()})
}

// Timeout moves a non-terminal handoff to rejected. Idempotent: a
// terminal handoff is left untouched.
func (h *Handoffs) Timeout(ctx context.Context, id idgen.ID, reason string) error {
	current, err := h.store.GetHandoff(ctx, id)
	if err != nil {
		return err
	}
	if HandoffMachine.Terminal(current.Status) {
		return nil
	}
	_, err = h.store.CASUpdateHandoff(ctx, id, current.Version, map[string]any{
		"status":           string(model.HandoffRejected),
		"reason":           reason,
		"last_progress_at": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("handoff timeout: %w", err)
	}
	h.log.Warn("handoff %s timed out: %s", id, reason)
	return nil
}
