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

// DelegationMachine is the transition table from spec.md §4.6.
var DelegationMachine = Machine[model.DelegationStatus]{
	model.DelegationPending:    {model.DelegationAccepted, model.DelegationRejected, model.DelegationFailed},
	model.DelegationAccepted:   {model.DelegationInProgress, model.DelegationFailed},
	model.DelegationInProgress: {model.DelegationCompleted, model.DelegationFailed},
}

// Delegations wraps storage.SagaStore with the delegation state machine.
type Delegations struct {
	store storage.SagaStore
	log   *clog.Logger
}

func NewDelegations(store storage.SagaStore) *Delegations {
	return &Delegations{store: store, log: clog.New("SAGA").With("delegation")}
}

// CASUpdate transitions a delegation to newStatus if expectedVersion
// matches and the transition is legal, merging any extra patch fields
// (delegatee, child trajectory, result) in the same update. It always
// bumps last_progress_at.
func (d *Delegations) CASUpdate(ctx context.Context, id idgen.ID, expectedVersion int, newStatus model.DelegationStatus, patch map[string]any) (int, error) {
	current, err := d.store.GetDelegation(ctx, id)
	if err != nil {
		return 0, err
	}
	if !DelegationMachine.Allowed(current.Status, newStatus) {
		return 0, &errs.StateError{From: string(current.Status), To: string(newStatus)}
	}

	full := map[string]any{}
	for k, v := range patch {
		full[k] = v
	}
	full["status"] = string(newStatus)
	full["last_progress_at"] = time.Now()

	newVersion, err := d.store.CASUpdateDelegation(ctx, id, expectedVersion, full)
	if err != nil {
		return 0, err
	}
	d.log.Info("delegation %s %s -> %s (v%d)", id, current.Status, newStatus, newVersion)
	return newVersion, nil
}

// Heartbeat refreshes last_progress_at without changing status. The
// update is always a CAS that bumps the version: against
// *expectedVersion when it is non-nil, otherwise against the version
// just read, so a concurrent update landing between the read and the
// write makes it fail with *errs.VersionMismatch. A
// delegation already in a terminal state rejects the heartbeat with
// *errs.StateError rather than silently touching a closed record.
func (d *Delegations) Heartbeat(ctx context.Context, id idgen.ID, expectedVersion *int) (int, error) {
	current, err := d.store.GetDelegation(ctx, id)
	if err != nil {
		return 0, err
	}
	if DelegationMachine.Terminal(current.Status) {
		return 0, &errs.StateError{From: string(current.Status), To: string(current.Status)}
	}

	version := current.Version
	if expectedVersion != nil {
		version = *expectedVersion
	}
	return d.store.CASUpdateDelegation(ctx, id, version, map[string]any{"last_progress_at": time.Now()})
}

// Timeout moves a non-terminal delegation to failed. It is idempotent:
// a delegation already in a terminal state is left untouched and no
// error is returned.
func (d *Delegations) Timeout(ctx context.Context, id idgen.ID, reason string) error {
	current, err := d.store.GetDelegation(ctx, id)
	if err != nil {
		return err
	}
	if DelegationMachine.Terminal(current.Status) {
		return nil
	}
	_, err = d.store.CASUpdateDelegation(ctx, id, current.Version, map[string]any{
		"status":           string(model.DelegationFailed),
		"result":           model.Metadata{"timeout_reason": reason},
		"last_progress_at": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("delegation timeout: %w", err)
	}
	d.log.Warn("delegation %s timed out: %s", id, reason)
	return nil
}
