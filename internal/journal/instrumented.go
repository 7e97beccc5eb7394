package journal

import (
	"context"
	"time"

	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage"
)

// Instrumented wraps a storage.Store so that the create/update/delete
// methods of trajectories, scopes, artifacts, notes and agents, and
// CreateTurn, also append a model.Change row in the same transaction as
// the mutation. Mutations of the other record kinds (messages,
// delegations, handoffs, locks, edges, regions, conflicts) and all reads
// pass straight through to the embedded Store and write no change row.
type Instrumented struct {
	storage.Store
	notifier *Notifier
}

// Instrument wraps store. notifier may be nil, in which case mutations
// are journaled but no in-process wakeup fires.
func Instrument(store storage.Store, notifier *Notifier) *Instrumented {
	return &Instrumented{Store: store, notifier: notifier}
}

func (i *Instrumented) record(ctx context.Context, entityType string, id idgen.ID, op model.ChangeOperation) error {
	if err := i.Store.AppendChange(ctx, &model.Change{
		EntityType: entityType,
		EntityID:   id,
		Operation:  op,
		ChangedAt:  time.Now(),
	}); err != nil {
		return err
	}
	if i.notifier != nil {
		i.notifier.Publish(entityType)
	}
	return nil
}

func (i *Instrumented) CreateTrajectory(ctx context.Context, t *model.Trajectory) (idgen.ID, error) {
	var id idgen.ID
	err := i.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if id, err = i.Store.CreateTrajectory(ctx, t); err != nil {
			return err
		}
		return i.record(ctx, "trajectory", id, model.ChangeInsert)
	})
	return id, err
}

func (i *Instrumented) UpdateTrajectory(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Trajectory, error) {
	var out *model.Trajectory
	err := i.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if out, err = i.Store.UpdateTrajectory(ctx, id, patch); err != nil {
			return err
		}
		return i.record(ctx, "trajectory", id, model.ChangeUpdate)
	})
	return out, err
}

func (i *Instrumented) DeleteTrajectory(ctx context.Context, id idgen.ID) error {
	return i.Store.WithTx(ctx, func(ctx context.Context) error {
		if err := i.Store.DeleteTrajectory(ctx, id); err != nil {
			return err
		}
		if _, err := i.Store.OrphanParticipant(ctx, "trajectory", id); err != nil {
			return err
		}
		return i.record(ctx, "trajectory", id, model.ChangeDelete)
	})
}

func (i *Instrumented) CreateScope(ctx context.Context, s *model.Scope) (idgen.ID, error) {
	var id idgen.ID
	err := i.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if id, err = i.Store.CreateScope(ctx, s); err != nil {
			return err
		}
		return i.record(ctx, "scope", id, model.ChangeInsert)
	})
	return id, err
}

func (i *Instrumented) UpdateScope(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Scope, error) {
	var out *model.Scope
	err := i.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if out, err = i.Store.UpdateScope(ctx, id, patch); err != nil {
			return err
		}
		return i.record(ctx, "scope", id, model.ChangeUpdate)
	})
	return out, err
}

func (i *Instrumented) DeleteScope(ctx context.Context, id idgen.ID) error {
	return i.Store.WithTx(ctx, func(ctx context.Context) error {
		if err := i.Store.DeleteScope(ctx, id); err != nil {
			return err
		}
		return i.record(ctx, "scope", id, model.ChangeDelete)
	})
}

func (i *Instrumented) CreateTurn(ctx context.Context, t *model.Turn) (idgen.ID, error) {
	var id idgen.ID
	err := i.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if id, err = i.Store.CreateTurn(ctx, t); err != nil {
			return err
		}
		return i.record(ctx, "turn", id, model.ChangeInsert)
	})
	return id, err
}

func (i *Instrumented) CreateArtifact(ctx context.Context, a *model.Artifact) (idgen.ID, error) {
	var id idgen.ID
	err := i.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if id, err = i.Store.CreateArtifact(ctx, a); err != nil {
			return err
		}
		return i.record(ctx, "artifact", id, model.ChangeInsert)
	})
	return id, err
}

func (i *Instrumented) UpdateArtifact(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Artifact, error) {
	var out *model.Artifact
	err := i.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if out, err = i.Store.UpdateArtifact(ctx, id, patch); err != nil {
			return err
		}
		return i.record(ctx, "artifact", id, model.ChangeUpdate)
	})
	return out, err
}

func (i *Instrumented) DeleteArtifact(ctx context.Context, id idgen.ID) error {
	return i.Store.WithTx(ctx, func(ctx context.Context) error {
		if err := i.Store.DeleteArtifact(ctx, id); err != nil {
			return err
		}
		if _, err := i.Store.OrphanParticipant(ctx, "artifact", id); err != nil {
			return err
		}
		return i.record(ctx, "artifact", id, model.ChangeDelete)
	})
}

func (i *Instrumented) CreateNote(ctx context.Context, n *model.Note) (idgen.ID, error) {
	var id idgen.ID
	err := i.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if id, err = i.Store.CreateNote(ctx, n); err != nil {
			return err
		}
		return i.record(ctx, "note", id, model.ChangeInsert)
	})
	return id, err
}

func (i *Instrumented) UpdateNote(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Note, error) {
	var out *model.Note
	err := i.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if out, err = i.Store.UpdateNote(ctx, id, patch); err != nil {
			return err
		}
		return i.record(ctx, "note", id, model.ChangeUpdate)
	})
	return out, err
}

func (i *Instrumented) DeleteNote(ctx context.Context, id idgen.ID) error {
	return i.Store.WithTx(ctx, func(ctx context.Context) error {
		if err := i.Store.DeleteNote(ctx, id); err != nil {
			return err
		}
		if _, err := i.Store.OrphanParticipant(ctx, "note", id); err != nil {
			return err
		}
		return i.record(ctx, "note", id, model.ChangeDelete)
	})
}

func (i *Instrumented) CreateAgent(ctx context.Context, a *model.Agent) (idgen.ID, error) {
	var id idgen.ID
	err := i.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if id, err = i.Store.CreateAgent(ctx, a); err != nil {
			return err
		}
		return i.record(ctx, "agent", id, model.ChangeInsert)
	})
	return id, err
}

func (i *Instrumented) UpdateAgent(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Agent, error) {
	var out *model.Agent
	err := i.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if out, err = i.Store.UpdateAgent(ctx, id, patch); err != nil {
			return err
		}
		return i.record(ctx, "agent", id, model.ChangeUpdate)
	})
	return out, err
}

func (i *Instrumented) DeleteAgent(ctx context.Context, id idgen.ID) error {
	return i.Store.WithTx(ctx, func(ctx context.Context) error {
		if err := i.Store.DeleteAgent(ctx, id); err != nil {
			return err
		}
		return i.record(ctx, "agent", id, model.ChangeDelete)
	})
}
