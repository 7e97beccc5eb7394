package coordination

import (
	"context"

	"github.com/caliber-dev/caliber/internal/clog"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage"
)

// Edges wraps storage.EdgeStore with the orphan-on-delete policy from
// SPEC_FULL.md §9: deleting a participant never cascade-deletes an
// edge, it marks the edge's reference to that participant orphaned.
type Edges struct {
	store storage.EdgeStore
	log   *clog.Logger
}

func NewEdges(store storage.EdgeStore) *Edges {
	return &Edges{store: store, log: clog.New("COORDINATION").With("edges")}
}

func (e *Edges) Create(ctx context.Context, edge *model.Edge) (idgen.ID, error) {
	return e.store.CreateEdge(ctx, edge)
}

func (e *Edges) Get(ctx context.Context, id idgen.ID) (*model.Edge, error) {
	return e.store.GetEdge(ctx, id)
}

func (e *Edges) ListByParticipant(ctx context.Context, entityType string, entityID idgen.ID) ([]*model.Edge, error) {
	return e.store.ListEdgesByParticipant(ctx, entityType, entityID)
}

// OrphanOnDelete must be called in the same transaction as deleting an
// Artifact/Note/Trajectory: it marks every edge referencing
// (entityType, entityID) as orphaned for that participant rather than
// deleting or rejecting the edge, and returns how many edges it touched.
func (e *Edges) OrphanOnDelete(ctx context.Context, entityType string, entityID idgen.ID) (int, error) {
	n, err := e.store.OrphanParticipant(ctx, entityType, entityID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Info("orphaned %d edge(s) referencing %s/%s", n, entityType, entityID)
	}
	return n, nil
}
