package coordination

import (
	"context"
	"time"

	"github.com/caliber-dev/caliber/internal/clog"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage"
)

// Conflicts wraps storage.ConflictStore with contradiction detection.
type Conflicts struct {
	store storage.ConflictStore
	log   *clog.Logger
}

func NewConflicts(store storage.ConflictStore) *Conflicts {
	return &Conflicts{store: store, log: clog.New("COORDINATION").With("conflicts")}
}

// DetectConflict records a Conflict when score meets threshold,
// returning (nil, false) when it does not. score is expected to come
// from a SummarizationProvider's DetectContradiction call; threshold is
// model.Config.ContradictionThreshold.
func (c *Conflicts) DetectConflict(ctx context.Context, conflictType string, left, right model.EdgeParticipant, score, threshold float64) (*model.Conflict, bool, error) {
	if score < threshold {
		return nil, false, nil
	}
	conflict := &model.Conflict{
		ConflictType: conflictType,
		Left:         left,
		Right:        right,
		DetectedAt:   time.Now(),
		Score:        score,
		Status:       model.ConflictOpen,
	}
	id, err := c.store.CreateConflict(ctx, conflict)
	if err != nil {
		return nil, false, err
	}
	conflict.ID = id
	c.log.Info("conflict %s detected between %s/%s and %s/%s (score %.3f)",
		id, left.EntityType, left.ID, right.EntityType, right.ID, score)
	return conflict, true, nil
}

func (c *Conflicts) Get(ctx context.Context, id idgen.ID) (*model.Conflict, error) {
	return c.store.GetConflict(ctx, id)
}

func (c *Conflicts) Resolve(ctx context.Context, id idgen.ID, resolution model.ConflictResolutionRecord) error {
	return c.store.ResolveConflict(ctx, id, resolution)
}

func (c *Conflicts) ListOpen(ctx context.Context, opts storage.ListOptions) ([]*model.Conflict, error) {
	return c.store.ListOpenConflicts(ctx, opts)
}
