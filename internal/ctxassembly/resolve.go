package ctxassembly

import (
	"context"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage"
)

// Unresolved marks a weak reference (a Note's source_artifact_ids,
// source_trajectory_ids, or source_note_ids) whose target no longer
// exists. Notes intentionally allow dangling ids for historical
// preservation, so a missing target is reported this way, not as an
// error.
type Unresolved struct {
	ID idgen.ID
}

// ResolveNoteRefs resolves a Note's source_note_ids into either the
// referenced *model.Note or an Unresolved marker, preserving input
// order. Any error other than NotFound is returned immediately.
func ResolveNoteRefs(ctx context.Context, store storage.NoteStore, ids []idgen.ID) ([]any, error) {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		n, err := store.GetNote(ctx, id)
		if err != nil {
			if _, ok := errs.As[*errs.NotFound](err); ok {
				out = append(out, Unresolved{ID: id})
				continue
			}
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// ResolveArtifactRefs resolves a Note's source_artifact_ids the same
// way ResolveNoteRefs resolves source_note_ids.
func ResolveArtifactRefs(ctx context.Context, store storage.ArtifactStore, ids []idgen.ID) ([]any, error) {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		a, err := store.GetArtifact(ctx, id)
		if err != nil {
			if _, ok := errs.As[*errs.NotFound](err); ok {
				out = append(out, Unresolved{ID: id})
				continue
			}
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ResolveTrajectoryRefs resolves a Note's source_trajectory_ids the
// same way ResolveNoteRefs resolves source_note_ids.
func ResolveTrajectoryRefs(ctx context.Context, store storage.TrajectoryStore, ids []idgen.ID) ([]any, error) {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		tr, err := store.GetTrajectory(ctx, id)
		if err != nil {
			if _, ok := errs.As[*errs.NotFound](err); ok {
				out = append(out, Unresolved{ID: id})
				continue
			}
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

// NoteCandidate builds an Assemble Candidate for a note, with its
// weakly-referenced notes resolved for callers that want to surface
// Unresolved markers alongside the assembled context rather than
// silently dropping dangling links.
type NoteCandidate struct {
	Candidate
	SourceNotes []any
}

func BuildNoteCandidate(ctx context.Context, store storage.NoteStore, n *model.Note) (NoteCandidate, error) {
	refs, err := ResolveNoteRefs(ctx, store, n.SourceNoteIDs)
	if err != nil {
		return NoteCandidate{}, err
	}
	return NoteCandidate{
		Candidate: Candidate{
			Section:   model.SectionNotes,
			ID:        n.ID,
			Content:   n.Content,
			Embedding: n.Embedding,
			CreatedAt: n.CreatedAt,
		},
		SourceNotes: refs,
	}, nil
}
