package ctxassembly_test

import (
	"context"
	"testing"
	"time"

	"github.com/caliber-dev/caliber/internal/ctxassembly"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage/sqlitestore"
	"github.com/caliber-dev/caliber/internal/tenant"
)

func TestResolveNoteRefsMarksDanglingIDsUnresolved(t *testing.T) {
	store, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := tenant.WithTenant(context.Background(), idgen.New())

	live := &model.Note{NoteType: "fact", Content: "exists", AbstractionLevel: model.AbstractionRaw, TTL: model.TTL{Kind: model.TTLPersistent}}
	liveID, err := store.CreateNote(ctx, live)
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	dangling := idgen.New()

	refs, err := ctxassembly.ResolveNoteRefs(ctx, store, []idgen.ID{liveID, dangling})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(refs))
	}
	if _, ok := refs[0].(*model.Note); !ok {
		t.Fatalf("expected first ref to resolve to a note, got %T", refs[0])
	}
	u, ok := refs[1].(ctxassembly.Unresolved)
	if !ok {
		t.Fatalf("expected second ref to be Unresolved, got %T", refs[1])
	}
	if u.ID != dangling {
		t.Fatalf("unresolved id mismatch: got %v want %v", u.ID, dangling)
	}
}

func TestBuildNoteCandidateResolvesSourceNotes(t *testing.T) {
	store, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := tenant.WithTenant(context.Background(), idgen.New())

	parent := &model.Note{NoteType: "fact", Content: "parent", AbstractionLevel: model.AbstractionRaw, TTL: model.TTL{Kind: model.TTLPersistent}}
	parentID, err := store.CreateNote(ctx, parent)
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}

	child := &model.Note{
		NoteType:         "summary",
		Content:          "child",
		AbstractionLevel: model.AbstractionSummary,
		TTL:              model.TTL{Kind: model.TTLPersistent},
		SourceNoteIDs:    []idgen.ID{parentID},
		CreatedAt:        time.Now(),
	}
	childID, err := store.CreateNote(ctx, child)
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	got, err := store.GetNote(ctx, childID)
	if err != nil {
		t.Fatalf("get child: %v", err)
	}

	cand, err := ctxassembly.BuildNoteCandidate(ctx, store, got)
	if err != nil {
		t.Fatalf("build candidate: %v", err)
	}
	if len(cand.SourceNotes) != 1 {
		t.Fatalf("expected 1 source note, got %d", len(cand.SourceNotes))
	}
	if n, ok := cand.SourceNotes[0].(*model.Note); !ok || n.ID != parentID {
		t.Fatalf("expected resolved parent note, got %+v", cand.SourceNotes[0])
	}
}
