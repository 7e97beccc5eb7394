package coordination

import (
	"context"
	"testing"

	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage/sqlitestore"
	"github.com/caliber-dev/caliber/internal/tenant"
)

func setup(t *testing.T) (context.Context, *sqlitestore.Store) {
	t.Helper()
	store, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := tenant.WithTenant(context.Background(), idgen.New())
	return ctx, store
}

type recordingNotifier struct {
	agentNotified     []idgen.ID
	agentTypeNotified []string
}

func (r *recordingNotifier) NotifyAgent(_ context.Context, _ idgen.ID, agentID idgen.ID) error {
	r.agentNotified = append(r.agentNotified, agentID)
	return nil
}

func (r *recordingNotifier) NotifyAgentType(_ context.Context, _ idgen.ID, agentType string) error {
	r.agentTypeNotified = append(r.agentTypeNotified, agentType)
	return nil
}

func TestSendNotifiesDirectRecipient(t *testing.T) {
	ctx, store := setup(t)
	notifier := &recordingNotifier{}
	messages := NewMessages(store, notifier)

	to := idgen.New()
	_, err := messages.Send(ctx, &model.Message{
		FromAgentID: idgen.New(),
		ToAgentID:   &to,
		MessageType: "task_assigned",
		Priority:    model.PriorityNormal,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(notifier.agentNotified) != 1 || notifier.agentNotified[0] != to {
		t.Fatalf("expected notification to %s, got %v", to, notifier.agentNotified)
	}
}

func TestPendingOrdersByPriority(t *testing.T) {
	ctx, store := setup(t)
	messages := NewMessages(store, nil)
	to := idgen.New()

	_, _ = messages.Send(ctx, &model.Message{FromAgentID: idgen.New(), ToAgentID: &to, MessageType: "a", Priority: model.PriorityLow})
	_, _ = messages.Send(ctx, &model.Message{FromAgentID: idgen.New(), ToAgentID: &to, MessageType: "b", Priority: model.PriorityCritical})

	pending, err := messages.Pending(ctx, &to, nil)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].Priority != model.PriorityCritical {
		t.Fatalf("expected critical first, got %+v", pending)
	}
}

func TestRegionPublicGrantsReadToAnyAgent(t *testing.T) {
	region := &model.Region{Kind: model.RegionPublic}
	agent := &model.Agent{TenantBase: model.TenantBase{Base: model.Base{ID: idgen.New()}}}
	if !CanRead(region, agent, nil) {
		t.Fatal("expected public region to grant read")
	}
}

func TestEntityACLNarrowsRegionGrant(t *testing.T) {
	agent := &model.Agent{TenantBase: model.TenantBase{Base: model.Base{ID: idgen.New()}}, AgentType: "researcher"}
	region := &model.Region{Kind: model.RegionTeam, Writers: []string{"researcher"}}

	if !CanWrite(region, agent, nil) {
		t.Fatal("expected team region to grant write with no ACL override")
	}

	meta := model.Metadata{"acl": EntityACL{DenyWrite: []string{"researcher"}}}
	if CanWrite(region, agent, meta) {
		t.Fatal("expected per-entity ACL to override the region's broader grant")
	}
}

func TestRegionPrivateDeniesNonOwnerWrite(t *testing.T) {
	owner := idgen.New()
	other := &model.Agent{TenantBase: model.TenantBase{Base: model.Base{ID: idgen.New()}}}
	region := &model.Region{Kind: model.RegionPrivate, OwnerAgentID: owner}
	if CanWrite(region, other, nil) {
		t.Fatal("expected private region to deny a non-owner write")
	}
}

func TestDetectConflictBelowThresholdIsNoOp(t *testing.T) {
	ctx, store := setup(t)
	conflicts := NewConflicts(store)

	left := model.EdgeParticipant{EntityType: "note", ID: idgen.New()}
	right := model.EdgeParticipant{EntityType: "note", ID: idgen.New()}

	_, detected, err := conflicts.DetectConflict(ctx, "contradiction", left, right, 0.4, 0.8)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if detected {
		t.Fatal("expected no conflict below threshold")
	}

	conflict, detected, err := conflicts.DetectConflict(ctx, "contradiction", left, right, 0.9, 0.8)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !detected || conflict.Status != model.ConflictOpen {
		t.Fatalf("expected an open conflict, got %+v", conflict)
	}
}

func TestOrphanOnDeleteMarksReferencingEdges(t *testing.T) {
	ctx, store := setup(t)
	edges := NewEdges(store)

	artifactID := idgen.New()
	noteID := idgen.New()
	edgeID, err := edges.Create(ctx, &model.Edge{
		EdgeType: model.EdgeSupports,
		Participants: []model.EdgeParticipant{
			{EntityType: "artifact", ID: artifactID},
			{EntityType: "note", ID: noteID},
		},
	})
	if err != nil {
		t.Fatalf("create edge: %v", err)
	}

	n, err := edges.OrphanOnDelete(ctx, "artifact", artifactID)
	if err != nil {
		t.Fatalf("orphan: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 edge orphaned, got %d", n)
	}

	edge, err := edges.Get(ctx, edgeID)
	if err != nil {
		t.Fatalf("get edge: %v", err)
	}
	if !edge.IsOrphaned() {
		t.Fatal("expected edge to report orphaned")
	}
}
