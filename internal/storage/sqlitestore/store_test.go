package sqlitestore

import (
	"context"
	"testing"
	"time"

	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage"
	"github.com/caliber-dev/caliber/internal/tenant"
)

var _ storage.Store = (*Store)(nil)

func setupTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := tenant.WithTenant(context.Background(), idgen.New())
	return s, ctx
}

func TestCreateAndGetTrajectory(t *testing.T) {
	s, ctx := setupTestStore(t)

	tr := &model.Trajectory{
		Name:   "investigate outage",
		Status: model.TrajectoryActive,
	}
	id, err := s.CreateTrajectory(ctx, tr)
	if err != nil {
		t.Fatalf("create trajectory: %v", err)
	}

	got, err := s.GetTrajectory(ctx, id)
	if err != nil {
		t.Fatalf("get trajectory: %v", err)
	}
	if got.Name != "investigate outage" {
		t.Errorf("name mismatch: got %q", got.Name)
	}
	if got.Status != model.TrajectoryActive {
		t.Errorf("status mismatch: got %q", got.Status)
	}
}

func TestTurnSequenceUniqueness(t *testing.T) {
	s, ctx := setupTestStore(t)

	trID, err := s.CreateTrajectory(ctx, &model.Trajectory{Name: "t", Status: model.TrajectoryActive})
	if err != nil {
		t.Fatalf("create trajectory: %v", err)
	}
	scID, err := s.CreateScope(ctx, &model.Scope{
		TrajectoryID: trID,
		Name:         "scope",
		IsActive:     true,
		TokenBudget:  1000,
	})
	if err != nil {
		t.Fatalf("create scope: %v", err)
	}

	if _, err := s.CreateTurn(ctx, &model.Turn{ScopeID: scID, Sequence: 1, Role: model.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("create first turn: %v", err)
	}
	if _, err := s.CreateTurn(ctx, &model.Turn{ScopeID: scID, Sequence: 1, Role: model.RoleUser, Content: "again"}); err == nil {
		t.Fatal("expected contention error on duplicate sequence")
	}
}

func TestLockCASRenew(t *testing.T) {
	s, ctx := setupTestStore(t)
	agentID := idgen.New()

	lockID, err := s.InsertLockAudit(ctx, &model.Lock{
		ResourceType:  "scope",
		ResourceID:    "abc",
		HolderAgentID: agentID,
		Mode:          model.LockExclusive,
		AcquiredAt:    time.Now(),
		ExpiresAt:     time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("insert lock audit: %v", err)
	}

	newVersion, err := s.CASRenewLock(ctx, lockID, 1, time.Now().Add(2*time.Minute).UnixMilli())
	if err != nil {
		t.Fatalf("cas renew: %v", err)
	}
	if newVersion != 2 {
		t.Errorf("expected version 2, got %d", newVersion)
	}

	if _, err := s.CASRenewLock(ctx, lockID, 1, time.Now().UnixMilli()); err == nil {
		t.Fatal("expected version mismatch on stale renewal")
	}
}

func TestDelegationCASUpdate(t *testing.T) {
	s, ctx := setupTestStore(t)
	delegator := idgen.New()
	trID, _ := s.CreateTrajectory(ctx, &model.Trajectory{Name: "parent", Status: model.TrajectoryActive})

	id, err := s.CreateDelegation(ctx, &model.Delegation{
		DelegatorAgentID:  delegator,
		TaskDescription:   "investigate",
		ParentTrajectoryID: trID,
		Status:            model.DelegationPending,
		LastProgressAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("create delegation: %v", err)
	}

	newVersion, err := s.CASUpdateDelegation(ctx, id, 1, map[string]any{"status": string(model.DelegationAccepted)})
	if err != nil {
		t.Fatalf("cas update delegation: %v", err)
	}
	if newVersion != 2 {
		t.Errorf("expected version 2, got %d", newVersion)
	}

	if _, err := s.CASUpdateDelegation(ctx, id, 1, map[string]any{"status": string(model.DelegationRejected)}); err == nil {
		t.Fatal("expected version mismatch on stale CAS")
	}
}

func TestTenantIsolationRequired(t *testing.T) {
	s, _ := setupTestStore(t)
	_, err := s.CreateTrajectory(context.Background(), &model.Trajectory{Name: "x", Status: model.TrajectoryActive})
	if err == nil {
		t.Fatal("expected error creating trajectory without tenant context")
	}
}

func TestVectorSearchOrdersByScore(t *testing.T) {
	s, ctx := setupTestStore(t)
	trID, _ := s.CreateTrajectory(ctx, &model.Trajectory{Name: "t", Status: model.TrajectoryActive})
	scID, _ := s.CreateScope(ctx, &model.Scope{TrajectoryID: trID, Name: "s", IsActive: true, TokenBudget: 100})

	mk := func(emb []float32) {
		if _, err := s.CreateArtifact(ctx, &model.Artifact{
			TrajectoryID: trID, ScopeID: scID, ArtifactType: "note", Name: "a", Content: "c",
			Embedding: emb, TTL: model.TTL{Kind: model.TTLPersistent},
		}); err != nil {
			t.Fatalf("create artifact: %v", err)
		}
	}
	mk([]float32{1, 0, 0})
	mk([]float32{0, 1, 0})

	results, err := s.VectorSearch(ctx, "artifact", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Score < results[1].Score {
		t.Errorf("expected descending score order, got %v then %v", results[0].Score, results[1].Score)
	}
}
