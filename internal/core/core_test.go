package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caliber-dev/caliber/internal/ctxassembly"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage/sqlitestore"
	"github.com/caliber-dev/caliber/internal/tenant"
)

func testConfig() model.Config {
	return model.Config{
		TokenBudget: 1000,
		SectionPriorities: map[model.Section]int{
			model.SectionSystem:    3,
			model.SectionArtifacts: 2,
			model.SectionHistory:   1,
		},
		RecencyHalfLife:        time.Hour,
		CheckpointRetention:    5,
		StaleThreshold:         time.Minute,
		ContradictionThreshold: 0.8,
		ContextPersistence:     model.ContextPersistence{Kind: "session"},
		ValidationMode:         model.ValidateOnMutation,
		RetryConfig: model.RetryConfig{
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Second,
			Multiplier:     2,
		},
		CircuitBreaker: model.CircuitBreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Cooldown:         time.Second,
		},
		LockDefaultTTL:     time.Second,
		SagaDefaultTimeout: time.Minute,
		IdempotencyTTL:     time.Hour,
	}
}

func setupCore(t *testing.T) (context.Context, *Core) {
	t.Helper()
	store, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	c, err := New(store, testConfig())
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	ctx := tenant.WithTenant(context.Background(), idgen.New())
	return ctx, c
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	store, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	_, err = New(store, model.Config{})
	if err == nil {
		t.Fatal("expected New to reject a zero-value config")
	}
}

func TestEntityCRUDProducesJournalChanges(t *testing.T) {
	ctx, c := setupCore(t)

	before, err := c.Watermark(ctx)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}

	id, err := c.CreateTrajectory(ctx, &model.Trajectory{
		Name:   "debug prod incident",
		Status: model.TrajectoryActive,
	})
	if err != nil {
		t.Fatalf("create trajectory: %v", err)
	}

	changes, err := c.ChangesSince(ctx, before, []string{"trajectory"}, 0)
	if err != nil {
		t.Fatalf("changes_since: %v", err)
	}
	if len(changes) != 1 || changes[0].EntityID != id {
		t.Fatalf("expected exactly one trajectory change, got %+v", changes)
	}
}

func TestLockAcquireReleaseRoundTrip(t *testing.T) {
	ctx, c := setupCore(t)
	holder := idgen.New()
	resource := idgen.New().String()

	lockID, err := c.LockAcquire(ctx, model.LockExclusive, "scope", resource, holder, 5000)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := c.LockAcquire(ctx, model.LockExclusive, "scope", resource, idgen.New(), 5000); err == nil {
		t.Fatal("expected a second exclusive acquire on the same resource to fail")
	}

	if err := c.LockRelease(ctx, lockID); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, err := c.LockAcquire(ctx, model.LockExclusive, "scope", resource, holder, 5000); err != nil {
		t.Fatalf("expected acquire to succeed after release: %v", err)
	}
}

func TestAssembleContextFillsFromTurnsAndArtifacts(t *testing.T) {
	ctx, c := setupCore(t)

	trajID, err := c.CreateTrajectory(ctx, &model.Trajectory{Name: "t", Status: model.TrajectoryActive})
	if err != nil {
		t.Fatalf("create trajectory: %v", err)
	}
	scopeID, err := c.CreateScope(ctx, &model.Scope{
		TrajectoryID: trajID,
		Name:         "main",
		IsActive:     true,
		TokenBudget:  1000,
	})
	if err != nil {
		t.Fatalf("create scope: %v", err)
	}
	turnID, err := c.CreateTurn(ctx, &model.Turn{
		ScopeID:  scopeID,
		Sequence: 1,
		Role:     model.RoleUser,
		Content:  "what broke in prod?",
	})
	require.NoError(t, err)
	if _, err := c.CreateArtifact(ctx, &model.Artifact{
		TrajectoryID: trajID,
		ScopeID:      scopeID,
		Content:      "root cause: connection pool exhaustion",
		TTL:          model.TTL{Kind: model.TTLPersistent},
	}); err != nil {
		t.Fatalf("create artifact: %v", err)
	}

	included, err := c.AssembleContext(ctx, scopeID, "", nil)
	require.NoError(t, err, "assemble_context")
	require.Len(t, included, 2, "expected 2 included candidates (turn + artifact)")

	var turnIncluded *ctxassembly.Included
	for i := range included {
		if included[i].ID == turnID {
			turnIncluded = &included[i]
		}
	}
	require.NotNil(t, turnIncluded, "user turn must appear among the included candidates")
	require.Equal(t, model.SectionUser, turnIncluded.Section, "a user-role turn must land in SectionUser, not SectionHistory")
}
