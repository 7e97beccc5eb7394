package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/storage/sqlitestore"
	"github.com/caliber-dev/caliber/internal/tenant"
)

func newCache(t *testing.T) (*Cache, context.Context) {
	t.Helper()
	s, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := tenant.WithTenant(context.Background(), idgen.New())
	return New(s, time.Hour), ctx
}

func TestCheckFirstCallIsNew(t *testing.T) {
	c, ctx := newCache(t)
	res, err := c.Check(ctx, "req-1", "create_trajectory", []byte(`{"name":"a"}`))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.New {
		t.Fatal("expected first call to be new")
	}
}

func TestCheckReplayReturnsStoredResult(t *testing.T) {
	c, ctx := newCache(t)
	body := []byte(`{"name":"a"}`)

	if _, err := c.Check(ctx, "req-2", "create_trajectory", body); err != nil {
		t.Fatalf("first check: %v", err)
	}
	if err := c.Store(ctx, "req-2", 201, []byte(`{"id":"xyz"}`)); err != nil {
		t.Fatalf("store: %v", err)
	}

	res, err := c.Check(ctx, "req-2", "create_trajectory", body)
	if err != nil {
		t.Fatalf("replay check: %v", err)
	}
	if res.New {
		t.Fatal("expected replay to not be new")
	}
	if res.Status != 201 {
		t.Errorf("expected status 201, got %d", res.Status)
	}
}

func TestCheckConflictingBodyIsRejected(t *testing.T) {
	c, ctx := newCache(t)
	if _, err := c.Check(ctx, "req-3", "create_trajectory", []byte(`{"name":"a"}`)); err != nil {
		t.Fatalf("first check: %v", err)
	}
	_, err := c.Check(ctx, "req-3", "create_trajectory", []byte(`{"name":"b"}`))
	if _, ok := errs.As[*errs.IdempotencyConflict](err); !ok {
		t.Fatalf("expected IdempotencyConflict, got %v", err)
	}
}
