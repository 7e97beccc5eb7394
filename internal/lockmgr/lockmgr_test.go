package lockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/storage/sqlitestore"
	"github.com/caliber-dev/caliber/internal/tenant"
)

func TestKeyIsDeterministic(t *testing.T) {
	id := idgen.MustParse("018e7f1c-7e3e-7e3e-8e3e-7e3e7e3e7e3e")
	a := Key("trajectory", id)
	b := Key("trajectory", id)
	if a != b {
		t.Fatalf("Key is not deterministic: %d != %d", a, b)
	}
	if a != 0x3592ce4d996d1a1c {
		t.Fatalf("Key vector mismatch: got %#x, want 0x3592ce4d996d1a1c", a)
	}
	if Key("scope", id) == a {
		t.Fatal("different resource types must not collide trivially")
	}
}

func newManager(t *testing.T) (*Manager, context.Context) {
	t.Helper()
	s, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := tenant.WithTenant(context.Background(), idgen.New())
	return New(s), ctx
}

func TestExclusiveLockBlocksExclusive(t *testing.T) {
	m, ctx := newManager(t)
	resource := idgen.New().String()
	alpha := idgen.New()
	beta := idgen.New()

	if _, err := m.TryLockExclusive(ctx, "trajectory", resource, alpha, time.Minute); err != nil {
		t.Fatalf("first exclusive acquire: %v", err)
	}
	_, err := m.TryLockExclusive(ctx, "trajectory", resource, beta, time.Minute)
	if _, ok := errs.As[*errs.Contention](err); !ok {
		t.Fatalf("expected Contention, got %v", err)
	}
}

func TestSharedThenExclusive(t *testing.T) {
	m, ctx := newManager(t)
	resource := idgen.New().String()
	alpha, beta, gamma := idgen.New(), idgen.New(), idgen.New()

	la, err := m.TryLockShared(ctx, "trajectory", resource, alpha, time.Minute)
	if err != nil {
		t.Fatalf("alpha shared acquire: %v", err)
	}
	lb, err := m.TryLockShared(ctx, "trajectory", resource, beta, time.Minute)
	if err != nil {
		t.Fatalf("beta shared acquire: %v", err)
	}

	if _, err := m.TryLockExclusive(ctx, "trajectory", resource, gamma, time.Minute); err == nil {
		t.Fatal("expected contention while both shared holders are active")
	}

	if err := m.Release(ctx, la); err != nil {
		t.Fatalf("release alpha: %v", err)
	}
	if _, err := m.TryLockExclusive(ctx, "trajectory", resource, gamma, time.Minute); err == nil {
		t.Fatal("expected contention while beta still holds shared")
	}

	if err := m.Release(ctx, lb); err != nil {
		t.Fatalf("release beta: %v", err)
	}
	if _, err := m.TryLockExclusive(ctx, "trajectory", resource, gamma, time.Minute); err != nil {
		t.Fatalf("expected gamma to acquire once both shared holders released: %v", err)
	}
}

func TestCleanupExpiredReleasesAdvisoryKey(t *testing.T) {
	m, ctx := newManager(t)
	resource := idgen.New().String()
	holder := idgen.New()

	if _, err := m.TryLockExclusive(ctx, "trajectory", resource, holder, time.Millisecond); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	n, err := m.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped lock, got %d", n)
	}

	if _, err := m.TryLockExclusive(ctx, "trajectory", resource, idgen.New(), time.Minute); err != nil {
		t.Fatalf("expected reacquire to succeed once the expired lock's advisory key was released: %v", err)
	}
}

func TestCASRenewRejectsStaleVersion(t *testing.T) {
	m, ctx := newManager(t)
	resource := idgen.New().String()
	holder := idgen.New()

	lockID, err := m.TryLockExclusive(ctx, "scope", resource, holder, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	newVersion, err := m.CASRenew(ctx, lockID, 1, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if newVersion != 2 {
		t.Errorf("expected version 2, got %d", newVersion)
	}

	if _, err := m.CASRenew(ctx, lockID, 1, time.Now().Add(time.Minute)); err == nil {
		t.Fatal("expected version mismatch on stale renewal")
	}
}
