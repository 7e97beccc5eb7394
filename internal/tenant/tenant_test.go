package tenant

import (
	"context"
	"testing"

	"github.com/caliber-dev/caliber/internal/idgen"
)

func TestWithTenantRoundTrip(t *testing.T) {
	id := idgen.New()
	ctx := WithTenant(context.Background(), id)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected tenant to be present")
	}
	if got.String() != id.String() {
		t.Fatalf("tenant mismatch: %s != %s", got, id)
	}
}

func TestFromContextAbsent(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Fatal("expected no tenant in bare context")
	}
}

func TestAdminBypassNeverSatisfiesFromContext(t *testing.T) {
	ctx := AdminBypass(context.Background())
	if !IsAdmin(ctx) {
		t.Fatal("expected IsAdmin true")
	}
	if _, ok := FromContext(ctx); ok {
		t.Fatal("admin bypass must not satisfy FromContext")
	}
}
