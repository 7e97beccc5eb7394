package deploy

import (
	"context"
	"testing"

	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/storage/sqlitestore"
	"github.com/caliber-dev/caliber/internal/tenant"
)

func newDeployer(t *testing.T) (context.Context, *Deployer) {
	t.Helper()
	store, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := tenant.WithTenant(context.Background(), idgen.New())
	return ctx, New(store)
}

const validSource = `caliber: "1.0" {
	memory "notes" {
		type: "note"
		retention: 30d
	}
}`

func TestCompileRejectsInvalidSource(t *testing.T) {
	if _, err := Compile(`caliber: "1.0" { memory "x" { bogus_field: "y" } }`); err == nil {
		t.Fatal("expected compile to reject an unknown field")
	}
}

func TestDeployActivatesAndRecordsAudit(t *testing.T) {
	ctx, d := newDeployer(t)

	_, version, err := d.Deploy(ctx, "tenant-a", validSource, true, "initial deploy")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected version 1, got %d", version)
	}

	_, activeVersion, _, _, err := d.ActiveConfig(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("active config: %v", err)
	}
	if activeVersion != 1 {
		t.Fatalf("expected active version 1, got %d", activeVersion)
	}
}

func TestRevertToDeploysNewVersionWithOldSource(t *testing.T) {
	ctx, d := newDeployer(t)

	_, _, err := d.Deploy(ctx, "tenant-a", validSource, true, "v1")
	if err != nil {
		t.Fatalf("deploy v1: %v", err)
	}

	v2Source := `caliber: "1.1" {
		memory "notes" {
			type: "note"
			retention: 7d
		}
	}`
	_, _, err = d.Deploy(ctx, "tenant-a", v2Source, true, "v2")
	if err != nil {
		t.Fatalf("deploy v2: %v", err)
	}

	_, newVersion, err := d.RevertTo(ctx, "tenant-a", 1, "rolling back")
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if newVersion != 3 {
		t.Fatalf("expected revert to create version 3, got %d", newVersion)
	}

	history, err := d.History(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 versions in history, got %d", len(history))
	}
}
