// Package deploy implements the version/deploy stage of the C11
// pipeline: compile (lex -> parse -> validate -> serialize), then
// persist a new version and optionally activate it, recording every
// deploy/rollback/archive action in storage's deploy audit log. Revert
// is "create a new version from an old one and deploy it": history is
// never rewritten.
package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/caliber-dev/caliber/internal/clog"
	"github.com/caliber-dev/caliber/internal/dsl"
	"github.com/caliber-dev/caliber/internal/dsl/parser"
	"github.com/caliber-dev/caliber/internal/dsl/validate"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/storage"
)

// Compiled pairs a parsed AST with its serialized (pretty-printed) form,
// the "compiled form" of spec.md's lex -> parse -> validate -> serialize
// pipeline stage.
type Compiled struct {
	AST      *dsl.Document
	Source   string
}

// Compile runs lex -> parse -> validate -> serialize over source,
// returning a typed error at the first stage that fails.
func Compile(source string) (*Compiled, error) {
	doc, err := parser.Parse(source)
	if err != nil {
		return nil, err
	}
	if err := validate.Validate(doc); err != nil {
		return nil, err
	}
	return &Compiled{AST: doc, Source: dsl.PrettyPrint(doc)}, nil
}

// Deployer wraps storage.DSLStore with the deploy/rollback/archive
// workflow and its audit trail.
type Deployer struct {
	store storage.DSLStore
	log   *clog.Logger
}

func New(store storage.DSLStore) *Deployer {
	return &Deployer{store: store, log: clog.New("DSL").With("deploy")}
}

// Deploy compiles source, inserts it as the next version for name, and
// activates it when activate is true, archiving whatever was
// previously active.
func (d *Deployer) Deploy(ctx context.Context, name, source string, activate bool, notes string) (idgen.ID, int, error) {
	compiled, err := Compile(source)
	if err != nil {
		return idgen.ID{}, 0, err
	}

	latest, err := d.store.LatestConfigVersion(ctx, name)
	if err != nil {
		return idgen.ID{}, 0, err
	}
	version := latest + 1

	configID, err := d.store.InsertConfigVersion(ctx, name, version, source, []byte(compiled.Source))
	if err != nil {
		return idgen.ID{}, 0, err
	}

	action := "archive"
	if activate {
		if err := d.store.ActivateConfigVersion(ctx, configID); err != nil {
			return idgen.ID{}, 0, err
		}
		action = "deploy"
	}
	if err := d.store.AppendDeployAudit(ctx, storage.DeployAuditEntry{
		Name: name, Version: version, Action: action, Notes: notes, CreatedAt: time.Now().UnixMilli(),
	}); err != nil {
		return idgen.ID{}, 0, err
	}
	d.log.Info("%s %s@%d", action, name, version)
	return configID, version, nil
}

// ActiveConfig returns the currently active compiled configuration for
// name.
func (d *Deployer) ActiveConfig(ctx context.Context, name string) (configID idgen.ID, version int, source string, compiled []byte, err error) {
	return d.store.GetActiveConfig(ctx, name)
}

// History returns every version recorded for name, oldest first.
func (d *Deployer) History(ctx context.Context, name string) ([]storage.ConfigVersionSummary, error) {
	return d.store.ConfigHistory(ctx, name)
}

// Diff compares two versions' pretty-printed source, returning both
// sides for the caller to line-diff; the DSL layer itself does not
// compute a structural diff.
func (d *Deployer) Diff(ctx context.Context, name string, fromVersion, toVersion int) (from, to string, err error) {
	_, fromSource, _, err := d.store.GetConfigVersion(ctx, name, fromVersion)
	if err != nil {
		return "", "", err
	}
	_, toSource, _, err := d.store.GetConfigVersion(ctx, name, toVersion)
	if err != nil {
		return "", "", err
	}
	return fromSource, toSource, nil
}

// RevertTo deploys a new version carrying the same source as version
// `version` of config name, per spec.md's "revert is a new version" decision: history is
// never rewritten, so rollback itself is recorded as a deploy of old
// content, not a pointer change.
func (d *Deployer) RevertTo(ctx context.Context, name string, version int, notes string) (idgen.ID, int, error) {
	_, source, _, err := d.store.GetConfigVersion(ctx, name, version)
	if err != nil {
		return idgen.ID{}, 0, err
	}
	configID, newVersion, err := d.Deploy(ctx, name, source, true, notes)
	if err != nil {
		return idgen.ID{}, 0, err
	}
	if err := d.store.AppendDeployAudit(ctx, storage.DeployAuditEntry{
		Name: name, Version: newVersion, Action: "rollback",
		Notes: fmt.Sprintf("reverted to v%d: %s", version, notes), CreatedAt: time.Now().UnixMilli(),
	}); err != nil {
		return idgen.ID{}, 0, err
	}
	return configID, newVersion, nil
}
