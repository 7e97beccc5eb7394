package core

import (
	"context"

	"github.com/caliber-dev/caliber/internal/dsl/deploy"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/storage"
)

// ConfigCompile is spec.md §6's compile(source) -> (ast, compiled). It
// runs lex -> parse -> validate -> serialize without touching storage,
// so callers can validate a candidate config before ConfigDeploy writes
// a version for it.
func (c *Core) ConfigCompile(source string) (*deploy.Compiled, error) {
	return deploy.Compile(source)
}

// ConfigDeploy is spec.md §6's config_deploy(name, source, activate, notes).
func (c *Core) ConfigDeploy(ctx context.Context, name, source string, activate bool, notes string) (idgen.ID, int, error) {
	return c.DSL.Deploy(ctx, name, source, activate, notes)
}

// ConfigActive is spec.md §6's config_active(name).
func (c *Core) ConfigActive(ctx context.Context, name string) (configID idgen.ID, version int, source string, compiled []byte, err error) {
	return c.DSL.ActiveConfig(ctx, name)
}

// ConfigHistory is spec.md §6's config_history(name).
func (c *Core) ConfigHistory(ctx context.Context, name string) ([]storage.ConfigVersionSummary, error) {
	return c.DSL.History(ctx, name)
}

// ConfigDiff is spec.md §6's config_diff(name, from_version, to_version).
func (c *Core) ConfigDiff(ctx context.Context, name string, fromVersion, toVersion int) (from, to string, err error) {
	return c.DSL.Diff(ctx, name, fromVersion, toVersion)
}

// ConfigRevertTo is spec.md §6's config_revert_to(name, version, notes).
func (c *Core) ConfigRevertTo(ctx context.Context, name string, version int, notes string) (idgen.ID, int, error) {
	return c.DSL.RevertTo(ctx, name, version, notes)
}
