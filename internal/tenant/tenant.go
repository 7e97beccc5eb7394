// Package tenant carries the per-request tenant id that every tenant-
// scoped storage query must filter by (spec.md §4.3). A tenant-context
// guard set at request entry propagates the id to all nested operations;
// when unset, the policy is "no tenant" == "deny all tenant data".
package tenant

import (
	"context"

	"github.com/caliber-dev/caliber/internal/idgen"
)

type ctxKey struct{}

type value struct {
	id    idgen.ID
	admin bool
}

// WithTenant returns a context carrying tenantID for all nested
// operations to read via FromContext.
func WithTenant(ctx context.Context, tenantID idgen.ID) context.Context {
	return context.WithValue(ctx, ctxKey{}, value{id: tenantID})
}

// FromContext returns the tenant id carried by ctx, and whether one was
// set. An admin-bypass context (see AdminBypass) never satisfies this —
// admin code must call IsAdmin explicitly rather than accidentally
// picking up a real tenant id.
func FromContext(ctx context.Context) (idgen.ID, bool) {
	v, ok := ctx.Value(ctxKey{}).(value)
	if !ok || v.admin || v.id.IsZero() {
		return idgen.ID{}, false
	}
	return v.id, true
}

// AdminBypass returns a context explicitly marked as the administrative
// bypass path described in spec.md §4.3. Constructing one is the only way
// to skip tenant filtering; it is never inferred from an absent tenant id.
func AdminBypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, value{admin: true})
}

// IsAdmin reports whether ctx was constructed via AdminBypass.
func IsAdmin(ctx context.Context) bool {
	v, ok := ctx.Value(ctxKey{}).(value)
	return ok && v.admin
}
