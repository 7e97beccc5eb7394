package core

import (
	"context"
	"time"

	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
)

// DelegationCreate starts a new delegation saga in DelegationPending,
// stamping timeout_at from cfg.SagaDefaultTimeout when the caller does
// not supply one.
func (c *Core) DelegationCreate(ctx context.Context, d *model.Delegation) (idgen.ID, error) {
	d.Status = model.DelegationPending
	d.LastProgressAt = time.Now()
	if d.TimeoutAt == nil {
		deadline := time.Now().Add(c.cfg.SagaDefaultTimeout)
		d.TimeoutAt = &deadline
	}
	return c.Store.CreateDelegation(ctx, d)
}

func (c *Core) DelegationAccept(ctx context.Context, id idgen.ID, expectedVersion int) (int, error) {
	return c.Delegations.CASUpdate(ctx, id, expectedVersion, model.DelegationAccepted, nil)
}

func (c *Core) DelegationReject(ctx context.Context, id idgen.ID, expectedVersion int, reason string) (int, error) {
	return c.Delegations.CASUpdate(ctx, id, expectedVersion, model.DelegationRejected, map[string]any{
		"result": model.Metadata{"reject_reason": reason},
	})
}

func (c *Core) DelegationComplete(ctx context.Context, id idgen.ID, expectedVersion int, result model.Metadata) (int, error) {
	return c.Delegations.CASUpdate(ctx, id, expectedVersion, model.DelegationCompleted, map[string]any{
		"result": result,
	})
}

func (c *Core) DelegationFail(ctx context.Context, id idgen.ID, expectedVersion int, reason string) (int, error) {
	return c.Delegations.CASUpdate(ctx, id, expectedVersion, model.DelegationFailed, map[string]any{
		"result": model.Metadata{"fail_reason": reason},
	})
}

// HandoffCreate starts a new handoff saga in HandoffInitiated.
func (c *Core) HandoffCreate(ctx context.Context, h *model.Handoff) (idgen.ID, error) {
	h.Status = model.HandoffInitiated
	h.LastProgressAt = time.Now()
	if h.TimeoutAt == nil {
		deadline := time.Now().Add(c.cfg.SagaDefaultTimeout)
		h.TimeoutAt = &deadline
	}
	return c.Store.CreateHandoff(ctx, h)
}

func (c *Core) HandoffAccept(ctx context.Context, id idgen.ID, expectedVersion int) (int, error) {
	return c.Handoffs.CASUpdate(ctx, id, expectedVersion, model.HandoffAccepted, nil)
}

func (c *Core) HandoffReject(ctx context.Context, id idgen.ID, expectedVersion int, reason string) (int, error) {
	return c.Handoffs.CASUpdate(ctx, id, expectedVersion, model.HandoffRejected, map[string]any{
		"reason": reason,
	})
}

func (c *Core) HandoffComplete(ctx context.Context, id idgen.ID, expectedVersion int) (int, error) {
	return c.Handoffs.CASUpdate(ctx, id, expectedVersion, model.HandoffCompleted, nil)
}

// SagaKind names which saga Heartbeat/TimeoutSweep operates on.
type SagaKind string

const (
	SagaDelegation SagaKind = "delegation"
	SagaHandoff    SagaKind = "handoff"
)

// Heartbeat is spec.md §6's heartbeat(kind, id, expected_version?).
func (c *Core) Heartbeat(ctx context.Context, kind SagaKind, id idgen.ID, expectedVersion *int) (int, error) {
	if kind == SagaHandoff {
		return c.Handoffs.Heartbeat(ctx, id, expectedVersion)
	}
	return c.Delegations.Heartbeat(ctx, id, expectedVersion)
}

// TimeoutSweep is spec.md §6's timeout_sweep() maintenance op.
func (c *Core) TimeoutSweep(ctx context.Context, now time.Time) (int, error) {
	return c.Sweeper.Sweep(ctx, now)
}
