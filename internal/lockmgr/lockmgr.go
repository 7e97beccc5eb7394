// Package lockmgr implements the distributed advisory lock manager (C5):
// exclusive and shared locks over (resource_type, resource_id), backed by
// the storage engine's native advisory-lock primitive and audited in the
// locks table.
package lockmgr

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/caliber-dev/caliber/internal/clog"
	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage"
)

// Key computes the deterministic 64-bit lock key for (resourceType, id):
// FNV-1a over the resource type's bytes, then over the id's 16 raw
// bytes, in one running accumulator. Any correct reimplementation of
// this function, in any language, must produce the same output for the
// same input — that's the whole point of using a fixed, unkeyed hash
// instead of a language-specific one.
func Key(resourceType string, id idgen.ID) uint64 {
	h := fnv.New64a()
	h.Write([]byte(resourceType))
	b := id.Bytes()
	h.Write(b[:])
	return h.Sum64()
}

// Manager grants and renews locks on top of a storage.Store. It holds no
// in-process state: every acquire, release, and renewal is a storage
// call, so any number of Managers across any number of processes agree
// on who holds what.
type Manager struct {
	store storage.Store
	log   *clog.Logger
}

// New returns a Manager backed by store.
func New(store storage.Store) *Manager {
	return &Manager{store: store, log: clog.New("LOCK")}
}

// TryLockExclusive attempts to acquire an exclusive lock on
// (resourceType, resourceID) for holder. It never blocks: a caller
// already holding the advisory key, or racing against one, observes an
// immediate *errs.Contention rather than waiting. The advisory key and
// the audit row are acquired in the same transaction so two processes
// racing for the same resource serialize on the storage engine.
func (m *Manager) TryLockExclusive(ctx context.Context, resourceType, resourceID string, holder idgen.ID, ttl time.Duration) (idgen.ID, error) {
	return m.acquire(ctx, resourceType, resourceID, holder, model.LockExclusive, ttl)
}

// TryLockShared attempts to acquire a shared lock. It fails with
// *errs.Contention if an exclusive holder already exists; any number of
// shared holders may coexist.
func (m *Manager) TryLockShared(ctx context.Context, resourceType, resourceID string, holder idgen.ID, ttl time.Duration) (idgen.ID, error) {
	return m.acquire(ctx, resourceType, resourceID, holder, model.LockShared, ttl)
}

func (m *Manager) acquire(ctx context.Context, resourceType, resourceID string, holder idgen.ID, mode model.LockMode, ttl time.Duration) (idgen.ID, error) {
	resID, err := idgen.Parse(resourceID)
	if err != nil {
		return idgen.ID{}, &errs.ValidationError{Field: "resource_id", Reason: "must be a valid id: " + err.Error()}
	}
	key := Key(resourceType, resID)
	var lockID idgen.ID

	err = m.store.WithTx(ctx, func(ctx context.Context) error {
		existing, err := m.store.ListLocksByResource(ctx, resourceType, resourceID)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, l := range existing {
			if l.ExpiresAt.Before(now) {
				continue // expired holder does not block; gc_locks reaps it separately
			}
			if mode == model.LockExclusive || l.Mode == model.LockExclusive {
				return &errs.Contention{ResourceType: resourceType, ResourceID: resourceID}
			}
		}

		acquired, err := m.store.TryAdvisoryLock(ctx, key)
		if err != nil {
			return err
		}
		if !acquired {
			return &errs.Contention{ResourceType: resourceType, ResourceID: resourceID}
		}

		id, err := m.store.InsertLockAudit(ctx, &model.Lock{
			ResourceType:  resourceType,
			ResourceID:    resourceID,
			HolderAgentID: holder,
			Mode:          mode,
			AcquiredAt:    now,
			ExpiresAt:     now.Add(ttl),
		})
		if err != nil {
			_ = m.store.ReleaseAdvisoryLock(ctx, key)
			return err
		}
		lockID = id
		return nil
	})
	if err != nil {
		return idgen.ID{}, err
	}
	m.log.Info("acquired %s lock on %s/%s for %s", mode, resourceType, resourceID, holder)
	return lockID, nil
}

// Release deletes the audit row and releases the advisory key. Release
// is idempotent from the caller's perspective: releasing an unknown or
// already-released lock id is a *errs.NotFound, never a panic.
func (m *Manager) Release(ctx context.Context, lockID idgen.ID) error {
	l, err := m.store.GetLockAudit(ctx, lockID)
	if err != nil {
		return err
	}
	resID, err := idgen.Parse(l.ResourceID)
	if err != nil {
		return &errs.ValidationError{Field: "resource_id", Reason: "must be a valid id: " + err.Error()}
	}
	key := Key(l.ResourceType, resID)

	return m.store.WithTx(ctx, func(ctx context.Context) error {
		if err := m.store.DeleteLockAudit(ctx, lockID); err != nil {
			return err
		}
		return m.store.ReleaseAdvisoryLock(ctx, key)
	})
}

// CASRenew extends a lock's expiry, requiring the caller's last-known
// version to still match. A stale caller gets *errs.VersionMismatch
// rather than silently stealing a renewal window from whoever renewed
// first.
func (m *Manager) CASRenew(ctx context.Context, lockID idgen.ID, expectedVersion int, newExpiresAt time.Time) (int, error) {
	return m.store.CASRenewLock(ctx, lockID, expectedVersion, newExpiresAt.UnixMilli())
}

// CleanupExpired reaps audit rows whose expiry has passed, releasing
// each one's advisory key in the same transaction as the audit-row
// delete. The advisory_locks table has no expiry column of its own, so
// if this skipped the release, a resource whose holder crashed without
// calling Release would stay contended forever even after its audit
// row aged out.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := m.store.ListExpiredLocks(ctx, time.Now().Unix())
	if err != nil {
		return 0, err
	}

	n := 0
	for _, l := range expired {
		resID, err := idgen.Parse(l.ResourceID)
		if err != nil {
			continue
		}
		key := Key(l.ResourceType, resID)
		err = m.store.WithTx(ctx, func(ctx context.Context) error {
			if err := m.store.DeleteLockAudit(ctx, l.ID); err != nil {
				return err
			}
			return m.store.ReleaseAdvisoryLock(ctx, key)
		})
		if err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		m.log.Info("reaped %d expired locks", n)
	}
	return n, nil
}
