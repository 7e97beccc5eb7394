package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/tenant"
)

// TryAdvisoryLock implements storage.LockStore's native primitive. SQLite
// has no server-side advisory lock table, so the reference backend
// emulates one with a dedicated UNIQUE row: acquiring the key is an
// INSERT OR IGNORE, releasing is a DELETE keyed by the same value. This
// mirrors the FNV-1a key contract used by internal/lockmgr without
// requiring a second engine.
func (s *Store) TryAdvisoryLock(ctx context.Context, key uint64) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx,
		`INSERT OR IGNORE INTO advisory_locks (key) VALUES (?)`, int64(key))
	if err != nil {
		return false, &errs.Storage{Cause: fmt.Errorf("try_advisory_lock: %w", err)}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &errs.Storage{Cause: fmt.Errorf("try_advisory_lock: %w", err)}
	}
	return n == 1, nil
}

// ReleaseAdvisoryLock releases a key acquired by TryAdvisoryLock. Safe to
// call on an already-released key.
func (s *Store) ReleaseAdvisoryLock(ctx context.Context, key uint64) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM advisory_locks WHERE key = ?`, int64(key))
	if err != nil {
		return &errs.Storage{Cause: fmt.Errorf("release_advisory_lock: %w", err)}
	}
	return nil
}

func (s *Store) InsertLockAudit(ctx context.Context, l *model.Lock) (idgen.ID, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return idgen.ID{}, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	if l.ID.IsZero() {
		l.ID = idgen.New()
	}
	l.TenantID = tid
	if l.Version == 0 {
		l.Version = 1
	}

	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO locks (
			id, tenant_id, version, resource_type, resource_id, holder_agent_id, mode,
			acquired_at, expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), tid.String(), l.Version, l.ResourceType, l.ResourceID, l.HolderAgentID.String(),
		string(l.Mode), unixMilli(l.AcquiredAt), unixMilli(l.ExpiresAt), unixMilli(l.CreatedAt), unixMilli(l.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return idgen.ID{}, &errs.Contention{ResourceType: l.ResourceType, ResourceID: l.ResourceID}
		}
		return idgen.ID{}, &errs.Storage{Cause: fmt.Errorf("insert_lock_audit: %w", err)}
	}
	return l.ID, nil
}

const lockColumns = `id, tenant_id, version, resource_type, resource_id, holder_agent_id, mode,
		       acquired_at, expires_at, created_at, updated_at`

func scanLock(scan func(dest ...any) error) (*model.Lock, error) {
	var l model.Lock
	var id, tid, holder string
	var acquiredAt, expiresAt, createdAt, updatedAt int64

	err := scan(&id, &tid, &l.Version, &l.ResourceType, &l.ResourceID, &holder, &l.Mode,
		&acquiredAt, &expiresAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Entity: "lock", ID: id}
	}
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("scan_lock: %w", err)}
	}

	if l.ID, err = idgen.Parse(id); err != nil {
		return nil, err
	}
	if l.TenantID, err = idgen.Parse(tid); err != nil {
		return nil, err
	}
	if l.HolderAgentID, err = idgen.Parse(holder); err != nil {
		return nil, err
	}
	l.AcquiredAt = fromUnixMilli(acquiredAt)
	l.ExpiresAt = fromUnixMilli(expiresAt)
	l.CreatedAt = fromUnixMilli(createdAt)
	l.UpdatedAt = fromUnixMilli(updatedAt)
	return &l, nil
}

func (s *Store) GetLockAudit(ctx context.Context, id idgen.ID) (*model.Lock, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+lockColumns+` FROM locks WHERE id = ?`, id.String())
	return scanLock(row.Scan)
}

func (s *Store) DeleteLockAudit(ctx context.Context, id idgen.ID) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM locks WHERE id=?`, id.String())
	if err != nil {
		return &errs.Storage{Cause: fmt.Errorf("delete_lock_audit: %w", err)}
	}
	return nil
}

// CASRenewLock extends a lock's expiry only if expectedVersion still
// matches the stored version, incrementing it atomically. Returns
// errs.VersionMismatch when another renewal raced ahead of this one.
func (s *Store) CASRenewLock(ctx context.Context, id idgen.ID, expectedVersion int, newExpiresAt int64) (int, error) {
	newVersion := expectedVersion + 1
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE locks SET version=?, expires_at=?, updated_at=? WHERE id=? AND version=?`,
		newVersion, newExpiresAt, nowMilli(), id.String(), expectedVersion)
	if err != nil {
		return 0, &errs.Storage{Cause: fmt.Errorf("cas_renew_lock: %w", err)}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &errs.Storage{Cause: fmt.Errorf("cas_renew_lock: %w", err)}
	}
	if n == 0 {
		current, cerr := s.GetLockAudit(ctx, id)
		if cerr != nil {
			return 0, &errs.VersionMismatch{Expected: expectedVersion}
		}
		got := current.Version
		return 0, &errs.VersionMismatch{Expected: expectedVersion, Got: &got}
	}
	return newVersion, nil
}

func (s *Store) ListLocksByResource(ctx context.Context, resourceType, resourceID string) ([]*model.Lock, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE resource_type = ? AND resource_id = ?`, resourceType, resourceID)
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("list_locks_by_resource: %w", err)}
	}
	defer rows.Close()

	var out []*model.Lock
	for rows.Next() {
		l, err := scanLock(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListExpiredLocks returns every audit row whose expiry has passed, so
// the caller can release each one's advisory key before deleting the
// audit row — deleting the audit row alone would leak the
// advisory_locks row forever, since nothing else ever sweeps that
// table.
func (s *Store) ListExpiredLocks(ctx context.Context, nowUnix int64) ([]*model.Lock, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE expires_at < ?`, nowUnix*1000)
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("list_expired_locks: %w", err)}
	}
	defer rows.Close()

	var out []*model.Lock
	for rows.Next() {
		l, err := scanLock(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
