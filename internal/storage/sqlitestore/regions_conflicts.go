package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage"
	"github.com/caliber-dev/caliber/internal/tenant"
)

func (s *Store) CreateRegion(ctx context.Context, r *model.Region) (idgen.ID, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return idgen.ID{}, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	if r.ID.IsZero() {
		r.ID = idgen.New()
	}
	r.TenantID = tid

	readers, err := joinStrings(r.Readers)
	if err != nil {
		return idgen.ID{}, err
	}
	writers, err := joinStrings(r.Writers)
	if err != nil {
		return idgen.ID{}, err
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO regions (
			id, tenant_id, name, kind, owner_agent_id, readers, writers, require_lock,
			conflict_resolution, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), tid.String(), r.Name, string(r.Kind), r.OwnerAgentID.String(), readers, writers,
		r.RequireLock, string(r.ConflictResolution), unixMilli(r.CreatedAt), unixMilli(r.UpdatedAt),
	)
	if err != nil {
		return idgen.ID{}, &errs.Storage{Cause: fmt.Errorf("create_region: %w", err)}
	}
	return r.ID, nil
}

const regionColumns = `id, tenant_id, name, kind, owner_agent_id, readers, writers, require_lock,
		       conflict_resolution, created_at, updated_at`

func scanRegion(scan func(dest ...any) error) (*model.Region, error) {
	var r model.Region
	var id, tid, owner string
	var readers, writers []byte
	var createdAt, updatedAt int64

	err := scan(&id, &tid, &r.Name, &r.Kind, &owner, &readers, &writers, &r.RequireLock,
		&r.ConflictResolution, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Entity: "region", ID: id}
	}
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("scan_region: %w", err)}
	}

	if r.ID, err = idgen.Parse(id); err != nil {
		return nil, err
	}
	if r.TenantID, err = idgen.Parse(tid); err != nil {
		return nil, err
	}
	if r.OwnerAgentID, err = idgen.Parse(owner); err != nil {
		return nil, err
	}
	if r.Readers, err = splitStrings(readers); err != nil {
		return nil, err
	}
	if r.Writers, err = splitStrings(writers); err != nil {
		return nil, err
	}
	r.CreatedAt = fromUnixMilli(createdAt)
	r.UpdatedAt = fromUnixMilli(updatedAt)
	return &r, nil
}

func (s *Store) GetRegion(ctx context.Context, id idgen.ID) (*model.Region, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+regionColumns+` FROM regions WHERE id = ?`, id.String())
	return scanRegion(row.Scan)
}

func (s *Store) UpdateRegion(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Region, error) {
	current, err := s.GetRegion(ctx, id)
	if err != nil {
		return nil, err
	}
	applyPatch(patch, map[string]func(any){
		"readers":             func(v any) { current.Readers, _ = v.([]string) },
		"writers":             func(v any) { current.Writers, _ = v.([]string) },
		"require_lock":        func(v any) { current.RequireLock = v.(bool) },
		"conflict_resolution": func(v any) { current.ConflictResolution = model.ConflictResolution(v.(string)) },
	})

	readers, err := joinStrings(current.Readers)
	if err != nil {
		return nil, err
	}
	writers, err := joinStrings(current.Writers)
	if err != nil {
		return nil, err
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		UPDATE regions SET readers=?, writers=?, require_lock=?, conflict_resolution=?, updated_at=?
		WHERE id=?`,
		readers, writers, current.RequireLock, string(current.ConflictResolution), nowMilli(), id.String())
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("update_region: %w", err)}
	}
	return s.GetRegion(ctx, id)
}

func (s *Store) CreateConflict(ctx context.Context, c *model.Conflict) (idgen.ID, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return idgen.ID{}, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	if c.ID.IsZero() {
		c.ID = idgen.New()
	}
	c.TenantID = tid

	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO conflicts (
			id, tenant_id, conflict_type, left_entity_type, left_id, left_role,
			right_entity_type, right_id, right_role, detected_at, score, status,
			resolution, resolved_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), tid.String(), c.ConflictType, c.Left.EntityType, c.Left.ID.String(), c.Left.Role,
		c.Right.EntityType, c.Right.ID.String(), c.Right.Role, unixMilli(c.DetectedAt), c.Score,
		string(c.Status), nil, nullTimePtr(c.ResolvedAt), unixMilli(c.CreatedAt), unixMilli(c.UpdatedAt),
	)
	if err != nil {
		return idgen.ID{}, &errs.Storage{Cause: fmt.Errorf("create_conflict: %w", err)}
	}
	return c.ID, nil
}

const conflictColumns = `id, tenant_id, conflict_type, left_entity_type, left_id, left_role,
		       right_entity_type, right_id, right_role, detected_at, score, status,
		       resolution, resolved_at, created_at, updated_at`

func scanConflict(scan func(dest ...any) error) (*model.Conflict, error) {
	var c model.Conflict
	var id, tid, leftID, rightID string
	var leftRole, rightRole sql.NullString
	var resolution []byte
	var resolvedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := scan(&id, &tid, &c.ConflictType, &c.Left.EntityType, &leftID, &leftRole,
		&c.Right.EntityType, &rightID, &rightRole, &c.DetectedAt, &c.Score, &c.Status,
		&resolution, &resolvedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Entity: "conflict", ID: id}
	}
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("scan_conflict: %w", err)}
	}

	if c.ID, err = idgen.Parse(id); err != nil {
		return nil, err
	}
	if c.TenantID, err = idgen.Parse(tid); err != nil {
		return nil, err
	}
	if c.Left.ID, err = idgen.Parse(leftID); err != nil {
		return nil, err
	}
	if c.Right.ID, err = idgen.Parse(rightID); err != nil {
		return nil, err
	}
	c.Left.Role = leftRole.String
	c.Right.Role = rightRole.String
	if len(resolution) > 0 {
		if err := unmarshalJSON(resolution, &c.Resolution); err != nil {
			return nil, err
		}
	}
	c.ResolvedAt = timePtrFromNull(resolvedAt)
	c.CreatedAt = fromUnixMilli(createdAt)
	c.UpdatedAt = fromUnixMilli(updatedAt)
	return &c, nil
}

func (s *Store) GetConflict(ctx context.Context, id idgen.ID) (*model.Conflict, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`, id.String())
	return scanConflict(row.Scan)
}

func (s *Store) ResolveConflict(ctx context.Context, id idgen.ID, resolution model.ConflictResolutionRecord) error {
	b, err := marshalJSON(resolution)
	if err != nil {
		return err
	}
	status := model.ConflictResolved
	_, err = s.conn(ctx).ExecContext(ctx, `
		UPDATE conflicts SET status=?, resolution=?, resolved_at=?, updated_at=? WHERE id=?`,
		string(status), b, nowMilli(), nowMilli(), id.String())
	if err != nil {
		return &errs.Storage{Cause: fmt.Errorf("resolve_conflict: %w", err)}
	}
	return nil
}

func (s *Store) ListOpenConflicts(ctx context.Context, opts storage.ListOptions) ([]*model.Conflict, error) {
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE status = 'open' ORDER BY id ` + order
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("list_open_conflicts: %w", err)}
	}
	defer rows.Close()

	var out []*model.Conflict
	for rows.Next() {
		c, err := scanConflict(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
