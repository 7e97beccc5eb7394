package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage"
	"github.com/caliber-dev/caliber/internal/tenant"
)

func (s *Store) CreateScope(ctx context.Context, sc *model.Scope) (idgen.ID, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return idgen.ID{}, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	if err := sc.Validate(); err != nil {
		return idgen.ID{}, err
	}
	if sc.ID.IsZero() {
		sc.ID = idgen.New()
	}
	sc.TenantID = tid

	checkpoint, err := marshalJSON(sc.Checkpoint)
	if err != nil {
		return idgen.ID{}, err
	}
	meta, err := marshalJSON(sc.Metadata)
	if err != nil {
		return idgen.ID{}, err
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO scopes (
			id, tenant_id, trajectory_id, parent_scope_id, name, purpose, is_active,
			closed_at, checkpoint, token_budget, tokens_used, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID.String(), tid.String(), sc.TrajectoryID.String(), nullIDPtr(sc.ParentScopeID),
		sc.Name, sc.Purpose, sc.IsActive, nullTimePtr(sc.ClosedAt), checkpoint,
		sc.TokenBudget, sc.TokensUsed, meta, unixMilli(sc.CreatedAt), unixMilli(sc.UpdatedAt),
	)
	if err != nil {
		return idgen.ID{}, &errs.Storage{Cause: fmt.Errorf("create_scope: %w", err)}
	}
	return sc.ID, nil
}

func scanScope(scan func(dest ...any) error) (*model.Scope, error) {
	var sc model.Scope
	var id, tid, trajectoryID string
	var parentScope sql.NullString
	var closedAt sql.NullInt64
	var checkpoint, meta []byte
	var createdAt, updatedAt int64

	err := scan(&id, &tid, &trajectoryID, &parentScope, &sc.Name, &sc.Purpose, &sc.IsActive,
		&closedAt, &checkpoint, &sc.TokenBudget, &sc.TokensUsed, &meta, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Entity: "scope", ID: id}
	}
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("scan_scope: %w", err)}
	}

	if sc.ID, err = idgen.Parse(id); err != nil {
		return nil, err
	}
	if sc.TenantID, err = idgen.Parse(tid); err != nil {
		return nil, err
	}
	if sc.TrajectoryID, err = idgen.Parse(trajectoryID); err != nil {
		return nil, err
	}
	if sc.ParentScopeID, err = idPtrFromNull(parentScope); err != nil {
		return nil, err
	}
	sc.ClosedAt = timePtrFromNull(closedAt)
	if err := unmarshalJSON(checkpoint, &sc.Checkpoint); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &sc.Metadata); err != nil {
		return nil, err
	}
	sc.CreatedAt = fromUnixMilli(createdAt)
	sc.UpdatedAt = fromUnixMilli(updatedAt)
	return &sc, nil
}

const scopeColumns = `id, tenant_id, trajectory_id, parent_scope_id, name, purpose, is_active,
		       closed_at, checkpoint, token_budget, tokens_used, metadata, created_at, updated_at`

func (s *Store) GetScope(ctx context.Context, id idgen.ID) (*model.Scope, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+scopeColumns+` FROM scopes WHERE id = ?`, id.String())
	return scanScope(row.Scan)
}

func (s *Store) UpdateScope(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Scope, error) {
	current, err := s.GetScope(ctx, id)
	if err != nil {
		return nil, err
	}
	applyPatch(patch, map[string]func(any){
		"name":         func(v any) { current.Name = v.(string) },
		"purpose":      func(v any) { current.Purpose = v.(string) },
		"is_active":    func(v any) { current.IsActive = v.(bool) },
		"closed_at":    func(v any) { current.ClosedAt, _ = v.(*time.Time) },
		"checkpoint":   func(v any) { current.Checkpoint, _ = v.(model.Checkpoint) },
		"tokens_used":  func(v any) { current.TokensUsed = v.(int) },
		"token_budget": func(v any) { current.TokenBudget = v.(int) },
		"metadata":     func(v any) { current.Metadata, _ = v.(model.Metadata) },
	})
	if err := current.Validate(); err != nil {
		return nil, err
	}

	checkpoint, err := marshalJSON(current.Checkpoint)
	if err != nil {
		return nil, err
	}
	meta, err := marshalJSON(current.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		UPDATE scopes SET name=?, purpose=?, is_active=?, closed_at=?, checkpoint=?,
			token_budget=?, tokens_used=?, metadata=?, updated_at=?
		WHERE id=?`,
		current.Name, current.Purpose, current.IsActive, nullTimePtr(current.ClosedAt), checkpoint,
		current.TokenBudget, current.TokensUsed, meta, nowMilli(), id.String())
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("update_scope: %w", err)}
	}
	return s.GetScope(ctx, id)
}

func (s *Store) DeleteScope(ctx context.Context, id idgen.ID) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM scopes WHERE id=?`, id.String())
	if err != nil {
		return &errs.Storage{Cause: fmt.Errorf("delete_scope: %w", err)}
	}
	return nil
}

func (s *Store) ListScopesByTrajectory(ctx context.Context, trajectoryID idgen.ID, opts storage.ListOptions) ([]*model.Scope, error) {
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	query := `SELECT ` + scopeColumns + ` FROM scopes WHERE trajectory_id = ? ORDER BY id ` + order
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, query, trajectoryID.String())
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("list_scopes: %w", err)}
	}
	defer rows.Close()

	var out []*model.Scope
	for rows.Next() {
		sc, err := scanScope(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
