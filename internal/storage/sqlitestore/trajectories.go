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

func (s *Store) CreateTrajectory(ctx context.Context, t *model.Trajectory) (idgen.ID, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return idgen.ID{}, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	if t.ID.IsZero() {
		t.ID = idgen.New()
	}
	t.TenantID = tid

	outcome, err := marshalJSON(t.Outcome)
	if err != nil {
		return idgen.ID{}, err
	}
	meta, err := marshalJSON(t.Metadata)
	if err != nil {
		return idgen.ID{}, err
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO trajectories (
			id, tenant_id, name, description, status, parent_trajectory_id,
			root_trajectory_id, agent_id, outcome, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), tid.String(), t.Name, t.Description, string(t.Status),
		nullIDPtr(t.ParentTrajectoryID), nullIDPtr(t.RootTrajectoryID), nullIDPtr(t.AgentID),
		outcome, meta, unixMilli(t.CreatedAt), unixMilli(t.UpdatedAt),
	)
	if err != nil {
		return idgen.ID{}, &errs.Storage{Cause: fmt.Errorf("create_trajectory: %w", err)}
	}
	return t.ID, nil
}

func (s *Store) scanTrajectory(row *sql.Row) (*model.Trajectory, error) {
	var t model.Trajectory
	var id, tid string
	var parent, root, agent sql.NullString
	var outcome, meta []byte
	var createdAt, updatedAt int64

	err := row.Scan(&id, &tid, &t.Name, &t.Description, &t.Status, &parent, &root, &agent,
		&outcome, &meta, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Entity: "trajectory", ID: id}
	}
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("scan_trajectory: %w", err)}
	}

	if t.ID, err = idgen.Parse(id); err != nil {
		return nil, err
	}
	if t.TenantID, err = idgen.Parse(tid); err != nil {
		return nil, err
	}
	if t.ParentTrajectoryID, err = idPtrFromNull(parent); err != nil {
		return nil, err
	}
	if t.RootTrajectoryID, err = idPtrFromNull(root); err != nil {
		return nil, err
	}
	if t.AgentID, err = idPtrFromNull(agent); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(outcome, &t.Outcome); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &t.Metadata); err != nil {
		return nil, err
	}
	t.CreatedAt = fromUnixMilli(createdAt)
	t.UpdatedAt = fromUnixMilli(updatedAt)
	return &t, nil
}

func (s *Store) GetTrajectory(ctx context.Context, id idgen.ID) (*model.Trajectory, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, tenant_id, name, description, status, parent_trajectory_id,
		       root_trajectory_id, agent_id, outcome, metadata, created_at, updated_at
		FROM trajectories WHERE id = ?`, id.String())
	return s.scanTrajectory(row)
}

func (s *Store) UpdateTrajectory(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Trajectory, error) {
	current, err := s.GetTrajectory(ctx, id)
	if err != nil {
		return nil, err
	}
	applyPatch(patch, map[string]func(any){
		"name":        func(v any) { current.Name = v.(string) },
		"description": func(v any) { current.Description = v.(string) },
		"status":      func(v any) { current.Status = model.TrajectoryStatus(v.(string)) },
		"outcome":     func(v any) { current.Outcome, _ = v.(model.Metadata) },
		"metadata":    func(v any) { current.Metadata, _ = v.(model.Metadata) },
	})

	outcome, err := marshalJSON(current.Outcome)
	if err != nil {
		return nil, err
	}
	meta, err := marshalJSON(current.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		UPDATE trajectories SET name=?, description=?, status=?, outcome=?, metadata=?, updated_at=?
		WHERE id=?`,
		current.Name, current.Description, string(current.Status), outcome, meta, nowMilli(), id.String())
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("update_trajectory: %w", err)}
	}
	return s.GetTrajectory(ctx, id)
}

func (s *Store) DeleteTrajectory(ctx context.Context, id idgen.ID) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM trajectories WHERE id=?`, id.String())
	if err != nil {
		return &errs.Storage{Cause: fmt.Errorf("delete_trajectory: %w", err)}
	}
	return nil
}

func (s *Store) ListTrajectoriesByAgent(ctx context.Context, agentID idgen.ID, opts storage.ListOptions) ([]*model.Trajectory, error) {
	return s.listTrajectories(ctx, "agent_id = ?", agentID.String(), opts)
}

func (s *Store) ListTrajectoriesByParent(ctx context.Context, parentID idgen.ID, opts storage.ListOptions) ([]*model.Trajectory, error) {
	return s.listTrajectories(ctx, "parent_trajectory_id = ?", parentID.String(), opts)
}

func (s *Store) listTrajectories(ctx context.Context, where string, arg any, opts storage.ListOptions) ([]*model.Trajectory, error) {
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT id, tenant_id, name, description, status, parent_trajectory_id,
		       root_trajectory_id, agent_id, outcome, metadata, created_at, updated_at
		FROM trajectories WHERE %s ORDER BY id %s`, where, order)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.conn(ctx).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("list_trajectories: %w", err)}
	}
	defer rows.Close()

	var out []*model.Trajectory
	for rows.Next() {
		t, err := s.scanTrajectoryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) scanTrajectoryRows(rows *sql.Rows) (*model.Trajectory, error) {
	var t model.Trajectory
	var id, tid string
	var parent, root, agent sql.NullString
	var outcome, meta []byte
	var createdAt, updatedAt int64

	if err := rows.Scan(&id, &tid, &t.Name, &t.Description, &t.Status, &parent, &root, &agent,
		&outcome, &meta, &createdAt, &updatedAt); err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("scan_trajectory: %w", err)}
	}

	var err error
	if t.ID, err = idgen.Parse(id); err != nil {
		return nil, err
	}
	if t.TenantID, err = idgen.Parse(tid); err != nil {
		return nil, err
	}
	if t.ParentTrajectoryID, err = idPtrFromNull(parent); err != nil {
		return nil, err
	}
	if t.RootTrajectoryID, err = idPtrFromNull(root); err != nil {
		return nil, err
	}
	if t.AgentID, err = idPtrFromNull(agent); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(outcome, &t.Outcome); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &t.Metadata); err != nil {
		return nil, err
	}
	t.CreatedAt = fromUnixMilli(createdAt)
	t.UpdatedAt = fromUnixMilli(updatedAt)
	return &t, nil
}
