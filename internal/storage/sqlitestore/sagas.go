package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/tenant"
)

func (s *Store) CreateDelegation(ctx context.Context, d *model.Delegation) (idgen.ID, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return idgen.ID{}, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	if d.ID.IsZero() {
		d.ID = idgen.New()
	}
	d.TenantID = tid
	if d.Version == 0 {
		d.Version = 1
	}

	sharedArtifacts, err := joinIDs(d.SharedArtifacts)
	if err != nil {
		return idgen.ID{}, err
	}
	sharedNotes, err := joinIDs(d.SharedNotes)
	if err != nil {
		return idgen.ID{}, err
	}
	result, err := marshalJSON(d.Result)
	if err != nil {
		return idgen.ID{}, err
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO delegations (
			id, tenant_id, version, delegator_agent_id, delegatee_agent_id, delegatee_agent_type,
			task_description, parent_trajectory_id, child_trajectory_id, shared_artifacts,
			shared_notes, deadline, status, result, timeout_at, last_progress_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), tid.String(), d.Version, d.DelegatorAgentID.String(), nullIDPtr(d.DelegateeAgentID),
		nullStringPtr(d.DelegateeAgentType), d.TaskDescription, d.ParentTrajectoryID.String(),
		nullIDPtr(d.ChildTrajectoryID), sharedArtifacts, sharedNotes, nullTimePtr(d.Deadline),
		string(d.Status), result, nullTimePtr(d.TimeoutAt), unixMilli(d.LastProgressAt),
		unixMilli(d.CreatedAt), unixMilli(d.UpdatedAt),
	)
	if err != nil {
		return idgen.ID{}, &errs.Storage{Cause: fmt.Errorf("create_delegation: %w", err)}
	}
	return d.ID, nil
}

const delegationColumns = `id, tenant_id, version, delegator_agent_id, delegatee_agent_id, delegatee_agent_type,
		       task_description, parent_trajectory_id, child_trajectory_id, shared_artifacts,
		       shared_notes, deadline, status, result, timeout_at, last_progress_at, created_at, updated_at`

func scanDelegation(scan func(dest ...any) error) (*model.Delegation, error) {
	var d model.Delegation
	var id, tid, delegator, parentTrajectory string
	var delegatee, delegateeType, childTrajectory sql.NullString
	var sharedArtifacts, sharedNotes, result []byte
	var deadline, timeoutAt sql.NullInt64
	var lastProgressAt, createdAt, updatedAt int64

	err := scan(&id, &tid, &d.Version, &delegator, &delegatee, &delegateeType, &d.TaskDescription,
		&parentTrajectory, &childTrajectory, &sharedArtifacts, &sharedNotes, &deadline, &d.Status,
		&result, &timeoutAt, &lastProgressAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Entity: "delegation", ID: id}
	}
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("scan_delegation: %w", err)}
	}

	if d.ID, err = idgen.Parse(id); err != nil {
		return nil, err
	}
	if d.TenantID, err = idgen.Parse(tid); err != nil {
		return nil, err
	}
	if d.DelegatorAgentID, err = idgen.Parse(delegator); err != nil {
		return nil, err
	}
	if d.ParentTrajectoryID, err = idgen.Parse(parentTrajectory); err != nil {
		return nil, err
	}
	if d.DelegateeAgentID, err = idPtrFromNull(delegatee); err != nil {
		return nil, err
	}
	d.DelegateeAgentType = stringPtrFromNull(delegateeType)
	if d.ChildTrajectoryID, err = idPtrFromNull(childTrajectory); err != nil {
		return nil, err
	}
	if d.SharedArtifacts, err = splitIDs(sharedArtifacts); err != nil {
		return nil, err
	}
	if d.SharedNotes, err = splitIDs(sharedNotes); err != nil {
		return nil, err
	}
	d.Deadline = timePtrFromNull(deadline)
	if err := unmarshalJSON(result, &d.Result); err != nil {
		return nil, err
	}
	d.TimeoutAt = timePtrFromNull(timeoutAt)
	d.LastProgressAt = fromUnixMilli(lastProgressAt)
	d.CreatedAt = fromUnixMilli(createdAt)
	d.UpdatedAt = fromUnixMilli(updatedAt)
	return &d, nil
}

func (s *Store) GetDelegation(ctx context.Context, id idgen.ID) (*model.Delegation, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+delegationColumns+` FROM delegations WHERE id = ?`, id.String())
	return scanDelegation(row.Scan)
}

func (s *Store) CASUpdateDelegation(ctx context.Context, id idgen.ID, expectedVersion int, patch map[string]any) (int, error) {
	current, err := s.GetDelegation(ctx, id)
	if err != nil {
		return 0, err
	}
	if current.Version != expectedVersion {
		got := current.Version
		return 0, &errs.VersionMismatch{Expected: expectedVersion, Got: &got}
	}

	applyPatch(patch, map[string]func(any){
		"status":              func(v any) { current.Status = model.DelegationStatus(v.(string)) },
		"delegatee_agent_id":  func(v any) { current.DelegateeAgentID, _ = v.(*idgen.ID) },
		"child_trajectory_id": func(v any) { current.ChildTrajectoryID, _ = v.(*idgen.ID) },
		"result":              func(v any) { current.Result, _ = v.(model.Metadata) },
		"timeout_at":          func(v any) { current.TimeoutAt, _ = v.(*time.Time) },
		"last_progress_at":    func(v any) { current.LastProgressAt, _ = v.(time.Time) },
	})

	newVersion := expectedVersion + 1
	result, err := marshalJSON(current.Result)
	if err != nil {
		return 0, err
	}

	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE delegations SET version=?, status=?, delegatee_agent_id=?, child_trajectory_id=?,
			result=?, timeout_at=?, last_progress_at=?, updated_at=?
		WHERE id=? AND version=?`,
		newVersion, string(current.Status), nullIDPtr(current.DelegateeAgentID), nullIDPtr(current.ChildTrajectoryID),
		result, nullTimePtr(current.TimeoutAt), unixMilli(current.LastProgressAt), nowMilli(),
		id.String(), expectedVersion,
	)
	if err != nil {
		return 0, &errs.Storage{Cause: fmt.Errorf("cas_update_delegation: %w", err)}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &errs.Storage{Cause: fmt.Errorf("cas_update_delegation: %w", err)}
	}
	if n == 0 {
		got := current.Version
		return 0, &errs.VersionMismatch{Expected: expectedVersion, Got: &got}
	}
	return newVersion, nil
}

func (s *Store) ListActiveDelegations(ctx context.Context) ([]*model.Delegation, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT `+delegationColumns+` FROM delegations
		WHERE status IN ('pending','accepted','in_progress') ORDER BY id ASC`)
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("list_active_delegations: %w", err)}
	}
	defer rows.Close()

	var out []*model.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CreateHandoff(ctx context.Context, h *model.Handoff) (idgen.ID, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return idgen.ID{}, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	if h.ID.IsZero() {
		h.ID = idgen.New()
	}
	h.TenantID = tid
	if h.Version == 0 {
		h.Version = 1
	}

	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO handoffs (
			id, tenant_id, version, from_agent_id, to_agent_id, to_agent_type, trajectory_id,
			scope_id, context_snapshot_id, handoff_notes, next_steps, blockers, open_questions,
			status, reason, timeout_at, last_progress_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID.String(), tid.String(), h.Version, h.FromAgentID.String(), nullIDPtr(h.ToAgentID),
		nullStringPtr(h.ToAgentType), h.TrajectoryID.String(), h.ScopeID.String(), h.ContextSnapshotID.String(),
		h.HandoffNotes, h.NextSteps, h.Blockers, h.OpenQuestions, string(h.Status), h.Reason,
		nullTimePtr(h.TimeoutAt), unixMilli(h.LastProgressAt), unixMilli(h.CreatedAt), unixMilli(h.UpdatedAt),
	)
	if err != nil {
		return idgen.ID{}, &errs.Storage{Cause: fmt.Errorf("create_handoff: %w", err)}
	}
	return h.ID, nil
}

const handoffColumns = `id, tenant_id, version, from_agent_id, to_agent_id, to_agent_type, trajectory_id,
		       scope_id, context_snapshot_id, handoff_notes, next_steps, blockers, open_questions,
		       status, reason, timeout_at, last_progress_at, created_at, updated_at`

func scanHandoff(scan func(dest ...any) error) (*model.Handoff, error) {
	var h model.Handoff
	var id, tid, fromAgent, trajectoryID, scopeID, snapshotID string
	var toAgent, toAgentType sql.NullString
	var timeoutAt sql.NullInt64
	var lastProgressAt, createdAt, updatedAt int64

	err := scan(&id, &tid, &h.Version, &fromAgent, &toAgent, &toAgentType, &trajectoryID, &scopeID,
		&snapshotID, &h.HandoffNotes, &h.NextSteps, &h.Blockers, &h.OpenQuestions, &h.Status,
		&h.Reason, &timeoutAt, &lastProgressAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Entity: "handoff", ID: id}
	}
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("scan_handoff: %w", err)}
	}

	if h.ID, err = idgen.Parse(id); err != nil {
		return nil, err
	}
	if h.TenantID, err = idgen.Parse(tid); err != nil {
		return nil, err
	}
	if h.FromAgentID, err = idgen.Parse(fromAgent); err != nil {
		return nil, err
	}
	if h.TrajectoryID, err = idgen.Parse(trajectoryID); err != nil {
		return nil, err
	}
	if h.ScopeID, err = idgen.Parse(scopeID); err != nil {
		return nil, err
	}
	if h.ContextSnapshotID, err = idgen.Parse(snapshotID); err != nil {
		return nil, err
	}
	if h.ToAgentID, err = idPtrFromNull(toAgent); err != nil {
		return nil, err
	}
	h.ToAgentType = stringPtrFromNull(toAgentType)
	h.TimeoutAt = timePtrFromNull(timeoutAt)
	h.LastProgressAt = fromUnixMilli(lastProgressAt)
	h.CreatedAt = fromUnixMilli(createdAt)
	h.UpdatedAt = fromUnixMilli(updatedAt)
	return &h, nil
}

func (s *Store) GetHandoff(ctx context.Context, id idgen.ID) (*model.Handoff, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+handoffColumns+` FROM handoffs WHERE id = ?`, id.String())
	return scanHandoff(row.Scan)
}

func (s *Store) CASUpdateHandoff(ctx context.Context, id idgen.ID, expectedVersion int, patch map[string]any) (int, error) {
	current, err := s.GetHandoff(ctx, id)
	if err != nil {
		return 0, err
	}
	if current.Version != expectedVersion {
		got := current.Version
		return 0, &errs.VersionMismatch{Expected: expectedVersion, Got: &got}
	}

	applyPatch(patch, map[string]func(any){
		"status":         func(v any) { current.Status = model.HandoffStatus(v.(string)) },
		"reason":         func(v any) { current.Reason = v.(string) },
		"handoff_notes":  func(v any) { current.HandoffNotes = v.(string) },
		"last_progress_at": func(v any) { current.LastProgressAt, _ = v.(time.Time) },
	})

	newVersion := expectedVersion + 1
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE handoffs SET version=?, status=?, reason=?, handoff_notes=?, last_progress_at=?, updated_at=?
		WHERE id=? AND version=?`,
		newVersion, string(current.Status), current.Reason, current.HandoffNotes, unixMilli(current.LastProgressAt), nowMilli(),
		id.String(), expectedVersion,
	)
	if err != nil {
		return 0, &errs.Storage{Cause: fmt.Errorf("cas_update_handoff: %w", err)}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &errs.Storage{Cause: fmt.Errorf("cas_update_handoff: %w", err)}
	}
	if n == 0 {
		got := current.Version
		return 0, &errs.VersionMismatch{Expected: expectedVersion, Got: &got}
	}
	return newVersion, nil
}

func (s *Store) ListActiveHandoffs(ctx context.Context) ([]*model.Handoff, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT `+handoffColumns+` FROM handoffs
		WHERE status IN ('initiated','accepted') ORDER BY id ASC`)
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("list_active_handoffs: %w", err)}
	}
	defer rows.Close()

	var out []*model.Handoff
	for rows.Next() {
		h, err := scanHandoff(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
