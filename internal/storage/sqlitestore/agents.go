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

func (s *Store) CreateAgent(ctx context.Context, a *model.Agent) (idgen.ID, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return idgen.ID{}, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	if a.ID.IsZero() {
		a.ID = idgen.New()
	}
	a.TenantID = tid

	capabilities, err := joinStrings(a.Capabilities)
	if err != nil {
		return idgen.ID{}, err
	}
	reads, err := joinStrings(a.MemoryAccess.Read)
	if err != nil {
		return idgen.ID{}, err
	}
	writes, err := joinStrings(a.MemoryAccess.Write)
	if err != nil {
		return idgen.ID{}, err
	}
	canDelegate, err := joinStrings(a.CanDelegateTo)
	if err != nil {
		return idgen.ID{}, err
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO agents (
			id, tenant_id, agent_type, capabilities, memory_access_read, memory_access_write,
			status, current_trajectory_id, current_scope_id, can_delegate_to, reports_to,
			last_heartbeat, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), tid.String(), a.AgentType, capabilities, reads, writes, string(a.Status),
		nullIDPtr(a.CurrentTrajectoryID), nullIDPtr(a.CurrentScopeID), canDelegate, nullIDPtr(a.ReportsTo),
		unixMilli(a.LastHeartbeat), unixMilli(a.CreatedAt), unixMilli(a.UpdatedAt),
	)
	if err != nil {
		return idgen.ID{}, &errs.Storage{Cause: fmt.Errorf("create_agent: %w", err)}
	}
	return a.ID, nil
}

const agentColumns = `id, tenant_id, agent_type, capabilities, memory_access_read, memory_access_write,
		       status, current_trajectory_id, current_scope_id, can_delegate_to, reports_to,
		       last_heartbeat, created_at, updated_at`

func scanAgent(scan func(dest ...any) error) (*model.Agent, error) {
	var a model.Agent
	var id, tid string
	var capabilities, reads, writes, canDelegate []byte
	var currentTrajectory, currentScope, reportsTo sql.NullString
	var lastHeartbeat, createdAt, updatedAt int64

	err := scan(&id, &tid, &a.AgentType, &capabilities, &reads, &writes, &a.Status,
		&currentTrajectory, &currentScope, &canDelegate, &reportsTo,
		&lastHeartbeat, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Entity: "agent", ID: id}
	}
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("scan_agent: %w", err)}
	}

	if a.ID, err = idgen.Parse(id); err != nil {
		return nil, err
	}
	if a.TenantID, err = idgen.Parse(tid); err != nil {
		return nil, err
	}
	if a.Capabilities, err = splitStrings(capabilities); err != nil {
		return nil, err
	}
	if a.MemoryAccess.Read, err = splitStrings(reads); err != nil {
		return nil, err
	}
	if a.MemoryAccess.Write, err = splitStrings(writes); err != nil {
		return nil, err
	}
	if a.CanDelegateTo, err = splitStrings(canDelegate); err != nil {
		return nil, err
	}
	if a.CurrentTrajectoryID, err = idPtrFromNull(currentTrajectory); err != nil {
		return nil, err
	}
	if a.CurrentScopeID, err = idPtrFromNull(currentScope); err != nil {
		return nil, err
	}
	if a.ReportsTo, err = idPtrFromNull(reportsTo); err != nil {
		return nil, err
	}
	a.LastHeartbeat = fromUnixMilli(lastHeartbeat)
	a.CreatedAt = fromUnixMilli(createdAt)
	a.UpdatedAt = fromUnixMilli(updatedAt)
	return &a, nil
}

func (s *Store) GetAgent(ctx context.Context, id idgen.ID) (*model.Agent, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id.String())
	return scanAgent(row.Scan)
}

func (s *Store) UpdateAgent(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Agent, error) {
	current, err := s.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	applyPatch(patch, map[string]func(any){
		"status":                func(v any) { current.Status = model.AgentStatus(v.(string)) },
		"current_trajectory_id": func(v any) { current.CurrentTrajectoryID, _ = v.(*idgen.ID) },
		"current_scope_id":      func(v any) { current.CurrentScopeID, _ = v.(*idgen.ID) },
		"last_heartbeat":        func(v any) { current.LastHeartbeat, _ = v.(time.Time) },
	})

	_, err = s.conn(ctx).ExecContext(ctx, `
		UPDATE agents SET status=?, current_trajectory_id=?, current_scope_id=?, last_heartbeat=?, updated_at=?
		WHERE id=?`,
		string(current.Status), nullIDPtr(current.CurrentTrajectoryID), nullIDPtr(current.CurrentScopeID),
		unixMilli(current.LastHeartbeat), nowMilli(), id.String())
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("update_agent: %w", err)}
	}
	return s.GetAgent(ctx, id)
}

func (s *Store) DeleteAgent(ctx context.Context, id idgen.ID) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM agents WHERE id=?`, id.String())
	if err != nil {
		return &errs.Storage{Cause: fmt.Errorf("delete_agent: %w", err)}
	}
	return nil
}

func (s *Store) ListAgentsByStatus(ctx context.Context, status model.AgentStatus, opts storage.ListOptions) ([]*model.Agent, error) {
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	query := `SELECT ` + agentColumns + ` FROM agents WHERE status = ? ORDER BY id ` + order
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("list_agents: %w", err)}
	}
	defer rows.Close()

	var out []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListStaleAgents(ctx context.Context, olderThanSeconds int64) ([]*model.Agent, error) {
	cutoff := nowMilli() - olderThanSeconds*1000
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE last_heartbeat < ?`, cutoff)
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("list_stale_agents: %w", err)}
	}
	defer rows.Close()

	var out []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
