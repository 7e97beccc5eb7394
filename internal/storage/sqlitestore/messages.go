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

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) (idgen.ID, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return idgen.ID{}, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	if err := m.Validate(); err != nil {
		return idgen.ID{}, err
	}
	if m.ID.IsZero() {
		m.ID = idgen.New()
	}
	m.TenantID = tid

	payload, err := marshalJSON(m.Payload)
	if err != nil {
		return idgen.ID{}, err
	}
	artifactIDs, err := joinIDs(m.ArtifactIDs)
	if err != nil {
		return idgen.ID{}, err
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO messages (
			id, tenant_id, from_agent_id, to_agent_id, to_agent_type, message_type, payload,
			trajectory_id, scope_id, artifact_ids, priority, delivered_at, acknowledged_at,
			expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), tid.String(), m.FromAgentID.String(), nullIDPtr(m.ToAgentID), nullStringPtr(m.ToAgentType),
		m.MessageType, payload, nullIDPtr(m.TrajectoryID), nullIDPtr(m.ScopeID), artifactIDs,
		string(m.Priority), nullTimePtr(m.DeliveredAt), nullTimePtr(m.AcknowledgedAt), nullTimePtr(m.ExpiresAt),
		unixMilli(m.CreatedAt), unixMilli(m.UpdatedAt),
	)
	if err != nil {
		return idgen.ID{}, &errs.Storage{Cause: fmt.Errorf("create_message: %w", err)}
	}
	return m.ID, nil
}

const messageColumns = `id, tenant_id, from_agent_id, to_agent_id, to_agent_type, message_type, payload,
		       trajectory_id, scope_id, artifact_ids, priority, delivered_at, acknowledged_at,
		       expires_at, created_at, updated_at`

func scanMessage(scan func(dest ...any) error) (*model.Message, error) {
	var m model.Message
	var id, tid, fromAgent string
	var toAgent, toAgentType, trajectoryID, scopeID sql.NullString
	var payload, artifactIDs []byte
	var deliveredAt, acknowledgedAt, expiresAt sql.NullInt64
	var createdAt, updatedAt int64

	err := scan(&id, &tid, &fromAgent, &toAgent, &toAgentType, &m.MessageType, &payload,
		&trajectoryID, &scopeID, &artifactIDs, &m.Priority, &deliveredAt, &acknowledgedAt,
		&expiresAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Entity: "message", ID: id}
	}
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("scan_message: %w", err)}
	}

	if m.ID, err = idgen.Parse(id); err != nil {
		return nil, err
	}
	if m.TenantID, err = idgen.Parse(tid); err != nil {
		return nil, err
	}
	if m.FromAgentID, err = idgen.Parse(fromAgent); err != nil {
		return nil, err
	}
	if m.ToAgentID, err = idPtrFromNull(toAgent); err != nil {
		return nil, err
	}
	m.ToAgentType = stringPtrFromNull(toAgentType)
	if m.TrajectoryID, err = idPtrFromNull(trajectoryID); err != nil {
		return nil, err
	}
	if m.ScopeID, err = idPtrFromNull(scopeID); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(payload, &m.Payload); err != nil {
		return nil, err
	}
	if m.ArtifactIDs, err = splitIDs(artifactIDs); err != nil {
		return nil, err
	}
	m.DeliveredAt = timePtrFromNull(deliveredAt)
	m.AcknowledgedAt = timePtrFromNull(acknowledgedAt)
	m.ExpiresAt = timePtrFromNull(expiresAt)
	m.CreatedAt = fromUnixMilli(createdAt)
	m.UpdatedAt = fromUnixMilli(updatedAt)
	return &m, nil
}

func (s *Store) GetMessage(ctx context.Context, id idgen.ID) (*model.Message, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id.String())
	return scanMessage(row.Scan)
}

// PendingMessages returns undelivered messages addressed to agentID,
// agentType, or broadcast (neither set), ordered by priority rank then
// creation order, per spec.md §6.
func (s *Store) PendingMessages(ctx context.Context, agentID *idgen.ID, agentType *string) ([]*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE delivered_at IS NULL AND (expires_at IS NULL OR expires_at > ?)
		AND ((to_agent_id IS NULL AND to_agent_type IS NULL)`
	args := []any{nowMilli()}
	if agentID != nil {
		query += ` OR to_agent_id = ?`
		args = append(args, agentID.String())
	}
	if agentType != nil {
		query += ` OR to_agent_type = ?`
		args = append(args, *agentType)
	}
	query += `) ORDER BY
		CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END,
		id ASC`

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("pending_messages: %w", err)}
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MarkDelivered(ctx context.Context, id idgen.ID) error {
	_, err := s.conn(ctx).ExecContext(ctx, `UPDATE messages SET delivered_at=?, updated_at=? WHERE id=?`,
		nowMilli(), nowMilli(), id.String())
	if err != nil {
		return &errs.Storage{Cause: fmt.Errorf("mark_delivered: %w", err)}
	}
	return nil
}

func (s *Store) MarkAcknowledged(ctx context.Context, id idgen.ID) error {
	_, err := s.conn(ctx).ExecContext(ctx, `UPDATE messages SET acknowledged_at=?, updated_at=? WHERE id=?`,
		nowMilli(), nowMilli(), id.String())
	if err != nil {
		return &errs.Storage{Cause: fmt.Errorf("mark_acknowledged: %w", err)}
	}
	return nil
}

func (s *Store) DeleteExpiredMessages(ctx context.Context, nowUnix int64) (int, error) {
	res, err := s.conn(ctx).ExecContext(ctx,
		`DELETE FROM messages WHERE expires_at IS NOT NULL AND expires_at < ?`, nowUnix*1000)
	if err != nil {
		return 0, &errs.Storage{Cause: fmt.Errorf("delete_expired_messages: %w", err)}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &errs.Storage{Cause: fmt.Errorf("delete_expired_messages: %w", err)}
	}
	return int(n), nil
}
