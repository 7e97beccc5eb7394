package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/tenant"
)

func (s *Store) CreateEdge(ctx context.Context, e *model.Edge) (idgen.ID, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return idgen.ID{}, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	if e.ID.IsZero() {
		e.ID = idgen.New()
	}
	e.TenantID = tid

	participants, err := json.Marshal(e.Participants)
	if err != nil {
		return idgen.ID{}, err
	}
	orphaned, err := marshalJSON(e.OrphanedParticipants)
	if err != nil {
		return idgen.ID{}, err
	}

	var weight sql.NullFloat64
	if e.Weight != nil {
		weight = sql.NullFloat64{Float64: *e.Weight, Valid: true}
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO edges (
			id, tenant_id, edge_type, participants, weight, trajectory_id, provenance,
			orphaned_participants, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), tid.String(), string(e.EdgeType), participants, weight,
		nullIDPtr(e.TrajectoryID), e.Provenance, orphaned, unixMilli(e.CreatedAt), unixMilli(e.UpdatedAt),
	)
	if err != nil {
		return idgen.ID{}, &errs.Storage{Cause: fmt.Errorf("create_edge: %w", err)}
	}
	return e.ID, nil
}

const edgeColumns = `id, tenant_id, edge_type, participants, weight, trajectory_id, provenance,
		       orphaned_participants, created_at, updated_at`

func scanEdge(scan func(dest ...any) error) (*model.Edge, error) {
	var e model.Edge
	var id, tid string
	var participants, orphaned []byte
	var weight sql.NullFloat64
	var trajectoryID sql.NullString
	var createdAt, updatedAt int64

	err := scan(&id, &tid, &e.EdgeType, &participants, &weight, &trajectoryID, &e.Provenance,
		&orphaned, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Entity: "edge", ID: id}
	}
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("scan_edge: %w", err)}
	}

	if e.ID, err = idgen.Parse(id); err != nil {
		return nil, err
	}
	if e.TenantID, err = idgen.Parse(tid); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(participants, &e.Participants); err != nil {
		return nil, err
	}
	if weight.Valid {
		e.Weight = &weight.Float64
	}
	if e.TrajectoryID, err = idPtrFromNull(trajectoryID); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(orphaned, &e.OrphanedParticipants); err != nil {
		return nil, err
	}
	e.CreatedAt = fromUnixMilli(createdAt)
	e.UpdatedAt = fromUnixMilli(updatedAt)
	return &e, nil
}

func (s *Store) GetEdge(ctx context.Context, id idgen.ID) (*model.Edge, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE id = ?`, id.String())
	return scanEdge(row.Scan)
}

func (s *Store) DeleteEdge(ctx context.Context, id idgen.ID) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM edges WHERE id=?`, id.String())
	if err != nil {
		return &errs.Storage{Cause: fmt.Errorf("delete_edge: %w", err)}
	}
	return nil
}

func (s *Store) ListEdgesByParticipant(ctx context.Context, entityType string, entityID idgen.ID) ([]*model.Edge, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE participants LIKE ?`,
		"%\""+entityType+"\"%"+entityID.String()+"%")
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("list_edges_by_participant: %w", err)}
	}
	defer rows.Close()

	var out []*model.Edge
	for rows.Next() {
		e, err := scanEdge(rows.Scan)
		if err != nil {
			return nil, err
		}
		if participantMatches(e.Participants, entityType, entityID) {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

func participantMatches(participants []model.EdgeParticipant, entityType string, entityID idgen.ID) bool {
	for _, p := range participants {
		if p.EntityType == entityType && p.ID.String() == entityID.String() {
			return true
		}
	}
	return false
}

// OrphanParticipant marks entityType/entityID orphaned in every edge that
// references it, per the "mark orphaned, never cascade-delete" policy.
func (s *Store) OrphanParticipant(ctx context.Context, entityType string, entityID idgen.ID) (int, error) {
	edges, err := s.ListEdgesByParticipant(ctx, entityType, entityID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range edges {
		already := false
		for _, op := range e.OrphanedParticipants {
			if op.EntityType == entityType && op.ID.String() == entityID.String() {
				already = true
				break
			}
		}
		if already {
			continue
		}
		for _, p := range e.Participants {
			if p.EntityType == entityType && p.ID.String() == entityID.String() {
				e.OrphanedParticipants = append(e.OrphanedParticipants, p)
			}
		}
		orphaned, err := marshalJSON(e.OrphanedParticipants)
		if err != nil {
			return count, err
		}
		if _, err := s.conn(ctx).ExecContext(ctx,
			`UPDATE edges SET orphaned_participants=?, updated_at=? WHERE id=?`,
			orphaned, nowMilli(), e.ID.String()); err != nil {
			return count, &errs.Storage{Cause: fmt.Errorf("orphan_participant: %w", err)}
		}
		count++
	}
	return count, nil
}
