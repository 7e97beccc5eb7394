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

func (s *Store) CreateArtifact(ctx context.Context, a *model.Artifact) (idgen.ID, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return idgen.ID{}, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	if a.ID.IsZero() {
		a.ID = idgen.New()
	}
	a.TenantID = tid

	provenance, err := marshalJSON(a.Provenance)
	if err != nil {
		return idgen.ID{}, err
	}
	meta, err := marshalJSON(a.Metadata)
	if err != nil {
		return idgen.ID{}, err
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO artifacts (
			id, tenant_id, trajectory_id, scope_id, artifact_type, name, content,
			content_hash, embedding, provenance, ttl_kind, ttl_duration_ns,
			superseded_by, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), tid.String(), a.TrajectoryID.String(), a.ScopeID.String(), a.ArtifactType,
		a.Name, a.Content, a.ContentHash[:], encodeEmbedding(a.Embedding), provenance,
		string(a.TTL.Kind), int64(a.TTL.Duration), nullIDPtr(a.SupersededBy), meta,
		unixMilli(a.CreatedAt), unixMilli(a.UpdatedAt),
	)
	if err != nil {
		return idgen.ID{}, &errs.Storage{Cause: fmt.Errorf("create_artifact: %w", err)}
	}
	return a.ID, nil
}

const artifactColumns = `id, tenant_id, trajectory_id, scope_id, artifact_type, name, content,
		       content_hash, embedding, provenance, ttl_kind, ttl_duration_ns,
		       superseded_by, metadata, created_at, updated_at`

func scanArtifact(scan func(dest ...any) error) (*model.Artifact, error) {
	var a model.Artifact
	var id, tid, trajectoryID, scopeID string
	var contentHash, embedding []byte
	var provenance, meta []byte
	var ttlDurationNS int64
	var supersededBy sql.NullString
	var createdAt, updatedAt int64

	err := scan(&id, &tid, &trajectoryID, &scopeID, &a.ArtifactType, &a.Name, &a.Content,
		&contentHash, &embedding, &provenance, &a.TTL.Kind, &ttlDurationNS,
		&supersededBy, &meta, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Entity: "artifact", ID: id}
	}
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("scan_artifact: %w", err)}
	}

	if a.ID, err = idgen.Parse(id); err != nil {
		return nil, err
	}
	if a.TenantID, err = idgen.Parse(tid); err != nil {
		return nil, err
	}
	if a.TrajectoryID, err = idgen.Parse(trajectoryID); err != nil {
		return nil, err
	}
	if a.ScopeID, err = idgen.Parse(scopeID); err != nil {
		return nil, err
	}
	copy(a.ContentHash[:], contentHash)
	a.Embedding = decodeEmbedding(embedding)
	a.TTL.Duration = timeDuration(ttlDurationNS)
	if a.SupersededBy, err = idPtrFromNull(supersededBy); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(provenance, &a.Provenance); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &a.Metadata); err != nil {
		return nil, err
	}
	a.CreatedAt = fromUnixMilli(createdAt)
	a.UpdatedAt = fromUnixMilli(updatedAt)
	return &a, nil
}

func (s *Store) GetArtifact(ctx context.Context, id idgen.ID) (*model.Artifact, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id.String())
	return scanArtifact(row.Scan)
}

func (s *Store) UpdateArtifact(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Artifact, error) {
	current, err := s.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	applyPatch(patch, map[string]func(any){
		"name":          func(v any) { current.Name = v.(string) },
		"content":       func(v any) { current.Content = v.(string) },
		"embedding":     func(v any) { current.Embedding, _ = v.([]float32) },
		"superseded_by": func(v any) { current.SupersededBy, _ = v.(*idgen.ID) },
		"metadata":      func(v any) { current.Metadata, _ = v.(model.Metadata) },
	})

	meta, err := marshalJSON(current.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		UPDATE artifacts SET name=?, content=?, embedding=?, superseded_by=?, metadata=?, updated_at=?
		WHERE id=?`,
		current.Name, current.Content, encodeEmbedding(current.Embedding), nullIDPtr(current.SupersededBy),
		meta, nowMilli(), id.String())
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("update_artifact: %w", err)}
	}
	return s.GetArtifact(ctx, id)
}

func (s *Store) DeleteArtifact(ctx context.Context, id idgen.ID) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM artifacts WHERE id=?`, id.String())
	if err != nil {
		return &errs.Storage{Cause: fmt.Errorf("delete_artifact: %w", err)}
	}
	return nil
}

func (s *Store) ListArtifactsByScope(ctx context.Context, scopeID idgen.ID, opts storage.ListOptions) ([]*model.Artifact, error) {
	return s.listArtifacts(ctx, "scope_id = ?", scopeID.String(), opts)
}

func (s *Store) ListArtifactsByTrajectory(ctx context.Context, trajectoryID idgen.ID, opts storage.ListOptions) ([]*model.Artifact, error) {
	return s.listArtifacts(ctx, "trajectory_id = ?", trajectoryID.String(), opts)
}

func (s *Store) listArtifacts(ctx context.Context, where string, arg any, opts storage.ListOptions) ([]*model.Artifact, error) {
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE ` + where + ` ORDER BY id ` + order
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("list_artifacts: %w", err)}
	}
	defer rows.Close()

	var out []*model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
