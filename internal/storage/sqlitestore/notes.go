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

func (s *Store) CreateNote(ctx context.Context, n *model.Note) (idgen.ID, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return idgen.ID{}, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	if n.ID.IsZero() {
		n.ID = idgen.New()
	}
	n.TenantID = tid

	sourceTrajectories, err := joinIDs(n.SourceTrajectoryIDs)
	if err != nil {
		return idgen.ID{}, err
	}
	sourceArtifacts, err := joinIDs(n.SourceArtifactIDs)
	if err != nil {
		return idgen.ID{}, err
	}
	sourceNotes, err := joinIDs(n.SourceNoteIDs)
	if err != nil {
		return idgen.ID{}, err
	}
	meta, err := marshalJSON(n.Metadata)
	if err != nil {
		return idgen.ID{}, err
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO notes (
			id, tenant_id, note_type, title, content, content_hash, embedding,
			source_trajectory_ids, source_artifact_ids, abstraction_level, source_note_ids,
			ttl_kind, ttl_duration_ns, accessed_at, access_count, superseded_by, metadata,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID.String(), tid.String(), n.NoteType, n.Title, n.Content, n.ContentHash[:],
		encodeEmbedding(n.Embedding), sourceTrajectories, sourceArtifacts, string(n.AbstractionLevel),
		sourceNotes, string(n.TTL.Kind), int64(n.TTL.Duration), unixMilli(n.AccessedAt), n.AccessCount,
		nullIDPtr(n.SupersededBy), meta, unixMilli(n.CreatedAt), unixMilli(n.UpdatedAt),
	)
	if err != nil {
		return idgen.ID{}, &errs.Storage{Cause: fmt.Errorf("create_note: %w", err)}
	}
	return n.ID, nil
}

const noteColumns = `id, tenant_id, note_type, title, content, content_hash, embedding,
		       source_trajectory_ids, source_artifact_ids, abstraction_level, source_note_ids,
		       ttl_kind, ttl_duration_ns, accessed_at, access_count, superseded_by, metadata,
		       created_at, updated_at`

func scanNote(scan func(dest ...any) error) (*model.Note, error) {
	var n model.Note
	var id, tid string
	var contentHash, embedding []byte
	var sourceTrajectories, sourceArtifacts, sourceNotes []byte
	var ttlDurationNS, accessedAt int64
	var supersededBy sql.NullString
	var meta []byte
	var createdAt, updatedAt int64

	err := scan(&id, &tid, &n.NoteType, &n.Title, &n.Content, &contentHash, &embedding,
		&sourceTrajectories, &sourceArtifacts, &n.AbstractionLevel, &sourceNotes,
		&n.TTL.Kind, &ttlDurationNS, &accessedAt, &n.AccessCount, &supersededBy, &meta,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Entity: "note", ID: id}
	}
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("scan_note: %w", err)}
	}

	if n.ID, err = idgen.Parse(id); err != nil {
		return nil, err
	}
	if n.TenantID, err = idgen.Parse(tid); err != nil {
		return nil, err
	}
	copy(n.ContentHash[:], contentHash)
	n.Embedding = decodeEmbedding(embedding)
	if n.SourceTrajectoryIDs, err = splitIDs(sourceTrajectories); err != nil {
		return nil, err
	}
	if n.SourceArtifactIDs, err = splitIDs(sourceArtifacts); err != nil {
		return nil, err
	}
	if n.SourceNoteIDs, err = splitIDs(sourceNotes); err != nil {
		return nil, err
	}
	n.TTL.Duration = timeDuration(ttlDurationNS)
	n.AccessedAt = fromUnixMilli(accessedAt)
	if n.SupersededBy, err = idPtrFromNull(supersededBy); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &n.Metadata); err != nil {
		return nil, err
	}
	n.CreatedAt = fromUnixMilli(createdAt)
	n.UpdatedAt = fromUnixMilli(updatedAt)
	return &n, nil
}

func (s *Store) GetNote(ctx context.Context, id idgen.ID) (*model.Note, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id.String())
	return scanNote(row.Scan)
}

func (s *Store) UpdateNote(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Note, error) {
	current, err := s.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	applyPatch(patch, map[string]func(any){
		"title":         func(v any) { current.Title = v.(string) },
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
		UPDATE notes SET title=?, content=?, embedding=?, superseded_by=?, metadata=?, updated_at=?
		WHERE id=?`,
		current.Title, current.Content, encodeEmbedding(current.Embedding), nullIDPtr(current.SupersededBy),
		meta, nowMilli(), id.String())
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("update_note: %w", err)}
	}
	return s.GetNote(ctx, id)
}

func (s *Store) DeleteNote(ctx context.Context, id idgen.ID) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM notes WHERE id=?`, id.String())
	if err != nil {
		return &errs.Storage{Cause: fmt.Errorf("delete_note: %w", err)}
	}
	return nil
}

func (s *Store) TouchNoteAccess(ctx context.Context, id idgen.ID, at time.Time) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE notes SET accessed_at=?, access_count=access_count+1 WHERE id=?`,
		unixMilli(at), id.String())
	if err != nil {
		return &errs.Storage{Cause: fmt.Errorf("touch_note_access: %w", err)}
	}
	return nil
}

func (s *Store) ListNotesByTrajectory(ctx context.Context, trajectoryID idgen.ID, opts storage.ListOptions) ([]*model.Note, error) {
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	// source_trajectory_ids is a JSON array column; LIKE is sufficient for
	// the reference backend since membership queries are not on the hot path.
	query := `SELECT ` + noteColumns + ` FROM notes WHERE source_trajectory_ids LIKE ? ORDER BY id ` + order
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, query, "%"+trajectoryID.String()+"%")
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("list_notes: %w", err)}
	}
	defer rows.Close()

	var out []*model.Note
	for rows.Next() {
		n, err := scanNote(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
