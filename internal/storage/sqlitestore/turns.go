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

func (s *Store) NextSequence(ctx context.Context, scopeID idgen.ID) (int, error) {
	var max sql.NullInt64
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM turns WHERE scope_id = ?`, scopeID.String()).Scan(&max)
	if err != nil {
		return 0, &errs.Storage{Cause: fmt.Errorf("next_sequence: %w", err)}
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

func (s *Store) CreateTurn(ctx context.Context, t *model.Turn) (idgen.ID, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return idgen.ID{}, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	if t.ID.IsZero() {
		t.ID = idgen.New()
	}
	t.TenantID = tid

	toolCalls, err := marshalJSON(t.ToolCalls)
	if err != nil {
		return idgen.ID{}, err
	}
	toolResults, err := marshalJSON(t.ToolResults)
	if err != nil {
		return idgen.ID{}, err
	}
	meta, err := marshalJSON(t.Metadata)
	if err != nil {
		return idgen.ID{}, err
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO turns (
			id, tenant_id, scope_id, sequence, role, content, token_count,
			tool_calls, tool_results, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), tid.String(), t.ScopeID.String(), t.Sequence, string(t.Role), t.Content,
		t.TokenCount, toolCalls, toolResults, meta, unixMilli(t.CreatedAt), unixMilli(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return idgen.ID{}, &errs.Contention{ResourceType: "turn_sequence", ResourceID: t.ScopeID.String()}
		}
		return idgen.ID{}, &errs.Storage{Cause: fmt.Errorf("create_turn: %w", err)}
	}
	return t.ID, nil
}

const turnColumns = `id, tenant_id, scope_id, sequence, role, content, token_count,
		       tool_calls, tool_results, metadata, created_at, updated_at`

func scanTurn(scan func(dest ...any) error) (*model.Turn, error) {
	var t model.Turn
	var id, tid, scopeID string
	var toolCalls, toolResults, meta []byte
	var createdAt, updatedAt int64

	err := scan(&id, &tid, &scopeID, &t.Sequence, &t.Role, &t.Content, &t.TokenCount,
		&toolCalls, &toolResults, &meta, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Entity: "turn", ID: id}
	}
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("scan_turn: %w", err)}
	}

	if t.ID, err = idgen.Parse(id); err != nil {
		return nil, err
	}
	if t.TenantID, err = idgen.Parse(tid); err != nil {
		return nil, err
	}
	if t.ScopeID, err = idgen.Parse(scopeID); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(toolCalls, &t.ToolCalls); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(toolResults, &t.ToolResults); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &t.Metadata); err != nil {
		return nil, err
	}
	t.CreatedAt = fromUnixMilli(createdAt)
	t.UpdatedAt = fromUnixMilli(updatedAt)
	return &t, nil
}

func (s *Store) GetTurn(ctx context.Context, id idgen.ID) (*model.Turn, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE id = ?`, id.String())
	return scanTurn(row.Scan)
}

func (s *Store) ListTurnsByScope(ctx context.Context, scopeID idgen.ID, opts storage.ListOptions) ([]*model.Turn, error) {
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	query := `SELECT ` + turnColumns + ` FROM turns WHERE scope_id = ? ORDER BY sequence ` + order
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, query, scopeID.String())
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("list_turns: %w", err)}
	}
	defer rows.Close()

	var out []*model.Turn
	for rows.Next() {
		t, err := scanTurn(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
