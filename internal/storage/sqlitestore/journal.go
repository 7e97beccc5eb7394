package sqlitestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/tenant"
)

// AppendChange writes one row to the append-only change journal, inside
// whatever transaction the caller is already in via WithTx — mutations
// and their journal entry commit together or not at all.
func (s *Store) AppendChange(ctx context.Context, c *model.Change) error {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO changes (tenant_id, entity_type, entity_id, operation, changed_at)
		VALUES (?, ?, ?, ?, ?)`,
		tid.String(), c.EntityType, c.EntityID.String(), string(c.Operation), unixMilli(c.ChangedAt),
	)
	if err != nil {
		return &errs.Storage{Cause: fmt.Errorf("append_change: %w", err)}
	}
	return nil
}

// Watermark returns the tenant's current change-id high-water mark.
func (s *Store) Watermark(ctx context.Context) (int64, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return 0, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	var max int64
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT COALESCE(MAX(change_id), 0) FROM changes WHERE tenant_id = ?`, tid.String()).Scan(&max)
	if err != nil {
		return 0, &errs.Storage{Cause: fmt.Errorf("watermark: %w", err)}
	}
	return max, nil
}

func entityTypeFilter(entityTypes []string) (string, []any) {
	if len(entityTypes) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(entityTypes))
	args := make([]any, len(entityTypes))
	for i, t := range entityTypes {
		placeholders[i] = "?"
		args[i] = t
	}
	return " AND entity_type IN (" + strings.Join(placeholders, ",") + ")", args
}

func (s *Store) HasChangesSince(ctx context.Context, watermark int64, entityTypes []string) (bool, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return false, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	filter, filterArgs := entityTypeFilter(entityTypes)
	args := append([]any{tid.String(), watermark}, filterArgs...)
	var exists int
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM changes WHERE tenant_id = ? AND change_id > ?`+filter+`)`,
		args...).Scan(&exists)
	if err != nil {
		return false, &errs.Storage{Cause: fmt.Errorf("has_changes_since: %w", err)}
	}
	return exists == 1, nil
}

func (s *Store) ChangesSince(ctx context.Context, watermark int64, entityTypes []string, limit int) ([]*model.Change, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return nil, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	filter, filterArgs := entityTypeFilter(entityTypes)
	args := append([]any{tid.String(), watermark}, filterArgs...)
	query := `SELECT change_id, tenant_id, entity_type, entity_id, operation, changed_at
		FROM changes WHERE tenant_id = ? AND change_id > ?` + filter + ` ORDER BY change_id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("changes_since: %w", err)}
	}
	defer rows.Close()

	var out []*model.Change
	for rows.Next() {
		var c model.Change
		var tenantID, entityID string
		var changedAt int64
		if err := rows.Scan(&c.ChangeID, &tenantID, &c.EntityType, &entityID, &c.Operation, &changedAt); err != nil {
			return nil, &errs.Storage{Cause: fmt.Errorf("scan_change: %w", err)}
		}
		if c.TenantID, err = idgen.Parse(tenantID); err != nil {
			return nil, err
		}
		if c.EntityID, err = idgen.Parse(entityID); err != nil {
			return nil, err
		}
		c.ChangedAt = fromUnixMilli(changedAt)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *Store) CleanupChanges(ctx context.Context, retentionDays int) (int, error) {
	cutoff := nowMilli() - int64(retentionDays)*86400*1000
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM changes WHERE changed_at < ?`, cutoff)
	if err != nil {
		return 0, &errs.Storage{Cause: fmt.Errorf("cleanup_changes: %w", err)}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &errs.Storage{Cause: fmt.Errorf("cleanup_changes: %w", err)}
	}
	return int(n), nil
}
