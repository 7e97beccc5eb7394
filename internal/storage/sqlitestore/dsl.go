package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/storage"
)

func (s *Store) InsertConfigVersion(ctx context.Context, name string, version int, source string, compiled []byte) (idgen.ID, error) {
	id := idgen.New()
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO config_versions (id, name, version, active, source, compiled, created_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)`,
		id.String(), name, version, source, compiled, nowMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return idgen.ID{}, &errs.Contention{ResourceType: "config_version", ResourceID: fmt.Sprintf("%s@%d", name, version)}
		}
		return idgen.ID{}, &errs.Storage{Cause: fmt.Errorf("insert_config_version: %w", err)}
	}
	return id, nil
}

func (s *Store) ActivateConfigVersion(ctx context.Context, configID idgen.ID) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		var name string
		if err := s.conn(ctx).QueryRowContext(ctx,
			`SELECT name FROM config_versions WHERE id = ?`, configID.String()).Scan(&name); err != nil {
			if err == sql.ErrNoRows {
				return &errs.NotFound{Entity: "config_version", ID: configID.String()}
			}
			return &errs.Storage{Cause: fmt.Errorf("activate_config_version: %w", err)}
		}
		if _, err := s.conn(ctx).ExecContext(ctx,
			`UPDATE config_versions SET active = 0 WHERE name = ?`, name); err != nil {
			return &errs.Storage{Cause: fmt.Errorf("activate_config_version: %w", err)}
		}
		if _, err := s.conn(ctx).ExecContext(ctx,
			`UPDATE config_versions SET active = 1 WHERE id = ?`, configID.String()); err != nil {
			return &errs.Storage{Cause: fmt.Errorf("activate_config_version: %w", err)}
		}
		return nil
	})
}

func (s *Store) GetActiveConfig(ctx context.Context, name string) (idgen.ID, int, string, []byte, error) {
	var idStr, source string
	var version int
	var compiled []byte
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, version, source, compiled FROM config_versions WHERE name = ? AND active = 1`, name).
		Scan(&idStr, &version, &source, &compiled)
	if err == sql.ErrNoRows {
		return idgen.ID{}, 0, "", nil, &errs.NotFound{Entity: "active_config", ID: name}
	}
	if err != nil {
		return idgen.ID{}, 0, "", nil, &errs.Storage{Cause: fmt.Errorf("get_active_config: %w", err)}
	}
	id, err := idgen.Parse(idStr)
	if err != nil {
		return idgen.ID{}, 0, "", nil, err
	}
	return id, version, source, compiled, nil
}

func (s *Store) GetConfigVersion(ctx context.Context, name string, version int) (idgen.ID, string, []byte, error) {
	var idStr, source string
	var compiled []byte
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, source, compiled FROM config_versions WHERE name = ? AND version = ?`, name, version).
		Scan(&idStr, &source, &compiled)
	if err == sql.ErrNoRows {
		return idgen.ID{}, "", nil, &errs.NotFound{Entity: "config_version", ID: fmt.Sprintf("%s@%d", name, version)}
	}
	if err != nil {
		return idgen.ID{}, "", nil, &errs.Storage{Cause: fmt.Errorf("get_config_version: %w", err)}
	}
	id, err := idgen.Parse(idStr)
	if err != nil {
		return idgen.ID{}, "", nil, err
	}
	return id, source, compiled, nil
}

func (s *Store) LatestConfigVersion(ctx context.Context, name string) (int, error) {
	var version sql.NullInt64
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT MAX(version) FROM config_versions WHERE name = ?`, name).Scan(&version)
	if err != nil {
		return 0, &errs.Storage{Cause: fmt.Errorf("latest_config_version: %w", err)}
	}
	return int(version.Int64), nil
}

func (s *Store) ConfigHistory(ctx context.Context, name string) ([]storage.ConfigVersionSummary, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, version, active, created_at FROM config_versions WHERE name = ? ORDER BY version ASC`, name)
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("config_history: %w", err)}
	}
	defer rows.Close()

	var out []storage.ConfigVersionSummary
	for rows.Next() {
		var idStr string
		var sum storage.ConfigVersionSummary
		var createdAt int64
		if err := rows.Scan(&idStr, &sum.Version, &sum.Active, &createdAt); err != nil {
			return nil, &errs.Storage{Cause: fmt.Errorf("config_history scan: %w", err)}
		}
		if sum.ConfigID, err = idgen.Parse(idStr); err != nil {
			return nil, err
		}
		sum.CreatedAt = createdAt
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) AppendDeployAudit(ctx context.Context, entry storage.DeployAuditEntry) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO config_deploy_audit (name, version, action, notes, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.Name, entry.Version, entry.Action, entry.Notes, entry.CreatedAt,
	)
	if err != nil {
		return &errs.Storage{Cause: fmt.Errorf("append_deploy_audit: %w", err)}
	}
	return nil
}
