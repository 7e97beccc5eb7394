package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/tenant"
)

// InsertIdempotencyPlaceholder inserts a fresh idempotency row if key is
// unseen for this tenant. The bool return reports whether this call won
// the race to create it; a losing caller gets back the existing record
// (possibly still in-flight, response_status 0) to poll or replay.
func (s *Store) InsertIdempotencyPlaceholder(ctx context.Context, key, operation string, requestHash []byte, expiresAtUnix int64) (*model.IdempotencyRecord, bool, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return nil, false, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}

	now := nowMilli()
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT OR IGNORE INTO idempotency_records
			(key, tenant_id, operation, request_hash, response_status, response_body, created_at, expires_at)
		VALUES (?, ?, ?, ?, 0, NULL, ?, ?)`,
		key, tid.String(), operation, requestHash, now, expiresAtUnix*1000,
	)
	if err != nil {
		return nil, false, &errs.Storage{Cause: fmt.Errorf("insert_idempotency_placeholder: %w", err)}
	}

	rec, err := s.GetIdempotency(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if string(rec.RequestHash) != string(requestHash) {
		return rec, false, &errs.IdempotencyConflict{Key: key}
	}
	won := rec.Operation == operation && rec.CreatedAt.UnixMilli() == now
	return rec, won, nil
}

func (s *Store) StoreIdempotencyResult(ctx context.Context, key string, status int, body []byte) error {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE idempotency_records SET response_status=?, response_body=? WHERE tenant_id=? AND key=?`,
		status, body, tid.String(), key)
	if err != nil {
		return &errs.Storage{Cause: fmt.Errorf("store_idempotency_result: %w", err)}
	}
	return nil
}

func (s *Store) GetIdempotency(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return nil, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}

	var rec model.IdempotencyRecord
	var tenantIDStr string
	var body []byte
	var createdAt, expiresAt int64

	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT key, tenant_id, operation, request_hash, response_status, response_body, created_at, expires_at
		FROM idempotency_records WHERE tenant_id = ? AND key = ?`, tid.String(), key).Scan(
		&rec.Key, &tenantIDStr, &rec.Operation, &rec.RequestHash, &rec.ResponseStatus, &body, &createdAt, &expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Entity: "idempotency_record", ID: key}
	}
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("get_idempotency: %w", err)}
	}

	rec.TenantID = tid
	rec.ResponseBody = body
	rec.CreatedAt = fromUnixMilli(createdAt)
	rec.ExpiresAt = fromUnixMilli(expiresAt)
	return &rec, nil
}

func (s *Store) DeleteExpiredIdempotency(ctx context.Context, nowUnix int64) (int, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at < ?`, nowUnix*1000)
	if err != nil {
		return 0, &errs.Storage{Cause: fmt.Errorf("delete_expired_idempotency: %w", err)}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &errs.Storage{Cause: fmt.Errorf("delete_expired_idempotency: %w", err)}
	}
	return int(n), nil
}
