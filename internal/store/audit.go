package store

import (
	"context"
	"fmt"
	"time"

	"presshook/internal/hook"
)

// AuditStore owns the audit_records table.
type AuditStore struct {
	q Querier
}

func NewAuditStore(q Querier) *AuditStore {
	return &AuditStore{q: q}
}

// Create appends one audit record.
func (s *AuditStore) Create(ctx context.Context, rec *hook.AuditRecord) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO presshook.audit_records(id, actor, action, target_type, target_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		rec.ID, rec.Actor, rec.Action, rec.TargetType, rec.TargetID,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// List returns audit records newest-first.
func (s *AuditStore) List(ctx context.Context, limit, offset int) ([]hook.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.Query(ctx, `
		SELECT id, actor, action, target_type, target_id, created_at
		FROM presshook.audit_records
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var out []hook.AuditRecord
	for rows.Next() {
		var rec hook.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.Actor, &rec.Action, &rec.TargetType, &rec.TargetID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteBefore removes audit records older than the cutoff regardless of
// what they recorded.
func (s *AuditStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := s.q.Exec(ctx, `
		DELETE FROM presshook.audit_records
		WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete audit records: %w", err)
	}
	return ct.RowsAffected(), nil
}
