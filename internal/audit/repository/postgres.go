package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"unified-ai/backend/internal/audit/domain"
	"unified-ai/backend/internal/db"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an audit log repository over conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create persists a. The entry must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	var meta []byte
	if len(a.Metadata) > 0 {
		b, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("audit: metadata: %w", err)
		}
		meta = b
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, org_id, user_id, action, resource, ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.OrgID, db.NullString(a.UserID), a.Action, a.Resource, db.NullString(a.IP), meta, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: create: %w", err)
	}
	return nil
}

// ListByUser returns the user's audit entries, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, user_id, action, resource, ip, metadata, created_at
		FROM audit_logs WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a        domain.AuditLog
			uid, ip  sql.NullString
			metadata []byte
		)
		if err := rows.Scan(&a.ID, &a.OrgID, &uid, &a.Action, &a.Resource, &ip, &metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		a.UserID = uid.String
		a.IP = ip.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
				return nil, fmt.Errorf("audit: metadata: %w", err)
			}
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
