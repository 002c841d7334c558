package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"unified-ai/backend/internal/db"
	"unified-ai/backend/internal/permission/domain"
	"unified-ai/backend/internal/platform/apperr"
)

const permissionColumns = `id, entity_type, entity_id, user_id, role_id, permissions, granted_by, granted_at, expires_at`

const upsertUpdate = `DO UPDATE SET permissions = EXCLUDED.permissions, granted_by = EXCLUDED.granted_by,
	granted_at = EXCLUDED.granted_at, expires_at = EXCLUDED.expires_at
	RETURNING id`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a permission repository over conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

func (r *PostgresRepository) Upsert(ctx context.Context, p *domain.PermissionSet) error {
	perms, err := json.Marshal(p.Permissions)
	if err != nil {
		return fmt.Errorf("permission sets: encode: %w", err)
	}
	target := `(entity_type, entity_id, user_id) WHERE user_id IS NOT NULL`
	if p.UserID == "" {
		target = `(entity_type, entity_id, role_id) WHERE role_id IS NOT NULL`
	}
	var id string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO permission_sets (`+permissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT `+target+` `+upsertUpdate,
		p.ID, string(p.EntityType), p.EntityID, db.NullString(p.UserID), db.NullString(p.RoleID),
		perms, db.NullString(p.GrantedBy), p.GrantedAt, db.NullTime(p.ExpiresAt)).Scan(&id)
	if err != nil {
		if db.IsUnknownReference(err) {
			return apperr.Validation("unknown user %q", p.UserID)
		}
		return fmt.Errorf("permission sets: upsert: %w", err)
	}
	p.ID = id
	return nil
}

func (r *PostgresRepository) GetForUser(ctx context.Context, entityType domain.EntityType, entityID, userID string) (*domain.PermissionSet, error) {
	return r.getOne(ctx, `SELECT `+permissionColumns+` FROM permission_sets
		WHERE entity_type = $1 AND entity_id = $2 AND user_id = $3`, string(entityType), entityID, userID)
}

func (r *PostgresRepository) GetForRole(ctx context.Context, entityType domain.EntityType, entityID, roleID string) (*domain.PermissionSet, error) {
	return r.getOne(ctx, `SELECT `+permissionColumns+` FROM permission_sets
		WHERE entity_type = $1 AND entity_id = $2 AND role_id = $3`, string(entityType), entityID, roleID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*domain.PermissionSet, error) {
	p, err := scanPermissionSet(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || db.IsMalformedKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("permission sets: get: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) ListByEntity(ctx context.Context, entityType domain.EntityType, entityID string) ([]*domain.PermissionSet, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+permissionColumns+` FROM permission_sets
		WHERE entity_type = $1 AND entity_id = $2 ORDER BY granted_at, id`, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("permission sets: list: %w", err)
	}
	defer rows.Close()

	var out []*domain.PermissionSet
	for rows.Next() {
		p, err := scanPermissionSet(rows)
		if err != nil {
			return nil, fmt.Errorf("permission sets: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) DeleteForUser(ctx context.Context, entityType domain.EntityType, entityID, userID string) (bool, error) {
	n, err := r.exec(ctx, `DELETE FROM permission_sets WHERE entity_type = $1 AND entity_id = $2 AND user_id = $3`,
		string(entityType), entityID, userID)
	return n > 0, err
}

func (r *PostgresRepository) DeleteForRole(ctx context.Context, entityType domain.EntityType, entityID, roleID string) (bool, error) {
	n, err := r.exec(ctx, `DELETE FROM permission_sets WHERE entity_type = $1 AND entity_id = $2 AND role_id = $3`,
		string(entityType), entityID, roleID)
	return n > 0, err
}

func (r *PostgresRepository) DeleteExpiredBefore(ctx context.Context, t time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM permission_sets WHERE expires_at IS NOT NULL AND expires_at <= $1`, t)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if db.IsMalformedKey(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("permission sets: delete: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPermissionSet(s scanner) (*domain.PermissionSet, error) {
	var (
		p          domain.PermissionSet
		entityType string
		userID     sql.NullString
		roleID     sql.NullString
		grantedBy  sql.NullString
		expiresAt  sql.NullTime
		perms      []byte
	)
	if err := s.Scan(&p.ID, &entityType, &p.EntityID, &userID, &roleID, &perms, &grantedBy, &p.GrantedAt, &expiresAt); err != nil {
		return nil, err
	}
	p.EntityType = domain.EntityType(entityType)
	p.UserID = userID.String
	p.RoleID = roleID.String
	p.GrantedBy = grantedBy.String
	p.ExpiresAt = db.TimePtr(expiresAt)
	if err := json.Unmarshal(perms, &p.Permissions); err != nil {
		return nil, err
	}
	return &p, nil
}
