package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"unified-ai/backend/internal/db"
	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/workspace/domain"
)

const (
	workspaceColumns = `id, name, owner_user_id, owner_org_id, created_at`
	memberColumns    = `id, workspace_id, user_id, role, created_at`
)

type PostgresRepository struct {
	conn *sql.DB
	db   db.DBTX
}

// NewPostgresRepository returns a workspace repository over conn.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{conn: conn, db: conn}
}

func (r *PostgresRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	if r.conn == nil {
		return fn(r)
	}
	return db.WithTx(ctx, r.conn, nil, func(ctx context.Context, tx db.DBTX) error {
		return fn(&PostgresRepository{db: tx})
	})
}

func (r *PostgresRepository) CreateWorkspace(ctx context.Context, w *domain.Workspace) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO workspaces (`+workspaceColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		w.ID, w.Name, db.NullString(w.OwnerUserID), db.NullString(w.OwnerOrgID), w.CreatedAt)
	if err != nil {
		return fmt.Errorf("workspaces: create: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetWorkspace(ctx context.Context, id string) (*domain.Workspace, error) {
	var (
		w         domain.Workspace
		ownerUser sql.NullString
		ownerOrg  sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &ownerUser, &ownerOrg, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("workspaces: get: %w", err)
	}
	w.OwnerUserID = ownerUser.String
	w.OwnerOrgID = ownerOrg.String
	return &w, nil
}

func (r *PostgresRepository) CreateMember(ctx context.Context, m *domain.Member) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO workspace_members (`+memberColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.WorkspaceID, m.UserID, string(m.Role), m.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.ErrAlreadyMember
		}
		if db.IsUnknownReference(err) {
			return apperr.Validation("unknown user %q", m.UserID)
		}
		return fmt.Errorf("workspace members: create: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetMember(ctx context.Context, workspaceID, userID string) (*domain.Member, error) {
	m, err := scanMember(r.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`, workspaceID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || db.IsMalformedKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("workspace members: get: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) ListMembers(ctx context.Context, workspaceID string) ([]*domain.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM workspace_members WHERE workspace_id = $1 ORDER BY created_at, id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("workspace members: list: %w", err)
	}
	defer rows.Close()

	var out []*domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("workspace members: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SetEntityWorkspace(ctx context.Context, entityType, entityID, workspaceID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entity_workspaces (entity_type, entity_id, workspace_id) VALUES ($1, $2, $3)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET workspace_id = EXCLUDED.workspace_id`,
		entityType, entityID, workspaceID)
	if err != nil {
		return fmt.Errorf("entity workspaces: set: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetEntityWorkspace(ctx context.Context, entityType, entityID string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT workspace_id FROM entity_workspaces WHERE entity_type = $1 AND entity_id = $2`, entityType, entityID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("entity workspaces: get: %w", err)
	}
	return id, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(s scanner) (*domain.Member, error) {
	var (
		m    domain.Member
		role string
	)
	if err := s.Scan(&m.ID, &m.WorkspaceID, &m.UserID, &role, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = domain.Role(role)
	return &m, nil
}
