package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"unified-ai/backend/internal/db"
	"unified-ai/backend/internal/organization/domain"
	"unified-ai/backend/internal/platform/apperr"
)

const (
	orgColumns    = `id, name, owner_id, plan, seat_limit, created_at`
	memberColumns = `id, org_id, user_id, role, permissions, created_at`
)

type PostgresRepository struct {
	conn *sql.DB
	db   db.DBTX
}

// NewPostgresRepository returns an organization repository over conn.
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

func (r *PostgresRepository) CreateOrganization(ctx context.Context, o *domain.Organization) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO organizations (`+orgColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.Name, o.OwnerID, o.Plan, o.SeatLimit, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("organizations: create: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	return r.getOrg(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id)
}

func (r *PostgresRepository) LockOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	return r.getOrg(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) getOrg(ctx context.Context, query string, args ...any) (*domain.Organization, error) {
	var o domain.Organization
	err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&o.ID, &o.Name, &o.OwnerID, &o.Plan, &o.SeatLimit, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("organizations: get: %w", err)
	}
	return &o, nil
}

func (r *PostgresRepository) CreateMember(ctx context.Context, m *domain.Member) error {
	perms, err := json.Marshal(nonNil(m.Permissions))
	if err != nil {
		return fmt.Errorf("organization members: encode permissions: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO organization_members (`+memberColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.OrgID, m.UserID, string(m.Role), perms, m.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.ErrAlreadyMember
		}
		if db.IsUnknownReference(err) {
			return apperr.Validation("unknown user %q", m.UserID)
		}
		return fmt.Errorf("organization members: create: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetMember(ctx context.Context, orgID, userID string) (*domain.Member, error) {
	m, err := scanMember(r.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM organization_members WHERE org_id = $1 AND user_id = $2`, orgID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || db.IsMalformedKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("organization members: get: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) ListMembers(ctx context.Context, orgID string) ([]*domain.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM organization_members WHERE org_id = $1 ORDER BY created_at, id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("organization members: list: %w", err)
	}
	defer rows.Close()

	var out []*domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("organization members: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountMembers(ctx context.Context, orgID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organization_members WHERE org_id = $1`, orgID).Scan(&n); err != nil {
		return 0, fmt.Errorf("organization members: count: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountMembersWithRole(ctx context.Context, orgID string, role domain.Role) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organization_members WHERE org_id = $1 AND role = $2`, orgID, string(role)).Scan(&n); err != nil {
		return 0, fmt.Errorf("organization members: count by role: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) UpdateMemberRole(ctx context.Context, orgID, userID string, role domain.Role) (bool, error) {
	return r.execAffected(ctx, "update role",
		`UPDATE organization_members SET role = $3 WHERE org_id = $1 AND user_id = $2`, orgID, userID, string(role))
}

func (r *PostgresRepository) DeleteMember(ctx context.Context, orgID, userID string) (bool, error) {
	return r.execAffected(ctx, "delete",
		`DELETE FROM organization_members WHERE org_id = $1 AND user_id = $2`, orgID, userID)
}

func (r *PostgresRepository) execAffected(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if db.IsMalformedKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("organization members: %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(s scanner) (*domain.Member, error) {
	var (
		m     domain.Member
		role  string
		perms []byte
	)
	if err := s.Scan(&m.ID, &m.OrgID, &m.UserID, &role, &perms, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = domain.Role(role)
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &m.Permissions); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func nonNil(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}
