package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"unified-ai/backend/internal/db"
	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/user/domain"
)

const userColumns = `id, email, password_hash, display_name, email_verified,
	verification_token_hash, reset_token_hash, reset_token_expires_at,
	status, deleted_at, created_at, updated_at`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a user repository over db (a pool or a transaction).
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// GetByID returns the user for id, or nil if not found. Soft-deleted users are returned.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail matches the stored value exactly.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *PostgresRepository) GetByVerificationTokenHash(ctx context.Context, hash string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE verification_token_hash = $1`, hash)
}

func (r *PostgresRepository) GetByResetTokenHash(ctx context.Context, hash string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE reset_token_hash = $1`, hash)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("users: %w", err)
	}
	return u, nil
}

// Create persists u. The user must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		u.ID, u.Email, u.PasswordHash, u.DisplayName, u.EmailVerified,
		db.NullString(u.VerificationTokenHash), db.NullString(u.ResetTokenHash), db.NullTime(u.ResetTokenExpiresAt),
		string(u.Status), db.NullTime(u.DeletedAt), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.ErrDuplicateEmail
		}
		return fmt.Errorf("users: create: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE users SET email_verified = TRUE, verification_token_hash = NULL, updated_at = $2
		WHERE id = $1`, id, at)
}

func (r *PostgresRepository) SetResetToken(ctx context.Context, id, hash string, expiresAt, at time.Time) error {
	return r.exec(ctx, `
		UPDATE users SET reset_token_hash = $2, reset_token_expires_at = $3, updated_at = $4
		WHERE id = $1`, id, hash, expiresAt, at)
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE users SET password_hash = $2, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = $3
		WHERE id = $1`, id, passwordHash, at)
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE users SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`, id, at)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("users: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u                       domain.User
		status                  string
		verifyHash, resetHash   sql.NullString
		resetExpires, deletedAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.EmailVerified,
		&verifyHash, &resetHash, &resetExpires, &status, &deletedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Status = domain.UserStatus(status)
	u.VerificationTokenHash = verifyHash.String
	u.ResetTokenHash = resetHash.String
	u.ResetTokenExpiresAt = db.TimePtr(resetExpires)
	u.DeletedAt = db.TimePtr(deletedAt)
	return &u, nil
}
