package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"unified-ai/backend/internal/db"
	"unified-ai/backend/internal/session/domain"
)

const sessionColumns = `id, user_id, device_id, refresh_jti, refresh_token_hash, expires_at,
	revoked_at, revoked_reason, ip_address, user_agent, last_seen_at, created_at`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a session repository over conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessions: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("sessions: list: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("sessions: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Create persists s. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.UserID, db.NullString(s.DeviceID), s.RefreshJti, s.RefreshTokenHash, s.ExpiresAt,
		db.NullTime(s.RevokedAt), db.NullString(s.RevokedReason), db.NullString(s.IPAddress),
		db.NullString(s.UserAgent), db.NullTime(s.LastSeenAt), s.CreatedAt)
	if err != nil {
		return fmt.Errorf("sessions: create: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RotateRefreshToken(ctx context.Context, id, oldHash, newJTI, newHash string, expiresAt, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET refresh_jti = $3, refresh_token_hash = $4, expires_at = $5, last_seen_at = $6
		WHERE id = $1 AND refresh_token_hash = $2 AND revoked_at IS NULL`,
		id, oldHash, newJTI, newHash, expiresAt, at)
	if err != nil {
		return false, fmt.Errorf("sessions: rotate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sessions: rotate: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	n, err := r.revoke(ctx, `WHERE id = $3 AND revoked_at IS NULL`, reason, at, id)
	return n > 0, err
}

func (r *PostgresRepository) RevokeByDevice(ctx context.Context, userID, deviceID, reason string, at time.Time) (int64, error) {
	return r.revoke(ctx, `WHERE user_id = $3 AND device_id = $4 AND revoked_at IS NULL`, reason, at, userID, deviceID)
}

func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	return r.revoke(ctx, `WHERE user_id = $3 AND revoked_at IS NULL`, reason, at, userID)
}

func (r *PostgresRepository) revoke(ctx context.Context, where, reason string, at time.Time, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $1, revoked_reason = $2 `+where,
		append([]any{at, reason}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("sessions: revoke: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("sessions: last seen: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1 OR revoked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sessions: delete stale: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s                        domain.Session
		deviceID, reason, ip, ua sql.NullString
		revokedAt, lastSeen      sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &deviceID, &s.RefreshJti, &s.RefreshTokenHash, &s.ExpiresAt,
		&revokedAt, &reason, &ip, &ua, &lastSeen, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.DeviceID = deviceID.String
	s.RevokedAt = db.TimePtr(revokedAt)
	s.RevokedReason = reason.String
	s.IPAddress = ip.String
	s.UserAgent = ua.String
	s.LastSeenAt = db.TimePtr(lastSeen)
	return &s, nil
}
