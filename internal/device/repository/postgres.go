package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"unified-ai/backend/internal/db"
	"unified-ai/backend/internal/device/domain"
)

// ErrDuplicateDevice is returned by Create when the user already has a device with that name.
var ErrDuplicateDevice = errors.New("device name already registered for user")

const deviceColumns = `id, user_id, name, platform, last_sync_at, is_active, created_at`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a device repository over conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Device, error) {
	return r.getOne(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByUserAndName(ctx context.Context, userID, name string) (*domain.Device, error) {
	return r.getOne(ctx, `SELECT `+deviceColumns+` FROM devices WHERE user_id = $1 AND name = $2`, userID, name)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("devices: %w", err)
	}
	return d, nil
}

// ListByUser returns the user's devices, oldest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("devices: list: %w", err)
	}
	defer rows.Close()

	var out []*domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("devices: scan: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Create(ctx context.Context, d *domain.Device) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.UserID, d.Name, string(d.Platform), db.NullTime(d.LastSyncAt), d.IsActive, d.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateDevice
		}
		return fmt.Errorf("devices: create: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateLastSync(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET last_sync_at = GREATEST(COALESCE(last_sync_at, $2), $2)
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("devices: update last sync: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetActive(ctx context.Context, id string, active bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE devices SET is_active = $2 WHERE id = $1`, id, active); err != nil {
		return fmt.Errorf("devices: set active: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*domain.Device, error) {
	var (
		d        domain.Device
		platform string
		lastSync sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.Name, &platform, &lastSync, &d.IsActive, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Platform = domain.Platform(platform)
	d.LastSyncAt = db.TimePtr(lastSync)
	return &d, nil
}
