package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"unified-ai/backend/internal/db"
	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/sync/domain"
)

// deviceCounterKey is the unique index on a device's own counter per entity.
const deviceCounterKey = "sync_events_device_counter_key"

const eventColumns = `id, device_id, user_id, entity_type, entity_id, operation, vector_clock, payload,
	conflict_resolved, resolution_strategy, recorded_at`

const conflictColumns = `id, entity_type, entity_id, event_ids, status, strategy, winning_event_id,
	merged_payload, explicit_selection, resolved_by, created_at, resolved_at`

type PostgresRepository struct {
	conn *sql.DB
	db   db.DBTX
}

// NewPostgresRepository returns a sync repository over conn.
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

func (r *PostgresRepository) CreateEvent(ctx context.Context, e *domain.Event) error {
	clock, err := json.Marshal(e.VectorClock)
	if err != nil {
		return fmt.Errorf("sync events: encode clock: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sync_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.DeviceID, e.UserID, e.EntityType, e.EntityID, string(e.Operation), clock,
		nullJSON(e.Payload), e.ConflictResolved, db.NullString(string(e.ResolutionStrategy)), e.RecordedAt)
	if err != nil {
		if db.IsUniqueViolationOn(err, deviceCounterKey) {
			return apperr.Validation("vector clock counter %d was already used by this device", e.VectorClock.Get(e.DeviceID))
		}
		return fmt.Errorf("sync events: create: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetEventsByIDs(ctx context.Context, ids []string) ([]*domain.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.listEvents(ctx, `SELECT `+eventColumns+` FROM sync_events
		WHERE id = ANY($1) ORDER BY recorded_at, id`, pq.Array(ids))
}

func (r *PostgresRepository) ListEventsByUserSince(ctx context.Context, userID string, since time.Time, limit int) ([]*domain.Event, error) {
	return r.listEvents(ctx, `SELECT `+eventColumns+` FROM sync_events
		WHERE user_id = $1 AND recorded_at > $2
		ORDER BY recorded_at, id
		LIMIT $3`, userID, since, limitArg(limit))
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func (r *PostgresRepository) listEvents(ctx context.Context, query string, args ...any) ([]*domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sync events: list: %w", err)
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("sync events: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) LatestCounter(ctx context.Context, deviceID, entityType, entityID string) (uint64, error) {
	var counter sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX((vector_clock ->> device_id::text)::bigint)
		FROM sync_events
		WHERE device_id = $1 AND entity_type = $2 AND entity_id = $3`,
		deviceID, entityType, entityID).Scan(&counter)
	if err != nil {
		return 0, fmt.Errorf("sync events: latest counter: %w", err)
	}
	if !counter.Valid || counter.Int64 < 0 {
		return 0, nil
	}
	return uint64(counter.Int64), nil
}

func (r *PostgresRepository) MarkEventsResolved(ctx context.Context, ids []string, strategy domain.Strategy) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_events SET conflict_resolved = TRUE, resolution_strategy = $2
		WHERE id = ANY($1)`, pq.Array(ids), string(strategy))
	if err != nil {
		return 0, fmt.Errorf("sync events: mark resolved: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) CreateConflict(ctx context.Context, c *domain.Conflict) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_conflicts (id, entity_type, entity_id, event_ids, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.EntityType, c.EntityID, pq.Array(c.EventIDs), string(c.Status), c.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("sync conflicts: create: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepository) GetConflict(ctx context.Context, id string) (*domain.Conflict, error) {
	c, err := scanConflict(r.db.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM sync_conflicts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sync conflicts: get: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) ListOpenConflictsByUser(ctx context.Context, userID string) ([]*domain.Conflict, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+conflictColumns+` FROM sync_conflicts c
		WHERE c.status = 'open' AND EXISTS (
			SELECT 1 FROM sync_events e WHERE e.id = ANY(c.event_ids) AND e.user_id = $1)
		ORDER BY c.created_at, c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("sync conflicts: list: %w", err)
	}
	defer rows.Close()

	var out []*domain.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("sync conflicts: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ResolveConflict(ctx context.Context, c *domain.Conflict) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_conflicts
		SET status = 'resolved', strategy = $2, winning_event_id = $3, merged_payload = $4,
			explicit_selection = $5, resolved_by = $6, resolved_at = $7
		WHERE id = $1 AND status = 'open'`,
		c.ID, string(c.Strategy), db.NullString(c.WinningEventID), nullJSON(c.MergedPayload),
		c.ExplicitSelection, db.NullString(c.ResolvedBy), db.NullTime(c.ResolvedAt))
	if err != nil {
		return false, fmt.Errorf("sync conflicts: resolve: %w", err)
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

func scanEvent(s scanner) (*domain.Event, error) {
	var (
		e        domain.Event
		op       string
		clock    []byte
		payload  []byte
		strategy sql.NullString
	)
	if err := s.Scan(&e.ID, &e.DeviceID, &e.UserID, &e.EntityType, &e.EntityID, &op, &clock, &payload,
		&e.ConflictResolved, &strategy, &e.RecordedAt); err != nil {
		return nil, err
	}
	e.Operation = domain.Operation(op)
	if err := json.Unmarshal(clock, &e.VectorClock); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}
	e.ResolutionStrategy = domain.Strategy(strategy.String)
	return &e, nil
}

func scanConflict(s scanner) (*domain.Conflict, error) {
	var (
		c          domain.Conflict
		eventIDs   []string
		status     string
		strategy   sql.NullString
		winning    sql.NullString
		merged     []byte
		resolvedBy sql.NullString
		resolvedAt sql.NullTime
	)
	if err := s.Scan(&c.ID, &c.EntityType, &c.EntityID, pq.Array(&eventIDs), &status, &strategy, &winning,
		&merged, &c.ExplicitSelection, &resolvedBy, &c.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	c.EventIDs = eventIDs
	c.Status = domain.ConflictStatus(status)
	c.Strategy = domain.Strategy(strategy.String)
	c.WinningEventID = winning.String
	if len(merged) > 0 {
		c.MergedPayload = json.RawMessage(merged)
	}
	c.ResolvedBy = resolvedBy.String
	c.ResolvedAt = db.TimePtr(resolvedAt)
	return &c, nil
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
