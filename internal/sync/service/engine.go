// Package service implements the sync engine: recording device change
// events, pulling them on other devices, and detecting and resolving
// concurrent edits.
package service

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"unified-ai/backend/internal/audit"
	devicedomain "unified-ai/backend/internal/device/domain"
	"unified-ai/backend/internal/logging"
	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/platform/clock"
	"unified-ai/backend/internal/platform/ids"
	"unified-ai/backend/internal/platform/metrics"
	"unified-ai/backend/internal/sync/domain"
	"unified-ai/backend/internal/sync/publisher"
	"unified-ai/backend/internal/sync/repository"
)

const maxEntityFieldLen = 256

// DeviceResolver is the part of the device registry the engine needs.
type DeviceResolver interface {
	Resolve(ctx context.Context, deviceID string) (*devicedomain.Device, error)
	UpdateDeviceLastSync(ctx context.Context, deviceID string, at time.Time) error
}

// RecordInput describes one change made on a device. The caller increments
// its own device's entry in VectorClock before recording.
type RecordInput struct {
	DeviceID    string
	EntityType  string
	EntityID    string
	Operation   string
	Payload     json.RawMessage
	VectorClock domain.VectorClock
}

// ResolveOptions carries caller choices for ResolveConflict.
type ResolveOptions struct {
	// SelectedEventID picks the winner explicitly. Required for MANUAL and
	// overrides the timestamp choice for LAST_WRITE_WINS.
	SelectedEventID string
	// MergedPayload is the caller-built merge result. Required for MERGE.
	MergedPayload json.RawMessage
	// ResolvedBy is the resolving user's id. When set, the conflict must
	// contain an event of that user.
	ResolvedBy string
}

// Options holds the optional collaborators of Engine.
type Options struct {
	Publisher publisher.Publisher
	Audit     audit.AuditLogger
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Log       logrus.FieldLogger
	// PullLimit caps events returned by one GetSyncEventsSince; 0 means no cap.
	PullLimit int
}

// Engine records and reconciles sync events.
type Engine struct {
	repo      repository.Repository
	devices   DeviceResolver
	publisher publisher.Publisher
	audit     audit.AuditLogger
	clock     clock.Clock
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	pullLimit int
}

// NewEngine returns an Engine over repo and devices.
func NewEngine(repo repository.Repository, devices DeviceResolver, opts Options) *Engine {
	e := &Engine{
		repo:      repo,
		devices:   devices,
		publisher: opts.Publisher,
		audit:     opts.Audit,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		log:       logging.OrDiscard(opts.Log),
		pullLimit: opts.PullLimit,
	}
	if e.publisher == nil {
		e.publisher = publisher.Noop{}
	}
	if e.audit == nil {
		e.audit = audit.Nop{}
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	return e
}

// RecordSyncEvent validates and appends an event. Concurrent edits of the
// same entity are accepted; disagreement is handled by DetectConflicts.
func (e *Engine) RecordSyncEvent(ctx context.Context, in RecordInput) (*domain.Event, error) {
	dev, err := e.devices.Resolve(ctx, in.DeviceID)
	if err != nil {
		return nil, err
	}
	if !dev.IsActive {
		return nil, apperr.Validation("device is inactive")
	}
	entityType := strings.TrimSpace(in.EntityType)
	entityID := strings.TrimSpace(in.EntityID)
	if entityType == "" || entityID == "" {
		return nil, apperr.Validation("entity type and id are required")
	}
	if len(entityType) > maxEntityFieldLen || len(entityID) > maxEntityFieldLen {
		return nil, apperr.Validation("entity type and id must be at most %d characters", maxEntityFieldLen)
	}
	op, ok := domain.ParseOperation(in.Operation)
	if !ok {
		return nil, apperr.Validation("operation must be CREATE, UPDATE or DELETE")
	}
	if len(in.Payload) > 0 && !json.Valid(in.Payload) {
		return nil, apperr.Validation("payload must be valid JSON")
	}
	own := in.VectorClock.Get(dev.ID)
	if own == 0 {
		return nil, apperr.Validation("vector clock must contain the emitting device")
	}
	if own > math.MaxInt64 {
		return nil, apperr.Validation("vector clock counter must not exceed %d", int64(math.MaxInt64))
	}
	prev, err := e.repo.LatestCounter(ctx, dev.ID, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if own <= prev {
		return nil, apperr.Validation("vector clock counter %d must exceed the device's previous counter %d", own, prev)
	}

	now := e.clock.Now()
	ev := &domain.Event{
		ID:          ids.NewEventID(now),
		DeviceID:    dev.ID,
		UserID:      dev.UserID,
		EntityType:  entityType,
		EntityID:    entityID,
		Operation:   op,
		VectorClock: in.VectorClock,
		Payload:     in.Payload,
		RecordedAt:  now,
	}
	if err := e.repo.CreateEvent(ctx, ev); err != nil {
		return nil, err
	}
	e.metrics.SyncEventRecorded(string(op))
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.metrics.PublishFailed()
		e.log.WithError(err).WithField("event_id", ev.ID).Warn("sync: publish failed")
	}
	return ev, nil
}

// GetSyncEventsSince returns the events recorded after since on any device of
// the owner of deviceID, oldest first, and stamps the device's last sync.
func (e *Engine) GetSyncEventsSince(ctx context.Context, deviceID string, since time.Time) ([]*domain.Event, error) {
	dev, err := e.devices.Resolve(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	events, err := e.repo.ListEventsByUserSince(ctx, dev.UserID, since, e.pullLimit)
	if err != nil {
		return nil, err
	}
	if err := e.devices.UpdateDeviceLastSync(ctx, dev.ID, e.clock.Now()); err != nil {
		return nil, err
	}
	return events, nil
}

// DetectConflicts reports one conflict per entity whose events contain a
// concurrent pair and persists it. Repeated detection over the same events
// returns the stored conflict, including its resolution state.
func (e *Engine) DetectConflicts(ctx context.Context, events []*domain.Event) ([]*domain.Conflict, error) {
	found := domain.DetectConflicts(events, e.clock.Now())
	out := make([]*domain.Conflict, 0, len(found))
	created := 0
	for _, c := range found {
		inserted, err := e.repo.CreateConflict(ctx, c)
		if err != nil {
			return nil, err
		}
		if inserted {
			created++
			out = append(out, c)
			continue
		}
		stored, err := e.repo.GetConflict(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			stored = c
		}
		out = append(out, stored)
	}
	e.metrics.ConflictsDetected(created)
	return out, nil
}

// DetectConflictsByIDs loads the given events and runs DetectConflicts on
// those that belong to userID.
func (e *Engine) DetectConflictsByIDs(ctx context.Context, userID string, eventIDs []string) ([]*domain.Conflict, error) {
	if len(eventIDs) == 0 {
		return nil, apperr.Validation("event ids are required")
	}
	events, err := e.repo.GetEventsByIDs(ctx, eventIDs)
	if err != nil {
		return nil, err
	}
	owned := events[:0]
	for _, ev := range events {
		if ev.UserID == userID {
			owned = append(owned, ev)
		}
	}
	return e.DetectConflicts(ctx, owned)
}

// GetConflict returns the conflict or apperr.ErrNotFound.
func (e *Engine) GetConflict(ctx context.Context, id string) (*domain.Conflict, error) {
	if !ids.Valid(id) {
		return nil, apperr.ErrNotFound
	}
	c, err := e.repo.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.ErrNotFound
	}
	return c, nil
}

// ListOpenConflicts returns the user's unresolved conflicts.
func (e *Engine) ListOpenConflicts(ctx context.Context, userID string) ([]*domain.Conflict, error) {
	return e.repo.ListOpenConflictsByUser(ctx, userID)
}

// ResolveConflict closes a conflict under strategy and marks every member
// event resolved in one transaction.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, strategy domain.Strategy, opts ResolveOptions) (*domain.Conflict, error) {
	st, ok := domain.ParseStrategy(string(strategy))
	if !ok {
		return nil, apperr.Validation("strategy must be LAST_WRITE_WINS, MANUAL or MERGE")
	}
	c, err := e.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	events, err := e.repo.GetEventsByIDs(ctx, c.EventIDs)
	if err != nil {
		return nil, err
	}
	if opts.ResolvedBy != "" && !ownsAny(events, opts.ResolvedBy) {
		return nil, apperr.ErrNotFound
	}
	if !c.IsOpen() {
		return nil, apperr.ErrAlreadyResolved
	}
	if opts.SelectedEventID != "" && !c.HasEvent(opts.SelectedEventID) {
		return nil, apperr.Validation("selected event is not part of the conflict")
	}

	resolved := *c
	resolved.Strategy = st
	switch st {
	case domain.StrategyLastWriteWins:
		if opts.SelectedEventID != "" {
			resolved.WinningEventID = opts.SelectedEventID
			resolved.ExplicitSelection = true
		} else if latest := domain.LatestEvent(events); latest != nil {
			resolved.WinningEventID = latest.ID
		}
	case domain.StrategyManual:
		if opts.SelectedEventID == "" {
			return nil, apperr.Validation("MANUAL resolution requires a selected event")
		}
		resolved.WinningEventID = opts.SelectedEventID
		resolved.ExplicitSelection = true
	case domain.StrategyMerge:
		if len(opts.MergedPayload) == 0 || !json.Valid(opts.MergedPayload) {
			return nil, apperr.Validation("MERGE resolution requires a merged JSON payload")
		}
		resolved.MergedPayload = opts.MergedPayload
	}
	now := e.clock.Now()
	resolved.Status = domain.ConflictResolved
	resolved.ResolvedBy = opts.ResolvedBy
	resolved.ResolvedAt = &now

	err = e.repo.InTx(ctx, func(tx repository.Repository) error {
		ok, err := tx.ResolveConflict(ctx, &resolved)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrAlreadyResolved
		}
		_, err = tx.MarkEventsResolved(ctx, resolved.EventIDs, st)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ConflictResolved(string(st))
	e.audit.LogEvent(ctx, "", opts.ResolvedBy, audit.ActionConflictResolved, "sync_conflict:"+resolved.ID, map[string]any{
		"strategy":           string(st),
		"winning_event_id":   resolved.WinningEventID,
		"explicit_selection": resolved.ExplicitSelection,
		"entity":             resolved.EntityType + ":" + resolved.EntityID,
	})
	return &resolved, nil
}

func ownsAny(events []*domain.Event, userID string) bool {
	for _, ev := range events {
		if ev.UserID == userID {
			return true
		}
	}
	return false
}
