package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	devicedomain "unified-ai/backend/internal/device/domain"
	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/platform/clock"
	"unified-ai/backend/internal/sync/domain"
	"unified-ai/backend/internal/sync/repository"
)

type memSyncRepo struct {
	mu        sync.Mutex
	events    map[string]*domain.Event
	conflicts map[string]*domain.Conflict
}

func newMemSyncRepo() *memSyncRepo {
	return &memSyncRepo{events: map[string]*domain.Event{}, conflicts: map[string]*domain.Conflict{}}
}

// CreateEvent enforces the unique index on a device's own counter per entity.
func (m *memSyncRepo) CreateEvent(_ context.Context, e *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	own := e.VectorClock.Get(e.DeviceID)
	for _, prev := range m.events {
		if prev.DeviceID == e.DeviceID && prev.EntityType == e.EntityType && prev.EntityID == e.EntityID &&
			prev.VectorClock.Get(prev.DeviceID) == own {
			return apperr.Validation("vector clock counter %d was already used by this device", own)
		}
	}
	cp := *e
	m.events[e.ID] = &cp
	return nil
}

func (m *memSyncRepo) GetEventsByIDs(_ context.Context, ids []string) ([]*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Event
	for _, id := range ids {
		if e, ok := m.events[id]; ok {
			cp := *e
			out = append(out, &cp)
		}
	}
	sortEvents(out)
	return out, nil
}

func (m *memSyncRepo) ListEventsByUserSince(_ context.Context, userID string, since time.Time, limit int) ([]*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Event
	for _, e := range m.events {
		if e.UserID == userID && e.RecordedAt.After(since) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sortEvents(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortEvents(events []*domain.Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].RecordedAt.Equal(events[j].RecordedAt) {
			return events[i].RecordedAt.Before(events[j].RecordedAt)
		}
		return events[i].ID < events[j].ID
	})
}

func (m *memSyncRepo) LatestCounter(_ context.Context, deviceID, entityType, entityID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max uint64
	for _, e := range m.events {
		if e.DeviceID == deviceID && e.EntityType == entityType && e.EntityID == entityID {
			if c := e.VectorClock.Get(deviceID); c > max {
				max = c
			}
		}
	}
	return max, nil
}

func (m *memSyncRepo) MarkEventsResolved(_ context.Context, ids []string, strategy domain.Strategy) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if e, ok := m.events[id]; ok {
			e.ConflictResolved, e.ResolutionStrategy = true, strategy
			n++
		}
	}
	return n, nil
}

func (m *memSyncRepo) CreateConflict(_ context.Context, c *domain.Conflict) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conflicts[c.ID]; ok {
		return false, nil
	}
	cp := *c
	m.conflicts[c.ID] = &cp
	return true, nil
}

func (m *memSyncRepo) GetConflict(_ context.Context, id string) (*domain.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conflicts[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *memSyncRepo) ListOpenConflictsByUser(_ context.Context, userID string) ([]*domain.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Conflict
	for _, c := range m.conflicts {
		if !c.IsOpen() {
			continue
		}
		for _, id := range c.EventIDs {
			if e, ok := m.events[id]; ok && e.UserID == userID {
				cp := *c
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (m *memSyncRepo) ResolveConflict(_ context.Context, c *domain.Conflict) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.conflicts[c.ID]
	if !ok || !stored.IsOpen() {
		return false, nil
	}
	cp := *c
	m.conflicts[c.ID] = &cp
	return true, nil
}

func (m *memSyncRepo) InTx(_ context.Context, fn func(repository.Repository) error) error {
	return fn(m)
}

type memDevices struct {
	mu       sync.Mutex
	devices  map[string]*devicedomain.Device
	lastSync map[string]time.Time
}

func (m *memDevices) Resolve(_ context.Context, id string) (*devicedomain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDevices) UpdateDeviceLastSync(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if at.After(m.lastSync[id]) {
		m.lastSync[id] = at
	}
	return nil
}

type recordingAudit struct {
	mu       sync.Mutex
	metadata []map[string]any
}

func (r *recordingAudit) LogEvent(_ context.Context, _, _, _, _ string, md map[string]any) {
	r.mu.Lock()
	r.metadata = append(r.metadata, md)
	r.mu.Unlock()
}

type engineFixture struct {
	engine  *Engine
	repo    *memSyncRepo
	devices *memDevices
	audit   *recordingAudit
	clock   *clock.Fake
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	devices := &memDevices{
		devices: map[string]*devicedomain.Device{
			"D1": {ID: "D1", UserID: "u1", Name: "laptop", Platform: devicedomain.PlatformDesktop, IsActive: true},
			"D2": {ID: "D2", UserID: "u1", Name: "phone", Platform: devicedomain.PlatformMobile, IsActive: true},
			"D3": {ID: "D3", UserID: "u2", Name: "web", Platform: devicedomain.PlatformWeb, IsActive: true},
			"D4": {ID: "D4", UserID: "u1", Name: "old", Platform: devicedomain.PlatformWeb, IsActive: false},
		},
		lastSync: map[string]time.Time{},
	}
	repo := newMemSyncRepo()
	rec := &recordingAudit{}
	engine := NewEngine(repo, devices, Options{Audit: rec, Clock: clk})
	return &engineFixture{engine: engine, repo: repo, devices: devices, audit: rec, clock: clk}
}

func clockOf(m map[string]uint64) domain.VectorClock { return domain.NewVectorClock(m) }

func (f *engineFixture) record(t *testing.T, deviceID, entityID string, vc map[string]uint64) *domain.Event {
	t.Helper()
	ev, err := f.engine.RecordSyncEvent(context.Background(), RecordInput{
		DeviceID: deviceID, EntityType: "THREAD", EntityID: entityID, Operation: "UPDATE",
		Payload: json.RawMessage(`{"by":"` + deviceID + `"}`), VectorClock: clockOf(vc),
	})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return ev
}

func TestEngine_ConcurrentEditsAcrossDevicesResolveLWW(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	e1 := f.record(t, "D1", "X", map[string]uint64{"D1": 1})
	e2 := f.record(t, "D2", "X", map[string]uint64{"D1": 0, "D2": 1})

	conflicts, err := f.engine.DetectConflicts(ctx, []*domain.Event{e1, e2})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	c := conflicts[0]
	assert.ElementsMatch(t, []string{e1.ID, e2.ID}, c.EventIDs)
	assert.True(t, c.IsOpen())

	resolved, err := f.engine.ResolveConflict(ctx, c.ID, domain.StrategyLastWriteWins, ResolveOptions{ResolvedBy: "u1"})
	require.NoError(t, err)
	assert.Equal(t, e2.ID, resolved.WinningEventID, "latest recorded event wins")
	assert.False(t, resolved.ExplicitSelection)

	events, _ := f.repo.GetEventsByIDs(ctx, []string{e1.ID, e2.ID})
	for _, ev := range events {
		assert.True(t, ev.ConflictResolved, ev.ID)
		assert.Equal(t, domain.StrategyLastWriteWins, ev.ResolutionStrategy)
	}

	_, err = f.engine.ResolveConflict(ctx, c.ID, domain.StrategyLastWriteWins, ResolveOptions{})
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)

	again, err := f.engine.DetectConflicts(ctx, []*domain.Event{e1, e2})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, c.ID, again[0].ID)
	assert.False(t, again[0].IsOpen(), "re-detection returns the stored resolution")
}

func TestEngine_LWWExplicitSelectionIsRecorded(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	e1 := f.record(t, "D1", "X", map[string]uint64{"D1": 1})
	e2 := f.record(t, "D2", "X", map[string]uint64{"D2": 1})
	conflicts, err := f.engine.DetectConflicts(ctx, []*domain.Event{e1, e2})
	require.NoError(t, err)

	resolved, err := f.engine.ResolveConflict(ctx, conflicts[0].ID, domain.StrategyLastWriteWins, ResolveOptions{SelectedEventID: e1.ID})
	require.NoError(t, err)
	assert.Equal(t, e1.ID, resolved.WinningEventID)
	assert.True(t, resolved.ExplicitSelection)
	assert.Equal(t, domain.StrategyLastWriteWins, resolved.Strategy)

	require.Len(t, f.audit.metadata, 1)
	assert.Equal(t, true, f.audit.metadata[0]["explicit_selection"])
	assert.Equal(t, "LAST_WRITE_WINS", f.audit.metadata[0]["strategy"])
}

func TestEngine_ManualAndMergeRequireInput(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	e1 := f.record(t, "D1", "X", map[string]uint64{"D1": 1})
	e2 := f.record(t, "D2", "X", map[string]uint64{"D2": 1})
	conflicts, err := f.engine.DetectConflicts(ctx, []*domain.Event{e1, e2})
	require.NoError(t, err)
	id := conflicts[0].ID

	_, err = f.engine.ResolveConflict(ctx, id, domain.StrategyManual, ResolveOptions{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = f.engine.ResolveConflict(ctx, id, domain.StrategyMerge, ResolveOptions{MergedPayload: json.RawMessage(`{broken`)})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = f.engine.ResolveConflict(ctx, id, domain.StrategyManual, ResolveOptions{SelectedEventID: "not-a-member"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	c, err := f.engine.GetConflict(ctx, id)
	require.NoError(t, err)
	assert.True(t, c.IsOpen(), "failed resolutions leave the conflict open")

	merged, err := f.engine.ResolveConflict(ctx, id, domain.StrategyMerge, ResolveOptions{MergedPayload: json.RawMessage(`{"by":"both"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"by":"both"}`, string(merged.MergedPayload))
	assert.Empty(t, merged.WinningEventID)
}

func TestEngine_ResolveForeignConflictIsNotFound(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	e1 := f.record(t, "D1", "X", map[string]uint64{"D1": 1})
	e2 := f.record(t, "D2", "X", map[string]uint64{"D2": 1})
	conflicts, err := f.engine.DetectConflicts(ctx, []*domain.Event{e1, e2})
	require.NoError(t, err)

	_, err = f.engine.ResolveConflict(ctx, conflicts[0].ID, domain.StrategyLastWriteWins, ResolveOptions{ResolvedBy: "u2"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.engine.ResolveConflict(ctx, "missing", domain.StrategyLastWriteWins, ResolveOptions{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEngine_ConcurrentRecordsCannotShareCounter(t *testing.T) {
	f := newEngineFixture(t)
	in := RecordInput{DeviceID: "D1", EntityType: "THREAD", EntityID: "X", Operation: "UPDATE", VectorClock: clockOf(map[string]uint64{"D1": 1})}

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.RecordSyncEvent(context.Background(), in)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
	assert.Equal(t, 1, ok)
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	assert.Len(t, f.repo.events, 1)
}

func TestEngine_RecordValidation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	base := RecordInput{DeviceID: "D1", EntityType: "THREAD", EntityID: "X", Operation: "CREATE", VectorClock: clockOf(map[string]uint64{"D1": 1})}

	tests := []struct {
		name   string
		mutate func(*RecordInput)
		kind   apperr.Kind
	}{
		{"unknown device", func(in *RecordInput) { in.DeviceID = "nope" }, apperr.KindNotFound},
		{"inactive device", func(in *RecordInput) { in.DeviceID = "D4"; in.VectorClock = clockOf(map[string]uint64{"D4": 1}) }, apperr.KindValidation},
		{"empty entity", func(in *RecordInput) { in.EntityID = " " }, apperr.KindValidation},
		{"bad operation", func(in *RecordInput) { in.Operation = "UPSERT" }, apperr.KindValidation},
		{"bad payload", func(in *RecordInput) { in.Payload = json.RawMessage(`{`) }, apperr.KindValidation},
		{"clock without own device", func(in *RecordInput) { in.VectorClock = clockOf(map[string]uint64{"D2": 3}) }, apperr.KindValidation},
		{"counter out of range", func(in *RecordInput) { in.VectorClock = clockOf(map[string]uint64{"D1": math.MaxInt64 + 1}) }, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			_, err := f.engine.RecordSyncEvent(ctx, in)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	ev, err := f.engine.RecordSyncEvent(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, domain.OperationCreate, ev.Operation)

	_, err = f.engine.RecordSyncEvent(ctx, base)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "counter must strictly increase")

	base.VectorClock = clockOf(map[string]uint64{"D1": 1})
	base.EntityID = "Y"
	_, err = f.engine.RecordSyncEvent(ctx, base)
	assert.NoError(t, err, "counters are tracked per entity")
}

func TestEngine_GetSyncEventsSinceSpansUserDevices(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	start := f.clock.Now()

	e1 := f.record(t, "D1", "X", map[string]uint64{"D1": 1})
	e2 := f.record(t, "D2", "Y", map[string]uint64{"D2": 1})
	f.record(t, "D3", "Z", map[string]uint64{"D3": 1})

	events, err := f.engine.GetSyncEventsSince(ctx, "D2", start.Add(-time.Nanosecond))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, e1.ID, events[0].ID)
	assert.Equal(t, e2.ID, events[1].ID)
	assert.Equal(t, f.clock.Now(), f.devices.lastSync["D2"])

	events, err = f.engine.GetSyncEventsSince(ctx, "D2", e1.RecordedAt)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, e2.ID, events[0].ID)

	_, err = f.engine.GetSyncEventsSince(ctx, "nope", start)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestEngine_DetectConflictsByIDsIgnoresForeignEvents(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	e1 := f.record(t, "D1", "X", map[string]uint64{"D1": 1})
	e3 := f.record(t, "D3", "X", map[string]uint64{"D3": 1})

	conflicts, err := f.engine.DetectConflictsByIDs(ctx, "u1", []string{e1.ID, e3.ID})
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	open, err := f.engine.ListOpenConflicts(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, open)
}
