package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"unified-ai/backend/internal/audit/domain"
	"unified-ai/backend/internal/platform/clock"
)

type mockAuditRepo struct {
	entries   []*domain.AuditLog
	createErr error
}

func (m *mockAuditRepo) Create(_ context.Context, entry *domain.AuditLog) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) ListByUser(context.Context, string, int, int) ([]*domain.AuditLog, error) {
	return m.entries, nil
}

func TestLogger_LogEvent_Success(t *testing.T) {
	repo := &mockAuditRepo{}
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	logger := NewLogger(repo, func(context.Context) string { return "192.168.1.1" }, clock.NewFake(now), nil)

	logger.LogEvent(context.Background(), "org-1", "user-1", ActionLoginSuccess, "session", map[string]any{"session_id": "s1"})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.OrgID != "org-1" || entry.UserID != "user-1" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Action != ActionLoginSuccess || entry.Resource != "session" {
		t.Errorf("action/resource = %q/%q", entry.Action, entry.Resource)
	}
	if entry.IP != "192.168.1.1" {
		t.Errorf("ip = %q", entry.IP)
	}
	if entry.Metadata["session_id"] != "s1" {
		t.Errorf("metadata = %v", entry.Metadata)
	}
	if entry.ID == "" || !entry.CreatedAt.Equal(now) {
		t.Errorf("id/created_at not set: %+v", entry)
	}
}

func TestLogger_LogEvent_DefaultsOrgAndIP(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo, nil, nil, nil)

	logger.LogEvent(context.Background(), "", "", ActionLoginFailure, "session", nil)

	if repo.entries[0].OrgID != SentinelOrgID {
		t.Errorf("org_id = %q, want %q", repo.entries[0].OrgID, SentinelOrgID)
	}
	if repo.entries[0].IP != "unknown" {
		t.Errorf("ip = %q, want unknown", repo.entries[0].IP)
	}
}

func TestLogger_LogEvent_RepoErrorIsLogged(t *testing.T) {
	repo := &mockAuditRepo{createErr: errors.New("db down")}
	base, hook := test.NewNullLogger()
	logger := NewLogger(repo, nil, nil, base)

	logger.LogEvent(context.Background(), "", "u1", ActionLogoutAll, "session", nil)

	if len(hook.Entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(hook.Entries))
	}
	if hook.LastEntry().Level != logrus.WarnLevel {
		t.Errorf("level = %v", hook.LastEntry().Level)
	}
}

func TestLogger_NilRepoIsNoop(t *testing.T) {
	logger := NewLogger(nil, nil, nil, nil)
	logger.LogEvent(context.Background(), "o", "u", "a", "r", nil)
}
