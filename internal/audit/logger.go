package audit

import (
	"context"

	"github.com/sirupsen/logrus"

	"unified-ai/backend/internal/audit/domain"
	auditrepo "unified-ai/backend/internal/audit/repository"
	"unified-ai/backend/internal/logging"
	"unified-ai/backend/internal/platform/clock"
	"unified-ai/backend/internal/platform/ids"
)

// SentinelOrgID is the org_id for events outside any organization (logins, sync, grants).
const SentinelOrgID = "_system"

// Actions recorded by the services.
const (
	ActionRegister          = "user_registered"
	ActionLoginSuccess      = "login_success"
	ActionLoginFailure      = "login_failure"
	ActionLogout            = "logout"
	ActionLogoutAll         = "logout_all"
	ActionPasswordChanged   = "password_changed"
	ActionPasswordReset     = "password_reset"
	ActionRefreshReuse      = "refresh_token_reuse"
	ActionConflictResolved  = "conflict_resolved"
	ActionPermissionGranted = "permission_granted"
	ActionPermissionRevoked = "permission_revoked"
	ActionMemberAdded       = "member_added"
	ActionMemberRemoved     = "member_removed"
	ActionRoleChanged       = "role_changed"
)

// IPExtractor returns the client IP carried by the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event. LogEvent is best-effort: failures
// are logged and never surface to the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, orgID, userID, action, resource string, metadata map[string]any)
}

// Logger implements AuditLogger on top of the audit repository.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	clock       clock.Clock
	log         logrus.FieldLogger
}

// NewLogger returns a Logger. ipExtractor may be nil; the IP is then recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, clk clock.Clock, log logrus.FieldLogger) *Logger {
	if clk == nil {
		clk = clock.Real()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, clock: clk, log: logging.OrDiscard(log)}
}

// LogEvent writes one audit log entry.
func (l *Logger) LogEvent(ctx context.Context, orgID, userID, action, resource string, metadata map[string]any) {
	if l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	if orgID == "" {
		orgID = SentinelOrgID
	}
	entry := &domain.AuditLog{
		ID:        ids.New(),
		OrgID:     orgID,
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: l.clock.Now(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{"action": action, "resource": resource}).Warn("audit: failed to log event")
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) LogEvent(context.Context, string, string, string, string, map[string]any) {}
