// Package service manages session lifecycles: issuing token pairs, validating
// access tokens, rotating refresh tokens and revocation.
package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"unified-ai/backend/internal/audit"
	"unified-ai/backend/internal/logging"
	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/platform/clock"
	"unified-ai/backend/internal/platform/ids"
	"unified-ai/backend/internal/platform/metrics"
	"unified-ai/backend/internal/security"
	"unified-ai/backend/internal/session/domain"
	"unified-ai/backend/internal/session/repository"
	userdomain "unified-ai/backend/internal/user/domain"
)

// lastSeenGranularity bounds how often validation writes last_seen_at.
const lastSeenGranularity = time.Minute

// UserGetter loads users for principal resolution.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Tokens is the result of a login or a refresh.
type Tokens struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresIn        int64 // access token lifetime in seconds
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	UserID           string
	DeviceID         string
}

// Principal is the authenticated identity of a request.
type Principal struct {
	User    *userdomain.User
	Session *domain.Session
}

// IssueInput describes a new session.
type IssueInput struct {
	UserID    string
	DeviceID  string
	IPAddress string
	UserAgent string
}

// Manager implements session issue, validation, rotation and revocation.
type Manager struct {
	sessions repository.Repository
	users    UserGetter
	tokens   *security.TokenProvider
	clock    clock.Clock
	audit    audit.AuditLogger
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
}

// NewManager returns a Manager. auditLogger, m and log may be nil.
func NewManager(sessions repository.Repository, users UserGetter, tokens *security.TokenProvider, clk clock.Clock, auditLogger audit.AuditLogger, m *metrics.Metrics, log logrus.FieldLogger) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Manager{
		sessions: sessions,
		users:    users,
		tokens:   tokens,
		clock:    clk,
		audit:    auditLogger,
		metrics:  m,
		log:      logging.OrDiscard(log),
	}
}

// Issue creates a session and returns its first token pair.
func (m *Manager) Issue(ctx context.Context, in IssueInput) (*Tokens, error) {
	sessionID := ids.New()
	refresh, err := m.tokens.IssueRefresh(sessionID, in.UserID)
	if err != nil {
		return nil, err
	}
	access, err := m.tokens.IssueAccess(sessionID, in.UserID, in.DeviceID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	sess := &domain.Session{
		ID:               sessionID,
		UserID:           in.UserID,
		DeviceID:         in.DeviceID,
		RefreshJti:       refresh.JTI,
		RefreshTokenHash: security.HashToken(refresh.Token),
		ExpiresAt:        refresh.ExpiresAt,
		IPAddress:        in.IPAddress,
		UserAgent:        in.UserAgent,
		LastSeenAt:       &now,
		CreatedAt:        now,
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return m.tokenPair(sess, access, refresh), nil
}

func (m *Manager) tokenPair(sess *domain.Session, access, refresh security.IssuedToken) *Tokens {
	return &Tokens{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		TokenType:        "Bearer",
		ExpiresIn:        int64(m.tokens.AccessTTL() / time.Second),
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		SessionID:        sess.ID,
		UserID:           sess.UserID,
		DeviceID:         sess.DeviceID,
	}
}

// ValidateSession resolves an access token to its principal. An expired token
// yields apperr.ErrTokenExpired; a malformed token, a revoked or expired
// session, or an account that can no longer authenticate yields
// apperr.ErrInvalidToken.
func (m *Manager) ValidateSession(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := m.tokens.ValidateAccess(accessToken)
	if err != nil {
		return nil, err
	}
	sess, err := m.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if sess == nil || sess.UserID != claims.Subject || !sess.IsActiveAt(now) {
		return nil, apperr.ErrInvalidToken
	}
	user, err := m.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !user.CanAuthenticate() {
		return nil, apperr.ErrInvalidToken
	}
	if sess.LastSeenAt == nil || now.Sub(*sess.LastSeenAt) >= lastSeenGranularity {
		if err := m.sessions.UpdateLastSeen(ctx, sess.ID, now); err != nil {
			m.log.WithError(err).WithField("session_id", sess.ID).Warn("session: update last seen failed")
		}
	}
	return &Principal{User: user, Session: sess}, nil
}

// RefreshAccessToken exchanges a refresh token for a new pair. The swap is a
// compare-and-set on the stored token hash, so of two concurrent refreshes
// with the same token exactly one succeeds. Presenting a token that was
// already rotated away revokes the session.
func (m *Manager) RefreshAccessToken(ctx context.Context, refreshToken string) (*Tokens, error) {
	claims, err := m.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		m.metrics.Refresh("invalid")
		return nil, apperr.ErrInvalidRefreshToken
	}
	sess, err := m.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if sess == nil || sess.UserID != claims.Subject || !sess.IsActiveAt(now) {
		m.metrics.Refresh("invalid")
		return nil, apperr.ErrInvalidRefreshToken
	}
	if !security.TokenHashEqual(refreshToken, sess.RefreshTokenHash) {
		m.handleReuse(ctx, sess, claims.ID)
		return nil, apperr.ErrInvalidRefreshToken
	}
	user, err := m.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !user.CanAuthenticate() {
		m.metrics.Refresh("invalid")
		return nil, apperr.ErrInvalidRefreshToken
	}

	refresh, err := m.tokens.IssueRefresh(sess.ID, sess.UserID)
	if err != nil {
		return nil, err
	}
	access, err := m.tokens.IssueAccess(sess.ID, sess.UserID, sess.DeviceID)
	if err != nil {
		return nil, err
	}
	won, err := m.sessions.RotateRefreshToken(ctx, sess.ID, sess.RefreshTokenHash,
		refresh.JTI, security.HashToken(refresh.Token), refresh.ExpiresAt, now)
	if err != nil {
		return nil, err
	}
	if !won {
		m.metrics.Refresh("lost_race")
		return nil, apperr.ErrInvalidRefreshToken
	}
	m.metrics.Refresh("success")
	return m.tokenPair(sess, access, refresh), nil
}

func (m *Manager) handleReuse(ctx context.Context, sess *domain.Session, presentedJTI string) {
	m.metrics.Refresh("reuse")
	revoked, err := m.sessions.Revoke(ctx, sess.ID, domain.ReasonRefreshTokenReuse, m.clock.Now())
	if err != nil {
		m.log.WithError(err).WithField("session_id", sess.ID).Error("session: revoke after refresh token reuse failed")
		return
	}
	m.log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"user_id":    sess.UserID,
		"jti":        presentedJTI,
	}).Warn("session: retired refresh token presented; session revoked")
	if revoked {
		m.audit.LogEvent(ctx, "", sess.UserID, audit.ActionRefreshReuse, "session",
			map[string]any{"session_id": sess.ID, "jti": presentedJTI})
	}
}

// Logout revokes the user's sessions bound to deviceID. Sessions on other
// devices are untouched.
func (m *Manager) Logout(ctx context.Context, userID, deviceID string) (int64, error) {
	if userID == "" || deviceID == "" {
		return 0, apperr.Validation("user id and device id are required")
	}
	if !ids.Valid(deviceID) {
		return 0, apperr.Validation("device id is not valid")
	}
	n, err := m.sessions.RevokeByDevice(ctx, userID, deviceID, domain.ReasonDeviceLogout, m.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.audit.LogEvent(ctx, "", userID, audit.ActionLogout, "session", map[string]any{"device_id": deviceID, "revoked": n})
	}
	return n, nil
}

// LogoutSession revokes one session owned by userID.
func (m *Manager) LogoutSession(ctx context.Context, userID, sessionID string) error {
	if !ids.Valid(sessionID) {
		return apperr.ErrNotFound
	}
	sess, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || sess.UserID != userID {
		return apperr.ErrNotFound
	}
	revoked, err := m.sessions.Revoke(ctx, sessionID, domain.ReasonLogout, m.clock.Now())
	if err != nil {
		return err
	}
	if revoked {
		m.audit.LogEvent(ctx, "", userID, audit.ActionLogout, "session", map[string]any{"session_id": sessionID})
	}
	return nil
}

// LogoutAll revokes every active session of the user.
func (m *Manager) LogoutAll(ctx context.Context, userID, reason string) (int64, error) {
	if reason == "" {
		reason = domain.ReasonLogoutAll
	}
	n, err := m.sessions.RevokeAllByUser(ctx, userID, reason, m.clock.Now())
	if err != nil {
		return 0, err
	}
	m.audit.LogEvent(ctx, "", userID, audit.ActionLogoutAll, "session", map[string]any{"reason": reason, "revoked": n})
	return n, nil
}

// ListSessions returns the user's active sessions, newest first.
func (m *Manager) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	return m.sessions.ListActiveByUser(ctx, userID, m.clock.Now())
}

// Sweep deletes sessions that expired or were revoked more than retention ago.
func (m *Manager) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := m.sessions.DeleteStale(ctx, m.clock.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	m.metrics.SweepDeleted("sessions", n)
	return n, nil
}
