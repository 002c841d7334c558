// Package service implements account registration, email verification,
// password management and password login.
package service

import (
	"context"
	"regexp"
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
	"unified-ai/backend/internal/security"
	sessionservice "unified-ai/backend/internal/session/service"
	userdomain "unified-ai/backend/internal/user/domain"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes = 72
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	GetByVerificationTokenHash(ctx context.Context, hash string) (*userdomain.User, error)
	GetByResetTokenHash(ctx context.Context, hash string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	SetResetToken(ctx context.Context, id, hash string, expiresAt, at time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
}

// DeviceRegistrar resolves or creates the device a login comes from.
type DeviceRegistrar interface {
	RegisterDevice(ctx context.Context, userID, name, platform string) (*devicedomain.Device, error)
}

// SessionIssuer creates sessions.
type SessionIssuer interface {
	Issue(ctx context.Context, in sessionservice.IssueInput) (*sessionservice.Tokens, error)
}

// LoginThrottle bounds login attempts per account. Allow may return an error
// together with true when the backing store is unavailable.
type LoginThrottle interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// RegisterResult is returned by Register. VerificationToken is the plain
// secret; only its hash is stored.
type RegisterResult struct {
	User              *userdomain.User
	VerificationToken string
}

// LoginInput carries credentials and the client context of a login.
type LoginInput struct {
	Email      string
	Password   string
	DeviceName string
	Platform   string
	IPAddress  string
	UserAgent  string
}

// LoginResult holds the issued tokens and the authenticated user.
type LoginResult struct {
	*sessionservice.Tokens
	User   *userdomain.User
	Device *devicedomain.Device
}

// AuthService implements password-based registration and login.
type AuthService struct {
	users    UserRepo
	devices  DeviceRegistrar
	sessions SessionIssuer
	hasher   *security.Hasher
	throttle LoginThrottle
	mailer   Mailer
	audit    audit.AuditLogger
	clock    clock.Clock
	resetTTL time.Duration
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
}

// Options holds the optional collaborators of AuthService.
type Options struct {
	Throttle LoginThrottle
	Mailer   Mailer
	Audit    audit.AuditLogger
	Clock    clock.Clock
	ResetTTL time.Duration
	Metrics  *metrics.Metrics
	Log      logrus.FieldLogger
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(users UserRepo, devices DeviceRegistrar, sessions SessionIssuer, hasher *security.Hasher, opts Options) *AuthService {
	s := &AuthService{
		users:    users,
		devices:  devices,
		sessions: sessions,
		hasher:   hasher,
		throttle: opts.Throttle,
		mailer:   opts.Mailer,
		audit:    opts.Audit,
		clock:    opts.Clock,
		resetTTL: opts.ResetTTL,
		metrics:  opts.Metrics,
		log:      logging.OrDiscard(opts.Log),
	}
	if s.mailer == nil {
		s.mailer = NewLogMailer(s.log)
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.resetTTL <= 0 {
		s.resetTTL = time.Hour
	}
	return s
}

// Register creates an unverified user and returns the verification token.
// The email is trimmed and otherwise stored as given.
func (s *AuthService) Register(ctx context.Context, email, password, displayName string) (*RegisterResult, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.ErrDuplicateEmail
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	token, err := security.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	u := &userdomain.User{
		ID:                    ids.New(),
		Email:                 email,
		PasswordHash:          hashed,
		DisplayName:           strings.TrimSpace(displayName),
		VerificationTokenHash: security.HashToken(token),
		Status:                userdomain.UserStatusActive,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := u.Validate(); err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	if err := s.mailer.SendVerification(ctx, u.Email, token); err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Warn("send verification mail failed")
	}
	s.audit.LogEvent(ctx, "", u.ID, audit.ActionRegister, "user", nil)
	return &RegisterResult{User: u, VerificationToken: token}, nil
}

// VerifyEmail marks the holder of token as verified.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return apperr.ErrInvalidToken
	}
	u, err := s.users.GetByVerificationTokenHash(ctx, security.HashToken(token))
	if err != nil {
		return err
	}
	if u == nil {
		return apperr.ErrInvalidToken
	}
	return s.users.MarkEmailVerified(ctx, u.ID, s.clock.Now())
}

// RequestPasswordReset issues a reset token when the email belongs to a user.
// Unknown emails return nil so account existence is not revealed.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return err
	}
	if !u.CanAuthenticate() {
		return nil
	}
	token, err := security.NewOpaqueToken()
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if err := s.users.SetResetToken(ctx, u.ID, security.HashToken(token), now.Add(s.resetTTL), now); err != nil {
		return err
	}
	if err := s.mailer.SendPasswordReset(ctx, u.Email, token); err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Warn("send password reset mail failed")
	}
	return nil
}

// ResetPassword sets a new password for the holder of an unexpired reset
// token. Existing sessions are left untouched.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if strings.TrimSpace(token) == "" {
		return apperr.ErrInvalidOrExpiredToken
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	u, err := s.users.GetByResetTokenHash(ctx, security.HashToken(token))
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if u == nil || u.ResetTokenExpiresAt == nil || !now.Before(*u.ResetTokenExpiresAt) {
		return apperr.ErrInvalidOrExpiredToken
	}
	hashed, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hashed, now); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, "", u.ID, audit.ActionPasswordReset, "user", nil)
	return nil
}

// ChangePassword replaces the password of userID after checking the old one.
// Existing sessions stay valid; callers wanting a clean slate use LogoutAll.
func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.CanAuthenticate() {
		return apperr.ErrInvalidCredentials
	}
	if err := s.hasher.Compare(u.PasswordHash, []byte(oldPassword)); err != nil {
		return apperr.ErrInvalidCredentials
	}
	hashed, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hashed, s.clock.Now()); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, "", u.ID, audit.ActionPasswordChanged, "user", nil)
	return nil
}

// Login authenticates with email and password, resolves the device and
// issues a session. Unknown, suspended and deleted accounts fail exactly like
// a wrong password.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || in.Password == "" {
		return nil, apperr.ErrInvalidCredentials
	}
	if s.throttle != nil {
		ok, err := s.throttle.Allow(ctx, email)
		if err != nil {
			s.log.WithError(err).Warn("login throttle unavailable")
		}
		if !ok {
			s.metrics.LoginAttempt("throttled")
			return nil, apperr.ErrTooManyAttempts
		}
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		s.hasher.CompareDummy([]byte(in.Password))
		return nil, s.loginFailed(ctx, "", "unknown_email")
	}
	if err := s.hasher.Compare(u.PasswordHash, []byte(in.Password)); err != nil {
		return nil, s.loginFailed(ctx, u.ID, "wrong_password")
	}
	if !u.CanAuthenticate() {
		return nil, s.loginFailed(ctx, u.ID, "account_inactive")
	}

	var dev *devicedomain.Device
	deviceID := ""
	if name := strings.TrimSpace(in.DeviceName); name != "" {
		platform := in.Platform
		if platform == "" {
			platform = string(devicedomain.PlatformWeb)
		}
		dev, err = s.devices.RegisterDevice(ctx, u.ID, name, platform)
		if err != nil {
			return nil, err
		}
		deviceID = dev.ID
	}

	tokens, err := s.sessions.Issue(ctx, sessionservice.IssueInput{
		UserID:    u.ID,
		DeviceID:  deviceID,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	if s.throttle != nil {
		if err := s.throttle.Reset(ctx, email); err != nil {
			s.log.WithError(err).Warn("login throttle reset failed")
		}
	}
	s.metrics.LoginAttempt("success")
	s.audit.LogEvent(ctx, "", u.ID, audit.ActionLoginSuccess, "session", map[string]any{
		"session_id": tokens.SessionID,
		"device_id":  deviceID,
	})
	return &LoginResult{Tokens: tokens, User: u, Device: dev}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, userID, reason string) error {
	s.metrics.LoginAttempt("failure")
	s.audit.LogEvent(ctx, "", userID, audit.ActionLoginFailure, "session", map[string]any{"reason": reason})
	return apperr.ErrInvalidCredentials
}

func validateEmail(email string) error {
	if email == "" {
		return apperr.Validation("email is required")
	}
	if !emailPattern.MatchString(email) {
		return apperr.Validation("invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperr.Validation("password must be at least %d characters", minPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return apperr.Validation("password must be at most %d bytes", maxPasswordBytes)
	}
	return nil
}

