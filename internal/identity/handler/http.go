// Package handler exposes authentication and session management over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"unified-ai/backend/internal/identity/service"
	"unified-ai/backend/internal/logging"
	"unified-ai/backend/internal/platform/httputil"
	"unified-ai/backend/internal/server/middleware"
	sessiondomain "unified-ai/backend/internal/session/domain"
	sessionservice "unified-ai/backend/internal/session/service"
)

// Auth is the subset of service.AuthService used by the handler.
type Auth interface {
	Register(ctx context.Context, email, password, displayName string) (*service.RegisterResult, error)
	VerifyEmail(ctx context.Context, token string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
	Login(ctx context.Context, in service.LoginInput) (*service.LoginResult, error)
}

// Sessions is the subset of the session manager used by the handler.
type Sessions interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*sessionservice.Tokens, error)
	Logout(ctx context.Context, userID, deviceID string) (int64, error)
	LogoutSession(ctx context.Context, userID, sessionID string) error
	LogoutAll(ctx context.Context, userID, reason string) (int64, error)
	ListSessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error)
}

// Handler serves /v1/auth and /v1/sessions.
type Handler struct {
	auth     Auth
	sessions Sessions
	log      logrus.FieldLogger
}

func NewHandler(auth Auth, sessions Sessions, log logrus.FieldLogger) *Handler {
	return &Handler{auth: auth, sessions: sessions, log: logging.OrDiscard(log)}
}

// RegisterRoutes mounts unauthenticated routes on public and the rest on protected.
func (h *Handler) RegisterRoutes(public, protected *mux.Router) {
	public.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	public.HandleFunc("/auth/verify-email", h.verifyEmail).Methods(http.MethodPost)
	public.HandleFunc("/auth/password-reset/request", h.requestReset).Methods(http.MethodPost)
	public.HandleFunc("/auth/password-reset/confirm", h.confirmReset).Methods(http.MethodPost)
	public.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	public.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)

	protected.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
	protected.HandleFunc("/auth/logout-all", h.logoutAll).Methods(http.MethodPost)
	protected.HandleFunc("/auth/password", h.changePassword).Methods(http.MethodPost)
	protected.HandleFunc("/sessions", h.listSessions).Methods(http.MethodGet)
	protected.HandleFunc("/sessions/{id}", h.revokeSession).Methods(http.MethodDelete)
}

type userResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

type tokensResponse struct {
	AccessToken      string        `json:"access_token"`
	RefreshToken     string        `json:"refresh_token"`
	TokenType        string        `json:"token_type"`
	ExpiresIn        int64         `json:"expires_in"`
	RefreshExpiresAt time.Time     `json:"refresh_expires_at"`
	SessionID        string        `json:"session_id"`
	DeviceID         string        `json:"device_id,omitempty"`
	User             *userResponse `json:"user,omitempty"`
}

func toTokens(t *sessionservice.Tokens) tokensResponse {
	return tokensResponse{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		TokenType:        t.TokenType,
		ExpiresIn:        t.ExpiresIn,
		RefreshExpiresAt: t.RefreshExpiresAt,
		SessionID:        t.SessionID,
		DeviceID:         t.DeviceID,
	}
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	res, err := h.auth.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	u := res.User
	httputil.WriteJSON(w, http.StatusCreated, userResponse{
		ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, EmailVerified: u.EmailVerified, CreatedAt: u.CreatedAt,
	})
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	if err := h.auth.VerifyEmail(r.Context(), req.Token); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requestReset always answers 202 so the response does not reveal whether the email exists.
func (h *Handler) requestReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	if err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) confirmReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		DeviceName string `json:"device_name"`
		Platform   string `json:"platform"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	res, err := h.auth.Login(r.Context(), service.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		DeviceName: req.DeviceName,
		Platform:   req.Platform,
		IPAddress:  middleware.ClientIP(r.Context()),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	out := toTokens(res.Tokens)
	out.User = &userResponse{
		ID: res.User.ID, Email: res.User.Email, DisplayName: res.User.DisplayName,
		EmailVerified: res.User.EmailVerified, CreatedAt: res.User.CreatedAt,
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	tokens, err := h.sessions.RefreshAccessToken(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTokens(tokens))
}

// logout revokes the sessions of the named device, or the calling session
// when no device is given.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, h.log, err)
			return
		}
	}
	var err error
	if req.DeviceID != "" {
		_, err = h.sessions.Logout(r.Context(), p.User.ID, req.DeviceID)
	} else {
		err = h.sessions.LogoutSession(r.Context(), p.User.ID, p.Session.ID)
	}
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.sessions.LogoutAll(r.Context(), middleware.UserID(r.Context()), "")
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	if err := h.auth.ChangePassword(r.Context(), middleware.UserID(r.Context()), req.OldPassword, req.NewPassword); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionResponse struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"device_id,omitempty"`
	IPAddress  string     `json:"ip_address,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	Current    bool       `json:"current"`
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	sessions, err := h.sessions.ListSessions(r.Context(), p.User.ID)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			ID: s.ID, DeviceID: s.DeviceID, IPAddress: s.IPAddress, UserAgent: s.UserAgent,
			CreatedAt: s.CreatedAt, ExpiresAt: s.ExpiresAt, LastSeenAt: s.LastSeenAt,
			Current: p.Session != nil && s.ID == p.Session.ID,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.LogoutSession(r.Context(), middleware.UserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
