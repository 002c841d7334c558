package middleware

import (
	"context"

	sessionservice "unified-ai/backend/internal/session/service"
)

type contextKey struct{ name string }

var (
	principalKey = contextKey{"principal"}
	clientIPKey  = contextKey{"client_ip"}
	requestIDKey = contextKey{"request_id"}
)

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p *sessionservice.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal set by Auth, if any.
func PrincipalFrom(ctx context.Context) (*sessionservice.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*sessionservice.Principal)
	return p, ok && p != nil
}

// UserID returns the authenticated user's id, or "".
func UserID(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok && p.User != nil {
		return p.User.ID
	}
	return ""
}

// ClientIP returns the client address recorded by ClientIPs, or "unknown".
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	return "unknown"
}

// RequestIDFrom returns the request id assigned by RequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
