package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/platform/httputil"
	sessionservice "unified-ai/backend/internal/session/service"
)

const bearerPrefix = "bearer "

// SessionValidator resolves an access token to a principal.
type SessionValidator interface {
	ValidateSession(ctx context.Context, accessToken string) (*sessionservice.Principal, error)
}

// Auth rejects requests without a valid Bearer access token and stores the
// principal in the request context.
func Auth(sessions SessionValidator, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r.Header.Get("Authorization"))
			if token == "" {
				httputil.WriteError(w, log, apperr.ErrInvalidToken)
				return
			}
			p, err := sessions.ValidateSession(r.Context(), token)
			if err != nil {
				httputil.WriteError(w, log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// extractBearer returns the token of a "Bearer <token>" header value, or "".
func extractBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
