package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/xhclintohn/9bot-pair-server/internal/audit"
	apperrors "github.com/xhclintohn/9bot-pair-server/internal/errors"
	"github.com/xhclintohn/9bot-pair-server/internal/httputil"
	"github.com/xhclintohn/9bot-pair-server/internal/util"
)

// AdminAuthMiddleware guards the admin surface with a static bearer token.
// An empty configured token disables the surface entirely.
type AdminAuthMiddleware struct {
	token string
}

func NewAdminAuthMiddleware(token string) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{token: token}
}

func (m *AdminAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Admin API is disabled"))
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		if !util.ConstantTimeEqual(token, m.token) {
			log.Warn().Str("path", r.URL.Path).Msg("admin auth: invalid token attempt")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			httputil.WriteError(w, apperrors.Unauthorized("Invalid token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
