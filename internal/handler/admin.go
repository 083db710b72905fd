package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/xhclintohn/9bot-pair-server/internal/errors"
	"github.com/xhclintohn/9bot-pair-server/internal/httputil"
	"github.com/xhclintohn/9bot-pair-server/internal/middleware"
	"github.com/xhclintohn/9bot-pair-server/internal/service"
	"github.com/xhclintohn/9bot-pair-server/internal/util"
)

type AdminHandler struct {
	manager *service.Manager
	auth    *middleware.AdminAuthMiddleware
}

func NewAdminHandler(manager *service.Manager, auth *middleware.AdminAuthMiddleware) *AdminHandler {
	return &AdminHandler{
		manager: manager,
		auth:    auth,
	}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(h.auth.Handler)
	r.Get("/sessions", h.ListSessions)
	r.Delete("/sessions/{sessionID}", h.CancelSession)

	return r
}

func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.ActiveSessions()

	writeJSON(w, http.StatusOK, map[string]any{
		"items": sessions,
		"total": len(sessions),
	})
}

func (h *AdminHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !util.IsValidUUID(sessionID) {
		httputil.WriteError(w, apperrors.InvalidInput("sessionId", "must be a UUID"))
		return
	}

	if err := h.manager.Cancel(r.Context(), sessionID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	log.Info().Str("session_id", sessionID).Msg("session cancelled by admin")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
