package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/xhclintohn/9bot-pair-server/internal/errors"
	"github.com/xhclintohn/9bot-pair-server/internal/httputil"
	"github.com/xhclintohn/9bot-pair-server/internal/model"
	"github.com/xhclintohn/9bot-pair-server/internal/service"
	"github.com/xhclintohn/9bot-pair-server/internal/util"
)

// PairHandler owns the public pairing endpoints. POST /pair blocks until a
// pairing code is issued or the session fails, so its deadline is the
// manager's connect timeout, not the usual request timeout.
type PairHandler struct {
	manager *service.Manager
}

func NewPairHandler(manager *service.Manager) *PairHandler {
	return &PairHandler{manager: manager}
}

func (h *PairHandler) Pair(w http.ResponseWriter, r *http.Request) {
	var req model.PairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("invalid pair request body")
		httputil.WriteError(w, apperrors.New(apperrors.ErrCodeValidation, "Invalid request body"))
		return
	}

	sess, err := h.manager.CreateSession(r.Context(), req.UserID, req.PhoneNumber)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	code, err := h.manager.StartPairing(r.Context(), sess)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.PairResponse{
		Success:     true,
		PairingCode: code,
		SessionID:   sess.ID,
	})
}

func (h *PairHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !util.IsValidUUID(sessionID) {
		httputil.WriteError(w, apperrors.InvalidInput("sessionId", "must be a UUID"))
		return
	}

	status, err := h.manager.Status(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}
