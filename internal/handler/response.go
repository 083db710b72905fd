package handler

import (
	"net/http"

	"github.com/xhclintohn/9bot-pair-server/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
