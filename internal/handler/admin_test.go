package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhclintohn/9bot-pair-server/internal/model"
)

func adminRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	return req
}

func TestAdminSessions(t *testing.T) {
	t.Run("requires a bearer token", func(t *testing.T) {
		f := newServerFixture(t)

		rec := f.do(httptest.NewRequest("GET", "/admin/sessions", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("lists active sessions with masked phone numbers", func(t *testing.T) {
		f := newServerFixture(t)
		resp := f.pair(t, "alice", "+12025550142")

		rec := f.do(adminRequest("GET", "/admin/sessions"))

		require.Equal(t, http.StatusOK, rec.Code)
		var list struct {
			Items []model.SessionSummary `json:"items"`
			Total int                    `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Equal(t, 1, list.Total)
		assert.Equal(t, resp.SessionID, list.Items[0].SessionID)
		assert.Equal(t, "alice", list.Items[0].UserID)
		assert.Equal(t, "12*******42", list.Items[0].PhoneNumber)
		assert.Equal(t, "waiting_for_user", list.Items[0].State)
	})

	t.Run("lists nothing when no session is active", func(t *testing.T) {
		f := newServerFixture(t)

		rec := f.do(adminRequest("GET", "/admin/sessions"))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"total":0`)
	})
}

func TestAdminCancel(t *testing.T) {
	t.Run("cancels an active session", func(t *testing.T) {
		f := newServerFixture(t)
		resp := f.pair(t, "alice", "+12025550142")

		rec := f.do(adminRequest("DELETE", "/admin/sessions/"+resp.SessionID))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"success":true`)

		status := f.do(httptest.NewRequest("GET", "/status/"+resp.SessionID, nil))
		require.Equal(t, http.StatusOK, status.Code)
		var st model.StatusResponse
		require.NoError(t, json.Unmarshal(status.Body.Bytes(), &st))
		assert.Equal(t, "failed", st.State)
		assert.Contains(t, st.Error, "cancelled")
	})

	t.Run("conflicts on a second cancel", func(t *testing.T) {
		f := newServerFixture(t)
		resp := f.pair(t, "alice", "+12025550142")

		first := f.do(adminRequest("DELETE", "/admin/sessions/"+resp.SessionID))
		require.Equal(t, http.StatusOK, first.Code)

		second := f.do(adminRequest("DELETE", "/admin/sessions/"+resp.SessionID))
		assert.Equal(t, http.StatusConflict, second.Code)
	})

	t.Run("returns 404 for an unknown session", func(t *testing.T) {
		f := newServerFixture(t)

		rec := f.do(adminRequest("DELETE", "/admin/sessions/6ba7b810-9dad-11d1-80b4-00c04fd430c8"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rejects a malformed session id", func(t *testing.T) {
		f := newServerFixture(t)

		rec := f.do(adminRequest("DELETE", "/admin/sessions/nope"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
