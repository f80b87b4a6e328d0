package respond

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/cockpit/internal/model"
)

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestEnvelopeShape(t *testing.T) {
	Now = func() time.Time { return time.Date(2026, 1, 9, 16, 10, 0, 0, time.UTC) }
	t.Cleanup(func() { Now = func() time.Time { return time.Now().UTC() } })

	rr := httptest.NewRecorder()
	WriteJSON(rr, http.StatusOK, map[string]int{"n": 1})
	body := decode(t, rr)
	assert.Equal(t, map[string]any{"n": float64(1)}, body["data"])
	assert.Nil(t, body["error"])
	assert.Equal(t, map[string]any{"ts": "2026-01-09T16:10:00Z"}, body["meta"])
}

func TestWriteErr_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{model.Invalid("notif_cap_per_day", "must be 0-10"), http.StatusBadRequest, CodeValidation},
		{fmt.Errorf("scope: %w", model.ErrForbidden), http.StatusForbidden, CodeForbidden},
		{model.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{model.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
		{fmt.Errorf("disk full"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		WriteErr(rr, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		assert.Equal(t, tc.status, rr.Code, tc.err.Error())
		body := decode(t, rr)
		assert.Nil(t, body["data"])
		assert.Equal(t, tc.code, body["error"].(map[string]any)["code"])
	}
}

func TestWriteRateLimited_RoundsUp(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteRateLimited(rr, 1500*time.Millisecond)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
	body := decode(t, rr)
	assert.Equal(t, float64(2), body["error"].(map[string]any)["retry_after_sec"])
}
