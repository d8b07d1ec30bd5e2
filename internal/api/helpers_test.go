package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailpilot/internal/models"
)

func TestWriteJSONStatus(t *testing.T) {
	t.Run("writes status, content type and body", func(t *testing.T) {
		rr := httptest.NewRecorder()

		ok := WriteJSONStatus(rr, http.StatusAccepted, map[string]int{"n": 1})

		assert.True(t, ok)
		assert.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"n":1}`, rr.Body.String())
	})

	t.Run("returns 500 when encoding fails", func(t *testing.T) {
		rr := httptest.NewRecorder()

		ok := WriteJSONResponse(rr, map[string]any{"bad": make(chan int)})

		assert.False(t, ok)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("reports write failures", func(t *testing.T) {
		w := &FailingResponseWriter{ResponseWriter: httptest.NewRecorder(), WriteShouldFail: true}

		assert.False(t, WriteJSONResponse(w, map[string]int{"n": 1}))
	})
}

func TestWriteJSONError(t *testing.T) {
	rr := httptest.NewRecorder()

	WriteJSONError(rr, http.StatusBadGateway, "upstream failed")

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "upstream failed", resp.Error)
}

func TestRequireMethod(t *testing.T) {
	rr := httptest.NewRecorder()
	assert.True(t, requireMethod(rr, httptest.NewRequest(http.MethodGet, "/", nil), http.MethodGet))

	rr = httptest.NewRecorder()
	assert.False(t, requireMethod(rr, httptest.NewRequest(http.MethodDelete, "/", nil), http.MethodGet))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, http.MethodGet, rr.Header().Get("Allow"))
}
