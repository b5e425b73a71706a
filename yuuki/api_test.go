package yuuki

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t testing.TB) (*API, *Discord) {
	t.Helper()
	d, _ := newTestDiscord(t)
	api := newAPI(&APIConfig{}, d, testLogger())
	return api, d
}

func apiRequest(t testing.TB, api *API, method, path string) (int, map[string]any) {
	t.Helper()
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	api.server.Handler.ServeHTTP(recorder, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return recorder.Code, body
}

func TestAPIHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	code, body := apiRequest(t, api, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestAPIStatus(t *testing.T) {
	api, _ := newTestAPI(t)
	code, body := apiRequest(t, api, http.MethodGet, "/api/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["connected"])
	assert.Equal(t, false, body["paused"])
	assert.Contains(t, body, "commands_handled")
	assert.Contains(t, body, "uptime")
}

func TestAPIPauseResume(t *testing.T) {
	api, d := newTestAPI(t)

	code, body := apiRequest(t, api, http.MethodPost, "/api/pause")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["paused"])
	assert.True(t, d.Paused())

	_, status := apiRequest(t, api, http.MethodGet, "/api/status")
	assert.Equal(t, true, status["paused"])

	code, body = apiRequest(t, api, http.MethodPost, "/api/resume")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["paused"])
	assert.False(t, d.Paused())
}
