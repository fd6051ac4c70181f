package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeControlSocket struct{ hasSubs bool }

func (f *fakeControlSocket) HasSubscribers() bool { return f.hasSubs }

func TestHandleHealthReportsVitals(t *testing.T) {
	s := NewServer(Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var report healthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
}

func TestHandleServerStatusReflectsMacAppConnection(t *testing.T) {
	cs := &fakeControlSocket{hasSubs: true}
	s := NewServer(Config{ControlSocket: cs, IsHQMode: true})

	req := httptest.NewRequest(http.MethodGet, "/api/server/status", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp serverStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.MacAppConnected)
	assert.True(t, resp.IsHQMode)
}

func TestHandleServerStatusNoControlSocket(t *testing.T) {
	s := NewServer(Config{})
	req := httptest.NewRequest(http.MethodGet, "/api/server/status", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var resp serverStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.MacAppConnected)
}
