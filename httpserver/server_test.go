package httpserver

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/guardian-os/device-provisioning/api/backendmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      logger,
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, backendmock.New(logger))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func get(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestServer_HealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, get(t, ts.URL+"/livez"))
	assert.Equal(t, http.StatusOK, get(t, ts.URL+"/readyz"))
}

func TestServer_DrainRejectsBackendCalls(t *testing.T) {
	_, ts := newTestServer(t)
	loginURL := ts.URL + backendmock.FunctionsPrefix + "/auth-login"
	body := []byte(`{"email":"parent@example.com","password":"secret"}`)

	resp, err := http.Post(loginURL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, http.StatusOK, get(t, ts.URL+"/drain"))
	assert.Equal(t, http.StatusServiceUnavailable, get(t, ts.URL+"/readyz"))

	resp, err = http.Post(loginURL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	assert.Equal(t, http.StatusOK, get(t, ts.URL+"/undrain"))
	assert.Equal(t, http.StatusOK, get(t, ts.URL+"/readyz"))
}
