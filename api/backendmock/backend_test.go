package backendmock

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/guardian-os/device-provisioning/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) (*Backend, *httptest.Server) {
	backend := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	server := httptest.NewServer(backend.Router())
	t.Cleanup(server.Close)
	return backend, server
}

func post(t *testing.T, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestBackend_RegisterLoginBind(t *testing.T) {
	backend, server := newTestBackend(t)
	cfg := api.NewBackendConfig(server.URL)

	resp, body := post(t, cfg.AuthRegisterURL, "", api.AuthRequest{Email: "parent@example.com", Password: "secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var registered api.AuthResponse
	require.NoError(t, json.Unmarshal(body, &registered))
	assert.NotEmpty(t, registered.ParentAccessToken)

	resp, _ = post(t, cfg.AuthRegisterURL, "", api.AuthRequest{Email: "parent@example.com", Password: "secret"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = post(t, cfg.AuthLoginURL, "", api.AuthRequest{Email: "parent@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = post(t, cfg.AuthLoginURL, "", api.AuthRequest{Email: "parent@example.com", Password: "secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loggedIn api.AuthResponse
	require.NoError(t, json.Unmarshal(body, &loggedIn))
	require.NotEmpty(t, loggedIn.AccessToken)

	claim := api.ClaimRequest{DeviceFingerprint: "sha256:00", ParentEmail: "parent@example.com"}
	resp, body = post(t, cfg.ClaimURL, loggedIn.AccessToken, claim)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var first api.ClaimResponse
	require.NoError(t, json.Unmarshal(body, &first))
	assert.Regexp(t, regexp.MustCompile(`^[A-Z]{3}-[0-9]{3}$`), first.DeviceCode)

	// Same fingerprint, same parent: the original binding is returned.
	resp, body = post(t, cfg.ClaimURL, registered.ParentAccessToken, claim)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second api.ClaimResponse
	require.NoError(t, json.Unmarshal(body, &second))
	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.DeviceCount())
	assert.EqualValues(t, 2, backend.ClaimRequests())
	assert.EqualValues(t, 4, backend.AuthRequests())
}

func TestBackend_BindRequiresToken(t *testing.T) {
	_, server := newTestBackend(t)
	cfg := api.NewBackendConfig(server.URL)

	resp, _ := post(t, cfg.ClaimURL, "unknown", api.ClaimRequest{DeviceFingerprint: "sha256:00"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBackend_BindConflict(t *testing.T) {
	backend, server := newTestBackend(t)
	cfg := api.NewBackendConfig(server.URL)

	claim := api.ClaimRequest{DeviceFingerprint: "sha256:00"}
	resp, _ := post(t, cfg.ClaimURL, backend.IssueToken("one@example.com"), claim)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = post(t, cfg.ClaimURL, backend.IssueToken("two@example.com"), claim)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	device, ok := backend.Device("sha256:00")
	require.True(t, ok)
	assert.Equal(t, "one@example.com", device.ParentEmail)
}

func TestBackend_Heartbeat(t *testing.T) {
	backend, server := newTestBackend(t)
	cfg := api.NewBackendConfig(server.URL)

	_, body := post(t, cfg.ClaimURL, backend.IssueToken("parent@example.com"), api.ClaimRequest{DeviceFingerprint: "sha256:00"})
	var claimed api.ClaimResponse
	require.NoError(t, json.Unmarshal(body, &claimed))

	resp, _ := post(t, cfg.HeartbeatURL, "bogus", api.HeartbeatRequest{Status: "online"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = post(t, cfg.HeartbeatURL, claimed.DeviceJWT, api.HeartbeatRequest{DeviceCode: claimed.DeviceCode, Status: "online"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	device, _ := backend.Device("sha256:00")
	assert.False(t, device.LastHeartbeat.IsZero())
	assert.EqualValues(t, 2, backend.HeartbeatRequests())
}

func TestBackend_Faults(t *testing.T) {
	backend, server := newTestBackend(t)
	cfg := api.NewBackendConfig(server.URL)
	token := backend.IssueToken("parent@example.com")

	backend.SetFault(EndpointBindDevice, Fault{Status: http.StatusInternalServerError, Body: `{"error":"boom"}`})
	resp, body := post(t, cfg.ClaimURL, token, api.ClaimRequest{DeviceFingerprint: "sha256:00"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"boom"}`, string(body))
	assert.Equal(t, 0, backend.DeviceCount())

	backend.ClearFault(EndpointBindDevice)
	resp, _ = post(t, cfg.ClaimURL, token, api.ClaimRequest{DeviceFingerprint: "sha256:00"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
