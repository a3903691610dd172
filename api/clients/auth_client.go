package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/guardian-os/device-provisioning/api"
	"github.com/guardian-os/device-provisioning/interfaces"
)

// AuthClient implements interfaces.Authenticator against the family backend.
type AuthClient struct {
	config     api.BackendConfig
	httpClient *http.Client
	log        *slog.Logger
}

// NewAuthClient creates an authenticator for the endpoints in config.
func NewAuthClient(config api.BackendConfig, log *slog.Logger) *AuthClient {
	return &AuthClient{
		config:     config,
		httpClient: newHTTPClient(config.RequestTimeout),
		log:        log,
	}
}

// Authenticate exchanges parent credentials for a session.
//
// Every error is an *interfaces.AuthError. Missing credentials yield
// AuthUnavailable without any network I/O; the password is never logged.
func (c *AuthClient) Authenticate(ctx context.Context, mode interfaces.AuthMode, email, password string) (*interfaces.ParentSession, error) {
	if email == "" || password == "" {
		c.log.Warn("Authentication credentials not provided, device will activate later")
		return nil, &interfaces.AuthError{Outcome: interfaces.AuthUnavailable, Message: "credentials not provided"}
	}

	url := c.config.AuthLoginURL
	if mode == interfaces.AuthModeRegister {
		url = c.config.AuthRegisterURL
	}

	c.log.Debug("Authenticating parent", slog.String("email", email), slog.String("mode", string(mode)))

	resp, err := postJSON(ctx, c.httpClient, url, "", api.AuthRequest{Email: email, Password: password})
	if err != nil {
		c.log.Warn("Network error during authentication", "err", err)
		return nil, &interfaces.AuthError{Outcome: interfaces.AuthNetworkError, Err: err}
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body)
	if err != nil {
		c.log.Warn("Network error reading authentication response", "err", err)
		return nil, &interfaces.AuthError{Outcome: interfaces.AuthNetworkError, Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		var errResp api.ErrorResponse
		_ = json.Unmarshal(body, &errResp)
		c.log.Error("Authentication rejected", slog.Int("status", resp.StatusCode))
		return nil, &interfaces.AuthError{
			Outcome:    interfaces.AuthInvalidCredentials,
			StatusCode: resp.StatusCode,
			Message:    errResp.Describe(),
		}
	default:
		c.log.Error("Authentication failed", slog.Int("status", resp.StatusCode))
		return nil, &interfaces.AuthError{
			Outcome:    interfaces.AuthServerError,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("server returned %d", resp.StatusCode),
		}
	}

	var parsed api.AuthResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.log.Error("Could not parse authentication response", "err", err)
		return nil, &interfaces.AuthError{
			Outcome:    interfaces.AuthServerError,
			StatusCode: resp.StatusCode,
			Message:    "invalid response",
			Err:        err,
		}
	}

	token := parsed.Token()
	if token == "" {
		c.log.Error("No access token in authentication response")
		return nil, &interfaces.AuthError{
			Outcome:    interfaces.AuthServerError,
			StatusCode: resp.StatusCode,
			Message:    "missing token",
		}
	}

	session := &interfaces.ParentSession{Email: email, Token: token}
	if parsed.User != nil {
		session.UserID = parsed.User.ID
	}

	c.log.Info("Authentication successful", slog.String("email", email))
	return session, nil
}
