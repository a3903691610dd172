package api

// AuthRequest is the body of the auth-login and auth-register endpoints.
type AuthRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthUser is the optional user object of a successful auth response.
type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AuthResponse is returned by the auth endpoints on HTTP 200.
// Deployments have returned the token under either key.
type AuthResponse struct {
	AccessToken       string    `json:"access_token,omitempty"`
	ParentAccessToken string    `json:"parent_access_token,omitempty"`
	User              *AuthUser `json:"user,omitempty"`
}

// Token returns whichever token field the backend populated.
func (r *AuthResponse) Token() string {
	if r.AccessToken != "" {
		return r.AccessToken
	}
	return r.ParentAccessToken
}

// ErrorResponse is the error body shared by the backend endpoints.
type ErrorResponse struct {
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	Message          string `json:"message,omitempty"`
	Msg              string `json:"msg,omitempty"`
}

// Describe returns the most specific message the backend sent.
func (r *ErrorResponse) Describe() string {
	for _, candidate := range []string{r.ErrorDescription, r.Message, r.Msg, r.Error} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// ClaimRequest is the body of the bind-device endpoint.
type ClaimRequest struct {
	DeviceFingerprint string `json:"device_fingerprint"`
	ParentEmail       string `json:"parent_email"`
	InstallerVersion  string `json:"installer_version"`
	OSVersion         string `json:"os_version"`
}

// ClaimResponse is returned by the bind-device endpoint on HTTP 200.
// Both fields are required; a response missing either is not a claim.
type ClaimResponse struct {
	DeviceJWT  string `json:"device_jwt" validate:"required"`
	DeviceCode string `json:"device_code" validate:"required"`
}

// HeartbeatRequest is the body of the device-heartbeat endpoint.
type HeartbeatRequest struct {
	DeviceCode string `json:"device_code,omitempty"`
	Hostname   string `json:"hostname,omitempty"`
	Version    string `json:"version,omitempty"`
	Status     string `json:"status"`
}
