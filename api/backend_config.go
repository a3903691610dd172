package api

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSupabaseURL      = "https://xzxjwuzwltoapifcyzww.supabase.co"
	DefaultRequestTimeout   = 30 * time.Second
	DefaultInstallerVersion = "1.0.0"
	DefaultOSVersion        = "Guardian Ubuntu 24.04"
)

var configValidate = validator.New()

// BackendConfig holds the fixed backend endpoints of a deployment.
// It is built once at startup and passed by value to the clients.
type BackendConfig struct {
	// SupabaseURL is the project URL written to the device environment file.
	SupabaseURL string `validate:"required,url"`

	// APIBase is the functions base all endpoint URLs derive from.
	APIBase string `validate:"required,url"`

	AuthLoginURL    string `validate:"required,url"`
	AuthRegisterURL string `validate:"required,url"`
	ClaimURL        string `validate:"required,url"`
	HeartbeatURL    string `validate:"required,url"`

	// RequestTimeout bounds every HTTP exchange with the backend.
	RequestTimeout time.Duration `validate:"gt=0"`

	// InstallerVersion and OSVersion are reported to the claim endpoint.
	InstallerVersion string `validate:"required"`
	OSVersion        string `validate:"required"`
}

// NewBackendConfig derives every endpoint from a Supabase project URL.
func NewBackendConfig(supabaseURL string) BackendConfig {
	supabaseURL = strings.TrimSuffix(supabaseURL, "/")
	apiBase := supabaseURL + "/functions/v1"
	return BackendConfig{
		SupabaseURL:      supabaseURL,
		APIBase:          apiBase,
		AuthLoginURL:     apiBase + "/auth-login",
		AuthRegisterURL:  apiBase + "/auth-register",
		ClaimURL:         apiBase + "/bind-device",
		HeartbeatURL:     apiBase + "/device-heartbeat",
		RequestTimeout:   DefaultRequestTimeout,
		InstallerVersion: DefaultInstallerVersion,
		OSVersion:        DefaultOSVersion,
	}
}

// DefaultBackendConfig returns the endpoints baked into the installer.
func DefaultBackendConfig() BackendConfig {
	return NewBackendConfig(DefaultSupabaseURL)
}

// Validate checks that every endpoint is an absolute URL and the timeout is positive.
func (c BackendConfig) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid backend config: %w", err)
	}
	return nil
}

// deploymentOverlay mirrors BackendConfig with optional fields for the YAML file.
type deploymentOverlay struct {
	SupabaseURL      string `yaml:"supabase_url"`
	APIBase          string `yaml:"api_base"`
	AuthLoginURL     string `yaml:"auth_login_url"`
	AuthRegisterURL  string `yaml:"auth_register_url"`
	ClaimURL         string `yaml:"claim_url"`
	HeartbeatURL     string `yaml:"heartbeat_url"`
	RequestTimeout   string `yaml:"request_timeout"`
	InstallerVersion string `yaml:"installer_version"`
	OSVersion        string `yaml:"os_version"`
}

// LoadBackendConfig reads a deployment YAML file on top of the defaults.
// A missing file is not an error: the baked-in endpoints are used.
func LoadBackendConfig(path string) (BackendConfig, error) {
	cfg := DefaultBackendConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	} else if err != nil {
		return BackendConfig{}, fmt.Errorf("could not read backend config: %w", err)
	}

	return ParseBackendConfig(data)
}

// ParseBackendConfig applies a YAML overlay to the defaults and validates the result.
func ParseBackendConfig(data []byte) (BackendConfig, error) {
	var overlay deploymentOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return BackendConfig{}, fmt.Errorf("could not parse backend config: %w", err)
	}

	cfg := DefaultBackendConfig()
	if overlay.SupabaseURL != "" {
		cfg = NewBackendConfig(overlay.SupabaseURL)
	}
	if overlay.APIBase != "" {
		base := NewBackendConfig(cfg.SupabaseURL)
		apiBase := strings.TrimSuffix(overlay.APIBase, "/")
		base.APIBase = apiBase
		base.AuthLoginURL = apiBase + "/auth-login"
		base.AuthRegisterURL = apiBase + "/auth-register"
		base.ClaimURL = apiBase + "/bind-device"
		base.HeartbeatURL = apiBase + "/device-heartbeat"
		cfg = base
	}

	overrides := []struct {
		value  string
		target *string
	}{
		{overlay.AuthLoginURL, &cfg.AuthLoginURL},
		{overlay.AuthRegisterURL, &cfg.AuthRegisterURL},
		{overlay.ClaimURL, &cfg.ClaimURL},
		{overlay.HeartbeatURL, &cfg.HeartbeatURL},
		{overlay.InstallerVersion, &cfg.InstallerVersion},
		{overlay.OSVersion, &cfg.OSVersion},
	}
	for _, o := range overrides {
		if o.value != "" {
			*o.target = o.value
		}
	}

	if overlay.RequestTimeout != "" {
		timeout, err := time.ParseDuration(overlay.RequestTimeout)
		if err != nil {
			return BackendConfig{}, fmt.Errorf("invalid request_timeout: %w", err)
		}
		cfg.RequestTimeout = timeout
	}

	if err := cfg.Validate(); err != nil {
		return BackendConfig{}, err
	}
	return cfg, nil
}
