package api

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultBackendConfig(t *testing.T) {
	cfg := DefaultBackendConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultSupabaseURL+"/functions/v1", cfg.APIBase)
	assert.Equal(t, cfg.APIBase+"/auth-login", cfg.AuthLoginURL)
	assert.Equal(t, cfg.APIBase+"/auth-register", cfg.AuthRegisterURL)
	assert.Equal(t, cfg.APIBase+"/bind-device", cfg.ClaimURL)
	assert.Equal(t, cfg.APIBase+"/device-heartbeat", cfg.HeartbeatURL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestParseBackendConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		check   func(t *testing.T, cfg BackendConfig)
		wantErr bool
	}{
		{
			name: "empty file keeps defaults",
			yaml: "",
			check: func(t *testing.T, cfg BackendConfig) {
				assert.Equal(t, DefaultBackendConfig(), cfg)
			},
		},
		{
			name: "project url derives every endpoint",
			yaml: "supabase_url: https://example.supabase.co/\n",
			check: func(t *testing.T, cfg BackendConfig) {
				assert.Equal(t, "https://example.supabase.co", cfg.SupabaseURL)
				assert.Equal(t, "https://example.supabase.co/functions/v1/bind-device", cfg.ClaimURL)
			},
		},
		{
			name: "api base and single endpoint override",
			yaml: "api_base: http://127.0.0.1:8080/fn\nclaim_url: http://127.0.0.1:9090/claim\nrequest_timeout: 2s\n",
			check: func(t *testing.T, cfg BackendConfig) {
				assert.Equal(t, "http://127.0.0.1:8080/fn/auth-login", cfg.AuthLoginURL)
				assert.Equal(t, "http://127.0.0.1:9090/claim", cfg.ClaimURL)
				assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
			},
		},
		{
			name:    "invalid url",
			yaml:    "claim_url: not a url\n",
			wantErr: true,
		},
		{
			name:    "invalid timeout",
			yaml:    "request_timeout: soon\n",
			wantErr: true,
		},
		{
			name:    "non-positive timeout",
			yaml:    "request_timeout: 0s\n",
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			yaml:    "supabase_url: [\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseBackendConfig([]byte(tt.yaml))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadBackendConfig_MissingFile(t *testing.T) {
	cfg, err := LoadBackendConfig(filepath.Join(t.TempDir(), "backend.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultBackendConfig(), cfg)

	cfg, err = LoadBackendConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBackendConfig(), cfg)
}

func TestLoadBackendConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.yaml")
	require.NoError(t, os.WriteFile(path, []byte("os_version: Guardian Test\n"), 0644))

	cfg, err := LoadBackendConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "Guardian Test", cfg.OSVersion)
}

func TestErrorResponse_Describe(t *testing.T) {
	assert.Equal(t, "User already registered", (&ErrorResponse{Msg: "User already registered"}).Describe())
}
