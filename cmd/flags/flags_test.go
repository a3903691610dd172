package flags

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guardian-os/device-provisioning/api"
	"github.com/guardian-os/device-provisioning/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// freshFlags copies the shared flags: applying a flag stores env values in it.
func freshFlags(shared ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, group := range shared {
		for _, f := range group {
			switch f := f.(type) {
			case *cli.StringFlag:
				c := *f
				out = append(out, &c)
			case *cli.BoolFlag:
				c := *f
				out = append(out, &c)
			case *cli.DurationFlag:
				c := *f
				out = append(out, &c)
			default:
				out = append(out, f)
			}
		}
	}
	return out
}

// run parses args with the shared flags and hands the context to action.
func run(t *testing.T, args []string, action func(cCtx *cli.Context) error) {
	t.Helper()
	app := &cli.App{
		Name:   "test",
		Flags:  freshFlags(CommonFlags, CredentialFlags),
		Action: action,
	}
	require.NoError(t, app.Run(append([]string{"test"}, args...)))
}

func TestBackendConfig_DefaultsWithoutDeploymentFile(t *testing.T) {
	root := t.TempDir()
	run(t, []string{"--root", root}, func(cCtx *cli.Context) error {
		cfg, err := BackendConfig(cCtx)
		require.NoError(t, err)
		assert.Equal(t, api.DefaultBackendConfig(), cfg)
		return nil
	})
}

func TestBackendConfig_DeploymentFileUnderRoot(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, DefaultBackendConfigPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("supabase_url: https://example.supabase.co\n"), 0644))

	run(t, []string{"--root", root, "--request-timeout", "5s"}, func(cCtx *cli.Context) error {
		cfg, err := BackendConfig(cCtx)
		require.NoError(t, err)
		assert.Equal(t, "https://example.supabase.co/functions/v1/bind-device", cfg.ClaimURL)
		assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
		return nil
	})
}

func TestBackendConfig_SupabaseURLOverride(t *testing.T) {
	run(t, []string{"--root", t.TempDir(), "--supabase-url", "http://127.0.0.1:8080"}, func(cCtx *cli.Context) error {
		cfg, err := BackendConfig(cCtx)
		require.NoError(t, err)
		assert.Equal(t, "http://127.0.0.1:8080/functions/v1/auth-login", cfg.AuthLoginURL)
		assert.Equal(t, api.DefaultRequestTimeout, cfg.RequestTimeout)
		return nil
	})
}

func TestCredentials_InstallerEnvFallbacks(t *testing.T) {
	t.Setenv("GUARDIAN_AUTH_MODE", "Register")
	t.Setenv("GUARDIAN_TEST_EMAIL", "parent@example.com")
	t.Setenv("GUARDIAN_TEST_PASSWORD", "secret")

	run(t, nil, func(cCtx *cli.Context) error {
		mode, email, password := Credentials(cCtx)
		assert.Equal(t, interfaces.AuthModeRegister, mode)
		assert.Equal(t, "parent@example.com", email)
		assert.Equal(t, "secret", password)
		return nil
	})
}

func TestCredentials_PrimaryEnvWins(t *testing.T) {
	t.Setenv("GUARDIAN_AUTH_EMAIL", "primary@example.com")
	t.Setenv("GUARDIAN_TEST_EMAIL", "test@example.com")

	run(t, nil, func(cCtx *cli.Context) error {
		mode, email, password := Credentials(cCtx)
		assert.Equal(t, interfaces.AuthModeLogin, mode)
		assert.Equal(t, "primary@example.com", email)
		assert.Empty(t, password)
		return nil
	})
}
