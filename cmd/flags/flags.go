package flags

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/guardian-os/device-provisioning/api"
	"github.com/guardian-os/device-provisioning/common"
	"github.com/guardian-os/device-provisioning/httpserver"
	"github.com/guardian-os/device-provisioning/interfaces"
	"github.com/urfave/cli/v2"
)

// DefaultBackendConfigPath is relative to the root mount.
const DefaultBackendConfigPath = "etc/guardian/backend.yaml"

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// Root returns the target root mount.
func Root(cCtx *cli.Context) string {
	return cCtx.String(RootFlag.Name)
}

// BackendConfig loads the deployment backend config, defaulting to the file under the root mount.
func BackendConfig(cCtx *cli.Context) (api.BackendConfig, error) {
	path := cCtx.String(BackendConfigFlag.Name)
	if path == "" {
		path = filepath.Join(Root(cCtx), DefaultBackendConfigPath)
	}
	cfg, err := api.LoadBackendConfig(path)
	if err != nil {
		return cfg, err
	}
	if url := cCtx.String(SupabaseURLFlag.Name); url != "" {
		override := api.NewBackendConfig(url)
		override.RequestTimeout = cfg.RequestTimeout
		override.InstallerVersion = cfg.InstallerVersion
		override.OSVersion = cfg.OSVersion
		cfg = override
	}
	if timeout := cCtx.Duration(RequestTimeoutFlag.Name); timeout > 0 {
		cfg.RequestTimeout = timeout
	}
	return cfg, cfg.Validate()
}

// Credentials reads the parent credentials. Empty values are passed through:
// the claim is then deferred.
func Credentials(cCtx *cli.Context) (mode interfaces.AuthMode, email, password string) {
	return interfaces.ParseAuthMode(cCtx.String(AuthModeFlag.Name)),
		cCtx.String(AuthEmailFlag.Name),
		cCtx.String(AuthPasswordFlag.Name)
}

var LogJsonFlag = &cli.BoolFlag{
	Name:    "log-json",
	Value:   false,
	Usage:   "log in JSON format",
	EnvVars: []string{"GUARDIAN_LOG_JSON"},
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	Usage:   "log debug messages",
	EnvVars: []string{"GUARDIAN_LOG_DEBUG"},
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var RootFlag = &cli.StringFlag{
	Name:    "root",
	Value:   "/",
	Usage:   "root mount of the target system; state and artifacts are written below it",
	EnvVars: []string{"GUARDIAN_ROOT_MOUNT"},
}
var BackendConfigFlag = &cli.StringFlag{
	Name:    "backend-config",
	Usage:   "deployment YAML overriding the backend endpoints (default <root>/" + DefaultBackendConfigPath + ")",
	EnvVars: []string{"GUARDIAN_BACKEND_CONFIG"},
}
var SupabaseURLFlag = &cli.StringFlag{
	Name:    "supabase-url",
	Usage:   "backend project URL; every endpoint is derived from it",
	EnvVars: []string{"GUARDIAN_SUPABASE_URL"},
}
var RequestTimeoutFlag = &cli.DurationFlag{
	Name:    "request-timeout",
	Usage:   "timeout of every backend request (default " + api.DefaultRequestTimeout.String() + ")",
	EnvVars: []string{"GUARDIAN_REQUEST_TIMEOUT"},
}
var HandoffPathFlag = &cli.StringFlag{
	Name:    "handoff-path",
	Usage:   "sealed parent session passed from the authentication stage to the claim stage",
	EnvVars: []string{"GUARDIAN_HANDOFF_PATH"},
}

var AuthModeFlag = &cli.StringFlag{
	Name:    "auth-mode",
	Value:   string(interfaces.AuthModeLogin),
	Usage:   "'login' or 'register'",
	EnvVars: []string{"GUARDIAN_AUTH_MODE"},
}
var AuthEmailFlag = &cli.StringFlag{
	Name:    "email",
	Usage:   "parent account email",
	EnvVars: []string{"GUARDIAN_AUTH_EMAIL", "GUARDIAN_TEST_EMAIL"},
}
var AuthPasswordFlag = &cli.StringFlag{
	Name:    "password",
	Usage:   "parent account password",
	EnvVars: []string{"GUARDIAN_AUTH_PASSWORD", "GUARDIAN_TEST_PASSWORD"},
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	RootFlag,
	BackendConfigFlag,
	SupabaseURLFlag,
	RequestTimeoutFlag,
	HandoffPathFlag,
}

var CredentialFlags = []cli.Flag{
	AuthModeFlag,
	AuthEmailFlag,
	AuthPasswordFlag,
}

var ServerFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
}
