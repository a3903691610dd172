// Package artifacts materializes the reconciliation record into the files
// consumed by the installed system.
//
// Layout under <root>/etc/guardian (0700, every file 0600):
//
//	supabase.env             always; GUARDIAN_DEVICE_JWT is empty until claimed
//	device_code              only when claimed
//	pending_activation.json  only while a claim is pending
//
// Every file is replaced atomically. A consumer that reads supabase.env with
// an empty GUARDIAN_DEVICE_JWT sees a device that is not yet claimed.
package artifacts

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/guardian-os/device-provisioning/api"
	"github.com/guardian-os/device-provisioning/interfaces"
	"github.com/guardian-os/device-provisioning/storage"
)

const (
	// DefaultArtifactDir is the artifact directory relative to the installation root.
	DefaultArtifactDir = "etc/guardian"

	EnvFileName     = "supabase.env"
	DeviceCodeName  = "device_code"
	PendingFileName = "pending_activation.json"
)

// Environment keys written to supabase.env.
const (
	EnvSupabaseURL     = "SUPABASE_URL"
	EnvAPIBase         = "GUARDIAN_API_BASE"
	EnvAuthLoginURL    = "GUARDIAN_AUTH_LOGIN_URL"
	EnvAuthRegisterURL = "GUARDIAN_AUTH_REGISTER_URL"
	EnvClaimURL        = "GUARDIAN_CLAIM_URL"
	EnvHeartbeatURL    = "GUARDIAN_HEARTBEAT_URL"
	EnvDeviceJWT       = "GUARDIAN_DEVICE_JWT"
)

// PendingActivation is the body of pending_activation.json.
type PendingActivation struct {
	Email       string `json:"email"`
	Fingerprint string `json:"fingerprint"`
	Timestamp   string `json:"timestamp"`
}

// DirForRoot returns the artifact directory under an installation root.
func DirForRoot(root string) string {
	return filepath.Join(root, DefaultArtifactDir)
}

type fileWrite struct {
	name    string
	content []byte
}

// Writer implements interfaces.ArtifactWriter.
type Writer struct {
	dir    string
	config api.BackendConfig
	log    *slog.Logger
}

// NewWriter creates a writer for dir. The endpoints in config are written
// verbatim to supabase.env.
func NewWriter(dir string, config api.BackendConfig, log *slog.Logger) *Writer {
	return &Writer{
		dir:    dir,
		config: config,
		log:    log,
	}
}

// Dir returns the artifact directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Write brings the artifact directory in line with record.
//
// A claimed record writes device_code before supabase.env so that a non-empty
// device credential always implies a device code on disk; the pending file
// is removed last.
func (w *Writer) Write(record interfaces.ReconciliationRecord) error {
	if err := storage.EnsurePrivateDir(w.dir); err != nil {
		return &interfaces.PersistenceError{Op: "create artifact directory", Path: w.dir, Err: err}
	}

	var credential string
	if record.IsClaimed() {
		credential = record.DeviceCredential
	}

	var fileWrites []fileWrite

	switch record.State {
	case interfaces.StateClaimed:
		fileWrites = append(fileWrites, fileWrite{DeviceCodeName, []byte(record.DeviceCode)})
	case interfaces.StateClaimPending:
		pending, err := pendingActivation(record)
		if err != nil {
			return err
		}
		fileWrites = append(fileWrites, fileWrite{PendingFileName, pending})
	}

	fileWrites = append(fileWrites, fileWrite{EnvFileName, []byte(RenderEnv(w.config, credential))})

	for _, fw := range fileWrites {
		path := filepath.Join(w.dir, fw.name)
		if err := storage.WriteFileAtomic(path, fw.content, 0600); err != nil {
			return &interfaces.PersistenceError{Op: "write artifact", Path: path, Err: err}
		}
	}

	if record.IsClaimed() {
		pendingPath := filepath.Join(w.dir, PendingFileName)
		if err := storage.RemoveIfExists(pendingPath); err != nil {
			return &interfaces.PersistenceError{Op: "remove pending activation", Path: pendingPath, Err: err}
		}
	}

	w.log.Debug("Wrote device artifacts", slog.String("dir", w.dir), slog.String("state", string(record.State)))
	return nil
}

func pendingActivation(record interfaces.ReconciliationRecord) ([]byte, error) {
	queuedAt := record.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = record.UpdatedAt
	}

	data, err := json.MarshalIndent(PendingActivation{
		Email:       record.ParentEmail,
		Fingerprint: record.Fingerprint.String(),
		Timestamp:   queuedAt.UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pending activation: %w", err)
	}
	return append(data, '\n'), nil
}

// RenderEnv renders supabase.env for the endpoints in config.
func RenderEnv(config api.BackendConfig, deviceCredential string) string {
	var b strings.Builder
	b.WriteString("# Guardian OS Supabase Configuration\n")
	b.WriteString("# Generated during installation\n")
	fmt.Fprintf(&b, "%s=%s\n", EnvSupabaseURL, quoteEnv(config.SupabaseURL))
	fmt.Fprintf(&b, "%s=%s\n", EnvAPIBase, quoteEnv(config.APIBase))
	b.WriteString("\n# API Endpoints\n")
	fmt.Fprintf(&b, "%s=%s\n", EnvAuthLoginURL, quoteEnv(config.AuthLoginURL))
	fmt.Fprintf(&b, "%s=%s\n", EnvAuthRegisterURL, quoteEnv(config.AuthRegisterURL))
	fmt.Fprintf(&b, "%s=%s\n", EnvClaimURL, quoteEnv(config.ClaimURL))
	fmt.Fprintf(&b, "%s=%s\n", EnvHeartbeatURL, quoteEnv(config.HeartbeatURL))
	b.WriteString("\n# Device JWT (empty until the device is claimed)\n")
	fmt.Fprintf(&b, "%s=%s\n", EnvDeviceJWT, quoteEnv(deviceCredential))
	return b.String()
}

// quoteEnv single-quotes values that ParseEnv or a shell would otherwise alter.
func quoteEnv(value string) string {
	if !strings.ContainsAny(value, "$'\"\\ \t#`") {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
