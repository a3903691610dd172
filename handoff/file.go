// Package handoff passes the parent session from the authentication stage to
// the claim stage of provisioning.
//
// The session is kept in a single sealed file readable only by its owner. It
// is overwritten on every Put and removed once the device is claimed; the
// installed root never receives it.
package handoff

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/guardian-os/device-provisioning/cryptoutils"
	"github.com/guardian-os/device-provisioning/interfaces"
	"github.com/guardian-os/device-provisioning/storage"
)

// DefaultFileName is the handoff file name inside the temporary directory.
const DefaultFileName = "guardian_parent_token"

var associatedData = []byte("guardian-parent-session")

// DefaultPath returns the handoff location used when none is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), DefaultFileName)
}

// FileHandoff implements interfaces.SessionHandoff as a sealed file.
type FileHandoff struct {
	path   string
	secret []byte
	log    *slog.Logger
}

// NewFileHandoff creates a handoff at path sealed under secret, normally the device fingerprint.
func NewFileHandoff(path string, secret []byte, log *slog.Logger) *FileHandoff {
	return &FileHandoff{
		path:   path,
		secret: secret,
		log:    log,
	}
}

// Path returns the handoff file location.
func (h *FileHandoff) Path() string {
	return h.path
}

// Put seals and atomically replaces the handoff file.
func (h *FileHandoff) Put(handoff interfaces.Handoff) error {
	data, err := json.Marshal(handoff)
	if err != nil {
		return fmt.Errorf("failed to marshal handoff: %w", err)
	}

	sealed, err := cryptoutils.Seal(h.secret, data, associatedData)
	if err != nil {
		return fmt.Errorf("failed to seal handoff: %w", err)
	}

	if _, err := os.Stat(filepath.Dir(h.path)); errors.Is(err, os.ErrNotExist) {
		if err := storage.EnsurePrivateDir(filepath.Dir(h.path)); err != nil {
			return &interfaces.PersistenceError{Op: "create handoff directory", Path: h.path, Err: err}
		}
	}

	if err := storage.WriteFileAtomic(h.path, sealed, 0600); err != nil {
		return &interfaces.PersistenceError{Op: "write handoff", Path: h.path, Err: err}
	}

	h.log.Debug("Parent session handed off", slog.String("path", h.path), slog.Bool("offline", handoff.Offline))
	return nil
}

// Get opens the handoff file. It returns interfaces.ErrHandoffNotFound when
// nothing was handed off or the file cannot be opened with this secret.
func (h *FileHandoff) Get() (interfaces.Handoff, error) {
	sealed, err := os.ReadFile(h.path)
	if errors.Is(err, os.ErrNotExist) {
		return interfaces.Handoff{}, interfaces.ErrHandoffNotFound
	}
	if err != nil {
		return interfaces.Handoff{}, &interfaces.PersistenceError{Op: "read handoff", Path: h.path, Err: err}
	}

	data, err := cryptoutils.Open(h.secret, sealed, associatedData)
	if err != nil {
		h.log.Warn("Discarding unreadable handoff", slog.String("path", h.path), "err", err)
		return interfaces.Handoff{}, fmt.Errorf("%w: %w", interfaces.ErrHandoffNotFound, err)
	}

	var handoff interfaces.Handoff
	if err := json.Unmarshal(data, &handoff); err != nil {
		return interfaces.Handoff{}, fmt.Errorf("%w: %w", interfaces.ErrHandoffNotFound, err)
	}
	return handoff, nil
}

// Clear removes the handoff file. Idempotent.
func (h *FileHandoff) Clear() error {
	if err := storage.RemoveIfExists(h.path); err != nil {
		return &interfaces.PersistenceError{Op: "clear handoff", Path: h.path, Err: err}
	}
	return nil
}
