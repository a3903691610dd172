package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/guardian-os/device-provisioning/interfaces"
)

// DefaultRecordPath is where the record lives relative to the installation root.
const DefaultRecordPath = "var/lib/guardian/claim_state.json"

// FileRecordStore implements interfaces.RecordStore on a single JSON file.
//
// Every transition reads the current record, applies the transition in memory
// and atomically replaces the file. A Claimed record is never rewritten.
type FileRecordStore struct {
	path string
	log  *slog.Logger
}

// NewFileRecordStore creates a store for the record at path.
// The parent directory is created with owner-only permissions.
func NewFileRecordStore(path string, log *slog.Logger) (*FileRecordStore, error) {
	if err := EnsurePrivateDir(filepath.Dir(path)); err != nil {
		return nil, &interfaces.PersistenceError{Op: "create state directory", Path: filepath.Dir(path), Err: err}
	}

	return &FileRecordStore{
		path: path,
		log:  log,
	}, nil
}

// RecordPathForRoot returns the record path under an installation root.
func RecordPathForRoot(root string) string {
	return filepath.Join(root, DefaultRecordPath)
}

// Path returns the location of the record file.
func (s *FileRecordStore) Path() string {
	return s.path
}

// Load returns the persisted record, or a zero Unclaimed record if none exists.
func (s *FileRecordStore) Load(ctx context.Context) (interfaces.ReconciliationRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return interfaces.ReconciliationRecord{State: interfaces.StateUnclaimed}, nil
	} else if err != nil {
		return interfaces.ReconciliationRecord{}, &interfaces.PersistenceError{Op: "read record", Path: s.path, Err: err}
	}

	var record interfaces.ReconciliationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return interfaces.ReconciliationRecord{}, &interfaces.PersistenceError{Op: "parse record", Path: s.path, Err: err}
	}
	if err := record.Validate(); err != nil {
		return interfaces.ReconciliationRecord{}, &interfaces.PersistenceError{Op: "validate record", Path: s.path, Err: err}
	}

	return record, nil
}

// Ensure persists an Unclaimed record the first time the claim flow runs.
// An existing record of any state is returned unchanged.
func (s *FileRecordStore) Ensure(ctx context.Context, parentEmail string, fp interfaces.DeviceFingerprint, now time.Time) (interfaces.ReconciliationRecord, error) {
	if _, err := os.Stat(s.path); err == nil {
		return s.Load(ctx)
	} else if !errors.Is(err, os.ErrNotExist) {
		return interfaces.ReconciliationRecord{}, &interfaces.PersistenceError{Op: "stat record", Path: s.path, Err: err}
	}

	record := interfaces.ReconciliationRecord{
		State:       interfaces.StateUnclaimed,
		ParentEmail: parentEmail,
		Fingerprint: fp,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	if err := s.save(record); err != nil {
		return interfaces.ReconciliationRecord{}, err
	}

	s.log.Debug("Created reconciliation record", slog.String("path", s.path))
	return record, nil
}

// MarkPending moves the device to ClaimPending and refreshes the queue timestamp.
// On a Claimed record it is a no-op returning the durable record.
func (s *FileRecordStore) MarkPending(ctx context.Context, parentEmail string, fp interfaces.DeviceFingerprint, reason string, now time.Time) (interfaces.ReconciliationRecord, error) {
	if fp == "" {
		return interfaces.ReconciliationRecord{}, fmt.Errorf("%w: pending transition without fingerprint", interfaces.ErrInvalidRecord)
	}

	record, err := s.Load(ctx)
	if err != nil {
		return interfaces.ReconciliationRecord{}, err
	}
	if record.IsClaimed() {
		s.log.Info("Device already claimed, ignoring pending transition")
		return record, nil
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = now.UTC()
	}
	if parentEmail != "" {
		record.ParentEmail = parentEmail
	}
	record.State = interfaces.StateClaimPending
	record.Fingerprint = fp
	record.QueuedAt = now.UTC()
	record.PendingReason = reason
	record.UpdatedAt = now.UTC()

	if err := s.save(record); err != nil {
		return interfaces.ReconciliationRecord{}, err
	}

	s.log.Info("Device claim queued", slog.String("reason", reason))
	return record, nil
}

// MarkClaimed moves the device to Claimed. Claimed is terminal: a second call
// returns the stored record and leaves the credential untouched.
func (s *FileRecordStore) MarkClaimed(ctx context.Context, fp interfaces.DeviceFingerprint, deviceCredential, deviceCode string, now time.Time) (interfaces.ReconciliationRecord, error) {
	record, err := s.Load(ctx)
	if err != nil {
		return interfaces.ReconciliationRecord{}, err
	}
	if record.IsClaimed() {
		if record.Fingerprint != fp {
			s.log.Warn("Claimed record fingerprint differs from current device fingerprint")
		}
		return record, nil
	}

	if deviceCredential == "" || deviceCode == "" {
		return interfaces.ReconciliationRecord{}, fmt.Errorf("%w: claimed transition without device credential or code", interfaces.ErrInvalidRecord)
	}
	if fp == "" {
		return interfaces.ReconciliationRecord{}, fmt.Errorf("%w: claimed transition without fingerprint", interfaces.ErrInvalidRecord)
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = now.UTC()
	}
	record.State = interfaces.StateClaimed
	record.Fingerprint = fp
	record.DeviceCredential = deviceCredential
	record.DeviceCode = deviceCode
	record.ClaimedAt = now.UTC()
	record.QueuedAt = time.Time{}
	record.PendingReason = ""
	record.UpdatedAt = now.UTC()

	if err := s.save(record); err != nil {
		return interfaces.ReconciliationRecord{}, err
	}

	s.log.Info("Device claimed", slog.String("deviceCode", deviceCode))
	return record, nil
}

func (s *FileRecordStore) save(record interfaces.ReconciliationRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return &interfaces.PersistenceError{Op: "encode record", Path: s.path, Err: err}
	}
	data = append(data, '\n')

	if err := WriteFileAtomic(s.path, data, 0600); err != nil {
		return &interfaces.PersistenceError{Op: "write record", Path: s.path, Err: err}
	}
	return nil
}
