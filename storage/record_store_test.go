package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guardian-os/device-provisioning/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFingerprint = interfaces.NewDeviceFingerprint([]byte("Intel(R) Core(TM) i7|52:54:00:12:34:56|0123456789abcdef"))

func newTestStore(t *testing.T) *FileRecordStore {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewFileRecordStore(RecordPathForRoot(t.TempDir()), logger)
	require.NoError(t, err)
	return store
}

func TestFileRecordStore_LoadMissingIsUnclaimed(t *testing.T) {
	store := newTestStore(t)

	record, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateUnclaimed, record.State)
	assert.Empty(t, record.DeviceCredential)

	_, err = os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err), "loading must not create the record")
}

func TestFileRecordStore_DirectoryIsPrivate(t *testing.T) {
	store := newTestStore(t)

	info, err := os.Stat(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestFileRecordStore_Ensure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record, err := store.Ensure(ctx, "parent@example.com", testFingerprint, now)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateUnclaimed, record.State)

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A second Ensure must not reset an existing pending record.
	_, err = store.MarkPending(ctx, "parent@example.com", testFingerprint, "network error", now)
	require.NoError(t, err)
	record, err = store.Ensure(ctx, "other@example.com", testFingerprint, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateClaimPending, record.State)
	assert.Equal(t, "parent@example.com", record.ParentEmail)
}

func TestFileRecordStore_PendingThenClaimed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	queued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record, err := store.MarkPending(ctx, "parent@example.com", testFingerprint, "offline", queued)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateClaimPending, record.State)
	assert.Equal(t, queued, record.QueuedAt)

	// A repeated failure keeps the device pending and refreshes the timestamp.
	requeued := queued.Add(10 * time.Minute)
	record, err = store.MarkPending(ctx, "", testFingerprint, "network error", requeued)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateClaimPending, record.State)
	assert.Equal(t, requeued, record.QueuedAt)
	assert.Equal(t, "parent@example.com", record.ParentEmail)
	assert.Equal(t, "network error", record.PendingReason)

	record, err = store.MarkClaimed(ctx, testFingerprint, "abc", "XYZ-123", requeued.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateClaimed, record.State)
	assert.True(t, record.QueuedAt.IsZero())

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, record, loaded)
}

func TestFileRecordStore_ClaimedIsTerminal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	claimed, err := store.MarkClaimed(ctx, testFingerprint, "abc", "XYZ-123", now)
	require.NoError(t, err)

	again, err := store.MarkClaimed(ctx, testFingerprint, "different", "ZZZ-999", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, claimed, again)

	pending, err := store.MarkPending(ctx, "parent@example.com", testFingerprint, "network error", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateClaimed, pending.State)
	assert.Equal(t, "abc", pending.DeviceCredential)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", loaded.DeviceCredential)
	assert.Equal(t, "XYZ-123", loaded.DeviceCode)
}

func TestFileRecordStore_RejectsHalfClaims(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.MarkClaimed(ctx, testFingerprint, "abc", "", time.Now())
	assert.ErrorIs(t, err, interfaces.ErrInvalidRecord)

	record, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateUnclaimed, record.State)
}

func TestFileRecordStore_CorruptRecordIsPersistenceError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0600))

	_, err := store.Load(ctx)
	require.Error(t, err)
	assert.True(t, interfaces.IsPersistenceError(err))

	_, err = store.MarkPending(ctx, "parent@example.com", testFingerprint, "offline", time.Now())
	assert.True(t, interfaces.IsPersistenceError(err))
}

func TestFileRecordStore_InvalidClaimedRecordOnDisk(t *testing.T) {
	store := newTestStore(t)
	data, err := json.Marshal(interfaces.ReconciliationRecord{State: interfaces.StateClaimed, Fingerprint: testFingerprint})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), data, 0600))

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrInvalidRecord)
}

func TestFileRecordStore_FailedWriteKeepsClaimedRecord(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.MarkPending(ctx, "parent@example.com", testFingerprint, "offline", now)
	require.NoError(t, err)
	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	restore := syncFile
	syncFile = func(*os.File) error { return assert.AnError }
	defer func() { syncFile = restore }()

	_, err = store.MarkClaimed(ctx, testFingerprint, "abc", "XYZ-123", now)
	require.Error(t, err)
	assert.True(t, interfaces.IsPersistenceError(err))

	after, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
