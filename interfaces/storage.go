package interfaces

import (
	"context"
	"time"
)

// RecordStore owns the ReconciliationRecord of one device.
//
// Implementations must persist every transition atomically so that a crash
// mid-write leaves the previous record intact, and must treat StateClaimed as
// terminal: once claimed, transitions return the stored record unchanged.
type RecordStore interface {
	// Load returns the current record, or a zero Unclaimed record if none exists.
	Load(ctx context.Context) (ReconciliationRecord, error)

	// Ensure persists an Unclaimed record if no record exists yet.
	Ensure(ctx context.Context, parentEmail string, fp DeviceFingerprint, now time.Time) (ReconciliationRecord, error)

	// MarkPending moves the device to ClaimPending, refreshing the queue timestamp.
	MarkPending(ctx context.Context, parentEmail string, fp DeviceFingerprint, reason string, now time.Time) (ReconciliationRecord, error)

	// MarkClaimed moves the device to Claimed.
	MarkClaimed(ctx context.Context, fp DeviceFingerprint, deviceCredential, deviceCode string, now time.Time) (ReconciliationRecord, error)
}

// ArtifactWriter materializes a record snapshot for downstream consumers.
type ArtifactWriter interface {
	Write(record ReconciliationRecord) error
}

// SessionHandoff passes the parent session between installer stages, possibly across processes.
type SessionHandoff interface {
	Put(handoff Handoff) error
	Get() (Handoff, error)
	Clear() error
}

// Handoff is what the authentication stage leaves for the claim stage.
// Offline is set when credentials were unavailable or the backend was unreachable.
type Handoff struct {
	Session ParentSession `json:"session"`
	Offline bool          `json:"offline"`
	Reason  string        `json:"reason,omitempty"`
}
