// Package interfaces defines the core types and interfaces of the device claim system.
// It provides the contract between the fingerprint deriver, the backend clients,
// the reconciliation store and the artifact writer without implementation details.
package interfaces

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FingerprintPrefix identifies the digest algorithm of a DeviceFingerprint.
const FingerprintPrefix = "sha256:"

// DeviceFingerprint is the stable identifier of a physical device, used as the claim key.
type DeviceFingerprint string

// NewDeviceFingerprint hashes the concatenated signal data into a prefixed fingerprint.
func NewDeviceFingerprint(data []byte) DeviceFingerprint {
	digest := sha256.Sum256(data)
	return DeviceFingerprint(FingerprintPrefix + hex.EncodeToString(digest[:]))
}

// String returns the fingerprint as sent on the wire.
func (fp DeviceFingerprint) String() string {
	return string(fp)
}

// Validate checks the prefix and the hex digest length.
func (fp DeviceFingerprint) Validate() error {
	digest, ok := strings.CutPrefix(string(fp), FingerprintPrefix)
	if !ok {
		return fmt.Errorf("fingerprint %q is missing the %q prefix", fp, FingerprintPrefix)
	}
	raw, err := hex.DecodeString(digest)
	if err != nil {
		return fmt.Errorf("invalid fingerprint digest: %w", err)
	}
	if len(raw) != sha256.Size {
		return errors.New("invalid fingerprint digest length")
	}
	return nil
}

// AuthMode selects which backend endpoint the Credential Gate talks to.
type AuthMode string

const (
	AuthModeLogin    AuthMode = "login"
	AuthModeRegister AuthMode = "register"
)

// ParseAuthMode maps installer input onto an AuthMode. Anything that is not
// "register" logs in, matching the installer's behaviour.
func ParseAuthMode(mode string) AuthMode {
	if strings.EqualFold(strings.TrimSpace(mode), string(AuthModeRegister)) {
		return AuthModeRegister
	}
	return AuthModeLogin
}

// ParentSession is the short-lived result of exchanging parent credentials.
// It is kept in memory and in the sealed handoff blob only.
type ParentSession struct {
	Email  string `json:"email"`
	Token  string `json:"token"`
	UserID string `json:"user_id,omitempty"`
}

// ClaimStatus is the outcome class of a single claim attempt.
type ClaimStatus int

const (
	ClaimStatusFailed ClaimStatus = iota
	ClaimStatusPending
	ClaimStatusClaimed
)

func (s ClaimStatus) String() string {
	switch s {
	case ClaimStatusClaimed:
		return "claimed"
	case ClaimStatusPending:
		return "pending"
	default:
		return "failed"
	}
}

// ClaimResult describes what happened to one claim attempt.
// Claimed and Pending are terminal for the attempt; only Claimed is terminal for the device.
type ClaimResult struct {
	Status ClaimStatus

	// DeviceCredential and DeviceCode are set for ClaimStatusClaimed.
	DeviceCredential string
	DeviceCode       string

	// Reason is set for ClaimStatusPending and ClaimStatusFailed.
	Reason string

	// StatusCode and BodyExcerpt preserve the backend response of a failed claim.
	// BodyExcerpt never contains the bearer token.
	StatusCode  int
	BodyExcerpt string
}

// Claimed builds a successful claim result.
func Claimed(deviceCredential, deviceCode string) ClaimResult {
	return ClaimResult{Status: ClaimStatusClaimed, DeviceCredential: deviceCredential, DeviceCode: deviceCode}
}

// Pending builds a claim result that should be retried by a later process.
func Pending(reason string) ClaimResult {
	return ClaimResult{Status: ClaimStatusPending, Reason: reason}
}

// Failed builds a claim result the backend rejected.
func Failed(reason string, statusCode int, bodyExcerpt string) ClaimResult {
	return ClaimResult{Status: ClaimStatusFailed, Reason: reason, StatusCode: statusCode, BodyExcerpt: bodyExcerpt}
}

// ClaimState is the persisted state of the device in the reconciliation state machine.
type ClaimState string

const (
	StateUnclaimed    ClaimState = "unclaimed"
	StateClaimPending ClaimState = "claim_pending"
	StateClaimed      ClaimState = "claimed"
)

// Valid reports whether s is one of the known states.
func (s ClaimState) Valid() bool {
	switch s {
	case StateUnclaimed, StateClaimPending, StateClaimed:
		return true
	}
	return false
}

// ReconciliationRecord is the durable per-device claim state.
type ReconciliationRecord struct {
	State       ClaimState        `json:"state"`
	ParentEmail string            `json:"parent_email,omitempty"`
	Fingerprint DeviceFingerprint `json:"fingerprint,omitempty"`

	// QueuedAt and PendingReason describe the latest deferred attempt.
	QueuedAt      time.Time `json:"queued_at,omitzero"`
	PendingReason string    `json:"pending_reason,omitempty"`

	DeviceCode       string    `json:"device_code,omitempty"`
	DeviceCredential string    `json:"device_credential,omitempty"`
	ClaimedAt        time.Time `json:"claimed_at,omitzero"`

	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// IsClaimed reports whether the record is the durable proof of binding.
func (r ReconciliationRecord) IsClaimed() bool {
	return r.State == StateClaimed
}

// Validate checks the invariants each state must hold.
func (r ReconciliationRecord) Validate() error {
	if !r.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidRecord, r.State)
	}
	if r.State == StateUnclaimed {
		return nil
	}
	if r.Fingerprint == "" {
		return fmt.Errorf("%w: %s record without fingerprint", ErrInvalidRecord, r.State)
	}
	if r.State == StateClaimed && (r.DeviceCredential == "" || r.DeviceCode == "") {
		return fmt.Errorf("%w: claimed record without device credential or code", ErrInvalidRecord)
	}
	return nil
}
