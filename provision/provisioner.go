package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/guardian-os/device-provisioning/api/clients"
	"github.com/guardian-os/device-provisioning/interfaces"
)

// User-visible titles and details.
const (
	TitleAuthFailed  = "Authentication failed"
	TitleClaimFailed = "Device claim failed"

	DetailInvalidResponse = "Invalid response from server"
	DetailSaveFailed      = "Could not save device state"
)

// ReasonOffline is recorded when the parent could not be authenticated at install time.
const ReasonOffline = "offline"

// ErrInvalidInterval is returned by ReconcileUntilClaimed for a non-positive retry interval.
var ErrInvalidInterval = errors.New("retry interval must be positive")

// ClaimRejectedError is the cause of a UserError for a claim the backend refused.
type ClaimRejectedError struct {
	StatusCode int
	Reason     string
}

func (e *ClaimRejectedError) Error() string {
	return fmt.Sprintf("claim rejected: %s (status %d)", e.Reason, e.StatusCode)
}

// Credentials are the parent credentials supplied by the installer or the first-boot wizard.
type Credentials struct {
	Mode     interfaces.AuthMode
	Email    string
	Password string
}

// Provisioner runs the claim flow over the identity components.
//
// Install time: Authenticate, then Claim (or Run for both in one process).
// Boot time: Reconcile resumes a deferred claim with the persisted fingerprint.
type Provisioner struct {
	Deriver       interfaces.FingerprintDeriver
	Authenticator interfaces.Authenticator
	Claimer       interfaces.Claimer
	Store         interfaces.RecordStore
	Artifacts     interfaces.ArtifactWriter
	Handoff       interfaces.SessionHandoff

	// Now defaults to time.Now.
	Now func() time.Time
	Log *slog.Logger
}

func (p *Provisioner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Authenticate runs the Credential Gate and hands the outcome to the claim stage.
//
// Missing credentials and network failures are not errors: the device is
// marked for offline activation. Rejected credentials and server errors
// return an *interfaces.UserError.
func (p *Provisioner) Authenticate(ctx context.Context, creds Credentials) error {
	_, err := p.authenticate(ctx, creds)
	return err
}

func (p *Provisioner) authenticate(ctx context.Context, creds Credentials) (interfaces.Handoff, error) {
	session, err := p.Authenticator.Authenticate(ctx, creds.Mode, creds.Email, creds.Password)
	if err != nil {
		outcome := interfaces.AuthOutcomeOf(err)
		if !outcome.Deferrable() {
			return interfaces.Handoff{}, authUserError(err)
		}

		p.Log.Warn("Parent not authenticated, device will activate later",
			slog.String("outcome", outcome.String()))
		handoff := interfaces.Handoff{
			Session: interfaces.ParentSession{Email: creds.Email},
			Offline: true,
			Reason:  ReasonOffline,
		}
		p.putHandoff(handoff)
		return handoff, nil
	}

	handoff := interfaces.Handoff{Session: *session}
	p.putHandoff(handoff)
	return handoff, nil
}

// putHandoff stores the handoff for a claim stage running in another process.
// Losing it only defers the claim, so a failure is logged and not returned.
func (p *Provisioner) putHandoff(handoff interfaces.Handoff) {
	if p.Handoff == nil {
		return
	}
	if err := p.Handoff.Put(handoff); err != nil {
		p.Log.Warn("Could not store parent session for the claim stage", "err", err)
	}
}

func (p *Provisioner) loadHandoff() interfaces.Handoff {
	if p.Handoff == nil {
		return interfaces.Handoff{}
	}
	handoff, err := p.Handoff.Get()
	if err != nil {
		if !errors.Is(err, interfaces.ErrHandoffNotFound) {
			p.Log.Warn("Could not read parent session", "err", err)
		}
		return interfaces.Handoff{}
	}
	return handoff
}

func (p *Provisioner) clearHandoff() {
	if p.Handoff == nil {
		return
	}
	if err := p.Handoff.Clear(); err != nil {
		p.Log.Warn("Could not clear parent session", "err", err)
	}
}

// Claim runs the install-time claim stage with the session left by Authenticate.
func (p *Provisioner) Claim(ctx context.Context) (interfaces.ReconciliationRecord, error) {
	return p.claim(ctx, p.loadHandoff(), "")
}

// Run authenticates and claims in a single process. A device that is already
// claimed is not authenticated again.
func (p *Provisioner) Run(ctx context.Context, creds Credentials) (interfaces.ReconciliationRecord, error) {
	record, err := p.Store.Load(ctx)
	if err != nil {
		return record, saveUserError(err)
	}
	if record.IsClaimed() {
		return p.alreadyClaimed(record)
	}

	handoff, err := p.authenticate(ctx, creds)
	if err != nil {
		return interfaces.ReconciliationRecord{}, err
	}
	return p.claim(ctx, handoff, creds.Email)
}

func (p *Provisioner) claim(ctx context.Context, handoff interfaces.Handoff, fallbackEmail string) (interfaces.ReconciliationRecord, error) {
	record, err := p.Store.Load(ctx)
	if err != nil {
		return record, saveUserError(err)
	}
	if record.IsClaimed() {
		return p.alreadyClaimed(record)
	}

	fp := p.Deriver.Derive()
	p.Log.Info("Device fingerprint derived", slog.String("fingerprint", fp.String()))

	email := firstNonEmpty(handoff.Session.Email, fallbackEmail, record.ParentEmail)
	if _, err := p.Store.Ensure(ctx, email, fp, p.now()); err != nil {
		return record, saveUserError(err)
	}

	if handoff.Session.Token == "" {
		reason := clients.ReasonMissingToken
		if handoff.Offline {
			reason = firstNonEmpty(handoff.Reason, ReasonOffline)
		}
		return p.markPending(ctx, email, fp, reason)
	}

	result := p.Claimer.Claim(ctx, fp, email, handoff.Session.Token)
	return p.apply(ctx, email, fp, result)
}

// Reconcile resumes the claim of a device that is not yet claimed.
//
// The persisted fingerprint is reused so the backend sees the same identity as
// at install time. The parent token comes from the handoff, or from
// authenticating creds when the first-boot wizard supplied them. A claimed
// record is a no-op beyond rewriting the artifacts.
func (p *Provisioner) Reconcile(ctx context.Context, creds *Credentials) (interfaces.ReconciliationRecord, error) {
	record, err := p.Store.Load(ctx)
	if err != nil {
		return record, saveUserError(err)
	}
	if record.IsClaimed() {
		return p.alreadyClaimed(record)
	}

	fp := record.Fingerprint
	if fp == "" {
		fp = p.Deriver.Derive()
	}

	handoff := p.loadHandoff()
	var credsEmail string
	if creds != nil {
		credsEmail = creds.Email
	}
	email := firstNonEmpty(record.ParentEmail, handoff.Session.Email, credsEmail)

	token := handoff.Session.Token
	if token == "" && creds != nil && creds.Email != "" && creds.Password != "" {
		session, err := p.Authenticator.Authenticate(ctx, creds.Mode, creds.Email, creds.Password)
		if err != nil {
			if !interfaces.AuthOutcomeOf(err).Deferrable() {
				return record, authUserError(err)
			}
			return p.markPending(ctx, email, fp, clients.ReasonNetworkError)
		}
		// The claim goes to the account that just signed in.
		token = session.Token
		email = firstNonEmpty(session.Email, creds.Email, email)
	}

	if token == "" {
		p.Log.Info("No parent session available, claim stays pending")
		return p.markPending(ctx, email, fp, clients.ReasonMissingToken)
	}

	result := p.Claimer.Claim(ctx, fp, email, token)
	return p.apply(ctx, email, fp, result)
}

// ReconcileUntilClaimed calls Reconcile every interval until the device is
// claimed or ctx is done. Attempt errors are logged and retried, except
// rejections that another attempt cannot fix, which are returned.
func (p *Provisioner) ReconcileUntilClaimed(ctx context.Context, creds *Credentials, interval time.Duration) (interfaces.ReconciliationRecord, error) {
	if interval <= 0 {
		return interfaces.ReconciliationRecord{}, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		record, err := p.Reconcile(ctx, creds)
		if err != nil && permanentRejection(err, creds) {
			p.Log.Error("Backend rejected the claim, giving up", "err", err)
			return record, err
		} else if err != nil {
			p.Log.Error("Reconciliation attempt failed", "err", err)
		} else if record.IsClaimed() {
			return record, nil
		}

		select {
		case <-ctx.Done():
			return record, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Provisioner) apply(ctx context.Context, email string, fp interfaces.DeviceFingerprint, result interfaces.ClaimResult) (interfaces.ReconciliationRecord, error) {
	switch result.Status {
	case interfaces.ClaimStatusClaimed:
		record, err := p.Store.MarkClaimed(ctx, fp, result.DeviceCredential, result.DeviceCode, p.now())
		if err != nil {
			p.Log.Error("Could not persist claimed device", "err", err)
			return record, saveUserError(err)
		}
		if err := p.Artifacts.Write(record); err != nil {
			p.Log.Error("Could not write device artifacts", "err", err)
			return record, saveUserError(err)
		}
		p.clearHandoff()
		p.Log.Info("Device claimed", slog.String("device_code", record.DeviceCode))
		return record, nil

	case interfaces.ClaimStatusPending:
		reason := result.Reason
		if ctx.Err() != nil {
			reason = clients.ReasonAborted
		}
		return p.markPending(ctx, email, fp, reason)

	default:
		p.Log.Error("Device claim rejected",
			slog.String("reason", result.Reason),
			slog.Int("status", result.StatusCode),
			slog.String("body", result.BodyExcerpt))
		if result.StatusCode == http.StatusUnauthorized {
			// The handed-off token is no longer accepted.
			p.clearHandoff()
		}
		record, err := p.Store.Load(ctx)
		if err != nil {
			return record, saveUserError(err)
		}
		return record, claimUserError(result)
	}
}

// markPending moves the device to ClaimPending and writes the pending artifacts.
func (p *Provisioner) markPending(ctx context.Context, email string, fp interfaces.DeviceFingerprint, reason string) (interfaces.ReconciliationRecord, error) {
	record, err := p.Store.MarkPending(ctx, email, fp, reason, p.now())
	if err != nil {
		p.Log.Error("Could not persist pending claim", "err", err)
		return record, saveUserError(err)
	}
	if err := p.Artifacts.Write(record); err != nil {
		p.Log.Error("Could not write device artifacts", "err", err)
		return record, saveUserError(err)
	}

	p.Log.Warn("Device claim deferred", slog.String("reason", reason))
	return record, nil
}

func (p *Provisioner) alreadyClaimed(record interfaces.ReconciliationRecord) (interfaces.ReconciliationRecord, error) {
	if err := p.Artifacts.Write(record); err != nil {
		return record, saveUserError(err)
	}
	p.clearHandoff()
	p.Log.Info("Device already claimed", slog.String("device_code", record.DeviceCode))
	return record, nil
}

func authUserError(err error) error {
	var authErr *interfaces.AuthError
	if !errors.As(err, &authErr) {
		return &interfaces.UserError{Title: TitleAuthFailed, Detail: err.Error(), Err: err}
	}

	detail := authErr.Message
	switch {
	case authErr.Outcome == interfaces.AuthServerError && authErr.StatusCode != http.StatusOK:
		detail = fmt.Sprintf("Server returned %d", authErr.StatusCode)
	case authErr.Outcome == interfaces.AuthServerError:
		detail = DetailInvalidResponse
	case detail == "":
		detail = "Invalid email or password"
	}
	return &interfaces.UserError{Title: TitleAuthFailed, Detail: detail, Err: err}
}

func claimUserError(result interfaces.ClaimResult) error {
	detail := DetailInvalidResponse
	if result.StatusCode != 0 && result.StatusCode != http.StatusOK {
		detail = fmt.Sprintf("Server returned %d", result.StatusCode)
	}
	return &interfaces.UserError{
		Title:  TitleClaimFailed,
		Detail: detail,
		Err:    &ClaimRejectedError{StatusCode: result.StatusCode, Reason: result.Reason},
	}
}

// permanentRejection reports whether retrying with the same inputs cannot succeed.
// A 401 is retried when credentials can fetch a fresh token.
func permanentRejection(err error, creds *Credentials) bool {
	var authErr *interfaces.AuthError
	if errors.As(err, &authErr) {
		return authErr.Outcome == interfaces.AuthInvalidCredentials
	}
	var rejected *ClaimRejectedError
	if errors.As(err, &rejected) {
		switch rejected.StatusCode {
		case http.StatusUnauthorized:
			return creds == nil
		case http.StatusForbidden, http.StatusConflict:
			return true
		}
	}
	return false
}

func saveUserError(err error) error {
	return &interfaces.UserError{Title: TitleClaimFailed, Detail: DetailSaveFailed, Err: err}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
