/*
Package clients provides HTTP clients for the family backend.

# Client Types

  - AuthClient - Credential Gate: exchanges parent credentials for a session
    token at the auth-login or auth-register endpoint
  - ClaimClient - binds a device fingerprint to the parent's account at the
    bind-device endpoint
  - HeartbeatClient - reports liveness of a claimed device

All clients are built from an immutable api.BackendConfig and bound every
exchange by its RequestTimeout as well as the caller's context.

# Outcomes

AuthClient returns *interfaces.AuthError with one of four outcomes:
unavailable (no credentials, no network I/O), invalid credentials
(400/401/403/422), server error (any other non-200, or a 200 without a
token) and network error.

ClaimClient never returns an error. Its interfaces.ClaimResult is Claimed
only for a 200 carrying both device_jwt and device_code, Pending for
transport failures and a missing token, and Failed otherwise. Failed results
carry a body excerpt of at most MaxBodyExcerpt bytes with the parent token
redacted.

# Testing

MockAuthenticator and MockClaimer are testify mocks of the two contracts.
*/
package clients
