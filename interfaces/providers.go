package interfaces

import "context"

// FingerprintDeriver produces the device fingerprint. It never fails.
type FingerprintDeriver interface {
	Derive() DeviceFingerprint
}

// Authenticator is the Credential Gate contract. Errors are always *AuthError.
type Authenticator interface {
	Authenticate(ctx context.Context, mode AuthMode, email, password string) (*ParentSession, error)
}

// Claimer is the Claim Client contract. It never returns an error; every
// outcome, including transport failure, is encoded in the ClaimResult.
type Claimer interface {
	Claim(ctx context.Context, fp DeviceFingerprint, parentEmail, parentToken string) ClaimResult
}
