package clients

import (
	"context"

	"github.com/guardian-os/device-provisioning/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockAuthenticator implements a mock interfaces.Authenticator for testing.
type MockAuthenticator struct {
	mock.Mock
}

// Authenticate implements the Authenticator interface for testing.
// The behavior is determined by how the mock is configured in tests.
func (m *MockAuthenticator) Authenticate(ctx context.Context, mode interfaces.AuthMode, email, password string) (*interfaces.ParentSession, error) {
	args := m.Called(ctx, mode, email, password)
	session, _ := args.Get(0).(*interfaces.ParentSession)
	return session, args.Error(1)
}

// MockClaimer implements a mock interfaces.Claimer for testing.
type MockClaimer struct {
	mock.Mock
}

// Claim implements the Claimer interface for testing.
func (m *MockClaimer) Claim(ctx context.Context, fp interfaces.DeviceFingerprint, parentEmail, parentToken string) interfaces.ClaimResult {
	args := m.Called(ctx, fp, parentEmail, parentToken)
	return args.Get(0).(interfaces.ClaimResult)
}
