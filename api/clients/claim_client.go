package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/guardian-os/device-provisioning/api"
	"github.com/guardian-os/device-provisioning/interfaces"
)

// Reasons carried by pending and failed claim results.
const (
	ReasonNetworkError    = "network error"
	ReasonAborted         = "aborted"
	ReasonMissingToken    = "missing token"
	ReasonInvalidResponse = "invalid response"
)

var responseValidate = validator.New()

// ClaimClient implements interfaces.Claimer against the bind-device endpoint.
// It performs exactly one request per call and never retries.
type ClaimClient struct {
	config     api.BackendConfig
	httpClient *http.Client
	log        *slog.Logger
}

// NewClaimClient creates a claim client for the endpoints in config.
func NewClaimClient(config api.BackendConfig, log *slog.Logger) *ClaimClient {
	return &ClaimClient{
		config:     config,
		httpClient: newHTTPClient(config.RequestTimeout),
		log:        log,
	}
}

// Claim asks the backend to bind fp to the parent's account.
//
// Parameters:
//   - ctx: cancelling it yields a pending result with reason "aborted"
//   - fp: the device fingerprint, the backend's idempotency key
//   - parentEmail: the account the device is bound to
//   - parentToken: bearer token of the parent session
//
// Returns:
//   - Claimed with credential and code only for a 200 carrying both fields
//   - Pending for transport failures, timeouts and a missing token
//   - Failed for any other response
func (c *ClaimClient) Claim(ctx context.Context, fp interfaces.DeviceFingerprint, parentEmail, parentToken string) interfaces.ClaimResult {
	if parentToken == "" {
		c.log.Warn("No parent token available, deferring claim")
		return interfaces.Pending(ReasonMissingToken)
	}

	request := api.ClaimRequest{
		DeviceFingerprint: fp.String(),
		ParentEmail:       parentEmail,
		InstallerVersion:  c.config.InstallerVersion,
		OSVersion:         c.config.OSVersion,
	}

	c.log.Debug("Claiming device", slog.String("fingerprint", fp.String()), slog.String("email", parentEmail))

	resp, err := postJSON(ctx, c.httpClient, c.config.ClaimURL, parentToken, request)
	if err != nil {
		return c.transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body)
	if err != nil {
		return c.transportFailure(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		excerpt := bodyExcerpt(body, parentToken)
		c.log.Error("Device claim failed", slog.Int("status", resp.StatusCode), slog.String("body", excerpt))
		return interfaces.Failed(fmt.Sprintf("server returned %d", resp.StatusCode), resp.StatusCode, excerpt)
	}

	var parsed api.ClaimResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.log.Error("Could not parse claim response", "err", err)
		return interfaces.Failed(ReasonInvalidResponse, resp.StatusCode, "")
	}
	if err := responseValidate.Struct(parsed); err != nil {
		c.log.Error("Claim response is missing fields", "err", err)
		return interfaces.Failed(ReasonInvalidResponse, resp.StatusCode, "")
	}

	c.log.Info("Device claimed successfully", slog.String("device_code", parsed.DeviceCode))
	return interfaces.Claimed(parsed.DeviceJWT, parsed.DeviceCode)
}

func (c *ClaimClient) transportFailure(ctx context.Context, err error) interfaces.ClaimResult {
	if ctx.Err() != nil {
		c.log.Warn("Device claim aborted", "err", ctx.Err())
		return interfaces.Pending(ReasonAborted)
	}
	c.log.Warn("Network error during device claim", "err", err)
	return interfaces.Pending(ReasonNetworkError)
}
