package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/guardian-os/device-provisioning/api"
)

// ErrNotClaimed is returned when a heartbeat is attempted without a device credential.
var ErrNotClaimed = errors.New("device is not claimed")

// HeartbeatClient reports liveness of a claimed device.
type HeartbeatClient struct {
	url        string
	httpClient *http.Client
	log        *slog.Logger
}

// NewHeartbeatClient creates a heartbeat client posting to url, usually
// GUARDIAN_HEARTBEAT_URL from the device environment file.
func NewHeartbeatClient(url string, config api.BackendConfig, log *slog.Logger) *HeartbeatClient {
	if url == "" {
		url = config.HeartbeatURL
	}
	return &HeartbeatClient{
		url:        url,
		httpClient: newHTTPClient(config.RequestTimeout),
		log:        log,
	}
}

// Send posts one heartbeat authenticated with the device credential.
func (c *HeartbeatClient) Send(ctx context.Context, deviceCredential string, heartbeat api.HeartbeatRequest) error {
	if deviceCredential == "" {
		return ErrNotClaimed
	}

	resp, err := postJSON(ctx, c.httpClient, c.url, deviceCredential, heartbeat)
	if err != nil {
		return fmt.Errorf("could not request heartbeat endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := readBody(resp.Body)
		return fmt.Errorf("heartbeat endpoint returned error %d: %s", resp.StatusCode, bodyExcerpt(body, deviceCredential))
	}

	c.log.Debug("Heartbeat sent", slog.String("device_code", heartbeat.DeviceCode))
	return nil
}
