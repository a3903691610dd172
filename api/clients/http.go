package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxBodyExcerpt bounds the response body kept for diagnostics.
	MaxBodyExcerpt = 512

	// maxResponseBody bounds how much of any response is read into memory.
	maxResponseBody = 64 << 10

	redactedMarker = "[REDACTED]"
)

// newHTTPClient returns a client whose every exchange is bounded by timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// postJSON sends body as JSON to url, with a bearer token when one is given.
func postJSON(ctx context.Context, client *http.Client, url, bearer string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	return client.Do(req)
}

// readBody reads at most maxResponseBody bytes of a response body.
func readBody(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, maxResponseBody))
}

// bodyExcerpt returns a diagnostic excerpt of body with every secret replaced
// by a marker. Secrets are redacted before truncation so that no prefix of a
// secret can survive.
func bodyExcerpt(body []byte, secrets ...string) string {
	excerpt := string(body)
	for _, secret := range secrets {
		if secret != "" {
			excerpt = strings.ReplaceAll(excerpt, secret, redactedMarker)
		}
	}
	if len(excerpt) > MaxBodyExcerpt {
		excerpt = excerpt[:MaxBodyExcerpt]
		for len(excerpt) > 0 && !utf8.ValidString(excerpt) {
			excerpt = excerpt[:len(excerpt)-1]
		}
	}
	return excerpt
}
