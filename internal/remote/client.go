// Package remote holds the HTTP JSON clients for the collaborators the
// engine consumes but does not own: the embedding service, the query
// expansion service and the relevance judge.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/resilience"
)

// maxErrorBody bounds how much of an error response is kept for logs.
const maxErrorBody = 512

type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string, timeout time.Duration, client *http.Client) httpClient {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return httpClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// statusError is a non-2xx response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.Status, e.Body)
}

// postJSON sends in as JSON to path and decodes a 200 response into out.
// Client errors (4xx) are marked permanent so circuit breakers and retries
// ignore them.
func (h httpClient) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("marshaling request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return resilience.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resilience.Permanent(serr)
		}
		return serr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return "decoding response: " + e.err.Error() }

func (e *decodeError) Unwrap() error { return e.err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
