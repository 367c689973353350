package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"storyreel/internal/services"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 1 << 20
)

// transport holds what both clients share: endpoint, credentials and the
// HTTP client.
type transport struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newTransport(baseURL, apiKey string, timeoutSeconds int, client *http.Client) transport {
	if client == nil {
		timeout := defaultHTTPTimeout
		if timeoutSeconds > 0 {
			timeout = time.Duration(timeoutSeconds) * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return transport{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: client,
	}
}

type errorEnvelope struct {
	Error *struct {
		Class   string `json:"class"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorClassFromBody(body string) string {
	var env errorEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil || env.Error == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(env.Error.Class))
}

// do sends one JSON request and decodes a 2xx response into out. Non-2xx
// responses come back as *StatusError; nothing here retries.
func (t transport) do(ctx context.Context, method, path string, body, out any) error {
	if t.baseURL == "" {
		return services.Wrap(services.ErrConfiguration, "provider", "request", "base url is not configured", nil)
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	requestID, ok := services.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(payload),
			RetryAfter: retryAfter,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response (%s): %w", summarize(string(payload)), err)
	}
	return nil
}
