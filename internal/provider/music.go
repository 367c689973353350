package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"storyreel/internal/config"
	"storyreel/internal/services"
)

const (
	musicGenerationsPath   = "/v1/music/generations"
	musicContinuationsPath = "/v1/music/continuations"
	defaultMusicAttempts   = 3
)

// MusicClient calls the music generation API and retries transient failures
// internally.
type MusicClient struct {
	transport transport
	model     string

	retryMaxAttempts int
	backoff          Backoff
}

// MusicOption customizes a MusicClient.
type MusicOption func(*MusicClient)

// WithMusicHTTPClient overrides the default HTTP client.
func WithMusicHTTPClient(client *http.Client) MusicOption {
	return func(c *MusicClient) {
		if client != nil {
			c.transport.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the attempt count per call.
func WithRetryMaxAttempts(attempts int) MusicOption {
	return func(c *MusicClient) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) MusicOption {
	return func(c *MusicClient) {
		c.backoff.Base = baseDelay
		c.backoff.Max = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) MusicOption {
	return func(c *MusicClient) {
		c.backoff.Sleeper = sleeper
	}
}

// NewMusicClient builds a client from the music provider settings.
func NewMusicClient(cfg config.MusicProvider, opts ...MusicOption) *MusicClient {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = defaultMusicAttempts
	}
	client := &MusicClient{
		transport:        newTransport(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeoutSeconds, nil),
		model:            strings.TrimSpace(cfg.Model),
		retryMaxAttempts: attempts,
		backoff:          Backoff{Base: defaultBackoffBase, Max: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Model returns the configured music model.
func (c *MusicClient) Model() string {
	return c.model
}

type musicBody struct {
	Model                string  `json:"model"`
	Prompt               string  `json:"prompt"`
	AudioURL             string  `json:"audio_url,omitempty"`
	DurationSeconds      float64 `json:"duration_seconds,omitempty"`
	AddedDurationSeconds float64 `json:"added_duration_seconds,omitempty"`
}

type musicResponse struct {
	AudioURL string `json:"audio_url"`
}

func encodeMusicRequest(req MusicRequest) (string, musicBody, error) {
	switch r := req.(type) {
	case InitialMusicRequest:
		return musicGenerationsPath, musicBody{
			Model:           r.Model,
			Prompt:          r.Prompt,
			DurationSeconds: r.DurationSeconds,
		}, nil
	case ContinuationRequest:
		return musicContinuationsPath, musicBody{
			Model:                r.Model,
			Prompt:               r.Prompt,
			AudioURL:             r.PriorAudioURI,
			AddedDurationSeconds: r.AddedDurationSeconds,
		}, nil
	default:
		return "", musicBody{}, invalid("music request", fmt.Sprintf("unsupported request type %T", req))
	}
}

// GenerateInitial produces a standalone segment and returns its URI.
func (c *MusicClient) GenerateInitial(ctx context.Context, req InitialMusicRequest) (string, error) {
	return c.generate(ctx, req, "music generate")
}

// Continue extends the prior cumulative track and returns the URI of the
// new cumulative track.
func (c *MusicClient) Continue(ctx context.Context, req ContinuationRequest) (string, error) {
	return c.generate(ctx, req, "music continue")
}

func (c *MusicClient) generate(ctx context.Context, req MusicRequest, op string) (string, error) {
	path, body, err := encodeMusicRequest(req)
	if err != nil {
		return "", err
	}
	attempts := c.retryMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var (
		lastErr error
		made    int
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		made = attempt
		var resp musicResponse
		err := c.transport.do(ctx, http.MethodPost, path, body, &resp)
		if err == nil {
			if uri := strings.TrimSpace(resp.AudioURL); uri != "" {
				return uri, nil
			}
			err = services.Wrap(services.ErrTransientProvider, "provider", op, "response carried no audio url", nil)
		} else {
			err = classify(op, err)
		}
		lastErr = err
		if attempt == attempts || !services.IsRetryable(err) {
			break
		}
		if waitErr := c.backoff.Wait(ctx, c.backoff.DelayFor(err, attempt)); waitErr != nil {
			return "", classify(op, waitErr)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return "", fmt.Errorf("%s: failed after %d attempt(s): %w", op, made, lastErr)
}
