package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"storyreel/internal/config"
	"storyreel/internal/services"
)

const videoGenerationsPath = "/v1/generations/video"

// VideoClient calls the clip generation API. Each call makes exactly one
// attempt; the dispatcher owns retry policy.
type VideoClient struct {
	transport transport
	model     string
	mode      string
	maxClip   float64
}

// VideoOption customizes a VideoClient.
type VideoOption func(*videoOptions)

type videoOptions struct {
	httpClient *http.Client
}

// WithVideoHTTPClient overrides the default HTTP client.
func WithVideoHTTPClient(client *http.Client) VideoOption {
	return func(o *videoOptions) {
		o.httpClient = client
	}
}

// NewVideoClient builds a client from the video provider settings.
func NewVideoClient(cfg config.VideoProvider, opts ...VideoOption) *VideoClient {
	var options videoOptions
	for _, opt := range opts {
		opt(&options)
	}
	mode := strings.TrimSpace(cfg.Mode)
	if mode == "" {
		mode = config.VideoModeInterpolate
	}
	return &VideoClient{
		transport: newTransport(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeoutSeconds, options.httpClient),
		model:     strings.TrimSpace(cfg.Model),
		mode:      mode,
		maxClip:   float64(cfg.MaxClipSeconds),
	}
}

// BuildRequest turns one input pair into the request variant for the
// configured mode.
func (c *VideoClient) BuildRequest(prompt, startImage, endImage string, durationSeconds float64) (VideoRequest, error) {
	if c.mode == config.VideoModeReference {
		if strings.TrimSpace(prompt) == "" {
			prompt = "smooth cinematic transition"
		}
		return NewReferenceRequest(c.model, prompt, []string{startImage, endImage}, durationSeconds, c.maxClip)
	}
	return NewInterpolationRequest(c.model, prompt, startImage, endImage, durationSeconds, c.maxClip)
}

type videoSubmitBody struct {
	Model           string   `json:"model"`
	Mode            string   `json:"mode"`
	Prompt          string   `json:"prompt,omitempty"`
	StartImage      string   `json:"start_image,omitempty"`
	EndImage        string   `json:"end_image,omitempty"`
	ReferenceImages []string `json:"reference_images,omitempty"`
	DurationSeconds float64  `json:"duration_seconds"`
}

type videoSubmitResponse struct {
	ID string `json:"id"`
}

type videoPollResponse struct {
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Error     *struct {
		Class   string `json:"class"`
		Message string `json:"message"`
	} `json:"error"`
}

func encodeVideoRequest(req VideoRequest) (videoSubmitBody, error) {
	switch r := req.(type) {
	case InterpolationRequest:
		return videoSubmitBody{
			Model:           r.Model,
			Mode:            config.VideoModeInterpolate,
			Prompt:          r.Prompt,
			StartImage:      r.StartImage,
			EndImage:        r.EndImage,
			DurationSeconds: r.DurationSeconds,
		}, nil
	case ReferenceRequest:
		return videoSubmitBody{
			Model:           r.Model,
			Mode:            config.VideoModeReference,
			Prompt:          r.Prompt,
			ReferenceImages: r.ReferenceImages,
			DurationSeconds: r.DurationSeconds,
		}, nil
	default:
		return videoSubmitBody{}, invalid("video submit", fmt.Sprintf("unsupported request type %T", req))
	}
}

// Submit starts a generation task and returns its handle.
func (c *VideoClient) Submit(ctx context.Context, req VideoRequest) (string, error) {
	body, err := encodeVideoRequest(req)
	if err != nil {
		return "", err
	}
	var resp videoSubmitResponse
	if err := c.transport.do(ctx, http.MethodPost, videoGenerationsPath, body, &resp); err != nil {
		return "", classify("video submit", err)
	}
	handle := strings.TrimSpace(resp.ID)
	if handle == "" {
		return "", services.Wrap(services.ErrTransientProvider, "provider", "video submit", "response carried no task id", nil)
	}
	return handle, nil
}

// Poll reads the current state of a task.
func (c *VideoClient) Poll(ctx context.Context, handle string) (PollResult, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return PollResult{}, invalid("video poll", "task handle is required")
	}
	var resp videoPollResponse
	if err := c.transport.do(ctx, http.MethodGet, videoGenerationsPath+"/"+url.PathEscape(handle), nil, &resp); err != nil {
		return PollResult{}, classify("video poll", err)
	}
	result := PollResult{
		State:     normalizeState(resp.Status),
		ResultURI: strings.TrimSpace(resp.ResultURL),
	}
	if resp.Error != nil {
		result.ErrorClass = strings.TrimSpace(resp.Error.Class)
		result.Message = strings.TrimSpace(resp.Error.Message)
	}
	if result.State == TaskSucceeded && result.ResultURI == "" {
		return PollResult{}, services.Wrap(services.ErrTransientProvider, "provider", "video poll", "succeeded task has no result url", nil)
	}
	return result, nil
}

func normalizeState(status string) TaskState {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded", "success", "completed", "complete":
		return TaskSucceeded
	case "failed", "error", "canceled", "cancelled":
		return TaskFailed
	case "running", "processing", "in_progress":
		return TaskRunning
	default:
		return TaskQueued
	}
}
