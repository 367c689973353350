package provider

import (
	"fmt"
	"strings"

	"storyreel/internal/services"
)

// VideoRequest is one clip generation request. The concrete variants are
// InterpolationRequest and ReferenceRequest.
type VideoRequest interface {
	videoRequest()
	Duration() float64
}

// InterpolationRequest asks the provider to animate from a start frame to an
// end frame.
type InterpolationRequest struct {
	Model           string
	Prompt          string
	StartImage      string
	EndImage        string
	DurationSeconds float64
}

// ReferenceRequest asks the provider to generate a clip guided by reference
// images without pinning the first and last frames.
type ReferenceRequest struct {
	Model           string
	Prompt          string
	ReferenceImages []string
	DurationSeconds float64
}

func (InterpolationRequest) videoRequest() {}
func (ReferenceRequest) videoRequest()     {}

// Duration returns the requested clip length in seconds.
func (r InterpolationRequest) Duration() float64 { return r.DurationSeconds }

// Duration returns the requested clip length in seconds.
func (r ReferenceRequest) Duration() float64 { return r.DurationSeconds }

// NewInterpolationRequest validates and builds an interpolation request.
// maxSeconds <= 0 disables the upper bound.
func NewInterpolationRequest(model, prompt, startImage, endImage string, durationSeconds, maxSeconds float64) (InterpolationRequest, error) {
	req := InterpolationRequest{
		Model:           strings.TrimSpace(model),
		Prompt:          strings.TrimSpace(prompt),
		StartImage:      strings.TrimSpace(startImage),
		EndImage:        strings.TrimSpace(endImage),
		DurationSeconds: durationSeconds,
	}
	if req.StartImage == "" || req.EndImage == "" {
		return InterpolationRequest{}, invalid("interpolation request", "start and end images are required")
	}
	if err := checkCommon(req.Model, durationSeconds, maxSeconds); err != nil {
		return InterpolationRequest{}, err
	}
	return req, nil
}

// NewReferenceRequest validates and builds a reference-guided request.
func NewReferenceRequest(model, prompt string, images []string, durationSeconds, maxSeconds float64) (ReferenceRequest, error) {
	refs := make([]string, 0, len(images))
	for _, img := range images {
		if trimmed := strings.TrimSpace(img); trimmed != "" {
			refs = append(refs, trimmed)
		}
	}
	if len(refs) == 0 {
		return ReferenceRequest{}, invalid("reference request", "at least one reference image is required")
	}
	if strings.TrimSpace(prompt) == "" {
		return ReferenceRequest{}, invalid("reference request", "prompt is required")
	}
	if err := checkCommon(model, durationSeconds, maxSeconds); err != nil {
		return ReferenceRequest{}, err
	}
	return ReferenceRequest{
		Model:           strings.TrimSpace(model),
		Prompt:          strings.TrimSpace(prompt),
		ReferenceImages: refs,
		DurationSeconds: durationSeconds,
	}, nil
}

// MusicRequest is one music generation call. The concrete variants are
// InitialMusicRequest and ContinuationRequest.
type MusicRequest interface {
	musicRequest()
	Duration() float64
}

// InitialMusicRequest generates a standalone opening segment.
type InitialMusicRequest struct {
	Model           string
	Prompt          string
	DurationSeconds float64
}

// ContinuationRequest extends an existing cumulative track by
// AddedDurationSeconds.
type ContinuationRequest struct {
	Model                string
	Prompt               string
	PriorAudioURI        string
	AddedDurationSeconds float64
}

func (InitialMusicRequest) musicRequest() {}
func (ContinuationRequest) musicRequest() {}

// Duration returns the length of the generated segment.
func (r InitialMusicRequest) Duration() float64 { return r.DurationSeconds }

// Duration returns the length added to the prior track.
func (r ContinuationRequest) Duration() float64 { return r.AddedDurationSeconds }

// NewInitialMusicRequest validates and builds the first-scene music request.
func NewInitialMusicRequest(model, prompt string, durationSeconds float64) (InitialMusicRequest, error) {
	if strings.TrimSpace(prompt) == "" {
		return InitialMusicRequest{}, invalid("music request", "prompt is required")
	}
	if err := checkCommon(model, durationSeconds, 0); err != nil {
		return InitialMusicRequest{}, err
	}
	return InitialMusicRequest{
		Model:           strings.TrimSpace(model),
		Prompt:          strings.TrimSpace(prompt),
		DurationSeconds: durationSeconds,
	}, nil
}

// NewContinuationRequest validates and builds a continuation request.
func NewContinuationRequest(model, prompt, priorAudioURI string, addedSeconds float64) (ContinuationRequest, error) {
	if strings.TrimSpace(priorAudioURI) == "" {
		return ContinuationRequest{}, invalid("continuation request", "prior audio uri is required")
	}
	if strings.TrimSpace(prompt) == "" {
		return ContinuationRequest{}, invalid("continuation request", "prompt is required")
	}
	if err := checkCommon(model, addedSeconds, 0); err != nil {
		return ContinuationRequest{}, err
	}
	return ContinuationRequest{
		Model:                strings.TrimSpace(model),
		Prompt:               strings.TrimSpace(prompt),
		PriorAudioURI:        strings.TrimSpace(priorAudioURI),
		AddedDurationSeconds: addedSeconds,
	}, nil
}

func checkCommon(model string, durationSeconds, maxSeconds float64) error {
	if strings.TrimSpace(model) == "" {
		return invalid("request", "model is required")
	}
	if durationSeconds <= 0 {
		return invalid("request", fmt.Sprintf("duration must be positive, got %g", durationSeconds))
	}
	if maxSeconds > 0 && durationSeconds > maxSeconds {
		return invalid("request", fmt.Sprintf("duration %gs exceeds provider maximum %gs", durationSeconds, maxSeconds))
	}
	return nil
}

func invalid(operation, message string) error {
	return services.Wrap(services.ErrValidation, "provider", operation, message, nil)
}
