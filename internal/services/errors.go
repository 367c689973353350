package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrTransientProvider = errors.New("transient provider error")
	ErrPermanentProvider = errors.New("permanent provider error")
	ErrDownload          = errors.New("download error")
	ErrEncode            = errors.New("encode error")
	ErrAudioContinuity   = errors.New("audio continuity error")
	ErrTimeout           = errors.New("timeout")
	ErrCanceled          = errors.New("canceled")
	ErrNotFound          = errors.New("not found")
	ErrConfiguration     = errors.New("configuration error")
)

// Kind names recorded alongside persisted errors.
const (
	KindValidation        = "validation"
	KindTransientProvider = "transient_provider"
	KindPermanentProvider = "permanent_provider"
	KindDownload          = "download"
	KindEncode            = "encode"
	KindAudioContinuity   = "audio_continuity"
	KindTimeout           = "timeout"
	KindCanceled          = "canceled"
	KindNotFound          = "not_found"
	KindConfiguration     = "configuration"
	KindUnknown           = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransientProvider
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

var markerKinds = []struct {
	marker error
	kind   string
}{
	{ErrCanceled, KindCanceled},
	{ErrValidation, KindValidation},
	{ErrPermanentProvider, KindPermanentProvider},
	{ErrTransientProvider, KindTransientProvider},
	{ErrDownload, KindDownload},
	{ErrEncode, KindEncode},
	{ErrAudioContinuity, KindAudioContinuity},
	{ErrTimeout, KindTimeout},
	{ErrNotFound, KindNotFound},
	{ErrConfiguration, KindConfiguration},
}

// Kind classifies err into one of the Kind* names. The outermost marker
// wins, so a stage error wrapping a provider error reports the stage's
// kind. Context cancellation is reported as canceled even when no marker
// was attached.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if kind := outermostKind(err); kind != "" {
		return kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

func outermostKind(err error) string {
	for _, mk := range markerKinds {
		if err == mk.marker {
			return mk.kind
		}
	}
	switch wrapped := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range wrapped.Unwrap() {
			if kind := outermostKind(inner); kind != "" {
				return kind
			}
		}
	case interface{ Unwrap() error }:
		if inner := wrapped.Unwrap(); inner != nil {
			return outermostKind(inner)
		}
	}
	return ""
}

// IsRetryable reports whether err should be retried by provider-facing loops.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrPermanentProvider) || errors.Is(err, ErrCanceled) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransientProvider) || errors.Is(err, ErrDownload)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
