package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"storyreel/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrEncode, "combining", "concat", "ffmpeg failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrEncode) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"combining", "concat", "ffmpeg failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutCause(t *testing.T) {
	err := services.Wrap(services.ErrValidation, "", "", "", nil)
	if err.Error() != "validation error: service failure" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestKindMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{services.Wrap(services.ErrValidation, "dispatch", "submit", "bad pair", nil), services.KindValidation},
		{services.Wrap(services.ErrTransientProvider, "dispatch", "poll", "", errors.New("503")), services.KindTransientProvider},
		{services.Wrap(services.ErrPermanentProvider, "dispatch", "poll", "content policy", nil), services.KindPermanentProvider},
		{services.Wrap(services.ErrDownload, "materialize", "fetch", "", nil), services.KindDownload},
		{services.Wrap(services.ErrAudioContinuity, "audio_composing", "continue", "", nil), services.KindAudioContinuity},
		{services.Wrap(services.ErrAudioContinuity, "compose", "continue", "segment 2",
			services.Wrap(services.ErrTransientProvider, "provider", "music", "", errors.New("503"))), services.KindAudioContinuity},
		{services.Wrap(services.ErrEncode, "merge", "mux", "",
			services.Wrap(services.ErrPermanentProvider, "provider", "music", "", nil)), services.KindEncode},
		{fmt.Errorf("retries exhausted: %w",
			services.Wrap(services.ErrTransientProvider, "provider", "submit", "", context.DeadlineExceeded)), services.KindTransientProvider},
		{fmt.Errorf("poll: %w", context.Canceled), services.KindCanceled},
		{fmt.Errorf("poll: %w", context.DeadlineExceeded), services.KindTimeout},
		{errors.New("mystery"), services.KindUnknown},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !services.IsRetryable(services.Wrap(services.ErrTransientProvider, "", "", "rate limited", nil)) {
		t.Fatal("expected transient provider error to be retryable")
	}
	if services.IsRetryable(services.Wrap(services.ErrPermanentProvider, "", "", "rejected", nil)) {
		t.Fatal("expected permanent provider error to be final")
	}
	if services.IsRetryable(services.Wrap(services.ErrValidation, "", "", "bad", nil)) {
		t.Fatal("expected validation error to be final")
	}
	if services.IsRetryable(errors.New("plain")) {
		t.Fatal("expected unclassified error to be final")
	}
}
