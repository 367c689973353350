package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"storyreel/internal/config"
	"storyreel/internal/services"
)

func newTestMusicClient(url string, attempts int) *MusicClient {
	return NewMusicClient(config.MusicProvider{
		Enabled:       true,
		BaseURL:       url,
		APIKey:        "secret",
		Model:         "score-1",
		RetryAttempts: attempts,
	}, WithSleeper(func(time.Duration) {}))
}

func TestMusicClientInitialAndContinuation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body musicBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		switch r.URL.Path {
		case "/v1/music/generations":
			if body.DurationSeconds != 6 || body.AudioURL != "" {
				t.Errorf("unexpected initial body %#v", body)
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"audio_url": "https://a/0.mp3"})
		case "/v1/music/continuations":
			if body.AudioURL != "https://a/0.mp3" || body.AddedDurationSeconds != 4 {
				t.Errorf("unexpected continuation body %#v", body)
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"audio_url": "https://a/1.mp3"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestMusicClient(server.URL, 1)
	initial, err := NewInitialMusicRequest(client.Model(), "strings", 6)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	uri, err := client.GenerateInitial(context.Background(), initial)
	if err != nil || uri != "https://a/0.mp3" {
		t.Fatalf("GenerateInitial = %q, %v", uri, err)
	}
	cont, err := NewContinuationRequest(client.Model(), "strings", uri, 4)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	uri, err = client.Continue(context.Background(), cont)
	if err != nil || uri != "https://a/1.mp3" {
		t.Fatalf("Continue = %q, %v", uri, err)
	}
}

func TestMusicClientRetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"audio_url": "https://a/ok.mp3"})
	}))
	defer server.Close()

	client := newTestMusicClient(server.URL, 3)
	req, _ := NewInitialMusicRequest("score-1", "strings", 6)
	uri, err := client.GenerateInitial(context.Background(), req)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if uri != "https://a/ok.mp3" || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("unexpected result %q after %d calls", uri, calls)
	}
}

func TestMusicClientDoesNotRetryPermanentFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestMusicClient(server.URL, 5)
	req, _ := NewInitialMusicRequest("score-1", "strings", 6)
	_, err := client.GenerateInitial(context.Background(), req)
	if !errors.Is(err, services.ErrPermanentProvider) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}
