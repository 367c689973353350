package ffprobe

import (
	"context"
	"errors"
	"testing"
)

func TestInspectParsesRunnerOutput(t *testing.T) {
	var gotArgs []string
	prober := New("").WithRunner(func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		if binary != "ffprobe" {
			t.Fatalf("unexpected binary %q", binary)
		}
		gotArgs = args
		return []byte(`{"streams":[{"codec_type":"video"},{"codec_type":"audio","duration":"17.9"}],"format":{"duration":"18.000","size":"4096"}}`), nil
	})

	result, err := prober.Inspect(context.Background(), "/tmp/final.mp4")
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if gotArgs[len(gotArgs)-1] != "/tmp/final.mp4" {
		t.Fatalf("expected path as last argument, got %v", gotArgs)
	}
	if result.VideoStreamCount() != 1 || result.AudioStreamCount() != 1 {
		t.Fatalf("unexpected stream counts %#v", result.Streams)
	}
	if result.DurationSeconds() != 18 {
		t.Fatalf("unexpected duration %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 4096 {
		t.Fatalf("unexpected size %d", result.SizeBytes())
	}
}

func TestDurationFallsBackToStreams(t *testing.T) {
	result := Result{
		Streams: []Stream{{Duration: "5.5"}, {Duration: "bad"}, {Duration: "6.25"}},
		Format:  Format{Duration: "N/A"},
	}
	if got := result.DurationSeconds(); got != 6.25 {
		t.Fatalf("expected 6.25, got %v", got)
	}
}

func TestInspectPropagatesRunnerError(t *testing.T) {
	prober := New("probe").WithRunner(func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	})
	if _, err := prober.Inspect(context.Background(), "x.mp4"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := prober.Inspect(context.Background(), " "); err == nil {
		t.Fatal("expected empty path error")
	}
}
