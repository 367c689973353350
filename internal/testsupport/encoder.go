package testsupport

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"storyreel/internal/encode"
)

// FFmpegCall records one fake ffmpeg invocation. ConcatInputs holds the
// paths named in the concat list file, in list order.
type FFmpegCall struct {
	Args         []string
	ConcatInputs []string
}

// Concat reports whether the call was a concat demuxer run.
func (c FFmpegCall) Concat() bool {
	return strings.Contains(strings.Join(c.Args, " "), "-f concat")
}

// HasArgs reports whether want appears as a contiguous run in the args.
func (c FFmpegCall) HasArgs(want ...string) bool {
	return strings.Contains(" "+strings.Join(c.Args, " ")+" ", " "+strings.Join(want, " ")+" ")
}

// FakeFFmpeg stands in for the ffmpeg binary. It writes a placeholder
// output file and records every call.
type FakeFFmpeg struct {
	mu       sync.Mutex
	calls    []FFmpegCall
	failNext map[string]error
}

// NewFakeFFmpeg returns a runner that always succeeds.
func NewFakeFFmpeg() *FakeFFmpeg {
	return &FakeFFmpeg{failNext: make(map[string]error)}
}

// Fail makes the next concat ("concat") or mux ("mux") call return err.
func (f *FakeFFmpeg) Fail(kind string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[kind] = err
}

// Runner returns the encode.CommandRunner to inject.
func (f *FakeFFmpeg) Runner() encode.CommandRunner {
	return func(ctx context.Context, name string, args ...string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		call := FFmpegCall{Args: append([]string(nil), args...)}
		kind := "mux"
		if call.Concat() {
			kind = "concat"
			for i, arg := range args {
				if arg == "-i" && i+1 < len(args) {
					call.ConcatInputs = readConcatList(args[i+1])
					break
				}
			}
		}

		f.mu.Lock()
		f.calls = append(f.calls, call)
		err := f.failNext[kind]
		delete(f.failNext, kind)
		f.mu.Unlock()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			return errors.New("fake ffmpeg: no output argument")
		}
		return os.WriteFile(args[len(args)-1], ClipBytes(512), 0o644)
	}
}

// Calls returns the recorded invocations in order.
func (f *FakeFFmpeg) Calls() []FFmpegCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FFmpegCall(nil), f.calls...)
}

// ConcatCalls returns only the concat invocations.
func (f *FakeFFmpeg) ConcatCalls() []FFmpegCall {
	var out []FFmpegCall
	for _, call := range f.Calls() {
		if call.Concat() {
			out = append(out, call)
		}
	}
	return out
}

// MuxCalls returns only the mux invocations.
func (f *FakeFFmpeg) MuxCalls() []FFmpegCall {
	var out []FFmpegCall
	for _, call := range f.Calls() {
		if !call.Concat() {
			out = append(out, call)
		}
	}
	return out
}

func readConcatList(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var inputs []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "file '")
		line = strings.TrimSuffix(line, "'")
		if line != "" {
			inputs = append(inputs, strings.ReplaceAll(line, `'\''`, "'"))
		}
	}
	return inputs
}
