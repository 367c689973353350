package testsupport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"storyreel/internal/provider"
	"storyreel/internal/services"
)

// NewMediaServer serves ClipBytes for every GET so clip and audio URIs
// handed out by the fake providers can be downloaded.
func NewMediaServer(t testing.TB) *httptest.Server {
	t.Helper()
	body := ClipBytes(256)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// PairIndex extracts i from the image references produced by Pairs.
// It returns -1 when ref does not follow that pattern.
func PairIndex(ref string) int {
	start := strings.Index(ref, "scene-")
	if start < 0 {
		return -1
	}
	rest := ref[start+len("scene-"):]
	end := strings.IndexByte(rest, '-')
	if end < 0 {
		return -1
	}
	index, err := strconv.Atoi(rest[:end])
	if err != nil {
		return -1
	}
	return index
}

// VideoOutcome scripts how the fake video provider treats one pair.
type VideoOutcome struct {
	// SubmitErrors are returned by successive Submit calls before one succeeds.
	SubmitErrors []error
	// PollErrors are returned by successive Poll calls before the task reports.
	PollErrors []error
	// Failures are terminal failed results for successive tasks; once they
	// run out the task succeeds.
	Failures []provider.PollResult
	// Delay is how long a task stays running after submission.
	Delay time.Duration
	// ResultURI overrides the generated clip URL.
	ResultURI string
}

type fakeTask struct {
	index   int
	created time.Time
	fail    *provider.PollResult
}

// FakeVideoProvider is a scripted provider.VideoProvider. Pairs without an
// outcome succeed on the first poll.
type FakeVideoProvider struct {
	mediaURL string

	mu          sync.Mutex
	outcomes    map[int]*VideoOutcome
	tasks       map[string]*fakeTask
	submissions map[int]int
	completions []int
	nextID      int
}

// NewFakeVideoProvider returns a provider whose clip URLs point at mediaURL.
func NewFakeVideoProvider(mediaURL string) *FakeVideoProvider {
	return &FakeVideoProvider{
		mediaURL:    strings.TrimRight(mediaURL, "/"),
		outcomes:    make(map[int]*VideoOutcome),
		tasks:       make(map[string]*fakeTask),
		submissions: make(map[int]int),
	}
}

// SetOutcome scripts the behaviour for pair index.
func (f *FakeVideoProvider) SetOutcome(index int, outcome VideoOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyOutcome := outcome
	f.outcomes[index] = &copyOutcome
}

// BuildRequest builds an interpolation request with a fixed model.
func (f *FakeVideoProvider) BuildRequest(prompt, startImage, endImage string, durationSeconds float64) (provider.VideoRequest, error) {
	return provider.NewInterpolationRequest("fake-video", prompt, startImage, endImage, durationSeconds, 0)
}

// Submit records the submission and creates a task.
func (f *FakeVideoProvider) Submit(ctx context.Context, req provider.VideoRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	interp, ok := req.(provider.InterpolationRequest)
	if !ok {
		return "", services.Wrap(services.ErrValidation, "fake video", "submit", "unsupported request variant", nil)
	}
	index := PairIndex(interp.StartImage)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions[index]++
	task := &fakeTask{index: index, created: time.Now()}
	if outcome := f.outcomes[index]; outcome != nil {
		if len(outcome.SubmitErrors) > 0 {
			err := outcome.SubmitErrors[0]
			outcome.SubmitErrors = outcome.SubmitErrors[1:]
			return "", err
		}
		if len(outcome.Failures) > 0 {
			failure := outcome.Failures[0]
			outcome.Failures = outcome.Failures[1:]
			task.fail = &failure
		}
	}
	f.nextID++
	handle := fmt.Sprintf("task-%d", f.nextID)
	f.tasks[handle] = task
	return handle, nil
}

// Poll reports the scripted state of the task.
func (f *FakeVideoProvider) Poll(ctx context.Context, handle string) (provider.PollResult, error) {
	if err := ctx.Err(); err != nil {
		return provider.PollResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[handle]
	if !ok {
		return provider.PollResult{}, services.Wrap(services.ErrValidation, "fake video", "poll", "unknown handle "+handle, nil)
	}
	outcome := f.outcomes[task.index]
	if outcome != nil && len(outcome.PollErrors) > 0 {
		err := outcome.PollErrors[0]
		outcome.PollErrors = outcome.PollErrors[1:]
		return provider.PollResult{}, err
	}
	if task.fail != nil {
		return *task.fail, nil
	}
	if outcome != nil && time.Since(task.created) < outcome.Delay {
		return provider.PollResult{State: provider.TaskRunning}, nil
	}
	uri := fmt.Sprintf("%s/clips/%d.mp4", f.mediaURL, task.index)
	if outcome != nil && outcome.ResultURI != "" {
		uri = outcome.ResultURI
	}
	if !containsInt(f.completions, task.index) {
		f.completions = append(f.completions, task.index)
	}
	return provider.PollResult{State: provider.TaskSucceeded, ResultURI: uri}, nil
}

// Submissions reports how many times pair index was submitted.
func (f *FakeVideoProvider) Submissions(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissions[index]
}

// CompletionOrder lists pair indices in the order their tasks first
// reported success.
func (f *FakeVideoProvider) CompletionOrder() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.completions...)
}

// MusicCall records one fake music provider invocation.
type MusicCall struct {
	Continuation  bool
	Prompt        string
	PriorAudioURI string
	Seconds       float64
}

// FakeMusicProvider is a scripted provider.MusicProvider. Each call returns
// a distinct cumulative URI under mediaURL.
type FakeMusicProvider struct {
	mediaURL string

	mu     sync.Mutex
	failAt int
	err    error
	calls  []MusicCall
}

// NewFakeMusicProvider returns a music provider that never fails.
func NewFakeMusicProvider(mediaURL string) *FakeMusicProvider {
	return &FakeMusicProvider{mediaURL: strings.TrimRight(mediaURL, "/"), failAt: -1}
}

// FailAt makes the call for scene index step return err.
func (f *FakeMusicProvider) FailAt(step int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAt = step
	f.err = err
}

// GenerateInitial records the opening call.
func (f *FakeMusicProvider) GenerateInitial(ctx context.Context, req provider.InitialMusicRequest) (string, error) {
	return f.record(ctx, MusicCall{Prompt: req.Prompt, Seconds: req.DurationSeconds})
}

// Continue records a continuation call.
func (f *FakeMusicProvider) Continue(ctx context.Context, req provider.ContinuationRequest) (string, error) {
	return f.record(ctx, MusicCall{
		Continuation:  true,
		Prompt:        req.Prompt,
		PriorAudioURI: req.PriorAudioURI,
		Seconds:       req.AddedDurationSeconds,
	})
}

func (f *FakeMusicProvider) record(ctx context.Context, call MusicCall) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	step := len(f.calls)
	f.calls = append(f.calls, call)
	if step == f.failAt {
		err := f.err
		if err == nil {
			err = services.Wrap(services.ErrPermanentProvider, "fake music", "generate", "scripted failure", nil)
		}
		return "", err
	}
	return fmt.Sprintf("%s/audio/%d.m4a", f.mediaURL, step), nil
}

// Calls returns the recorded calls in order.
func (f *FakeMusicProvider) Calls() []MusicCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MusicCall(nil), f.calls...)
}

func containsInt(values []int, target int) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
