package provider

import "context"

// TaskState is the provider-reported state of a video task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether the task will not change state again.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// PollResult is one observation of a video task.
type PollResult struct {
	State      TaskState
	ResultURI  string
	ErrorClass string
	Message    string
}

// VideoProvider submits clip generation tasks and reports their progress.
type VideoProvider interface {
	Submit(ctx context.Context, req VideoRequest) (string, error)
	Poll(ctx context.Context, handle string) (PollResult, error)
}

// MusicProvider generates an opening music segment and extends an existing
// cumulative track. Both calls return the URI of the resulting audio.
type MusicProvider interface {
	GenerateInitial(ctx context.Context, req InitialMusicRequest) (string, error)
	Continue(ctx context.Context, req ContinuationRequest) (string, error)
}
