package ledger

import (
	"sort"
	"strings"
	"time"
)

// JobStatus represents the lifecycle of a job.
type JobStatus string

const (
	JobPending            JobStatus = "pending"
	JobDispatched         JobStatus = "dispatched"
	JobCombining          JobStatus = "combining"
	JobAudioComposing     JobStatus = "audio_composing"
	JobMuxing             JobStatus = "muxing"
	JobCompleted          JobStatus = "completed"
	JobPartiallyCompleted JobStatus = "partially_completed"
	JobFailed             JobStatus = "failed"
)

var jobStatusRank = map[JobStatus]int{
	JobPending:            0,
	JobDispatched:         1,
	JobCombining:          2,
	JobAudioComposing:     3,
	JobMuxing:             4,
	JobCompleted:          5,
	JobPartiallyCompleted: 5,
	JobFailed:             5,
}

// AllJobStatuses lists job statuses in pipeline order.
func AllJobStatuses() []JobStatus {
	return []JobStatus{
		JobPending,
		JobDispatched,
		JobCombining,
		JobAudioComposing,
		JobMuxing,
		JobCompleted,
		JobPartiallyCompleted,
		JobFailed,
	}
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	_, ok := jobStatusRank[s]
	return ok
}

// ParseJobStatus accepts a status name, case-insensitively and with either
// dashes or underscores.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_"))
	return normalized, normalized.Valid()
}

// Terminal reports whether the job has finished.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobPartiallyCompleted || s == JobFailed
}

// CanTransition reports whether a job may move from one status to another.
// Jobs only move forward; any non-terminal job may fail, and only muxing jobs
// may complete.
func CanTransition(from, to JobStatus) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	switch to {
	case JobFailed:
		return true
	case JobCompleted, JobPartiallyCompleted:
		return from == JobMuxing
	}
	return jobStatusRank[to] > jobStatusRank[from]
}

// SubJobStatus represents the lifecycle of one pair's generation.
type SubJobStatus string

const (
	SubJobPending    SubJobStatus = "pending"
	SubJobProcessing SubJobStatus = "processing"
	SubJobSucceeded  SubJobStatus = "succeeded"
	SubJobFailed     SubJobStatus = "failed"
)

// Terminal reports whether the sub-job has finished.
func (s SubJobStatus) Terminal() bool {
	return s == SubJobSucceeded || s == SubJobFailed
}

// CanTransitionSubJob reports whether a sub-job may move between statuses.
// processing -> processing records retries and handle changes.
func CanTransitionSubJob(from, to SubJobStatus) bool {
	switch from {
	case SubJobPending:
		return to == SubJobProcessing || to == SubJobFailed
	case SubJobProcessing:
		return to == SubJobProcessing || to == SubJobSucceeded || to == SubJobFailed
	default:
		return false
	}
}

// Pair is one ordered input of a job.
type Pair struct {
	StartImage      string
	EndImage        string
	Prompt          string
	DurationSeconds float64
	MusicDirection  string
}

// NewJob describes a job submission.
type NewJob struct {
	Title         string
	MusicPrompt   string
	AudioEnabled  bool
	CostEstimated float64
	Pairs         []Pair
}

// Job is the persisted aggregate for one submission.
type Job struct {
	ID                  string
	Title               string
	Status              JobStatus
	MusicPrompt         string
	AudioEnabled        bool
	PairCount           int
	CostEstimated       float64
	CostActual          float64
	CostVarianceFlagged bool
	ErrorMessage        string
	CombinedVideoRef    string
	FinalAudioRef       string
	FinalArtifactRef    string
	CancelRequested     bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// JobPatch carries optional fields written together with a transition.
// Empty strings leave the stored value untouched.
type JobPatch struct {
	ErrorMessage     string
	CombinedVideoRef string
	FinalAudioRef    string
	FinalArtifactRef string
}

// SubJob is one pair's video generation task.
type SubJob struct {
	ID                 string
	JobID              string
	Index              int
	Pair               Pair
	Status             SubJobStatus
	ProviderTaskHandle string
	ResultURI          string
	ClipRef            string
	RetryCount         int
	LastError          string
	LastErrorKind      string
	Cost               float64
	SubmittedAt        *time.Time
	CompletedAt        *time.Time
	UpdatedAt          time.Time
}

// AudioSegment records one step of progressive audio composition. ProviderURI
// is the cumulative track covering scenes 0..SceneIndex.
type AudioSegment struct {
	JobID             string
	SceneIndex        int
	PairIndex         int
	DurationSeconds   float64
	CumulativeSeconds float64
	ProviderURI       string
	Cost              float64
	CreatedAt         time.Time
}

// Snapshot is a consistent read of a job and everything beneath it.
type Snapshot struct {
	Job      Job
	SubJobs  []SubJob
	Segments []AudioSegment
}

// SubJobIDs returns sub-job ids in pair index order.
func (s Snapshot) SubJobIDs() []string {
	ids := make([]string, 0, len(s.SubJobs))
	for _, sj := range sortedByIndex(s.SubJobs) {
		ids = append(ids, sj.ID)
	}
	return ids
}

// FailedIndices returns the pair indices whose sub-jobs failed, ascending.
func (s Snapshot) FailedIndices() []int {
	return FailedIndices(s.SubJobs)
}

func sortedByIndex(subJobs []SubJob) []SubJob {
	out := append([]SubJob(nil), subJobs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
