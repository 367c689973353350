package pipeline

import (
	"time"

	"storyreel/internal/ledger"
)

// SubJobStatus is the caller-facing view of one sub-job.
type SubJobStatus struct {
	Index      int                 `json:"index"`
	Status     ledger.SubJobStatus `json:"status"`
	RetryCount int                 `json:"retry_count"`
	Error      string              `json:"error,omitempty"`
	ErrorKind  string              `json:"error_kind,omitempty"`
	ClipRef    string              `json:"clip_ref,omitempty"`
	Cost       float64             `json:"cost"`
}

// Status is the caller-facing view of a job.
type Status struct {
	JobID               string           `json:"job_id"`
	Title               string           `json:"title"`
	Status              ledger.JobStatus `json:"status"`
	SubJobs             []SubJobStatus   `json:"sub_jobs"`
	FailedIndices       []int            `json:"failed_indices,omitempty"`
	CostEstimated       float64          `json:"cost_estimated"`
	CostActual          float64          `json:"cost_actual"`
	CostVarianceFlagged bool             `json:"cost_variance_flagged"`
	Error               string           `json:"error,omitempty"`
	AudioEnabled        bool             `json:"audio_enabled"`
	AudioSeconds        float64          `json:"audio_seconds"`
	CombinedVideoRef    string           `json:"combined_video_ref,omitempty"`
	FinalAudioRef       string           `json:"final_audio_ref,omitempty"`
	FinalArtifactRef    string           `json:"final_artifact_ref,omitempty"`
	CancelRequested     bool             `json:"cancel_requested"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// NewStatus projects a ledger snapshot.
func NewStatus(snap ledger.Snapshot) Status {
	job := snap.Job
	out := Status{
		JobID:               job.ID,
		Title:               job.Title,
		Status:              job.Status,
		FailedIndices:       snap.FailedIndices(),
		CostEstimated:       job.CostEstimated,
		CostActual:          job.CostActual,
		CostVarianceFlagged: job.CostVarianceFlagged,
		Error:               job.ErrorMessage,
		AudioEnabled:        job.AudioEnabled,
		CombinedVideoRef:    job.CombinedVideoRef,
		FinalAudioRef:       job.FinalAudioRef,
		FinalArtifactRef:    job.FinalArtifactRef,
		CancelRequested:     job.CancelRequested,
		CreatedAt:           job.CreatedAt,
		UpdatedAt:           job.UpdatedAt,
	}
	if n := len(snap.Segments); n > 0 && job.FinalAudioRef != "" {
		out.AudioSeconds = snap.Segments[n-1].CumulativeSeconds
	}
	out.SubJobs = make([]SubJobStatus, 0, len(snap.SubJobs))
	for _, sj := range snap.SubJobs {
		out.SubJobs = append(out.SubJobs, SubJobStatus{
			Index:      sj.Index,
			Status:     sj.Status,
			RetryCount: sj.RetryCount,
			Error:      sj.LastError,
			ErrorKind:  sj.LastErrorKind,
			ClipRef:    sj.ClipRef,
			Cost:       sj.Cost,
		})
	}
	return out
}
