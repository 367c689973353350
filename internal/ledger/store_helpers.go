package ledger

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, status, title, music_prompt, audio_enabled, pair_count, cost_estimated, cost_actual, cost_variance_flagged, error_message, combined_video_ref, final_audio_ref, final_artifact_ref, cancel_requested, created_at, updated_at"

const subJobColumns = "id, job_id, pair_index, start_image, end_image, prompt, duration_seconds, music_direction, status, provider_task_handle, result_uri, clip_ref, retry_count, last_error, last_error_kind, cost, submitted_at, completed_at, updated_at"

const segmentColumns = "job_id, scene_index, pair_index, duration_seconds, cumulative_seconds, provider_uri, cost, created_at"

type scanner interface{ Scan(dest ...any) error }

func scanJob(row scanner) (*Job, error) {
	var (
		job          Job
		status       string
		title        sql.NullString
		musicPrompt  sql.NullString
		audioEnabled int64
		flagged      int64
		errorMessage sql.NullString
		combinedRef  sql.NullString
		audioRef     sql.NullString
		finalRef     sql.NullString
		cancel       int64
		createdRaw   string
		updatedRaw   string
	)
	if err := row.Scan(
		&job.ID,
		&status,
		&title,
		&musicPrompt,
		&audioEnabled,
		&job.PairCount,
		&job.CostEstimated,
		&job.CostActual,
		&flagged,
		&errorMessage,
		&combinedRef,
		&audioRef,
		&finalRef,
		&cancel,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	job.Title = title.String
	job.MusicPrompt = musicPrompt.String
	job.AudioEnabled = audioEnabled != 0
	job.CostVarianceFlagged = flagged != 0
	job.ErrorMessage = errorMessage.String
	job.CombinedVideoRef = combinedRef.String
	job.FinalAudioRef = audioRef.String
	job.FinalArtifactRef = finalRef.String
	job.CancelRequested = cancel != 0
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return &job, nil
}

func scanSubJob(row scanner) (*SubJob, error) {
	var (
		sj             SubJob
		prompt         sql.NullString
		musicDirection sql.NullString
		status         string
		handle         sql.NullString
		resultURI      sql.NullString
		clipRef        sql.NullString
		lastError      sql.NullString
		lastErrorKind  sql.NullString
		submittedRaw   sql.NullString
		completedRaw   sql.NullString
		updatedRaw     string
	)
	if err := row.Scan(
		&sj.ID,
		&sj.JobID,
		&sj.Index,
		&sj.Pair.StartImage,
		&sj.Pair.EndImage,
		&prompt,
		&sj.Pair.DurationSeconds,
		&musicDirection,
		&status,
		&handle,
		&resultURI,
		&clipRef,
		&sj.RetryCount,
		&lastError,
		&lastErrorKind,
		&sj.Cost,
		&submittedRaw,
		&completedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	sj.Pair.Prompt = prompt.String
	sj.Pair.MusicDirection = musicDirection.String
	sj.Status = SubJobStatus(status)
	sj.ProviderTaskHandle = handle.String
	sj.ResultURI = resultURI.String
	sj.ClipRef = clipRef.String
	sj.LastError = lastError.String
	sj.LastErrorKind = lastErrorKind.String
	sj.SubmittedAt = parseNullableTime(submittedRaw)
	sj.CompletedAt = parseNullableTime(completedRaw)
	if updated, err := parseTimeString(updatedRaw); err == nil {
		sj.UpdatedAt = updated
	}
	return &sj, nil
}

func scanSegment(row scanner) (*AudioSegment, error) {
	var (
		seg        AudioSegment
		createdRaw string
	)
	if err := row.Scan(
		&seg.JobID,
		&seg.SceneIndex,
		&seg.PairIndex,
		&seg.DurationSeconds,
		&seg.CumulativeSeconds,
		&seg.ProviderURI,
		&seg.Cost,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		seg.CreatedAt = created
	}
	return &seg, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
