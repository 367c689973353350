package pipeline_test

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"storyreel/internal/blob"
	"storyreel/internal/config"
	"storyreel/internal/ledger"
	"storyreel/internal/logging"
	"storyreel/internal/pipeline"
	"storyreel/internal/provider"
	"storyreel/internal/services"
	"storyreel/internal/testsupport"
)

type notice struct {
	job    ledger.Job
	failed []int
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (r *recordingNotifier) JobFinished(_ context.Context, job ledger.Job, failed []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice{job: job, failed: failed})
	return nil
}

func (r *recordingNotifier) all() []notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notice(nil), r.notices...)
}

type env struct {
	cfg     *config.Config
	store   *ledger.Store
	blobs   *blob.FS
	video   *testsupport.FakeVideoProvider
	music   *testsupport.FakeMusicProvider
	ffmpeg  *testsupport.FakeFFmpeg
	notices *recordingNotifier
	manager *pipeline.Manager
}

func newEnv(t *testing.T, opts ...testsupport.ConfigOption) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenLedger(t, cfg)
	blobs, err := blob.NewFS(cfg.Paths.BlobDir)
	if err != nil {
		t.Fatalf("blob.NewFS: %v", err)
	}
	media := testsupport.NewMediaServer(t)
	e := &env{
		cfg:     cfg,
		store:   store,
		blobs:   blobs,
		video:   testsupport.NewFakeVideoProvider(media.URL),
		music:   testsupport.NewFakeMusicProvider(media.URL),
		ffmpeg:  testsupport.NewFakeFFmpeg(),
		notices: &recordingNotifier{},
	}
	manager, err := pipeline.Build(context.Background(), cfg, store, logging.NewNop(), pipeline.Collaborators{
		Video:        e.video,
		Music:        e.music,
		Blobs:        blobs,
		FFmpegRunner: e.ffmpeg.Runner(),
		Notifier:     e.notices,
		FFprobeRunner: func(ctx context.Context, binary string, args ...string) ([]byte, error) {
			return nil, errors.New("ffprobe unavailable")
		},
	})
	if err != nil {
		t.Fatalf("pipeline.Build: %v", err)
	}
	e.manager = manager
	return e
}

func (e *env) run(t *testing.T, pairs []ledger.Pair) pipeline.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	jobID, err := e.manager.CreateJob(ctx, pipeline.JobRequest{Title: "scenario", MusicPrompt: "calm piano", Pairs: pairs})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := e.manager.RunJob(ctx, jobID); err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	status, err := e.manager.GetJobStatus(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJobStatus: %v", err)
	}
	return status
}

func concatOrder(t *testing.T, ffmpeg *testsupport.FakeFFmpeg) []string {
	t.Helper()
	calls := ffmpeg.ConcatCalls()
	if len(calls) != 1 {
		t.Fatalf("expected one concat call, got %d", len(calls))
	}
	names := make([]string, 0, len(calls[0].ConcatInputs))
	for _, input := range calls[0].ConcatInputs {
		names = append(names, filepath.Base(input))
	}
	return names
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestPartialCompletionCombinesSurvivorsInOrder(t *testing.T) {
	e := newEnv(t, testsupport.WithMusicDisabled())
	e.video.SetOutcome(1, testsupport.VideoOutcome{
		Failures: []provider.PollResult{{State: provider.TaskFailed, ErrorClass: "content_policy", Message: "flagged"}},
	})

	status := e.run(t, testsupport.Pairs(3, 6))

	if status.Status != ledger.JobPartiallyCompleted {
		t.Fatalf("expected partially_completed, got %s (%s)", status.Status, status.Error)
	}
	if got := concatOrder(t, e.ffmpeg); strings.Join(got, ",") != "0000.mp4,0002.mp4" {
		t.Fatalf("unexpected concat order %v", got)
	}
	if len(status.FailedIndices) != 1 || status.FailedIndices[0] != 1 {
		t.Fatalf("unexpected failed indices %v", status.FailedIndices)
	}
	if !strings.Contains(status.Error, "pair 1 failed") {
		t.Fatalf("error should enumerate failed pairs, got %q", status.Error)
	}
	if !approx(status.CostActual, 0.6) {
		t.Fatalf("expected cost of two clips (0.6), got %v", status.CostActual)
	}
	if !status.CostVarianceFlagged {
		t.Fatal("expected cost variance flag for a third of the work missing")
	}
	if len(e.ffmpeg.MuxCalls()) != 0 {
		t.Fatal("music disabled: merge must be a pass-through")
	}
	if status.FinalArtifactRef != blob.FinalKey(status.JobID) {
		t.Fatalf("unexpected final ref %q", status.FinalArtifactRef)
	}
	notices := e.notices.all()
	if len(notices) != 1 {
		t.Fatalf("expected one notification, got %d", len(notices))
	}
	if n := notices[0]; n.job.Status != ledger.JobPartiallyCompleted || !n.job.CostVarianceFlagged ||
		len(n.failed) != 1 || n.failed[0] != 1 {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestAllSucceedWithFullAudio(t *testing.T) {
	e := newEnv(t)

	status := e.run(t, testsupport.Pairs(3, 6))

	if status.Status != ledger.JobCompleted {
		t.Fatalf("expected completed, got %s (%s)", status.Status, status.Error)
	}
	if got := concatOrder(t, e.ffmpeg); strings.Join(got, ",") != "0000.mp4,0001.mp4,0002.mp4" {
		t.Fatalf("unexpected concat order %v", got)
	}
	if status.AudioSeconds != 18 {
		t.Fatalf("expected 18s of audio, got %v", status.AudioSeconds)
	}
	if len(e.music.Calls()) != 3 {
		t.Fatalf("expected 3 music steps, got %d", len(e.music.Calls()))
	}
	mux := e.ffmpeg.MuxCalls()
	if len(mux) != 1 || !mux[0].HasArgs("-t", "18.000") {
		t.Fatalf("expected one 18s mux, got %+v", mux)
	}
	if !approx(status.CostActual, status.CostEstimated) || status.CostVarianceFlagged {
		t.Fatalf("cost should match estimate: actual %v estimated %v flagged %v",
			status.CostActual, status.CostEstimated, status.CostVarianceFlagged)
	}
	if status.Error != "" {
		t.Fatalf("completed job should carry no error, got %q", status.Error)
	}
	if _, err := e.blobs.Open(context.Background(), status.FinalArtifactRef); err != nil {
		t.Fatalf("final artifact missing: %v", err)
	}
}

func TestSceneOrderIndependentOfCompletionOrder(t *testing.T) {
	e := newEnv(t, testsupport.WithMusicDisabled())
	const n = 6
	delays := rand.Perm(n)
	for i := 0; i < n; i++ {
		e.video.SetOutcome(i, testsupport.VideoOutcome{Delay: time.Duration(delays[i]*15) * time.Millisecond})
	}

	status := e.run(t, testsupport.Pairs(n, 4))

	if status.Status != ledger.JobCompleted {
		t.Fatalf("expected completed, got %s (%s)", status.Status, status.Error)
	}
	got := concatOrder(t, e.ffmpeg)
	if len(got) != n {
		t.Fatalf("expected %d inputs, got %v", n, got)
	}
	for i, name := range got {
		if name != filepath.Base(blob.ClipKey("x", i, ".mp4")) {
			t.Fatalf("input %d is %s; completion order was %v", i, name, e.video.CompletionOrder())
		}
	}
}

func TestAudioFailureDeliversNoAudio(t *testing.T) {
	e := newEnv(t)
	e.music.FailAt(1, services.Wrap(services.ErrPermanentProvider, "fake", "continue", "rejected", nil))

	status := e.run(t, testsupport.Pairs(3, 6))

	if status.Status != ledger.JobCompleted {
		t.Fatalf("audio failure must not fail the job, got %s (%s)", status.Status, status.Error)
	}
	if status.FinalAudioRef != "" || status.AudioSeconds != 0 {
		t.Fatalf("expected no audio, got ref %q seconds %v", status.FinalAudioRef, status.AudioSeconds)
	}
	if len(e.ffmpeg.MuxCalls()) != 0 {
		t.Fatal("no audio stream may be muxed after a continuity failure")
	}
	if len(e.music.Calls()) != 2 {
		t.Fatalf("chain must stop at the failing step, got %d calls", len(e.music.Calls()))
	}
	if _, err := e.blobs.Open(context.Background(), status.FinalArtifactRef); err != nil {
		t.Fatalf("silent final artifact missing: %v", err)
	}
}

func TestRetryBoundExcludesExhaustedPair(t *testing.T) {
	e := newEnv(t, testsupport.WithMaxRetries(2), testsupport.WithMusicDisabled())
	transient := services.Wrap(services.ErrTransientProvider, "fake", "submit", "http 503", nil)
	e.video.SetOutcome(0, testsupport.VideoOutcome{
		SubmitErrors: []error{transient, transient, transient, transient, transient},
	})

	status := e.run(t, testsupport.Pairs(3, 6))

	if status.Status != ledger.JobPartiallyCompleted {
		t.Fatalf("expected partially_completed, got %s (%s)", status.Status, status.Error)
	}
	for _, sj := range status.SubJobs {
		if sj.RetryCount > 2 {
			t.Fatalf("sub-job %d exceeded retry budget: %d", sj.Index, sj.RetryCount)
		}
		if sj.Index == 0 && (sj.Status != ledger.SubJobFailed || sj.RetryCount != 2) {
			t.Fatalf("pair 0 should fail after 2 retries: %+v", sj)
		}
	}
	if got := concatOrder(t, e.ffmpeg); strings.Join(got, ",") != "0001.mp4,0002.mp4" {
		t.Fatalf("unexpected concat order %v", got)
	}
}

func TestAllPairsFailedFailsJob(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 2; i++ {
		e.video.SetOutcome(i, testsupport.VideoOutcome{
			Failures: []provider.PollResult{{State: provider.TaskFailed, ErrorClass: "rejected", Message: "no"}},
		})
	}

	status := e.run(t, testsupport.Pairs(2, 6))

	if status.Status != ledger.JobFailed {
		t.Fatalf("expected failed, got %s", status.Status)
	}
	if !strings.Contains(status.Error, "all 2 pair(s) failed") {
		t.Fatalf("unexpected error %q", status.Error)
	}
	if len(e.ffmpeg.Calls()) != 0 || len(e.music.Calls()) != 0 {
		t.Fatal("no later stage may run when every pair failed")
	}
	if status.CostActual != 0 {
		t.Fatalf("failed generations cost nothing, got %v", status.CostActual)
	}
}

func TestMergeFailureFailsJob(t *testing.T) {
	e := newEnv(t)
	e.ffmpeg.Fail("mux", errors.New("exit status 1: Conversion failed"))

	status := e.run(t, testsupport.Pairs(2, 6))

	if status.Status != ledger.JobFailed {
		t.Fatalf("expected failed, got %s", status.Status)
	}
	if !strings.Contains(status.Error, "merge failed") || !strings.Contains(status.Error, "Conversion failed") {
		t.Fatalf("unexpected error %q", status.Error)
	}
	if status.FinalArtifactRef != "" {
		t.Fatalf("failed merge must not report an artifact, got %q", status.FinalArtifactRef)
	}
}

func TestCancelJobStopsInFlightSubJobs(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 3; i++ {
		e.video.SetOutcome(i, testsupport.VideoOutcome{Delay: time.Hour})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	jobID, err := e.manager.CreateJob(ctx, pipeline.JobRequest{Title: "cancel", Pairs: testsupport.Pairs(3, 6)})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.manager.RunJob(ctx, jobID) }()

	deadline := time.Now().Add(10 * time.Second)
	for e.video.Submissions(0)+e.video.Submissions(1)+e.video.Submissions(2) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("sub-jobs never submitted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := e.manager.CancelJob(ctx, jobID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunJob: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("RunJob did not return after cancellation")
	}

	status, err := e.manager.GetJobStatus(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJobStatus: %v", err)
	}
	if status.Status != ledger.JobFailed || status.Error != pipeline.CanceledMessage {
		t.Fatalf("expected canceled failure, got %s %q", status.Status, status.Error)
	}
	for _, sj := range status.SubJobs {
		if sj.Status != ledger.SubJobFailed || sj.ErrorKind != services.KindCanceled {
			t.Fatalf("sub-job %d not canceled: %+v", sj.Index, sj)
		}
	}
	if len(e.ffmpeg.Calls()) != 0 {
		t.Fatal("no encoding may start after cancellation")
	}
}

func TestCancelPendingJobWithoutDaemon(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	jobID, err := e.manager.CreateJob(ctx, pipeline.JobRequest{Pairs: testsupport.Pairs(1, 6)})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := e.manager.CancelJob(ctx, jobID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	status, err := e.manager.GetJobStatus(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJobStatus: %v", err)
	}
	if status.Status != ledger.JobFailed || !status.CancelRequested {
		t.Fatalf("unexpected status %+v", status)
	}
	if err := e.manager.CancelJob(ctx, jobID); err != nil {
		t.Fatalf("cancelling a finished job should be a no-op, got %v", err)
	}
	if err := e.manager.CancelJob(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentCancelNotifiesOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	jobID, err := e.manager.CreateJob(ctx, pipeline.JobRequest{Pairs: testsupport.Pairs(2, 6)})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.manager.CancelJob(ctx, jobID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("CancelJob: %v", err)
		}
	}
	if got := len(e.notices.all()); got != 1 {
		t.Fatalf("expected exactly one notification, got %d", got)
	}
}

// brokenDispatcher starts the first sub-job and then loses the ledger.
type brokenDispatcher struct {
	store *ledger.Store
}

func (d brokenDispatcher) Dispatch(ctx context.Context, jobID string) ([]ledger.SubJob, error) {
	subJobs, err := d.store.ListSubJobs(ctx, jobID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sj := subJobs[0]
	sj.Status = ledger.SubJobProcessing
	sj.ProviderTaskHandle = "task-1"
	sj.SubmittedAt = &now
	if _, err := d.store.UpdateSubJob(ctx, sj); err != nil {
		return nil, err
	}
	return nil, errors.New("update sub-job 1: database is locked")
}

func TestLedgerFaultFailsOpenSubJobs(t *testing.T) {
	e := newEnv(t)
	notices := &recordingNotifier{}
	runner := pipeline.NewRunner(e.store, pipeline.Stages{
		Dispatcher: brokenDispatcher{store: e.store},
		Notifier:   notices,
	}, e.cfg.Cost.VarianceThreshold, e.cfg.Paths.WorkDir, logging.NewNop())
	manager := pipeline.NewManager(e.cfg, e.store, runner, logging.NewNop())

	ctx := context.Background()
	jobID, err := manager.CreateJob(ctx, pipeline.JobRequest{Pairs: testsupport.Pairs(3, 6)})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := manager.RunJob(ctx, jobID); err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("expected ledger fault, got %v", err)
	}

	status, err := manager.GetJobStatus(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJobStatus: %v", err)
	}
	if status.Status != ledger.JobFailed || !strings.Contains(status.Error, "database is locked") {
		t.Fatalf("unexpected job status %s (%q)", status.Status, status.Error)
	}
	for _, sj := range status.SubJobs {
		if sj.Status != ledger.SubJobFailed {
			t.Fatalf("sub-job %d left %s", sj.Index, sj.Status)
		}
	}
	if got := notices.all(); len(got) != 1 || len(got[0].failed) != 3 {
		t.Fatalf("expected one notification listing 3 failed pairs, got %+v", got)
	}
}

func TestCreateJobValidatesAtomically(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tooLong := testsupport.Pairs(2, 6)
	tooLong[1].DurationSeconds = 600
	missingImage := testsupport.Pairs(2, 6)
	missingImage[0].EndImage = ""

	for name, req := range map[string]pipeline.JobRequest{
		"no pairs":      {Title: "empty"},
		"too long":      {Pairs: tooLong},
		"missing image": {Pairs: missingImage},
	} {
		if _, err := e.manager.CreateJob(ctx, req); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	jobs, err := e.store.ListJobs(ctx, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("rejected submissions must not persist, found %d jobs", len(jobs))
	}

	jobID, err := e.manager.CreateJob(ctx, pipeline.JobRequest{Pairs: testsupport.Pairs(4, 6)})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	status, err := e.manager.GetJobStatus(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJobStatus: %v", err)
	}
	if status.Status != ledger.JobPending || len(status.SubJobs) != 4 {
		t.Fatalf("expected 4 pending sub-jobs, got %s with %d", status.Status, len(status.SubJobs))
	}
	if !approx(status.CostEstimated, 4*0.3+4*0.06) {
		t.Fatalf("unexpected estimate %v", status.CostEstimated)
	}
}

func TestManagerClaimsAndResumesJobs(t *testing.T) {
	e := newEnv(t, testsupport.WithMusicDisabled())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// A job left in dispatched by an earlier daemon run.
	resumed, err := e.manager.CreateJob(ctx, pipeline.JobRequest{Title: "resumed", Pairs: testsupport.Pairs(2, 6)})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if claimed, err := e.store.ClaimPending(ctx); err != nil || claimed == nil || claimed.ID != resumed {
		t.Fatalf("ClaimPending: %v %+v", err, claimed)
	}

	if err := e.manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.manager.Stop()

	queued, err := e.manager.CreateJob(ctx, pipeline.JobRequest{Title: "queued", Pairs: testsupport.Pairs(2, 6)})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	for _, id := range []string{resumed, queued} {
		status, err := e.manager.Wait(ctx, id, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("Wait %s: %v", id, err)
		}
		if status.Status != ledger.JobCompleted {
			t.Fatalf("job %s ended %s (%s)", id, status.Status, status.Error)
		}
	}
}
