package ledger

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobPending, JobDispatched, true},
		{JobDispatched, JobCombining, true},
		{JobCombining, JobMuxing, true},
		{JobMuxing, JobCompleted, true},
		{JobMuxing, JobPartiallyCompleted, true},
		{JobDispatched, JobFailed, true},
		{JobCombining, JobDispatched, false},
		{JobDispatched, JobCompleted, false},
		{JobCompleted, JobFailed, false},
		{JobFailed, JobPending, false},
		{JobStatus("bogus"), JobDispatched, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestSucceededOrdersByIndexAndRequiresClip(t *testing.T) {
	subJobs := []SubJob{
		{Index: 2, Status: SubJobSucceeded, ClipRef: "c2"},
		{Index: 1, Status: SubJobFailed},
		{Index: 0, Status: SubJobSucceeded, ClipRef: "c0"},
		{Index: 3, Status: SubJobSucceeded},
	}
	got := Succeeded(subJobs)
	if len(got) != 2 || got[0].Index != 0 || got[1].Index != 2 {
		t.Fatalf("unexpected succeeded set %#v", got)
	}
	if failed := FailedIndices(subJobs); len(failed) != 1 || failed[0] != 1 {
		t.Fatalf("unexpected failed indices %v", failed)
	}
}

func TestDispatchOutcome(t *testing.T) {
	if _, err := DispatchOutcome([]SubJob{{Status: SubJobProcessing}}); err == nil {
		t.Fatal("expected error while sub-jobs are running")
	}
	status, err := DispatchOutcome([]SubJob{{Status: SubJobFailed}, {Status: SubJobFailed, Index: 1}})
	if err != nil || status != JobFailed {
		t.Fatalf("expected failed outcome, got %s err=%v", status, err)
	}
	status, err = DispatchOutcome([]SubJob{{Status: SubJobFailed}, {Status: SubJobSucceeded, Index: 1, ClipRef: "c1"}})
	if err != nil || status != JobCombining {
		t.Fatalf("expected combining outcome, got %s err=%v", status, err)
	}
}

func TestFinalStatusAndFailureSummary(t *testing.T) {
	all := []SubJob{{Index: 0, Status: SubJobSucceeded, ClipRef: "c0"}}
	if FinalStatus(all) != JobCompleted {
		t.Fatal("expected completed when nothing failed")
	}
	mixed := []SubJob{
		{Index: 1, Status: SubJobFailed, LastError: "permanent provider error: content policy"},
		{Index: 0, Status: SubJobSucceeded, ClipRef: "c0"},
		{Index: 2, Status: SubJobFailed},
	}
	if FinalStatus(mixed) != JobPartiallyCompleted {
		t.Fatal("expected partially_completed when a pair failed")
	}
	want := "pair 1 failed: permanent provider error: content policy; pair 2 failed: unknown error"
	if got := DescribeFailures(mixed); got != want {
		t.Fatalf("DescribeFailures() = %q, want %q", got, want)
	}
}

func TestParseJobStatus(t *testing.T) {
	tests := map[string]JobStatus{
		"pending":             JobPending,
		" Audio-Composing ":   JobAudioComposing,
		"PARTIALLY_COMPLETED": JobPartiallyCompleted,
	}
	for input, want := range tests {
		got, ok := ParseJobStatus(input)
		if !ok || got != want {
			t.Fatalf("ParseJobStatus(%q) = %q, %v; want %q", input, got, ok, want)
		}
	}
	if _, ok := ParseJobStatus("queued"); ok {
		t.Fatal("unknown status must not parse")
	}
}
