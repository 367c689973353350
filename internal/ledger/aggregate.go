package ledger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FailedIndices returns the pair indices of failed sub-jobs, ascending.
func FailedIndices(subJobs []SubJob) []int {
	var out []int
	for _, sj := range subJobs {
		if sj.Status == SubJobFailed {
			out = append(out, sj.Index)
		}
	}
	sort.Ints(out)
	return out
}

// Succeeded returns sub-jobs with a materialized clip, ordered strictly by
// pair index.
func Succeeded(subJobs []SubJob) []SubJob {
	out := make([]SubJob, 0, len(subJobs))
	for _, sj := range subJobs {
		if sj.Status == SubJobSucceeded && sj.ClipRef != "" {
			out = append(out, sj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// AllTerminal reports whether every sub-job has finished.
func AllTerminal(subJobs []SubJob) bool {
	for _, sj := range subJobs {
		if !sj.Status.Terminal() {
			return false
		}
	}
	return true
}

// DispatchOutcome derives the status a dispatched job moves to once its
// sub-jobs are terminal: combining when at least one clip exists, failed
// otherwise.
func DispatchOutcome(subJobs []SubJob) (JobStatus, error) {
	if !AllTerminal(subJobs) {
		return JobDispatched, fmt.Errorf("dispatch outcome: %d of %d sub-jobs still running", countRunning(subJobs), len(subJobs))
	}
	if len(Succeeded(subJobs)) == 0 {
		return JobFailed, nil
	}
	return JobCombining, nil
}

// FinalStatus derives the terminal status of a job whose mux succeeded.
func FinalStatus(subJobs []SubJob) JobStatus {
	if len(FailedIndices(subJobs)) > 0 {
		return JobPartiallyCompleted
	}
	return JobCompleted
}

// DescribeFailures renders a human-readable summary of failed pairs, e.g.
// "pair 1 failed: permanent provider error: content policy".
func DescribeFailures(subJobs []SubJob) string {
	failed := make([]SubJob, 0)
	for _, sj := range sortedByIndex(subJobs) {
		if sj.Status == SubJobFailed {
			failed = append(failed, sj)
		}
	}
	if len(failed) == 0 {
		return ""
	}
	parts := make([]string, 0, len(failed))
	for _, sj := range failed {
		msg := strings.TrimSpace(sj.LastError)
		if msg == "" {
			msg = "unknown error"
		}
		parts = append(parts, "pair "+strconv.Itoa(sj.Index)+" failed: "+msg)
	}
	return strings.Join(parts, "; ")
}

func countRunning(subJobs []SubJob) int {
	n := 0
	for _, sj := range subJobs {
		if !sj.Status.Terminal() {
			n++
		}
	}
	return n
}
