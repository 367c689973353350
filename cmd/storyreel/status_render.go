package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"storyreel/internal/ledger"
	"storyreel/internal/pipeline"
)

var (
	badgeOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	badgeWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	badgeError   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	badgeRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
)

// stageLabel renders a status name for humans: "audio_composing" becomes
// "Audio Composing".
func stageLabel(status string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(status, "_", " "))
}

func badge(status string, colorize bool) string {
	label := "[" + stageLabel(status) + "]"
	if !colorize {
		return label
	}
	switch status {
	case string(ledger.JobCompleted), string(ledger.SubJobSucceeded):
		return badgeOK.Render(label)
	case string(ledger.JobPartiallyCompleted):
		return badgeWarn.Render(label)
	case string(ledger.JobFailed):
		return badgeError.Render(label)
	case string(ledger.JobPending):
		return mutedStyle.Render(label)
	default:
		return badgeRunning.Render(label)
	}
}

func renderJobStatus(out io.Writer, status pipeline.Status, colorize bool) {
	heading := "Job " + status.JobID
	if status.Title != "" {
		heading += " · " + status.Title
	}
	if colorize {
		heading = headingStyle.Render(heading)
	}
	fmt.Fprintln(out, heading)
	fmt.Fprintf(out, "  Status:     %s\n", badge(string(status.Status), colorize))
	fmt.Fprintf(out, "  Cost:       %s actual / %s estimated\n", formatCost(status.CostActual), formatCost(status.CostEstimated))
	if status.CostVarianceFlagged {
		warning := "  Variance:   actual cost deviates from the estimate"
		if colorize {
			warning = badgeWarn.Render(warning)
		}
		fmt.Fprintln(out, warning)
	}
	fmt.Fprintf(out, "  Audio:      %s\n", audioSummary(status))
	if len(status.FailedIndices) > 0 {
		fmt.Fprintf(out, "  Failed:     pair(s) %s\n", joinInts(status.FailedIndices))
	}
	if status.CancelRequested {
		fmt.Fprintf(out, "  Cancel:     %s\n", yesNo(true))
	}
	if status.FinalArtifactRef != "" {
		fmt.Fprintf(out, "  Artifact:   %s\n", status.FinalArtifactRef)
	}
	if status.Error != "" {
		fmt.Fprintf(out, "  Error:      %s\n", status.Error)
	}
	fmt.Fprintf(out, "  Updated:    %s\n", status.UpdatedAt.Local().Format(time.DateTime))

	if len(status.SubJobs) == 0 {
		return
	}
	rows := make([][]string, 0, len(status.SubJobs))
	for _, sj := range status.SubJobs {
		rows = append(rows, []string{
			strconv.Itoa(sj.Index),
			badge(string(sj.Status), colorize),
			strconv.Itoa(sj.RetryCount),
			formatCost(sj.Cost),
			sj.ErrorKind,
			truncate(sj.Error, 60),
		})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable(
		[]string{"Pair", "Status", "Retries", "Cost", "Kind", "Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	))
}

func renderJobList(jobs []ledger.Job, colorize bool) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		flag := ""
		if job.CostVarianceFlagged {
			flag = "!"
		}
		rows = append(rows, []string{
			job.ID,
			truncate(job.Title, 32),
			badge(string(job.Status), colorize),
			formatCost(job.CostActual) + flag,
			job.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return renderTable(
		[]string{"ID", "Title", "Status", "Cost", "Created"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

type jobSummary struct {
	ID                  string           `json:"job_id"`
	Title               string           `json:"title"`
	Status              ledger.JobStatus `json:"status"`
	CostEstimated       float64          `json:"cost_estimated"`
	CostActual          float64          `json:"cost_actual"`
	CostVarianceFlagged bool             `json:"cost_variance_flagged"`
	Error               string           `json:"error,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

func jobSummaries(jobs []ledger.Job) []jobSummary {
	out := make([]jobSummary, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobSummary{
			ID:                  job.ID,
			Title:               job.Title,
			Status:              job.Status,
			CostEstimated:       job.CostEstimated,
			CostActual:          job.CostActual,
			CostVarianceFlagged: job.CostVarianceFlagged,
			Error:               job.ErrorMessage,
			CreatedAt:           job.CreatedAt,
			UpdatedAt:           job.UpdatedAt,
		})
	}
	return out
}

func audioSummary(status pipeline.Status) string {
	switch {
	case !status.AudioEnabled:
		return "disabled"
	case status.FinalAudioRef != "":
		return fmt.Sprintf("%.1fs composed", status.AudioSeconds)
	case status.Status.Terminal():
		return "none (delivered silent)"
	default:
		return "pending"
	}
}

func formatCost(value float64) string {
	return "$" + strconv.FormatFloat(value, 'f', 2, 64)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

func truncate(value string, width int) string {
	value = strings.TrimSpace(value)
	if lipgloss.Width(value) <= width {
		return value
	}
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	return string(runes[:width-1]) + "…"
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
