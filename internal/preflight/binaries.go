package preflight

import (
	"fmt"
	"os/exec"
	"strings"

	"storyreel/internal/config"
)

// Requirement defines an external binary storyreel relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// BinaryStatus reports the availability of a binary.
type BinaryStatus struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Path        string
	Detail      string
}

func (s BinaryStatus) summary() string {
	if s.Available {
		return fmt.Sprintf("%s (%s)", s.Path, s.Description)
	}
	return s.Detail
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []BinaryStatus {
	results := make([]BinaryStatus, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := BinaryStatus{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		results = append(results, status)
	}
	return results
}

// CheckSystemDeps evaluates the encoder binaries named by cfg.
func CheckSystemDeps(cfg *config.Config) []BinaryStatus {
	return CheckBinaries([]Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.Encoder.FFmpegBinary,
			Description: "Required to combine clips and mux audio",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.Encoder.FFprobeBinary,
			Description: "Measures clip and track durations before muxing",
			Optional:    !cfg.Materialize.ProbeClips,
		},
	})
}
