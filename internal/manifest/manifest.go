// Package manifest loads job submissions from YAML files.
//
// A manifest lists the ordered image pairs of one job:
//
//	title: harbour at dusk
//	music_prompt: slow ambient pads
//	default_duration_seconds: 6
//	pairs:
//	  - start_image: frames/01.png
//	    end_image: frames/02.png
//	    prompt: camera drifts toward the lighthouse
//	    music_direction: gentle build
//
// Local image paths are resolved against the manifest's directory so the
// daemon can read them regardless of the submitting process's working
// directory.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"storyreel/internal/ledger"
	"storyreel/internal/pipeline"
	"storyreel/internal/services"
)

// Manifest is the on-disk job description.
type Manifest struct {
	Title           string  `yaml:"title"`
	MusicPrompt     string  `yaml:"music_prompt"`
	NoAudio         bool    `yaml:"no_audio"`
	DefaultDuration float64 `yaml:"default_duration_seconds"`
	Pairs           []Pair  `yaml:"pairs"`
}

// Pair is one scene transition in a manifest.
type Pair struct {
	StartImage      string  `yaml:"start_image"`
	EndImage        string  `yaml:"end_image"`
	Prompt          string  `yaml:"prompt"`
	DurationSeconds float64 `yaml:"duration_seconds"`
	MusicDirection  string  `yaml:"music_direction"`
}

// Load reads and decodes the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "manifest", "read", path, err)
	}
	m, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	m.resolveLocal(filepath.Dir(abs))
	return m, nil
}

// Parse decodes a manifest without touching the filesystem. Unknown keys
// are rejected.
func Parse(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, services.Wrap(services.ErrValidation, "manifest", "parse", "empty manifest", nil)
		}
		return nil, services.Wrap(services.ErrValidation, "manifest", "parse", "invalid yaml", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest shape. Provider-specific limits such as the
// maximum clip duration are enforced at submission.
func (m *Manifest) Validate() error {
	if len(m.Pairs) == 0 {
		return services.Wrap(services.ErrValidation, "manifest", "validate", "at least one pair is required", nil)
	}
	if m.DefaultDuration < 0 {
		return services.Wrap(services.ErrValidation, "manifest", "validate", "default_duration_seconds must be positive", nil)
	}
	for i, p := range m.Pairs {
		if strings.TrimSpace(p.StartImage) == "" || strings.TrimSpace(p.EndImage) == "" {
			return services.Wrap(services.ErrValidation, "manifest", "validate",
				fmt.Sprintf("pair %d: start_image and end_image are required", i), nil)
		}
		if p.DurationSeconds == 0 && m.DefaultDuration == 0 {
			return services.Wrap(services.ErrValidation, "manifest", "validate",
				fmt.Sprintf("pair %d: duration_seconds is required without default_duration_seconds", i), nil)
		}
		if p.DurationSeconds < 0 {
			return services.Wrap(services.ErrValidation, "manifest", "validate",
				fmt.Sprintf("pair %d: duration_seconds must be positive", i), nil)
		}
	}
	return nil
}

// Request converts the manifest into a job submission.
func (m *Manifest) Request() pipeline.JobRequest {
	pairs := make([]ledger.Pair, 0, len(m.Pairs))
	for _, p := range m.Pairs {
		duration := p.DurationSeconds
		if duration == 0 {
			duration = m.DefaultDuration
		}
		pairs = append(pairs, ledger.Pair{
			StartImage:      strings.TrimSpace(p.StartImage),
			EndImage:        strings.TrimSpace(p.EndImage),
			Prompt:          strings.TrimSpace(p.Prompt),
			DurationSeconds: duration,
			MusicDirection:  strings.TrimSpace(p.MusicDirection),
		})
	}
	return pipeline.JobRequest{
		Title:       strings.TrimSpace(m.Title),
		MusicPrompt: strings.TrimSpace(m.MusicPrompt),
		NoAudio:     m.NoAudio,
		Pairs:       pairs,
	}
}

func (m *Manifest) resolveLocal(dir string) {
	for i := range m.Pairs {
		m.Pairs[i].StartImage = localPath(dir, m.Pairs[i].StartImage)
		m.Pairs[i].EndImage = localPath(dir, m.Pairs[i].EndImage)
	}
}

// localPath rewrites a relative reference to an absolute path when the file
// exists next to the manifest. Everything else is left for the asset
// resolver.
func localPath(dir, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || filepath.IsAbs(ref) {
		return ref
	}
	if parsed, err := url.Parse(ref); err == nil && parsed.Scheme != "" {
		return ref
	}
	candidate := filepath.Join(dir, ref)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	}
	return ref
}
