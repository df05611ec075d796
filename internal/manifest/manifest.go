// Package manifest loads the YAML batch file describing a set of downloads
// for the dlfile command.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adamwoolhether/dlfile/download"
	"github.com/adamwoolhether/dlfile/internal/validate"
)

// Manifest is a batch of downloads sharing one set of settings. Jobs may
// override the overwrite and cleanup policies.
type Manifest struct {
	Concurrency int            `yaml:"concurrency" validate:"gte=1"`
	Overwrite   string         `yaml:"overwrite" validate:"oneof=replace-if-empty replace create-exclusive"`
	Cleanup     string         `yaml:"cleanup" validate:"oneof=if-empty always never"`
	Timeout     time.Duration  `yaml:"timeout" validate:"gte=0"`
	UserAgent   string         `yaml:"user_agent"`
	Decode      bool           `yaml:"decode"`
	Retry       RetryConfig    `yaml:"retry"`
	Throttle    ThrottleConfig `yaml:"throttle"`
	Jobs        []Job          `yaml:"jobs" validate:"required,min=1,dive"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts int           `yaml:"attempts" validate:"gte=0"`
	Backoff  time.Duration `yaml:"backoff" validate:"gte=0"`
}

// ThrottleConfig limits requests per host. A zero RPS disables it.
type ThrottleConfig struct {
	RPS   int `yaml:"rps" validate:"gte=0"`
	Burst int `yaml:"burst" validate:"required_with=RPS,gte=0"`
}

// Job is one URL and where to put it.
type Job struct {
	URL       string `yaml:"url" validate:"required,http_url"`
	Dest      string `yaml:"dest" validate:"required"`
	Overwrite string `yaml:"overwrite" validate:"omitempty,oneof=replace-if-empty replace create-exclusive"`
	Cleanup   string `yaml:"cleanup" validate:"omitempty,oneof=if-empty always never"`
}

// Default returns a Manifest with sensible defaults and no jobs.
func Default() Manifest {
	return Manifest{
		Concurrency: 4,
		Overwrite:   download.ReplaceIfEmpty.String(),
		Cleanup:     download.CleanupIfEmpty.String(),
		Retry: RetryConfig{
			Attempts: 0,
			Backoff:  time.Second,
		},
	}
}

// LoadFromFile reads and parses the manifest at path.
func LoadFromFile(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	return Parse(data)
}

// Parse decodes a manifest over the defaults and validates it. Unknown
// keys are rejected.
func Parse(data []byte) (Manifest, error) {
	m := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}

	if err := validate.Struct(m); err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest: %w", err)
	}

	return m, nil
}

// Policies resolves the overwrite and cleanup policy for j, falling back
// to the manifest-wide settings.
func (m Manifest) Policies(j Job) (download.OverwritePolicy, download.CleanupPolicy, error) {
	ow := m.Overwrite
	if j.Overwrite != "" {
		ow = j.Overwrite
	}
	cl := m.Cleanup
	if j.Cleanup != "" {
		cl = j.Cleanup
	}

	overwrite, ok := download.ParseOverwritePolicy(ow)
	if !ok {
		return 0, 0, fmt.Errorf("job %s: unknown overwrite policy %q", j.Dest, ow)
	}
	cleanup, ok := download.ParseCleanupPolicy(cl)
	if !ok {
		return 0, 0, fmt.Errorf("job %s: unknown cleanup policy %q", j.Dest, cl)
	}

	return overwrite, cleanup, nil
}
