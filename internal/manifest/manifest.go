// Package manifest loads the ordered job list driven by the orchestrator.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/shlex"
	"gopkg.in/yaml.v3"

	"stageline/internal/domain"
)

var ErrInvalid = errors.New("invalid manifest")

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// command accepts either an argv list or a single shell-like string.
type command []string

func (c *command) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return c.split(s)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("command must be a string or a list of strings")
	}
	*c = list
	return nil
}

func (c *command) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return c.split(node.Value)
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*c = list
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or a list of strings", node.Line)
	}
}

func (c *command) split(s string) error {
	if strings.ContainsAny(s, "\r\n") {
		return fmt.Errorf("command cannot contain newlines")
	}
	parts, err := shlex.Split(s)
	if err != nil {
		return fmt.Errorf("failed to parse command: %w", err)
	}
	*c = parts
	return nil
}

type jobEntry struct {
	Task    string   `json:"task" yaml:"task"`
	Agent   string   `json:"agent" yaml:"agent"`
	Command command  `json:"command" yaml:"command"`
	Inputs  []string `json:"inputs" yaml:"inputs"`
}

var validate = validator.New()

// FormatFor picks the decoder from the file extension; anything but .yml/.yaml is JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads and validates a manifest file.
func Load(path string) ([]domain.JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	jobs, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return jobs, nil
}

// Parse decodes a manifest and checks every job has a task and a command, and
// that task names are unique.
func Parse(data []byte, format Format) ([]domain.JobSpec, error) {
	var entries []jobEntry
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	default:
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	jobs := make([]domain.JobSpec, 0, len(entries))
	seen := map[string]int{}
	for i, e := range entries {
		job := domain.JobSpec{
			Task:    strings.TrimSpace(e.Task),
			Agent:   strings.TrimSpace(e.Agent),
			Command: []string(e.Command),
			Inputs:  e.Inputs,
		}
		if err := validate.Struct(job); err != nil {
			return nil, fmt.Errorf("%w: job %d: %s", ErrInvalid, i+1, describe(err))
		}
		if prev, dup := seen[job.Task]; dup {
			return nil, fmt.Errorf("%w: job %d: task %q already defined by job %d", ErrInvalid, i+1, job.Task, prev)
		}
		seen[job.Task] = i + 1
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := strings.ToLower(fe.StructField())
	switch fe.Tag() {
	case "required", "min":
		return field + " is required"
	default:
		return fmt.Sprintf("%s fails %s", field, fe.Tag())
	}
}
