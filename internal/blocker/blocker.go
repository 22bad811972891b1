// Package blocker writes the sentinel artifact that marks a pipeline run as halted.
package blocker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Reason string

const (
	MissingInputs Reason = "missing-inputs"
	SchemaInvalid Reason = "schema-invalid"
)

// Blocker names the task that tripped a gate and the inputs at fault.
type Blocker struct {
	Task   string
	Reason Reason
	Inputs []string
}

// String renders the fixed sentence written to the artifact.
func (b Blocker) String() string {
	list := "[" + strings.Join(b.Inputs, ", ") + "]"
	switch b.Reason {
	case SchemaInvalid:
		return fmt.Sprintf("Schema validation failed for %s: %s\n", b.Task, list)
	default:
		return fmt.Sprintf("Missing inputs for %s: %s\n", b.Task, list)
	}
}

// Write replaces the artifact at path with b.
func Write(path string, b Blocker) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("blocker: ensure dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("blocker: write %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a blocker artifact is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
