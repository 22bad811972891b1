package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseJSONList(t *testing.T) {
	jobs, err := Parse([]byte(`[
  {"task":"structure","agent":"structurer","command":["python3","agents/structurer.py"],"inputs":["01_raw"]},
  {"task":"analyze","agent":"analyst","command":["python3","agents/analyst.py"]}
]`), FormatJSON)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(jobs) != 2 || jobs[0].Task != "structure" || jobs[1].Agent != "analyst" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	if !reflect.DeepEqual(jobs[0].Inputs, []string{"01_raw"}) || len(jobs[1].Inputs) != 0 {
		t.Fatalf("unexpected inputs %+v", jobs)
	}
}

func TestCommandString(t *testing.T) {
	jobs, err := Parse([]byte(`[{"task":"t","command":"sh -c 'echo hello world'"}]`), FormatJSON)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"sh", "-c", "echo hello world"}
	if !reflect.DeepEqual(jobs[0].Command, want) {
		t.Fatalf("got %q want %q", jobs[0].Command, want)
	}
}

func TestParseYAML(t *testing.T) {
	data := `
- task: clean
  agent: cleaner
  command: python3 agents/cleaner.py --in "01_raw/a b.md"
- task: structure
  command: [python3, agents/structurer.py]
  inputs: [01_raw/*.md]
`
	jobs, err := Parse([]byte(data), FormatYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := jobs[0].Command[len(jobs[0].Command)-1]; got != "01_raw/a b.md" {
		t.Fatalf("unexpected quoted token %q", got)
	}
	if jobs[1].Inputs[0] != "01_raw/*.md" {
		t.Fatalf("unexpected inputs %+v", jobs[1].Inputs)
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"missing task":   `[{"command":["true"]}]`,
		"empty command":  `[{"task":"a","command":[]}]`,
		"blank token":    `[{"task":"a","command":["true",""]}]`,
		"duplicate task": `[{"task":"a","command":["true"]},{"task":"a","command":["false"]}]`,
		"not a list":     `{"task":"a","command":["true"]}`,
		"unterminated":   `[{"task":"a","command":"echo 'oops"}]`,
		"wrong type":     `[{"task":"a","command":7}]`,
	}
	for name, in := range cases {
		if _, err := Parse([]byte(in), FormatJSON); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestExtraKeysIgnored(t *testing.T) {
	inputs := map[Format]string{
		FormatJSON: `[{"task":"a","command":["true"],"retries":3}]`,
		FormatYAML: "- task: a\n  command: [\"true\"]\n  retries: 3\n",
	}
	for format, in := range inputs {
		jobs, err := Parse([]byte(in), format)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if len(jobs) != 1 || jobs[0].Task != "a" {
			t.Fatalf("%s: unexpected jobs %+v", format, jobs)
		}
	}
}

func TestLoadPicksFormatByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cycle.yaml")
	if err := os.WriteFile(path, []byte("- task: a\n  command: [\"true\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	jobs, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	_, err = Load(filepath.Join(dir, "missing.json"))
	if err == nil || !strings.Contains(err.Error(), "read manifest") {
		t.Fatalf("expected read error, got %v", err)
	}
}
