package blocker

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteMissingInputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "BLOCKER.md")
	if Exists(path) {
		t.Fatalf("blocker should not exist yet")
	}
	err := Write(path, Blocker{Task: "analyze", Reason: MissingInputs, Inputs: []string{"missing.txt", "02_structured/signals.jsonl"}})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "Missing inputs for analyze: [missing.txt, 02_structured/signals.jsonl]\n"
	if string(data) != want {
		t.Fatalf("got %q want %q", data, want)
	}
	if !Exists(path) {
		t.Fatalf("expected blocker to exist")
	}
}

func TestSchemaInvalidSentence(t *testing.T) {
	b := Blocker{Task: "structure", Reason: SchemaInvalid, Inputs: []string{"02_structured/signals.jsonl"}}
	if got := b.String(); got != "Schema validation failed for structure: [02_structured/signals.jsonl]\n" {
		t.Fatalf("unexpected sentence %q", got)
	}
}
