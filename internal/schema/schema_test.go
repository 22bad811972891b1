package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func signalsSchema(t *testing.T) *Descriptor {
	t.Helper()
	d, err := New(
		[]string{"entity", "claim", "evidence_path"},
		[]string{"entity", "product", "claim", "evidence_path", "evidence_locator", "confidence"},
	)
	if err != nil {
		t.Fatalf("new descriptor: %v", err)
	}
	return d
}

func TestExtraFieldIsOnlyAWarning(t *testing.T) {
	d := signalsSchema(t)
	rep := ValidateLines(d, []string{`{"entity":"Acme","claim":"ships v2","evidence_path":"01_raw/a.md","mood":"up"}`})
	if !rep.Valid() {
		t.Fatalf("expected valid, got %+v", rep.Diagnostics)
	}
	if rep.Warnings != 1 || rep.Diagnostics[0].Message != "unknown field: mood" {
		t.Fatalf("expected one unknown-field warning, got %+v", rep.Diagnostics)
	}
}

func TestMissingRequiredFailsRegardlessOfExtras(t *testing.T) {
	d := signalsSchema(t)
	rep := ValidateLines(d, []string{`{"entity":"Acme","claim":"  ","evidence_path":"p","mood":"up"}`})
	if rep.Valid() {
		t.Fatalf("blank required string must fail")
	}
	if rep.Errors != 1 || rep.Warnings != 1 {
		t.Fatalf("unexpected counts: %+v", rep)
	}
	if got := rep.Diagnostics[0].String(); got != "[L1] missing required field: claim" {
		t.Fatalf("unexpected diagnostic %q", got)
	}
}

func TestAbsentRequiredFieldPerField(t *testing.T) {
	d := signalsSchema(t)
	rep := ValidateLines(d, []string{`{"entity":"Acme"}`})
	if rep.Errors != 2 {
		t.Fatalf("expected one error per missing field, got %+v", rep.Diagnostics)
	}
}

func TestNonStringRequiredValueCountsAsPresent(t *testing.T) {
	d := signalsSchema(t)
	rep := ValidateLines(d, []string{`{"entity":0,"claim":null,"evidence_path":["a"]}`})
	if !rep.Valid() {
		t.Fatalf("non-string values are present, got %+v", rep.Diagnostics)
	}
}

func TestStreamErrors(t *testing.T) {
	d := signalsSchema(t)
	input := strings.Join([]string{
		`{"entity":"A","claim":"c","evidence_path":"p"}`,
		``,
		`{not json`,
		`["entity"]`,
		`{"entity":"B","claim":"c","evidence_path":"p"}`,
	}, "\n") + "\n"
	rep, err := Validate(d, strings.NewReader(input))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if rep.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", rep.Lines)
	}
	if rep.Errors != 3 || rep.Valid() {
		t.Fatalf("expected 3 errors, got %+v", rep.Diagnostics)
	}
	if rep.Diagnostics[0].Line != 2 || rep.Diagnostics[0].Message != "empty line" {
		t.Fatalf("unexpected first diagnostic %+v", rep.Diagnostics[0])
	}
	if !strings.HasPrefix(rep.Diagnostics[1].Message, "invalid json") {
		t.Fatalf("expected invalid json, got %+v", rep.Diagnostics[1])
	}
}

func TestWhitespaceOnlyLineIsEmpty(t *testing.T) {
	d := signalsSchema(t)
	rep := ValidateLines(d, []string{"   \t"})
	if rep.Valid() || rep.Diagnostics[0].Message != "empty line" {
		t.Fatalf("expected empty line error, got %+v", rep.Diagnostics)
	}
}

func TestDescriptorRules(t *testing.T) {
	if _, err := New([]string{"a"}, []string{"b"}); err == nil {
		t.Fatalf("required outside fields must be rejected")
	}
	d, err := New([]string{"a"}, nil)
	if err != nil {
		t.Fatalf("fields default: %v", err)
	}
	if !d.Allows("a") || len(d.Required) != 1 || d.Allows("b") {
		t.Fatalf("unexpected descriptor sets")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "schema.json")
	if err := os.WriteFile(jsonPath, []byte(`{"required":["entity"],"fields":["entity","claim"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := Load(jsonPath)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if len(d.Required) != 1 || d.Required[0] != "entity" || !d.Allows("claim") {
		t.Fatalf("unexpected descriptor %+v", d)
	}

	yamlPath := filepath.Join(dir, "schema.yaml")
	if err := os.WriteFile(yamlPath, []byte("required: [entity]\nfields: [entity, claim]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(yamlPath); err != nil {
		t.Fatalf("load yaml: %v", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"required":`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected parse error")
	}
}
