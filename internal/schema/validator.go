package schema

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

const maxLineBytes = 16 << 20

type Diagnostic struct {
	Line     int      `json:"line"`
	Severity Severity `json:"severity" enum:"error,warning"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Severity == SeverityWarning {
		return fmt.Sprintf("[L%d] warning: %s", d.Line, d.Message)
	}
	return fmt.Sprintf("[L%d] %s", d.Line, d.Message)
}

// Report is the outcome of validating one stream.
type Report struct {
	Lines       int          `json:"lines"`
	Errors      int          `json:"errors"`
	Warnings    int          `json:"warnings"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Valid is true when no line produced an error. Warnings never count.
func (r Report) Valid() bool { return r.Errors == 0 }

func (r *Report) add(line int, sev Severity, format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Line: line, Severity: sev, Message: fmt.Sprintf(format, args...)})
	if sev == SeverityError {
		r.Errors++
	} else {
		r.Warnings++
	}
}

// Validate checks every line of r against d. The returned error is only set when
// the stream itself cannot be read.
func Validate(d *Descriptor, r io.Reader) (Report, error) {
	var rep Report
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	n := 0
	for sc.Scan() {
		n++
		checkLine(d, &rep, n, sc.Text())
	}
	rep.Lines = n
	if err := sc.Err(); err != nil {
		return rep, fmt.Errorf("read records: %w", err)
	}
	return rep, nil
}

// ValidateLines is Validate over an in-memory stream.
func ValidateLines(d *Descriptor, lines []string) Report {
	var rep Report
	for i, line := range lines {
		checkLine(d, &rep, i+1, line)
	}
	rep.Lines = len(lines)
	return rep
}

func checkLine(d *Descriptor, rep *Report, n int, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		rep.add(n, SeverityError, "empty line")
		return
	}
	var v any
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		rep.add(n, SeverityError, "invalid json: %v", err)
		return
	}
	obj, ok := v.(map[string]any)
	if !ok {
		rep.add(n, SeverityError, "record is not a JSON object")
		return
	}
	for _, field := range d.Required {
		val, present := obj[field]
		if !present {
			rep.add(n, SeverityError, "missing required field: %s", field)
			continue
		}
		if s, isString := val.(string); isString && strings.TrimSpace(s) == "" {
			rep.add(n, SeverityError, "missing required field: %s", field)
		}
	}
	var extra []string
	for k := range obj {
		if !d.Allows(k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		rep.add(n, SeverityWarning, "unknown field: %s", k)
	}
}
