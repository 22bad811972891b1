package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"stageline/internal/domain"
	"stageline/internal/logger"
	"stageline/internal/runlog"
)

type memLog struct {
	events []domain.ExecutionEvent
	fail   bool
}

func (m *memLog) Append(evt domain.ExecutionEvent) error {
	if m.fail {
		return errors.New("read-only file system")
	}
	m.events = append(m.events, evt)
	return nil
}

func (m *memLog) lines() []string {
	var out []string
	for _, e := range m.events {
		s := string(e.Phase) + " " + e.Task
		if e.Status != "" {
			s += " " + e.Status
		}
		out = append(out, s)
	}
	return out
}

type fakeExec struct {
	codes map[string]int
	ran   []string
}

func (f *fakeExec) Run(_ context.Context, _ string, argv []string) (int, error) {
	f.ran = append(f.ran, argv[0])
	return f.codes[argv[0]], nil
}

type memRecorder struct {
	mu       sync.Mutex
	begun    []domain.Run
	events   int
	finished []domain.Run
}

func (m *memRecorder) BeginRun(_ context.Context, run domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begun = append(m.begun, run)
	return nil
}

func (m *memRecorder) RecordEvent(context.Context, domain.ExecutionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events++
	return errors.New("history is best effort")
}

func (m *memRecorder) FinishRun(_ context.Context, run domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, run)
	return nil
}

type memNotifier struct{ runs []domain.Run }

func (m *memNotifier) Notify(_ context.Context, run domain.Run) { m.runs = append(m.runs, run) }

func newRunner(t *testing.T, log EventLog, ex CommandRunner) *Runner {
	t.Helper()
	return &Runner{
		BaseDir:     t.TempDir(),
		Manifest:    "jobs.json",
		BlockerPath: "BLOCKER.md",
		Log:         log,
		Exec:        ex,
		Logger:      logger.NewLogger(logger.TestConfig()),
		Now:         func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) },
		NewRunID:    func() string { return "run-1" },
	}
}

func TestGatingScenario(t *testing.T) {
	log := &memLog{}
	ex := &fakeExec{codes: map[string]int{}}
	r := newRunner(t, log, ex)
	notifier := &memNotifier{}
	r.Notifier = notifier

	res, err := r.Run(context.Background(), []domain.JobSpec{
		{Task: "A", Agent: "a", Command: []string{"job-a"}},
		{Task: "B", Agent: "b", Command: []string{"job-b"}, Inputs: []string{"missing.txt"}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode == 0 || res.Status != domain.RunBlocked {
		t.Fatalf("expected blocked nonzero result, got %+v", res)
	}
	want := []string{"START A", "END A OK", "START B", "BLOCKER B"}
	if !reflect.DeepEqual(log.lines(), want) {
		t.Fatalf("got %q want %q", log.lines(), want)
	}
	if !reflect.DeepEqual(ex.ran, []string{"job-a"}) {
		t.Fatalf("job B must not execute, ran %q", ex.ran)
	}
	data, err := os.ReadFile(filepath.Join(r.BaseDir, "BLOCKER.md"))
	if err != nil {
		t.Fatalf("blocker not written: %v", err)
	}
	if !strings.Contains(string(data), "B") || !strings.Contains(string(data), "missing.txt") {
		t.Fatalf("blocker must name task and input, got %q", data)
	}
	if len(notifier.runs) != 1 || notifier.runs[0].Task != "B" || !reflect.DeepEqual(notifier.runs[0].Missing, []string{"missing.txt"}) {
		t.Fatalf("unexpected notification %+v", notifier.runs)
	}
}

func TestFailingJobPropagatesExitCode(t *testing.T) {
	log := &memLog{}
	ex := &fakeExec{codes: map[string]int{"second": 3}}
	r := newRunner(t, log, ex)

	res, err := r.Run(context.Background(), []domain.JobSpec{
		{Task: "one", Command: []string{"first"}},
		{Task: "two", Command: []string{"second"}},
		{Task: "three", Command: []string{"third"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 || res.Status != domain.RunFailed {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := log.lines(); got[len(got)-1] != "END two ERR(3)" {
		t.Fatalf("unexpected log %q", got)
	}
	if len(ex.ran) != 2 {
		t.Fatalf("run must stop after failure, ran %q", ex.ran)
	}
	if _, err := os.Stat(filepath.Join(r.BaseDir, "BLOCKER.md")); !os.IsNotExist(err) {
		t.Fatalf("a failed command must not write a blocker")
	}
}

func TestAllJobsComplete(t *testing.T) {
	log := &memLog{}
	ex := &fakeExec{codes: map[string]int{}}
	r := newRunner(t, log, ex)
	rec := &memRecorder{}
	r.History = rec
	if err := os.WriteFile(filepath.Join(r.BaseDir, "in.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := r.Run(context.Background(), []domain.JobSpec{
		{Task: "a", Command: []string{"a"}, Inputs: []string{"in.txt"}},
		{Task: "b", Command: []string{"b"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 || res.Status != domain.RunCompleted || len(res.Jobs) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, j := range res.Jobs {
		if j.State != domain.JobCompleted {
			t.Fatalf("unexpected job state %+v", j)
		}
	}
	if len(rec.begun) != 1 || rec.events != 4 || len(rec.finished) != 1 || rec.finished[0].Status != domain.RunCompleted {
		t.Fatalf("unexpected history %+v", rec)
	}
}

func TestLogFailureAbortsRun(t *testing.T) {
	ex := &fakeExec{codes: map[string]int{}}
	r := newRunner(t, &memLog{fail: true}, ex)
	res, err := r.Run(context.Background(), []domain.JobSpec{{Task: "a", Command: []string{"a"}}})
	if err == nil || res.ExitCode == 0 {
		t.Fatalf("expected abort, got %+v %v", res, err)
	}
	if len(ex.ran) != 0 {
		t.Fatalf("no command may run without a log")
	}
}

func TestProcessRunnerExitCodes(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	dir := t.TempDir()
	logPath := runlog.PathFor(filepath.Join(dir, "JOBS"), "cycle.json")
	l, err := runlog.Open(logPath)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	r := &Runner{
		BaseDir:     dir,
		Manifest:    "cycle.json",
		BlockerPath: "BLOCKER.md",
		Log:         l,
		Exec:        ProcessRunner{Stdout: &strings.Builder{}, Stderr: &strings.Builder{}},
		Logger:      logger.NewLogger(logger.TestConfig()),
	}
	res, err := r.Run(context.Background(), []domain.JobSpec{
		{Task: "touch", Command: []string{"sh", "-c", "echo ok > out.txt"}},
		{Task: "check", Command: []string{"sh", "-c", "test -f out.txt && exit 3"}, Inputs: []string{"out.txt"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %+v", res)
	}
	lines, err := runlog.Tail(logPath, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 4 || !strings.HasSuffix(lines[3], "END check ERR(3)") {
		t.Fatalf("unexpected log %q", lines)
	}

	code, err := ProcessRunner{}.Run(context.Background(), dir, []string{"definitely-not-a-command-xyz"})
	if err == nil || code != ExitNotStarted {
		t.Fatalf("expected start failure, got %d %v", code, err)
	}
}

func TestMissingInputsGlob(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "01_raw", "2024"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "01_raw", "2024", "a.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	got := MissingInputs(dir, []string{"01_raw", "01_raw/**/*.md", "01_raw/*.json", "nope.txt", "[bad"})
	want := []string{"01_raw/*.json", "nope.txt", "[bad"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestJobTransitions(t *testing.T) {
	if err := ensureJobTransition(domain.JobPending, domain.JobCompleted); err == nil {
		t.Fatalf("pending cannot complete without running")
	}
	if err := ensureJobTransition(domain.JobBlocked, domain.JobRunning); err == nil {
		t.Fatalf("blocked is terminal")
	}
	if err := ensureJobTransition(domain.JobRunning, domain.JobFailed); err != nil {
		t.Fatal(err)
	}
}
