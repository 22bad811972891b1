package history_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"stageline/internal/domain"
	"stageline/internal/history"
	"stageline/internal/migrate"
	"stageline/internal/repo"
)

type testEnv struct {
	Rec *history.Recorder
	Ctx context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	rec, err := history.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { rec.Close() })
	rec.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Rec: rec, Ctx: context.Background()}
}

func TestMigrateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if err := migrate.Migrate(env.Rec.DB); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := migrate.Version(env.Rec.DB)
	if err != nil {
		t.Fatal(err)
	}
	latest, _ := migrate.Latest()
	if v != latest || v == 0 {
		t.Fatalf("expected version %d, got %d", latest, v)
	}
}

func TestRunLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	run := domain.Run{ID: "run-1", Manifest: "jobs.json", Status: domain.RunRunning, StartedAt: ts.Format(time.RFC3339Nano)}
	if err := env.Rec.BeginRun(env.Ctx, run); err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, evt := range []domain.ExecutionEvent{
		{RunID: "run-1", TS: ts, Task: "a", Agent: "agent-a", Phase: domain.PhaseStart},
		{RunID: "run-1", TS: ts, Task: "a", Phase: domain.PhaseEnd, Status: "OK"},
		{RunID: "run-1", TS: ts, Task: "b", Phase: domain.PhaseStart},
		{RunID: "run-1", TS: ts, Task: "b", Phase: domain.PhaseBlocker},
	} {
		if err := env.Rec.RecordEvent(env.Ctx, evt); err != nil {
			t.Fatalf("record event: %v", err)
		}
	}
	run.Status = domain.RunBlocked
	run.Task = "b"
	run.ExitCode = 1
	run.Missing = []string{"missing.txt"}
	if err := env.Rec.FinishRun(env.Ctx, run); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, err := env.Rec.Repo.GetRun(env.Ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunBlocked || got.ExitCode != 1 || !reflect.DeepEqual(got.Missing, []string{"missing.txt"}) || got.FinishedAt == "" {
		t.Fatalf("unexpected run %+v", got)
	}
	evts, err := env.Rec.Repo.EventsForRun(env.Ctx, "run-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 4 || evts[0].Agent != "agent-a" || evts[1].Status != "OK" || evts[3].Phase != "BLOCKER" {
		t.Fatalf("unexpected events %+v", evts)
	}
	latest, err := env.Rec.Repo.LatestEvents(env.Ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 || latest[1].Phase != "BLOCKER" {
		t.Fatalf("unexpected latest events %+v", latest)
	}
	runs, err := env.Rec.Repo.ListRuns(env.Ctx, repo.RunFilters{Status: "blocked"})
	if err != nil || len(runs) != 1 {
		t.Fatalf("list runs: %v %+v", err, runs)
	}
}

func TestUnknownRun(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Rec.Repo.GetRun(env.Ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.Rec.Repo.EventsForRun(env.Ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := env.Rec.FinishRun(env.Ctx, domain.Run{ID: "nope", Status: domain.RunFailed}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordIngest(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Rec.RecordIngest(env.Ctx, "02_structured/knowledge_base.csv", "batch.jsonl", domain.IngestStats{Added: 3, Skipped: 1, Errors: 1}, false); err != nil {
		t.Fatalf("record ingest: %v", err)
	}
	runs, err := env.Rec.Repo.ListIngestRuns(env.Ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Added != 3 || runs[0].Source != "batch.jsonl" || runs[0].Failed {
		t.Fatalf("unexpected ingest runs %+v", runs)
	}
}
