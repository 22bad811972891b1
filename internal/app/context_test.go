package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveDefaults(t *testing.T) {
	dir := t.TempDir()
	ws, err := Resolve(dir)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ws.FromFile {
		t.Fatalf("no config file was written")
	}
	if ws.BlockerPath() != filepath.Join(dir, "BLOCKER.md") {
		t.Fatalf("unexpected blocker path %s", ws.BlockerPath())
	}
	if ws.Store().Path() != filepath.Join(dir, "02_structured", "knowledge_base.csv") {
		t.Fatalf("unexpected store path %s", ws.Store().Path())
	}
	d, err := ws.Schema()
	if err != nil || d != nil {
		t.Fatalf("missing schema must be nil, got %v %v", d, err)
	}
}

func TestResolveFromFile(t *testing.T) {
	dir := t.TempDir()
	cfg := "paths:\n  blocker: out/BLOCKER.md\nhistory:\n  enabled: false\n"
	if err := os.WriteFile(filepath.Join(dir, "stageline.yml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	ws, err := Resolve(dir)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !ws.FromFile || ws.BlockerPath() != filepath.Join(dir, "out", "BLOCKER.md") {
		t.Fatalf("unexpected workspace %+v", ws)
	}
	if ws.JobsDir() != filepath.Join(dir, "JOBS") {
		t.Fatalf("defaults must fill unset keys, got %s", ws.JobsDir())
	}
	rec, err := ws.OpenHistory()
	if err != nil || rec != nil {
		t.Fatalf("history disabled must yield nil recorder, got %v %v", rec, err)
	}
}

func TestHistoryStatus(t *testing.T) {
	dir := t.TempDir()
	ws, err := Resolve(dir)
	if err != nil {
		t.Fatal(err)
	}
	st, err := ws.HistoryStatus()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Enabled || st.Exists || st.Version != 0 || st.Latest < 1 {
		t.Fatalf("unexpected status before first use %+v", st)
	}
	if st.Path != filepath.Join(dir, ".stageline", "stageline.db") {
		t.Fatalf("unexpected db path %s", st.Path)
	}
	rec, err := ws.OpenHistory()
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	rec.Close()
	st, err = ws.HistoryStatus()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Exists || st.Version != st.Latest {
		t.Fatalf("expected migrated db, got %+v", st)
	}
}

func TestBlockerPresent(t *testing.T) {
	ws, err := Resolve(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if ws.BlockerPresent() {
		t.Fatalf("fresh workspace has no blocker")
	}
	if err := os.WriteFile(ws.BlockerPath(), []byte("Missing inputs for a: [x]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !ws.BlockerPresent() {
		t.Fatalf("expected blocker to be reported")
	}
}

func TestLockStoreSerializes(t *testing.T) {
	ws, err := Resolve(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	first, err := ws.LockStore(context.Background())
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := ws.LockStore(ctx); err == nil {
		t.Fatalf("second lock must wait and fail while the first is held")
	}
	if err := first.Unlock(); err != nil {
		t.Fatal(err)
	}
	second, err := ws.LockStore(context.Background())
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	second.Unlock()
}
