// Package history records orchestrator runs and ingestion batches in the
// workspace database. Nothing here decides the outcome of a run.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stageline/internal/db"
	"stageline/internal/domain"
	"stageline/internal/events"
	"stageline/internal/migrate"
	"stageline/internal/repo"
)

type Recorder struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(conn *sql.DB) *Recorder {
	return &Recorder{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{DB: conn},
		Now:    time.Now,
	}
}

// Open opens and migrates the workspace database.
func Open(workspace string) (*Recorder, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return New(conn), nil
}

func (r *Recorder) Close() error {
	return r.DB.Close()
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Recorder) BeginRun(ctx context.Context, run domain.Run) error {
	if run.StartedAt == "" {
		run.StartedAt = r.now().Format(time.RFC3339Nano)
	}
	return r.Repo.InsertRun(ctx, run)
}

func (r *Recorder) RecordEvent(ctx context.Context, evt domain.ExecutionEvent) error {
	return r.Events.AppendDirect(ctx, evt)
}

func (r *Recorder) FinishRun(ctx context.Context, run domain.Run) error {
	if run.FinishedAt == "" {
		run.FinishedAt = r.now().Format(time.RFC3339Nano)
	}
	return r.Repo.FinishRun(ctx, run)
}

// RecordIngest stores the counters of one ingestion batch. failed marks a batch
// stopped by a store write error.
func (r *Recorder) RecordIngest(ctx context.Context, store, source string, stats domain.IngestStats, failed bool) (domain.IngestRun, error) {
	in := domain.IngestRun{
		ID:      uuid.NewString(),
		Store:   store,
		Source:  source,
		Added:   stats.Added,
		Skipped: stats.Skipped,
		Errors:  stats.Errors,
		Failed:  failed,
		TS:      r.now().Format(time.RFC3339Nano),
	}
	return in, r.Repo.InsertIngestRun(ctx, in)
}
