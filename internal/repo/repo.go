package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"stageline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const runColumns = `id,manifest,status,COALESCE(task,'') AS task,exit_code,COALESCE(missing_json,'') AS missing_json,started_at,COALESCE(finished_at,'') AS finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.Run, error) {
	var r domain.Run
	var missing string
	if err := row.Scan(&r.ID, &r.Manifest, &r.Status, &r.Task, &r.ExitCode, &missing, &r.StartedAt, &r.FinishedAt); err != nil {
		return r, err
	}
	if missing != "" {
		if err := json.Unmarshal([]byte(missing), &r.Missing); err != nil {
			return r, fmt.Errorf("decode missing inputs of run %s: %w", r.ID, err)
		}
	}
	return r, nil
}

func (r Repo) InsertRun(ctx context.Context, run domain.Run) error {
	missing, err := marshalStringSlice(run.Missing)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO runs(id,manifest,status,task,exit_code,missing_json,started_at,finished_at) VALUES (?,?,?,?,?,?,?,?)`,
		run.ID, run.Manifest, string(run.Status), nullable(run.Task), run.ExitCode, missing, run.StartedAt, nullable(run.FinishedAt))
	return err
}

// FinishRun stores the final status of a run.
func (r Repo) FinishRun(ctx context.Context, run domain.Run) error {
	missing, err := marshalStringSlice(run.Missing)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE runs SET status=?,task=?,exit_code=?,missing_json=?,finished_at=? WHERE id=?`,
		string(run.Status), nullable(run.Task), run.ExitCode, missing, nullable(run.FinishedAt), run.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	run, err := scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	return run, err
}

// RunFilters narrows ListRuns. Zero values mean no filter.
type RunFilters struct {
	Manifest string
	Status   string
	Limit    int
}

// ListRuns returns runs newest first.
func (r Repo) ListRuns(ctx context.Context, f RunFilters) ([]domain.Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if f.Manifest != "" {
		q += ` AND manifest=?`
		args = append(args, f.Manifest)
	}
	if f.Status != "" {
		q += ` AND status=?`
		args = append(args, f.Status)
	}
	q += ` ORDER BY started_at DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.TS, &e.Phase, &e.Task, &e.Agent, &e.Status); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

const eventColumns = `id,run_id,ts,phase,task,COALESCE(agent,'') AS agent,COALESCE(status,'') AS status`

// EventsForRun returns the events of one run in emission order.
func (r Repo) EventsForRun(ctx context.Context, runID string) ([]domain.Event, error) {
	if _, err := r.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE run_id=? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEvents returns the last n events across all runs, oldest first.
func (r Repo) LatestEvents(ctx context.Context, n int) ([]domain.Event, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT * FROM (SELECT `+eventColumns+` FROM events ORDER BY id DESC LIMIT ?) ORDER BY id`, n)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r Repo) InsertIngestRun(ctx context.Context, in domain.IngestRun) error {
	failed := 0
	if in.Failed {
		failed = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO ingest_runs(id,store,source,added,skipped,errors,failed,ts) VALUES (?,?,?,?,?,?,?,?)`,
		in.ID, in.Store, nullable(in.Source), in.Added, in.Skipped, in.Errors, failed, in.TS)
	return err
}

// ListIngestRuns returns ingestion batches newest first.
func (r Repo) ListIngestRuns(ctx context.Context, limit int) ([]domain.IngestRun, error) {
	q := `SELECT id,store,COALESCE(source,'') AS source,added,skipped,errors,failed,ts FROM ingest_runs ORDER BY ts DESC, id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IngestRun
	for rows.Next() {
		var in domain.IngestRun
		var failed int
		if err := rows.Scan(&in.ID, &in.Store, &in.Source, &in.Added, &in.Skipped, &in.Errors, &failed, &in.TS); err != nil {
			return nil, err
		}
		in.Failed = failed != 0
		res = append(res, in)
	}
	return res, rows.Err()
}

func marshalStringSlice(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
