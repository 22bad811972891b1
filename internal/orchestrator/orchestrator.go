// Package orchestrator runs an ordered job chain, gating each job on its
// declared inputs and halting the run at the first blocker or failure.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"stageline/internal/blocker"
	"stageline/internal/domain"
	"stageline/internal/logger"
)

// EventLog receives every execution event in order. A write failure aborts the run.
type EventLog interface {
	Append(evt domain.ExecutionEvent) error
}

// Recorder mirrors a run into the history database. Failures are logged only.
type Recorder interface {
	BeginRun(ctx context.Context, run domain.Run) error
	RecordEvent(ctx context.Context, evt domain.ExecutionEvent) error
	FinishRun(ctx context.Context, run domain.Run) error
}

// Notifier is told about every finished run.
type Notifier interface {
	Notify(ctx context.Context, run domain.Run)
}

type JobOutcome struct {
	Task     string          `json:"task"`
	State    domain.JobState `json:"state"`
	ExitCode int             `json:"exit_code"`
	Missing  []string        `json:"missing,omitempty"`
}

// Result is the outcome of a run. ExitCode is the process exit code to report.
type Result struct {
	RunID    string           `json:"run_id"`
	Status   domain.RunStatus `json:"status"`
	ExitCode int              `json:"exit_code"`
	Jobs     []JobOutcome     `json:"jobs"`
}

type Runner struct {
	// BaseDir is the working directory of every command and the root for
	// relative inputs and the blocker path.
	BaseDir     string
	Manifest    string
	BlockerPath string
	Log         EventLog
	Exec        CommandRunner
	History     Recorder
	Notifier    Notifier
	Logger      logger.Logger
	Now         func() time.Time
	NewRunID    func() string
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Runner) logger() logger.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return logger.GetDefault()
}

func (r *Runner) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.BaseDir, p)
}

// Run executes jobs strictly in order. A job with a missing input writes the
// blocker artifact and ends the run with exit code 1. A job exiting nonzero ends
// the run with that exit code. Work done by earlier jobs is never undone. The
// returned error is reserved for failures of the run log or blocker artifact.
func (r *Runner) Run(ctx context.Context, jobs []domain.JobSpec) (Result, error) {
	runID := uuid.NewString()
	if r.NewRunID != nil {
		runID = r.NewRunID()
	}
	log := r.logger().With("run_id", runID)
	run := domain.Run{
		ID:        runID,
		Manifest:  r.Manifest,
		Status:    domain.RunRunning,
		StartedAt: r.now().Format(time.RFC3339Nano),
	}
	if r.History != nil {
		if err := r.History.BeginRun(ctx, run); err != nil {
			log.Warn("run history unavailable", "error", err)
		}
	}

	res := Result{RunID: runID, Status: domain.RunCompleted}
	for _, job := range jobs {
		outcome := JobOutcome{Task: job.Task, State: domain.JobPending}
		outcome.advance(domain.JobRunning)
		if err := r.emit(ctx, runID, job, domain.PhaseStart, ""); err != nil {
			return r.abort(ctx, run, res, outcome, err)
		}

		if missing := MissingInputs(r.BaseDir, job.Inputs); len(missing) > 0 {
			outcome.Missing = missing
			outcome.ExitCode = 1
			outcome.advance(domain.JobBlocked)
			log.Warn("job blocked on missing inputs", "task", job.Task, "missing", missing)
			if err := blocker.Write(r.resolve(r.BlockerPath), blocker.Blocker{Task: job.Task, Reason: blocker.MissingInputs, Inputs: missing}); err != nil {
				return r.abort(ctx, run, res, outcome, err)
			}
			if err := r.emit(ctx, runID, job, domain.PhaseBlocker, ""); err != nil {
				return r.abort(ctx, run, res, outcome, err)
			}
			return r.halt(ctx, run, res, outcome), nil
		}

		log.Info("job started", "task", job.Task, "agent", job.Agent, "command", job.Command)
		code, err := r.Exec.Run(ctx, r.BaseDir, job.Command)
		if err != nil {
			log.Error("job command did not start", "task", job.Task, "error", err)
			if code == 0 {
				code = ExitNotStarted
			}
		}
		outcome.ExitCode = code
		status := "OK"
		if code != 0 {
			status = fmt.Sprintf("ERR(%d)", code)
		}
		if err := r.emit(ctx, runID, job, domain.PhaseEnd, status); err != nil {
			return r.abort(ctx, run, res, outcome, err)
		}
		if code != 0 {
			outcome.advance(domain.JobFailed)
			log.Error("job failed", "task", job.Task, "exit_code", code)
			return r.halt(ctx, run, res, outcome), nil
		}
		outcome.advance(domain.JobCompleted)
		log.Info("job completed", "task", job.Task)
		res.Jobs = append(res.Jobs, outcome)
	}

	run.Status = domain.RunCompleted
	r.finish(ctx, run)
	log.Info("jobs complete", "jobs", len(jobs))
	return res, nil
}

func (r *Runner) emit(ctx context.Context, runID string, job domain.JobSpec, phase domain.Phase, status string) error {
	evt := domain.ExecutionEvent{
		RunID:  runID,
		TS:     r.now(),
		Task:   job.Task,
		Agent:  job.Agent,
		Phase:  phase,
		Status: status,
	}
	if err := r.Log.Append(evt); err != nil {
		return err
	}
	if r.History != nil {
		if err := r.History.RecordEvent(ctx, evt); err != nil {
			r.logger().Warn("run history event not recorded", "run_id", runID, "error", err)
		}
	}
	return nil
}

// halt ends the run at outcome, which is blocked or failed.
func (r *Runner) halt(ctx context.Context, run domain.Run, res Result, outcome JobOutcome) Result {
	res.Jobs = append(res.Jobs, outcome)
	res.Status = runStatus(outcome.State)
	res.ExitCode = outcome.ExitCode

	run.Status = res.Status
	run.Task = outcome.Task
	run.ExitCode = res.ExitCode
	run.Missing = outcome.Missing
	r.finish(ctx, run)
	return res
}

func (r *Runner) abort(ctx context.Context, run domain.Run, res Result, outcome JobOutcome, err error) (Result, error) {
	outcome.State = domain.JobFailed
	if outcome.ExitCode == 0 {
		outcome.ExitCode = 1
	}
	res = r.halt(ctx, run, res, outcome)
	return res, fmt.Errorf("run %s: task %s: %w", run.ID, outcome.Task, err)
}

func (r *Runner) finish(ctx context.Context, run domain.Run) {
	run.FinishedAt = r.now().Format(time.RFC3339Nano)
	if r.History != nil {
		if err := r.History.FinishRun(ctx, run); err != nil {
			r.logger().Warn("run history not finalized", "run_id", run.ID, "error", err)
		}
	}
	if r.Notifier != nil {
		r.Notifier.Notify(ctx, run)
	}
}
