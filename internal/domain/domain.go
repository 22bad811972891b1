package domain

import "time"

// JobSpec is one manifest entry. It is not modified after the manifest is loaded.
type JobSpec struct {
	Task    string   `json:"task" yaml:"task" validate:"required"`
	Agent   string   `json:"agent,omitempty" yaml:"agent"`
	Command []string `json:"command" yaml:"command" validate:"required,min=1,dive,required"`
	Inputs  []string `json:"inputs,omitempty" yaml:"inputs"`
}

type Phase string

const (
	PhaseStart   Phase = "START"
	PhaseEnd     Phase = "END"
	PhaseBlocker Phase = "BLOCKER"
)

type ExecutionEvent struct {
	RunID  string    `json:"run_id,omitempty"`
	TS     time.Time `json:"ts" format:"date-time"`
	Task   string    `json:"task"`
	Agent  string    `json:"agent,omitempty"`
	Phase  Phase     `json:"phase" enum:"START,END,BLOCKER"`
	Status string    `json:"status,omitempty"`
}

// JobState tracks one job through a run: pending -> running -> completed|blocked|failed.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobBlocked   JobState = "blocked"
	JobFailed    JobState = "failed"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunBlocked   RunStatus = "blocked"
	RunFailed    RunStatus = "failed"
)

// Run summarizes one orchestrator run. Task and Missing name the job that halted it.
type Run struct {
	ID         string    `json:"id"`
	Manifest   string    `json:"manifest"`
	Status     RunStatus `json:"status" enum:"running,completed,blocked,failed"`
	Task       string    `json:"task,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Missing    []string  `json:"missing,omitempty"`
	StartedAt  string    `json:"started_at" format:"date-time"`
	FinishedAt string    `json:"finished_at,omitempty" format:"date-time"`
}

// Event is an ExecutionEvent as stored in the run history.
type Event struct {
	ID     int64  `json:"id"`
	RunID  string `json:"run_id"`
	TS     string `json:"ts"`
	Phase  string `json:"phase"`
	Task   string `json:"task"`
	Agent  string `json:"agent,omitempty"`
	Status string `json:"status,omitempty"`
}

// RawRecord is an unshaped input record; several spellings may name the same field.
type RawRecord map[string]any

// NormalizedRecord is the canonical knowledge store row.
type NormalizedRecord struct {
	Date              string `json:"date" validate:"required"`
	Company           string `json:"company" validate:"required"`
	Product           string `json:"product" validate:"required"`
	Customer          string `json:"customer"`
	Region            string `json:"region"`
	ThreatOpportunity string `json:"threat_opportunity"`
	Source            string `json:"source"`
	Confidence        string `json:"confidence" validate:"omitempty,oneof=H M L"`
}

// RecordKey is the composite uniqueness key of the knowledge store.
type RecordKey struct {
	Date    string
	Company string
	Product string
}

func (r NormalizedRecord) Key() RecordKey {
	return RecordKey{Date: r.Date, Company: r.Company, Product: r.Product}
}

type IngestStats struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

func (s IngestStats) Total() int { return s.Added + s.Skipped + s.Errors }

// IngestRun is an ingestion batch as stored in the run history.
type IngestRun struct {
	ID      string `json:"id"`
	Store   string `json:"store"`
	Source  string `json:"source,omitempty"`
	Added   int    `json:"added"`
	Skipped int    `json:"skipped"`
	Errors  int    `json:"errors"`
	Failed  bool   `json:"failed"`
	TS      string `json:"ts" format:"date-time"`
}
