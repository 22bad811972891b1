package server

import (
	"stageline/internal/domain"
	"stageline/internal/schema"
	"stageline/internal/store"
)

// Response payloads

type RunResponse struct {
	ID         string   `json:"id"`
	Manifest   string   `json:"manifest"`
	Status     string   `json:"status" enum:"running,completed,blocked,failed"`
	Task       string   `json:"task,omitempty"`
	ExitCode   int      `json:"exit_code"`
	Missing    []string `json:"missing,omitempty"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at,omitempty"`
}

type EventResponse struct {
	ID     int64  `json:"id"`
	RunID  string `json:"run_id"`
	TS     string `json:"ts"`
	Phase  string `json:"phase" enum:"START,END,BLOCKER"`
	Task   string `json:"task"`
	Agent  string `json:"agent,omitempty"`
	Status string `json:"status,omitempty"`
}

type IngestRunResponse struct {
	ID      string `json:"id"`
	Store   string `json:"store"`
	Source  string `json:"source,omitempty"`
	Added   int    `json:"added"`
	Skipped int    `json:"skipped"`
	Errors  int    `json:"errors"`
	Failed  bool   `json:"failed"`
	TS      string `json:"ts"`
}

type RecordResponse struct {
	Date              string `json:"date"`
	Company           string `json:"company"`
	Product           string `json:"product"`
	Customer          string `json:"customer,omitempty"`
	Region            string `json:"region,omitempty"`
	ThreatOpportunity string `json:"threat_opportunity,omitempty"`
	Source            string `json:"source,omitempty"`
	Confidence        string `json:"confidence,omitempty"`
}

type StoreStatsResponse struct {
	Path      string `json:"path"`
	Exists    bool   `json:"exists"`
	Rows      int    `json:"rows"`
	ValidRows int    `json:"valid_rows"`
	Companies int    `json:"companies"`
}

type DiagnosticResponse struct {
	Line     int    `json:"line"`
	Severity string `json:"severity" enum:"error,warning"`
	Message  string `json:"message"`
}

type ValidateResponse struct {
	Valid       bool                 `json:"valid"`
	Lines       int                  `json:"lines"`
	Errors      int                  `json:"errors"`
	Warnings    int                  `json:"warnings"`
	Diagnostics []DiagnosticResponse `json:"diagnostics"`
}

type listRuns struct {
	Items []RunResponse `json:"items"`
}

type listEvents struct {
	Items []EventResponse `json:"items"`
}

type listIngestRuns struct {
	Items []IngestRunResponse `json:"items"`
}

type paginatedRecords struct {
	Items []RecordResponse `json:"items"`
	Total int              `json:"total"`
	// NextOffset is set when more rows follow.
	NextOffset *int `json:"next_offset,omitempty"`
}

func runResponse(r domain.Run) RunResponse {
	return RunResponse{
		ID:         r.ID,
		Manifest:   r.Manifest,
		Status:     string(r.Status),
		Task:       r.Task,
		ExitCode:   r.ExitCode,
		Missing:    r.Missing,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:     e.ID,
		RunID:  e.RunID,
		TS:     e.TS,
		Phase:  e.Phase,
		Task:   e.Task,
		Agent:  e.Agent,
		Status: e.Status,
	}
}

func ingestRunResponse(in domain.IngestRun) IngestRunResponse {
	return IngestRunResponse{
		ID:      in.ID,
		Store:   in.Store,
		Source:  in.Source,
		Added:   in.Added,
		Skipped: in.Skipped,
		Errors:  in.Errors,
		Failed:  in.Failed,
		TS:      in.TS,
	}
}

func recordResponse(r domain.NormalizedRecord) RecordResponse {
	return RecordResponse(r)
}

func storeStatsResponse(s store.Stats) StoreStatsResponse {
	return StoreStatsResponse(s)
}

func validateResponse(rep schema.Report) ValidateResponse {
	resp := ValidateResponse{
		Valid:       rep.Valid(),
		Lines:       rep.Lines,
		Errors:      rep.Errors,
		Warnings:    rep.Warnings,
		Diagnostics: []DiagnosticResponse{},
	}
	for _, d := range rep.Diagnostics {
		resp.Diagnostics = append(resp.Diagnostics, DiagnosticResponse{Line: d.Line, Severity: string(d.Severity), Message: d.Message})
	}
	return resp
}
