package stagelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Stageline HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Run represents an orchestrator run.
type Run struct {
	ID         string   `json:"id"`
	Manifest   string   `json:"manifest"`
	Status     string   `json:"status"`
	Task       string   `json:"task"`
	ExitCode   int      `json:"exit_code"`
	Missing    []string `json:"missing"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at"`
}

// Event represents one START, END or BLOCKER entry of a run.
type Event struct {
	ID     int64  `json:"id"`
	RunID  string `json:"run_id"`
	TS     string `json:"ts"`
	Phase  string `json:"phase"`
	Task   string `json:"task"`
	Agent  string `json:"agent"`
	Status string `json:"status"`
}

// Record is a knowledge store row.
type Record struct {
	Date              string `json:"date"`
	Company           string `json:"company"`
	Product           string `json:"product"`
	Customer          string `json:"customer"`
	Region            string `json:"region"`
	ThreatOpportunity string `json:"threat_opportunity"`
	Source            string `json:"source"`
	Confidence        string `json:"confidence"`
}

// RecordsPage wraps a page of store rows.
type RecordsPage struct {
	Items      []Record `json:"items"`
	Total      int      `json:"total"`
	NextOffset *int     `json:"next_offset"`
}

// StoreStats summarizes the knowledge store.
type StoreStats struct {
	Path      string `json:"path"`
	Exists    bool   `json:"exists"`
	Rows      int    `json:"rows"`
	ValidRows int    `json:"valid_rows"`
	Companies int    `json:"companies"`
}

// Diagnostic is one validator finding.
type Diagnostic struct {
	Line     int    `json:"line"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ValidationReport is the outcome of validating a record stream.
type ValidationReport struct {
	Valid       bool         `json:"valid"`
	Lines       int          `json:"lines"`
	Errors      int          `json:"errors"`
	Warnings    int          `json:"warnings"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health returns nil when the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", "", nil, nil)
}

// Runs lists runs newest first. An empty status lists every run.
func (c *Client) Runs(ctx context.Context, status string, limit int) ([]Run, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp struct {
		Items []Run `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("runs", q), "", nil, &resp)
	return resp.Items, err
}

// Run fetches one run.
func (c *Client) Run(ctx context.Context, id string) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(id), "", nil, &resp)
	return resp, err
}

// RunEvents returns the events of a run in order.
func (c *Client) RunEvents(ctx context.Context, id string) ([]Event, error) {
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(id)+"/events", "", nil, &resp)
	return resp.Items, err
}

// Records returns a page of knowledge store rows.
func (c *Client) Records(ctx context.Context, company string, offset, limit int) (RecordsPage, error) {
	q := url.Values{}
	if company != "" {
		q.Set("company", company)
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp RecordsPage
	err := c.do(ctx, http.MethodGet, withQuery("store/records", q), "", nil, &resp)
	return resp, err
}

// StoreStats returns the knowledge store counters.
func (c *Client) StoreStats(ctx context.Context) (StoreStats, error) {
	var resp StoreStats
	err := c.do(ctx, http.MethodGet, "store/stats", "", nil, &resp)
	return resp, err
}

// Validate posts JSON lines to the server's schema gate.
func (c *Client) Validate(ctx context.Context, lines []string) (ValidationReport, error) {
	var resp ValidationReport
	body := []byte(strings.Join(lines, "\n"))
	err := c.do(ctx, http.MethodPost, "validate", "application/x-ndjson", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body []byte, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(p string, q url.Values) string {
	if len(q) == 0 {
		return p
	}
	return p + "?" + q.Encode()
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	if basePath == "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + basePath
}
