// Package notify delivers run outcomes to the webhooks configured for a workspace.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stageline/internal/config"
	"stageline/internal/domain"
	"stageline/internal/logger"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhooks posts one JSON document per finished run to every enabled hook whose
// event filter matches. Delivery is attempted once; failures are logged only.
type Webhooks struct {
	hooks  []config.WebhookConfig
	client *http.Client
	log    logger.Logger
}

func NewWebhooks(hooks []config.WebhookConfig, log logger.Logger) *Webhooks {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Webhooks{
		hooks:  hooks,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		log:    log,
	}
}

// RunPayload is the body posted for a finished run.
type RunPayload struct {
	Event    string   `json:"event"`
	RunID    string   `json:"run_id"`
	Manifest string   `json:"manifest"`
	Status   string   `json:"status"`
	Task     string   `json:"task,omitempty"`
	ExitCode int      `json:"exit_code"`
	Missing  []string `json:"missing,omitempty"`
	TS       string   `json:"ts"`
}

// EventName maps a run status to its webhook event name.
func EventName(status domain.RunStatus) string {
	return "run." + string(status)
}

func (w *Webhooks) Notify(ctx context.Context, run domain.Run) {
	if w == nil || len(w.hooks) == 0 {
		return
	}
	evt := EventName(run.Status)
	body := RunPayload{
		Event:    evt,
		RunID:    run.ID,
		Manifest: run.Manifest,
		Status:   string(run.Status),
		Task:     run.Task,
		ExitCode: run.ExitCode,
		Missing:  run.Missing,
		TS:       run.FinishedAt,
	}
	for _, hook := range w.hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if !newEventFilter(hook.Events).match(evt) {
			continue
		}
		if err := w.post(ctx, hook, evt, body); err != nil {
			w.log.Warn("webhook delivery failed", "url", hook.URL, "run_id", run.ID, "error", err)
			continue
		}
		w.log.Debug("webhook delivered", "url", hook.URL, "run_id", run.ID, "event", evt)
	}
}

func (w *Webhooks) post(ctx context.Context, hook config.WebhookConfig, evt string, body RunPayload) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := w.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Stageline-Event", evt)
	req.Header.Set("X-Stageline-Delivery", body.RunID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Stageline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
