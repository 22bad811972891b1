package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stageline/internal/logger"
	"stageline/internal/repo"
	"stageline/internal/schema"
	"stageline/internal/store"
)

// Config for the HTTP API handler. Repo is nil when run history is disabled and
// Schema is nil when the workspace has no schema descriptor.
type Config struct {
	Repo     *repo.Repo
	Store    *store.Store
	Schema   *schema.Descriptor
	BasePath string
	Logger   logger.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope returned by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

var errHistoryDisabled = errors.New("run history is disabled for this workspace")

// New returns an HTTP handler exposing the stageline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("server: knowledge store is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = logger.GetDefault()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	hcfg := huma.DefaultConfig("Stageline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerRuns(group, cfg.Repo)
	registerIngestRuns(group, cfg.Repo)
	registerStore(group, cfg.Store)
	registerValidate(group, cfg.Schema)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(logger.ContextWithLogger(r.Context(), log)))
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, errHistoryDisabled):
		return newAPIError(http.StatusServiceUnavailable, "history_disabled", err.Error(), nil)
	case errors.Is(err, store.ErrBadHeader):
		return newAPIError(http.StatusConflict, "store_unreadable", err.Error(), nil)
	default:
		logger.FromContext(ctx).Error("request failed", "error", err)
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Stageline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerRuns(api huma.API, r *repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List orchestrator runs, newest first",
	}, func(ctx context.Context, input *struct {
		Manifest string `query:"manifest"`
		Status   string `query:"status" enum:"running,completed,blocked,failed"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body listRuns `json:"body"`
	}, error) {
		if r == nil {
			return nil, handleError(ctx, errHistoryDisabled)
		}
		items, err := r.ListRuns(ctx, repo.RunFilters{Manifest: input.Manifest, Status: input.Status, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := listRuns{Items: []RunResponse{}}
		for _, run := range items {
			resp.Items = append(resp.Items, runResponse(run))
		}
		return &struct {
			Body listRuns `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get one run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		if r == nil {
			return nil, handleError(ctx, errHistoryDisabled)
		}
		run, err := r.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-run-events",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}/events",
		Summary:     "List the execution events of a run in order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body listEvents `json:"body"`
	}, error) {
		if r == nil {
			return nil, handleError(ctx, errHistoryDisabled)
		}
		items, err := r.EventsForRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := listEvents{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body listEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerIngestRuns(api huma.API, r *repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-ingest-runs",
		Method:      http.MethodGet,
		Path:        "/ingest/runs",
		Summary:     "List ingestion batches, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body listIngestRuns `json:"body"`
	}, error) {
		if r == nil {
			return nil, handleError(ctx, errHistoryDisabled)
		}
		items, err := r.ListIngestRuns(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := listIngestRuns{Items: []IngestRunResponse{}}
		for _, in := range items {
			resp.Items = append(resp.Items, ingestRunResponse(in))
		}
		return &struct {
			Body listIngestRuns `json:"body"`
		}{Body: resp}, nil
	})
}

func registerStore(api huma.API, s *store.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-store-records",
		Method:      http.MethodGet,
		Path:        "/store/records",
		Summary:     "List knowledge store rows in file order",
	}, func(ctx context.Context, input *struct {
		Company string `query:"company"`
		Offset  int    `query:"offset" minimum:"0"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedRecords `json:"body"`
	}, error) {
		rows, err := s.Records()
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if input.Company != "" {
			filtered := rows[:0]
			for _, row := range rows {
				if strings.EqualFold(strings.TrimSpace(row.Company), input.Company) {
					filtered = append(filtered, row)
				}
			}
			rows = filtered
		}
		resp := paginatedRecords{Items: []RecordResponse{}, Total: len(rows)}
		limit := normalizeLimit(input.Limit)
		start := input.Offset
		if start > len(rows) {
			start = len(rows)
		}
		end := start + limit
		if end < len(rows) {
			next := end
			resp.NextOffset = &next
		} else {
			end = len(rows)
		}
		for _, row := range rows[start:end] {
			resp.Items = append(resp.Items, recordResponse(row))
		}
		return &struct {
			Body paginatedRecords `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "store-stats",
		Method:      http.MethodGet,
		Path:        "/store/stats",
		Summary:     "Knowledge store row counts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StoreStatsResponse `json:"body"`
	}, error) {
		st, err := s.Stats()
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body StoreStatsResponse `json:"body"`
		}{Body: storeStatsResponse(st)}, nil
	})
}

func registerValidate(api huma.API, d *schema.Descriptor) {
	huma.Register(api, huma.Operation{
		OperationID: "validate-records",
		Method:      http.MethodPost,
		Path:        "/validate",
		Summary:     "Validate a JSON-lines record stream against the workspace schema",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		RawBody []byte `contentType:"application/x-ndjson"`
	}) (*struct {
		Body ValidateResponse `json:"body"`
	}, error) {
		if d == nil {
			return nil, newAPIError(http.StatusUnprocessableEntity, "schema_missing", "no schema descriptor is configured for this workspace", nil)
		}
		rep, err := schema.Validate(d, bytes.NewReader(input.RawBody))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body ValidateResponse `json:"body"`
		}{Body: validateResponse(rep)}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
