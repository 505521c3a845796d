package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"etica/internal/assessment"
	"etica/internal/detect"
	"etica/internal/domain"
	"etica/internal/engine"
	"etica/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	BasePath  string
	Logger    *slog.Logger
	RateLimit RateLimit
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"invalid cursor"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope shared by every route.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the ETICA API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "server")
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Request bodies that fail schema validation are bad requests.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	if cfg.RateLimit.RPS > 0 {
		router.Use(newClientLimiter(cfg.RateLimit).middleware)
	}
	hcfg := huma.DefaultConfig("ETICA API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, logger: logger}
	registerDocs(router, basePath)
	registerHealth(group)
	registerCatalog(group, h)
	registerEvaluation(group, h)
	registerJournal(group, h)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type handlers struct {
	engine engine.Engine
	logger *slog.Logger
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

func (h handlers) handleError(ctx context.Context, op string, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *assessment.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"problems": ve.Problems})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	h.logger.ErrorContext(ctx, "request failed", "operation", op, "error", err)
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
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
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil || oas.Components == nil || oas.Components.Schemas == nil {
		return
	}
	errSchema := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: errSchema},
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
    <title>ETICA API Docs</title>
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

func registerCatalog(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "Active detection rules",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RulesResponse `json:"body"`
	}, error) {
		return &struct {
			Body RulesResponse `json:"body"`
		}{Body: rulesResponse(h.engine.Detector)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-domains",
		Method:      http.MethodGet,
		Path:        "/domains",
		Summary:     "Ethical domain catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DomainsResponse `json:"body"`
	}, error) {
		return &struct {
			Body DomainsResponse `json:"body"`
		}{Body: DomainsResponse{Items: domain.DomainCatalog()}}, nil
	})
}

func registerEvaluation(api huma.API, h handlers) {
	errs := []int{http.StatusBadRequest, http.StatusInternalServerError}

	huma.Register(api, huma.Operation{
		OperationID: "detect",
		Method:      http.MethodPost,
		Path:        "/detect",
		Summary:     "Detect tensions",
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		Body engine.DetectRequest `json:"body"`
	}) (*struct {
		Body engine.DetectResult `json:"body"`
	}, error) {
		res, err := h.engine.Detect(ctx, input.Body)
		if err != nil {
			return nil, h.handleError(ctx, "detect", err)
		}
		return &struct {
			Body engine.DetectResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "score",
		Method:      http.MethodPost,
		Path:        "/score",
		Summary:     "Compute vigilance scores",
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		Body engine.ScoreRequest `json:"body"`
	}) (*struct {
		Body engine.ScoreResult `json:"body"`
	}, error) {
		res, err := h.engine.Score(ctx, input.Body)
		if err != nil {
			return nil, h.handleError(ctx, "score", err)
		}
		return &struct {
			Body engine.ScoreResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assess",
		Method:      http.MethodPost,
		Path:        "/assess",
		Summary:     "Detect, reconcile and score an assessment document",
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		Body assessment.Document `json:"body"`
	}) (*struct {
		Body engine.AssessResult `json:"body"`
	}, error) {
		res, err := h.engine.Assess(ctx, input.Body)
		if err != nil {
			return nil, h.handleError(ctx, "assess", err)
		}
		return &struct {
			Body engine.AssessResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile",
		Method:      http.MethodPost,
		Path:        "/reconcile",
		Summary:     "Merge a fresh detection into recorded tensions",
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		Body assessment.Document `json:"body"`
	}) (*struct {
		Body engine.ReconcileResult `json:"body"`
	}, error) {
		res, err := h.engine.Reconcile(ctx, input.Body)
		if err != nil {
			return nil, h.handleError(ctx, "reconcile", err)
		}
		return &struct {
			Body engine.ReconcileResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerJournal(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-journal",
		Method:      http.MethodGet,
		Path:        "/journal",
		Summary:     "List recent evaluation runs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SystemID string `query:"system_id"`
		Type     string `query:"type" enum:"detect.run,score.run,assess.run,reconcile.run"`
		RunID    string `query:"run_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if h.engine.DB == nil {
			return &struct {
				Body paginatedEvents `json:"body"`
			}{Body: resp}, nil
		}
		filter := repo.EventFilter{SystemID: input.SystemID, Type: input.Type, RunID: input.RunID}
		items, err := h.engine.Repo.LatestEventsFrom(ctx, limit+1, cursorID, filter)
		if err != nil {
			return nil, h.handleError(ctx, "list-journal", err)
		}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-journal-event",
		Method:      http.MethodGet,
		Path:        "/journal/events/{id}",
		Summary:     "Get one evaluation run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if h.engine.DB == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "journal disabled", nil)
		}
		evt, err := h.engine.Repo.GetEvent(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(ctx, "get-journal-event", err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "journal-rule-frequencies",
		Method:      http.MethodGet,
		Path:        "/journal/rules",
		Summary:     "How often each rule fired",
	}, func(ctx context.Context, input *struct {
		SystemID string `query:"system_id"`
	}) (*struct {
		Body RuleFrequenciesResponse `json:"body"`
	}, error) {
		resp := RuleFrequenciesResponse{Items: []domain.RuleFrequency{}}
		if h.engine.DB == nil {
			return &struct {
				Body RuleFrequenciesResponse `json:"body"`
			}{Body: resp}, nil
		}
		items, err := h.engine.Repo.RuleFrequencies(ctx, input.SystemID)
		if err != nil {
			return nil, h.handleError(ctx, "journal-rule-frequencies", err)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body RuleFrequenciesResponse `json:"body"`
		}{Body: resp}, nil
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

func rulesResponse(d *detect.Detector) RulesResponse {
	if d == nil {
		d = detect.New()
	}
	resp := RulesResponse{Items: []RuleResponse{}}
	for _, r := range d.Rules() {
		item := RuleResponse{
			ID:           r.ID,
			Name:         r.Name,
			PatternID:    r.PatternID,
			Domains:      r.Domains,
			BaseSeverity: r.BaseSeverity,
			Confidence:   r.Confidence,
			Custom:       r.Custom,
		}
		if p, ok := detect.PatternByID(r.PatternID); ok {
			item.PatternTitle = p.Title
			item.Description = p.Description
		}
		resp.Items = append(resp.Items, item)
	}
	return resp
}
