package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"remedyboard/internal/board"
	"remedyboard/internal/domain"
	"remedyboard/internal/engine"
	"remedyboard/internal/query"
	"remedyboard/internal/repo"
	"remedyboard/internal/stats"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
	Version  string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_status"`
	Message string         `json:"message" example:"invalid status \"high\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"value\":\"high\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the remedyboard API.
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
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 validation_error
			return requestValidationError(msg, errs)
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
	router.Use(requestLogger(logger))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, logger))
	hcfg := huma.DefaultConfig("Remedyboard API", version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerActions(group, cfg.Engine)
	registerBoard(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
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

// requestValidationError reports the first schema violation as the field
// and reason of a validation_error.
func requestValidationError(msg string, errs []error) huma.StatusError {
	details := map[string]any{}
	for _, err := range errs {
		var ed *huma.ErrorDetail
		if errors.As(err, &ed) {
			details["field"] = strings.TrimPrefix(strings.TrimPrefix(ed.Location, "body."), "query.")
			details["reason"] = ed.Message
			break
		}
	}
	if len(errs) > 0 {
		details["errors"] = errs
	}
	return newAPIError(http.StatusBadRequest, "validation_error", msg, details)
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var (
		ve domain.ValidationError
		is domain.InvalidStatusError
		nf domain.NotFoundError
		ce domain.ConflictError
		te domain.TransitionError
	)
	switch {
	case errors.As(err, &ve):
		return newAPIError(http.StatusBadRequest, "validation_error", err.Error(), map[string]any{"field": ve.Field, "reason": ve.Reason})
	case errors.As(err, &is):
		return newAPIError(http.StatusBadRequest, "invalid_status", err.Error(), map[string]any{"value": is.Value})
	case errors.As(err, &nf):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"kind": nf.Kind, "id": nf.ID})
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &ce):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{"id": ce.ID, "expected": ce.Expected, "actual": ce.Actual})
	case errors.As(err, &te):
		return newAPIError(http.StatusUnprocessableEntity, "transition_not_allowed", err.Error(), map[string]any{"from": te.From, "to": te.To})
	default:
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
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
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
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
    <title>Remedyboard API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
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

// listQuery is the filter descriptor as query parameters.
type listQuery struct {
	OrgID         string `path:"org_id"`
	Search        string `query:"search"`
	Status        string `query:"status" doc:"status value or all"`
	Priority      string `query:"priority" doc:"priority value or all"`
	AssignedTo    string `query:"assigned_to" doc:"user id, unassigned or all"`
	Category      string `query:"category"`
	Tag           string `query:"tag"`
	OverdueOnly   bool   `query:"overdue_only"`
	DueBefore     string `query:"due_before"`
	DueAfter      string `query:"due_after"`
	CreatedAfter  string `query:"created_after"`
	CreatedBefore string `query:"created_before"`
	SortBy        string `query:"sort_by"`
	SortOrder     string `query:"sort_order"`
	Page          int    `query:"page"`
	Limit         int    `query:"limit"`
}

func (q *listQuery) filter() (query.Filter, error) {
	return query.Values{
		Search:        q.Search,
		Status:        q.Status,
		Priority:      q.Priority,
		AssignedTo:    q.AssignedTo,
		Category:      q.Category,
		Tag:           q.Tag,
		OverdueOnly:   q.OverdueOnly,
		DueBefore:     q.DueBefore,
		DueAfter:      q.DueAfter,
		CreatedAfter:  q.CreatedAfter,
		CreatedBefore: q.CreatedBefore,
		SortBy:        q.SortBy,
		SortOrder:     q.SortOrder,
		Page:          q.Page,
		Limit:         q.Limit,
	}.Parse()
}

func now(e engine.Engine) time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func views(actions []domain.Action, at time.Time) []domain.View {
	res := make([]domain.View, 0, len(actions))
	for _, a := range actions {
		res = append(res, domain.NewView(a, at))
	}
	return res
}

func parseDue(field, raw string) (*time.Time, error) {
	t, err := query.ParseDate(raw)
	if err != nil {
		return nil, domain.ValidationError{Field: field, Reason: "expected YYYY-MM-DD or RFC3339"}
	}
	return &t, nil
}

type actionPath struct {
	OrgID    string `path:"org_id"`
	ActionID string `path:"action_id"`
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/actions",
		Summary:     "List actions",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *listQuery) (*struct {
		Body actionListResponse `json:"body"`
	}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		f, err := input.filter()
		if err != nil {
			return nil, handleError(err)
		}
		list, err := e.ListActions(ctx, input.OrgID, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body actionListResponse `json:"body"`
		}{Body: actionListResponse{
			Actions: views(list.Actions, now(e)),
			Total:   list.Total,
			Page:    list.Page,
			Limit:   list.Limit,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-action",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/actions",
		Summary:       "Create action",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		OrgID string              `path:"org_id"`
		Body  CreateActionRequest `json:"body"`
	}) (*struct {
		Body domain.View `json:"body"`
	}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		in := domain.ActionInput{
			Title:                b.Title,
			Description:          b.Description,
			Priority:             domain.Priority(b.Priority),
			AssignedTo:           b.AssignedTo,
			EstimatedEffortHours: b.EstimatedEffortHours,
			ActualEffortHours:    b.ActualEffortHours,
			Category:             b.Category,
			Tags:                 b.Tags,
			Notes:                b.Notes,
			SLAHours:             b.SLAHours,
		}
		if strings.TrimSpace(b.DueDate) != "" {
			due, err := parseDue("due_date", b.DueDate)
			if err != nil {
				return nil, handleError(err)
			}
			in.DueDate = due
		}
		a, err := e.CreateAction(ctx, input.OrgID, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.View `json:"body"`
		}{Body: domain.NewView(a, now(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/actions/{action_id}",
		Summary:     "Get action",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *actionPath) (*struct {
		Body domain.View `json:"body"`
	}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetAction(ctx, input.OrgID, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.View `json:"body"`
		}{Body: domain.NewView(a, now(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-action",
		Method:      http.MethodPatch,
		Path:        "/orgs/{org_id}/actions/{action_id}",
		Summary:     "Update action fields",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		OrgID    string              `path:"org_id"`
		ActionID string              `path:"action_id"`
		Body     UpdateActionRequest `json:"body"`
	}) (*struct {
		Body domain.View `json:"body"`
	}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		p, err := actionPatch(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := e.UpdateAction(ctx, input.OrgID, input.ActionID, p)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.View `json:"body"`
		}{Body: domain.NewView(a, now(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-action",
		Method:        http.MethodDelete,
		Path:          "/orgs/{org_id}/actions/{action_id}",
		Summary:       "Delete action",
		Description:   "Requires confirm=true.",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID    string `path:"org_id"`
		ActionID string `path:"action_id"`
		Confirm  bool   `query:"confirm"`
	}) (*struct{}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		if !input.Confirm {
			return nil, handleError(domain.ValidationError{Field: "confirm", Reason: "delete must be confirmed"})
		}
		if err := e.DeleteAction(ctx, input.OrgID, input.ActionID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-action-status",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/actions/{action_id}/status",
		Summary:     "Move action to a status",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		OrgID    string           `path:"org_id"`
		ActionID string           `path:"action_id"`
		Body     SetStatusRequest `json:"body"`
	}) (*struct {
		Body domain.View `json:"body"`
	}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.SetActionStatus(ctx, input.OrgID, input.ActionID, domain.Status(input.Body.Status), input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.View `json:"body"`
		}{Body: domain.NewView(a, now(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-action",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/actions/{action_id}/assign",
		Summary:     "Assign action",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		OrgID    string        `path:"org_id"`
		ActionID string        `path:"action_id"`
		Body     AssignRequest `json:"body"`
	}) (*struct {
		Body domain.View `json:"body"`
	}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AssignAction(ctx, input.OrgID, input.ActionID, input.Body.AssignedTo, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.View `json:"body"`
		}{Body: domain.NewView(a, now(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-action",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/actions/{action_id}/verify",
		Summary:     "Record verification outcome",
		Description: "verified=true moves the action to verified, false sends it back to resolved.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		OrgID    string        `path:"org_id"`
		ActionID string        `path:"action_id"`
		Body     VerifyRequest `json:"body"`
	}) (*struct {
		Body domain.View `json:"body"`
	}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.VerifyAction(ctx, input.OrgID, input.ActionID, input.Body.Verified, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.View `json:"body"`
		}{Body: domain.NewView(a, now(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "action-history",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/actions/{action_id}/history",
		Summary:     "Action event history, oldest first",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *actionPath) (*struct {
		Body eventList `json:"body"`
	}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ActionHistory(ctx, input.OrgID, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: eventList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-actions",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/actions/bulk",
		Summary:     "Apply one operation to many actions",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrgID string             `path:"org_id"`
		Body  domain.BulkRequest `json:"body"`
	}) (*struct {
		Body domain.BulkResult `json:"body"`
	}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.BulkAction(ctx, input.OrgID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BulkResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "action-stats",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/stats",
		Summary:     "Org-wide action statistics",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body stats.Summary `json:"body"`
	}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.GetStats(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body stats.Summary `json:"body"`
		}{Body: s}, nil
	})
}

// actionPatch converts the request into a patch. Presence is read from the
// raw body so that an explicit null unassigns or clears the due date.
func actionPatch(ctx context.Context, b UpdateActionRequest) (domain.ActionPatch, error) {
	raw := rawBodyMap(ctx)
	p := domain.ActionPatch{
		Title:                b.Title,
		Description:          b.Description,
		AssignedTo:           b.AssignedTo,
		EstimatedEffortHours: b.EstimatedEffortHours,
		ActualEffortHours:    b.ActualEffortHours,
		Category:             b.Category,
		Notes:                b.Notes,
		SLAHours:             b.SLAHours,
		ExpectedVersion:      b.ExpectedVersion,
	}
	if b.Priority != nil {
		pr := domain.Priority(*b.Priority)
		p.Priority = &pr
	}
	if v, ok := raw["assigned_to"]; ok && isNullRaw(v) {
		empty := ""
		p.AssignedTo = &empty
	}
	if _, ok := raw["tags"]; ok {
		tags := b.Tags
		if tags == nil {
			tags = []string{}
		}
		p.Tags = &tags
	}
	if v, ok := raw["due_date"]; ok {
		switch {
		case isNullRaw(v), b.DueDate == nil, strings.TrimSpace(*b.DueDate) == "":
			p.ClearDueDate = true
		default:
			due, err := parseDue("due_date", *b.DueDate)
			if err != nil {
				return domain.ActionPatch{}, err
			}
			p.DueDate = due
		}
	}
	return p, nil
}

func registerBoard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "board",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/board",
		Summary:     "Actions grouped into status columns",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *listQuery) (*struct {
		Body boardResponse `json:"body"`
	}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		f, err := input.filter()
		if err != nil {
			return nil, handleError(err)
		}
		view := board.NewView(e, input.OrgID, f)
		if err := view.Refresh(ctx); err != nil {
			return nil, handleError(err)
		}
		snap, _ := view.Snapshot()
		return &struct {
			Body boardResponse `json:"body"`
		}{Body: boardResponse{Columns: view.Columns(), Total: snap.Total, Stats: snap.Stats}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "board-drop",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/board/drop",
		Summary:     "Resolve a drag and drop placement into a status change",
		Description: "drop_target is a status, a status column id or the id of another action. Drops that resolve to no change return noop=true.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		OrgID string      `path:"org_id"`
		Body  DropRequest `json:"body"`
	}) (*struct {
		Body DropResponse `json:"body"`
	}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		noop := &struct {
			Body DropResponse `json:"body"`
		}{Body: DropResponse{NoOp: true}}
		ids := board.Missing(input.Body.ActionID, input.Body.DropTarget, nil)
		snapshot, err := board.Load(ctx, e, input.OrgID, ids)
		if err != nil {
			return nil, handleError(err)
		}
		target, ok := board.ResolveTransition(input.Body.ActionID, input.Body.DropTarget, snapshot)
		if !ok {
			return noop, nil
		}
		a, err := e.SetActionStatus(ctx, input.OrgID, input.Body.ActionID, target, "")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DropResponse `json:"body"`
		}{Body: DropResponse{Action: &a}}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/users",
		Summary:     "List the org user directory",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body userList `json:"body"`
	}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		users, err := e.ListUsers(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body userList `json:"body"`
		}{Body: userList{Items: users}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-user",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/users",
		Summary:       "Add or rename a directory user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrgID string         `path:"org_id"`
		Body  AddUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.AddUser(ctx, input.OrgID, domain.User{ID: input.Body.ID, Name: input.Body.Name, Email: input.Body.Email})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrgID      string `path:"org_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"org,action"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		ctx, authErr := orgSession(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "validation_error", "invalid cursor", map[string]any{"field": "cursor", "reason": "must be an event id"})
			}
			cursorID = parsed
		}
		items, err := e.OrgEvents(ctx, repo.EventFilters{
			OrgID:      input.OrgID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: items}
		if len(items) > limit {
			resp.Items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{ActorID: principal.ActorID, OrgID: principal.OrgID}}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		org := strings.TrimSpace(input.Body.OrgID)
		if actor == "" || org == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and org_id are required", nil)
		}
		if _, err := e.Repo.GetOrg(ctx, org); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, handleError(domain.NotFoundError{Kind: "org", ID: org})
			}
			return nil, handleError(err)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, org, authCfg.TokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	return outer
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && bytes.Equal(trimmed, []byte("null"))
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
