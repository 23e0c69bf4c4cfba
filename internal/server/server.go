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
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"bookmatch/internal/domain"
	"bookmatch/internal/engine"
	"bookmatch/internal/engine/auth"
	"bookmatch/internal/matching"
	"bookmatch/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"permission matching.import required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"permission\":\"matching.import\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Bookmatch API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the required envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Bookmatch API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerCohorts(group, cfg.Engine)
	registerParticipants(group, cfg.Engine)
	registerSubmissions(group, cfg.Engine)
	registerMatching(group, cfg.Engine)
	registerAccess(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerRBAC(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Engine, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already") || strings.Contains(lowered, "transition"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "not in cohort"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

func requirePermission(ctx context.Context, e engine.Engine, cohortID, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Auth.ActorHasPermission(ctx, tx, e.Config, cohortID, principal.ActorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: perm}
	}
	return nil
}

func requireGlobalPermission(ctx context.Context, e engine.Engine, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	if e.Config == nil {
		return auth.ForbiddenError{Permission: perm}
	}
	return requirePermission(ctx, e, e.Config.Cohort.ID, perm)
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
			applyAuthSecurity(oas, basePath)
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
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
    <title>Bookmatch API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

func registerStatus(api huma.API, e engine.Engine) {
	type cohortPath struct {
		CohortID string `path:"cohort_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/status",
		Summary:     "Cohort status",
	}, func(ctx context.Context, input *cohortPath) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		cohortID := cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e))
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetCohort(ctx, cohortID)
		if err != nil {
			return nil, handleError(err)
		}
		participants, err := e.Repo.ListParticipants(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		days, err := e.Repo.ListMatchingDayKeys(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		latestDay := ""
		if len(days) > 0 {
			latestDay = days[0]
		}
		rules := e.Rules
		now := time.Now()
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"cohort_id":     c.ID,
			"name":          c.Name,
			"active":        c.Active,
			"participants":  len(participants),
			"matching_days": len(days),
			"latest_day":    latestDay,
			"program_day":   rules.ProgramDay(now),
			"target_day":    rules.MatchingTargetDay(now),
		}}, nil
	})
}

func registerCohorts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-cohort",
		Method:        http.MethodPost,
		Path:          "/cohorts",
		Summary:       "Create cohort",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCohortRequest `json:"body"`
	}) (*struct {
		Body CohortResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		if err := requireGlobalPermission(ctx, e, "cohort.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.InitCohort(ctx, input.Body.ID, stringOrEmpty(input.Body.Name), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CohortResponse `json:"body"`
		}{Body: cohortResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cohorts",
		Method:      http.MethodGet,
		Path:        "/cohorts",
		Summary:     "List cohorts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []CohortResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListCohorts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CohortResponse `json:"body"`
		}{Body: mapCohorts(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-cohort",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}",
		Summary:     "Get cohort",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CohortID string `path:"cohort_id"`
	}) (*struct {
		Body CohortResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetCohort(ctx, cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e)))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CohortResponse `json:"body"`
		}{Body: cohortResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-cohort-config",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/config",
		Summary:     "Get cohort config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CohortID string `path:"cohort_id"`
	}) (*struct {
		Body CohortConfigResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		cfg, err := e.Repo.GetCohortConfig(ctx, cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e)))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CohortConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})
}

func registerParticipants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-participant",
		Method:        http.MethodPost,
		Path:          "/cohorts/{cohort_id}/participants",
		Summary:       "Enroll participant",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CohortID string                   `path:"cohort_id"`
		Body     CreateParticipantRequest `json:"body"`
	}) (*struct {
		Body ParticipantResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		cohortID := cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e))
		if err := requirePermission(ctx, e, cohortID, "participant.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.AddParticipant(ctx, engine.ParticipantCreateOptions{
			ID:       stringOrEmpty(input.Body.ID),
			CohortID: cohortID,
			Name:     input.Body.Name,
			Gender:   stringOrEmpty(input.Body.Gender),
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ParticipantResponse `json:"body"`
		}{Body: participantResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-participants",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/participants",
		Summary:     "List participants",
	}, func(ctx context.Context, input *struct {
		CohortID string `path:"cohort_id"`
	}) (*struct {
		Body []ParticipantResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListParticipants(ctx, cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e)))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ParticipantResponse `json:"body"`
		}{Body: mapParticipants(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-participant",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/participants/{id}",
		Summary:     "Get participant",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CohortID string `path:"cohort_id"`
		ID       string `path:"id"`
	}) (*struct {
		Body ParticipantResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetParticipant(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !cohortMatches(input.CohortID, p.CohortID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "participant not found in cohort", nil)
		}
		return &struct {
			Body ParticipantResponse `json:"body"`
		}{Body: participantResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-participant",
		Method:      http.MethodPatch,
		Path:        "/cohorts/{cohort_id}/participants/{id}",
		Summary:     "Update participant",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CohortID string                   `path:"cohort_id"`
		ID       string                   `path:"id"`
		Body     UpdateParticipantRequest `json:"body"`
	}) (*struct {
		Body ParticipantResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		cohortID := cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e))
		if err := requirePermission(ctx, e, cohortID, "participant.manage"); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.UpdateParticipant(ctx, input.ID, input.Body.Name, input.Body.Gender); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetParticipant(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ParticipantResponse `json:"body"`
		}{Body: participantResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-profile-note",
		Method:      http.MethodPut,
		Path:        "/cohorts/{cohort_id}/participants/{id}/note",
		Summary:     "Set profile note",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CohortID string                `path:"cohort_id"`
		ID       string                `path:"id"`
		Body     SetProfileNoteRequest `json:"body"`
	}) (*struct {
		Body ProfileNoteResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		cohortID := cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e))
		if err := requirePermission(ctx, e, cohortID, "profile.note"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.SetProfileNote(ctx, cohortID, input.ID, input.Body.Note, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileNoteResponse `json:"body"`
		}{Body: profileNoteResponse(n)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-profile-note",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/participants/{id}/note",
		Summary:     "Get profile note",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CohortID string `path:"cohort_id"`
		ID       string `path:"id"`
	}) (*struct {
		Body ProfileNoteResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		n, err := e.Repo.GetProfileNote(ctx, cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e)), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileNoteResponse `json:"body"`
		}{Body: profileNoteResponse(n)}, nil
	})
}

func registerSubmissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-submission",
		Method:        http.MethodPost,
		Path:          "/cohorts/{cohort_id}/submissions",
		Summary:       "Record reading proof",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CohortID string                  `path:"cohort_id"`
		Body     RecordSubmissionRequest `json:"body"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ParticipantID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "participant_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cohortID := cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e))
		// Participants record their own proof; anyone else needs review rights.
		if actorID != input.Body.ParticipantID {
			if err := requirePermission(ctx, e, cohortID, "submission.review"); err != nil {
				return nil, handleError(err)
			}
		}
		s, err := e.RecordSubmission(ctx, engine.SubmissionRecordOptions{
			CohortID:      cohortID,
			ParticipantID: input.Body.ParticipantID,
			SubmittedAt:   stringOrEmpty(input.Body.SubmittedAt),
			Review:        stringOrEmpty(input.Body.Review),
			DailyAnswer:   stringOrEmpty(input.Body.DailyAnswer),
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: submissionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-submissions",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/submissions",
		Summary:     "List submissions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CohortID      string `path:"cohort_id"`
		ParticipantID string `query:"participant_id"`
		ProgramDay    string `query:"program_day"`
		Status        string `query:"status" enum:",draft,approved,rejected"`
		Limit         int    `query:"limit" default:"50"`
		Cursor        string `query:"cursor"`
	}) (*struct {
		Body paginatedSubmissions `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorDay, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListSubmissions(ctx, repo.SubmissionFilters{
			CohortID:      cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e)),
			ParticipantID: input.ParticipantID,
			ProgramDay:    input.ProgramDay,
			Status:        input.Status,
			Limit:         limit + 1,
			CursorDay:     cursorDay,
			CursorID:      cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedSubmissions{Items: []SubmissionResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].ProgramDay, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = mapSubmissions(items)
		return &struct {
			Body paginatedSubmissions `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-submission",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/submissions/{id}",
		Summary:     "Get submission",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CohortID string `path:"cohort_id"`
		ID       string `path:"id"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.Repo.GetSubmission(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !cohortMatches(input.CohortID, s.CohortID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "submission not found in cohort", nil)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: submissionResponse(s)}, nil
	})

	registerSubmissionReview(api, e, "approve-submission", "approve", "Approve submission", domain.SubmissionApproved)
	registerSubmissionReview(api, e, "reject-submission", "reject", "Reject submission", domain.SubmissionRejected)
}

func registerSubmissionReview(api huma.API, e engine.Engine, opID, action, summary, status string) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        "/cohorts/{cohort_id}/submissions/{id}/" + action,
		Summary:     summary,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CohortID string                  `path:"cohort_id"`
		ID       string                  `path:"id"`
		Body     ReviewSubmissionRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		cohortID := cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e))
		if err := requirePermission(ctx, e, cohortID, "submission.review"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.SetSubmissionStatus(ctx, input.ID, status, stringOrEmpty(input.Body.Review), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: submissionResponse(s)}, nil
	})
}

func registerMatching(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "import-matching",
		Method:        http.MethodPost,
		Path:          "/cohorts/{cohort_id}/matching",
		Summary:       "Import matching document",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CohortID string                `path:"cohort_id"`
		Body     ImportMatchingRequest `json:"body"`
	}) (*struct {
		Body MatchingDayResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		cohortID := cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e))
		if err := requirePermission(ctx, e, cohortID, "matching.import"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ImportMatching(ctx, engine.MatchingImportOptions{
			CohortID: cohortID,
			Day:      stringOrEmpty(input.Body.Day),
			Raw:      input.Body.Document,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MatchingDayResponse `json:"body"`
		}{Body: matchingDayResponse(m, matching.NormalizeDay(m.Raw))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-matching-days",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/matching",
		Summary:     "List matching days",
	}, func(ctx context.Context, input *struct {
		CohortID string `path:"cohort_id"`
	}) (*struct {
		Body struct {
			Days []string `json:"days"`
		} `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		days, err := e.Repo.ListMatchingDayKeys(ctx, cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e)))
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Days []string `json:"days"`
			} `json:"body"`
		}{}
		out.Body.Days = nonNilSlice(days)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-matching-day",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/matching/{day}",
		Summary:     "Get matching day",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CohortID string `path:"cohort_id"`
		Day      string `path:"day"`
	}) (*struct {
		Body MatchingDayResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		m, assignments, err := e.MatchingForDay(ctx, cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e)), input.Day)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MatchingDayResponse `json:"body"`
		}{Body: matchingDayResponse(m, assignments)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-matching-day",
		Method:      http.MethodPost,
		Path:        "/cohorts/{cohort_id}/matching/{day}/validate",
		Summary:     "Validate matching day",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CohortID string `path:"cohort_id"`
		Day      string `path:"day"`
		Persist  bool   `query:"persist"`
	}) (*struct {
		Body ValidationReportResponse `json:"body"`
	}, error) {
		cohortID := cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e))
		if err := requirePermission(ctx, e, cohortID, "matching.validate"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		report, run, err := e.ValidateMatching(ctx, engine.MatchingValidateOptions{
			CohortID: cohortID,
			Day:      input.Day,
			Persist:  input.Persist,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := ValidationReportResponse{
			Day:      input.Day,
			Valid:    report.Valid,
			Errors:   nonNilSlice(report.Errors),
			Warnings: nonNilSlice(report.Warnings),
		}
		if run != nil {
			resp.RunID = run.ID
		}
		return &struct {
			Body ValidationReportResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-validation-runs",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/validations",
		Summary:     "List validation runs",
	}, func(ctx context.Context, input *struct {
		CohortID string `path:"cohort_id"`
		Day      string `query:"day"`
	}) (*struct {
		Body []ValidationRunResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		runs, err := e.Repo.ListValidationRuns(ctx, cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e)), input.Day)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ValidationRunResponse, 0, len(runs))
		for _, run := range runs {
			res = append(res, validationRunResponse(run))
		}
		return &struct {
			Body []ValidationRunResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-matching-inputs",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/matching-inputs/check",
		Summary:     "Check matching inputs",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CohortID string `path:"cohort_id"`
	}) (*struct {
		Body matching.GenderDistribution `json:"body"`
	}, error) {
		cohortID := cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e))
		if err := requirePermission(ctx, e, cohortID, "matching.validate"); err != nil {
			return nil, handleError(err)
		}
		dist, err := e.CheckMatchingInputs(ctx, cohortID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body matching.GenderDistribution `json:"body"`
		}{Body: dist}, nil
	})
}

func registerAccess(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "evaluate-unlock",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/unlock",
		Summary:     "Evaluate profile unlock",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CohortID string `path:"cohort_id"`
		ViewerID string `query:"viewer_id" required:"true"`
		TargetID string `query:"target_id" required:"true"`
		At       string `query:"at" format:"date-time"`
	}) (*struct {
		Body engine.UnlockResult `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		at, err := parseInstant(input.At)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid at instant", map[string]any{"at": input.At})
		}
		res, err := e.EvaluateUnlock(ctx, cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e)), input.ViewerID, input.TargetID, at)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.UnlockResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-library",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/library/{viewer_id}",
		Summary:     "Viewer's daily library",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CohortID string `path:"cohort_id"`
		ViewerID string `path:"viewer_id"`
		At       string `query:"at" format:"date-time"`
	}) (*struct {
		Body engine.LibraryView `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		at, err := parseInstant(input.At)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid at instant", map[string]any{"at": input.At})
		}
		view, err := e.Library(ctx, cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e)), input.ViewerID, at)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.LibraryView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-access-summary",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/access/{viewer_id}",
		Summary:     "Viewer access summary",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CohortID string `path:"cohort_id"`
		ViewerID string `path:"viewer_id"`
		At       string `query:"at" format:"date-time"`
	}) (*struct {
		Body engine.AccessSummary `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		at, err := parseInstant(input.At)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid at instant", map[string]any{"at": input.At})
		}
		sum, err := e.AccessSummaryFor(ctx, input.ViewerID, at)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.AccessSummary `json:"body"`
		}{Body: sum}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-day",
		Method:      http.MethodGet,
		Path:        "/days/resolve",
		Summary:     "Resolve program and target day for an instant",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		At string `query:"at" format:"date-time"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		at, err := parseInstant(input.At)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid at instant", map[string]any{"at": input.At})
		}
		if at.IsZero() {
			at = time.Now()
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{
			"program_day": e.Rules.ProgramDay(at),
			"target_day":  e.Rules.MatchingTargetDay(at),
		}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CohortID   string `path:"cohort_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:",cohort,participant,submission,matching_day,actor,api_key"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		cohortID := cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e))
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, cohortID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/cohorts/{cohort_id}/me/permissions",
		Summary:     "Current actor permissions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CohortID string `path:"cohort_id"`
	}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cohortID := cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e))
		who, err := whoAmI(ctx, e, cohortID, principal)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: who}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/cohorts/{cohort_id}/rbac/roles/grant",
		Summary:     "Grant role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CohortID string            `path:"cohort_id"`
		Body     RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		if input.Body.ActorID == "" || input.Body.RoleID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and role_id are required", nil)
		}
		cohortID := cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e))
		if err := requirePermission(ctx, e, cohortID, "cohort.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AssignRole(ctx, cohortID, input.Body.ActorID, input.Body.RoleID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/cohorts/{cohort_id}/rbac/roles/revoke",
		Summary:     "Revoke role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CohortID string            `path:"cohort_id"`
		Body     RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		cohortID := cohortFromPathOrHeader(ctx, input.CohortID, configCohortID(e))
		if err := requirePermission(ctx, e, cohortID, "cohort.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeRole(ctx, cohortID, input.Body.ActorID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-apikey",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, secret, err := e.CreateAPIKey(ctx, actorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{Key: apiKeyResponse(key), Secret: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-apikeys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List own API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			res = append(res, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-apikey",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		owned := false
		for _, k := range keys {
			if k.ID == input.ID {
				owned = true
				break
			}
		}
		if !owned {
			return nil, newAPIError(http.StatusNotFound, "not_found", "api key not found", nil)
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		who := WhoAmIResponse{
			ActorID:     principal.ActorID,
			Permissions: nonNilSlice(principal.Permissions),
		}
		if len(who.Permissions) == 0 && e.Config != nil {
			if resolved, err := whoAmI(ctx, e, e.Config.Cohort.ID, principal); err == nil {
				who = resolved
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: who}, nil
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
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles, input.Body.Permissions)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func whoAmI(ctx context.Context, e engine.Engine, cohortID string, principal Principal) (WhoAmIResponse, error) {
	who := WhoAmIResponse{ActorID: principal.ActorID, Permissions: []string{}}
	role, err := e.Repo.ActorRole(ctx, cohortID, principal.ActorID)
	if err != nil {
		return who, err
	}
	who.Role = role
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return who, err
	}
	defer tx.Rollback()
	perms, err := e.Auth.ActorPermissions(ctx, tx, e.Config, cohortID, principal.ActorID)
	if err != nil {
		return who, err
	}
	who.Permissions = nonNilSlice(perms)
	return who, nil
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

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(day, id string) string {
	if day == "" || id == "" {
		return ""
	}
	return day + "|" + id
}

func parseInstant(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func configCohortID(e engine.Engine) string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Cohort.ID
}

func cohortFromPathOrHeader(ctx context.Context, pathCohortID, fallback string) string {
	if pathCohortID != "" {
		return pathCohortID
	}
	if req, ok := ctx.Value(requestKey{}).(*http.Request); ok && req != nil {
		if v := strings.TrimSpace(req.Header.Get("X-Cohort-Id")); v != "" {
			return v
		}
	}
	return fallback
}

func cohortMatches(expected, actual string) bool {
	if expected == "" {
		return true
	}
	return expected == actual
}
