package server

import (
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
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"sidekick/internal/domain"
	"sidekick/internal/engine"
	"sidekick/internal/migrate"
	"sidekick/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"action is already completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Sidekick API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
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
	router.Use(requestLogger(cfg.Logger))
	cfg.Auth.Logger = cfg.Logger
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Sidekick API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDiag(group, cfg.Engine)
	registerParse(group, cfg.Engine)
	registerInteractions(group, cfg.Engine)
	registerEmotions(group, cfg.Engine)
	registerActions(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerVocabulary(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("device_id", deviceIDFromContext(r.Context())).
				Msg("request")
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var te repo.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": te.From, "to": te.To})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must be") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "invalid_transition"
	case http.StatusUnauthorized:
		return "unauthorized"
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
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Sidekick API Docs</title>
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

func registerDiag(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "diag",
		Method:      http.MethodGet,
		Path:        "/diag",
		Summary:     "Storage diagnostics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		body := map[string]any{
			"backend":  "running",
			"database": "unavailable",
		}
		if err := e.DB.PingContext(ctx); err == nil {
			body["database"] = "connected"
			if v, err := migrate.Version(e.DB); err == nil {
				body["schema_version"] = v
			}
			if counts, err := e.Repo.TableCounts(ctx); err == nil {
				body["tables"] = counts
			}
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: body}, nil
	})
}

func registerParse(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "parse",
		Method:      http.MethodPost,
		Path:        "/parse",
		Summary:     "Classify free-form text into an intent",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ParseRequest `json:"body"`
	}) (*struct {
		Body struct {
			Intent any `json:"intent"`
		} `json:"body"`
	}, error) {
		if input.Body.Text == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "text is required", nil)
		}
		out := &struct {
			Body struct {
				Intent any `json:"intent"`
			} `json:"body"`
		}{}
		out.Body.Intent = e.Parse(input.Body.Text)
		return out, nil
	})
}

func registerInteractions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-interaction",
		Method:        http.MethodPost,
		Path:          "/interactions",
		Summary:       "Record an interaction, enqueueing a device action when actionable",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateInteractionRequest `json:"body"`
	}) (*struct {
		Body InteractionCreatedResponse `json:"body"`
	}, error) {
		it, action, err := e.RecordInteraction(ctx, engine.InteractionOptions{
			Role:    input.Body.Role,
			Text:    input.Body.Text,
			Intent:  input.Body.Intent,
			ActorID: actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		res := InteractionCreatedResponse{Interaction: interactionResponse(it)}
		if action != nil {
			ar := actionResponse(*action)
			res.Action = &ar
		}
		return &struct {
			Body InteractionCreatedResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-interactions",
		Method:      http.MethodGet,
		Path:        "/interactions",
		Summary:     "List interactions, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"200"`
	}) (*struct {
		Body struct {
			Items []InteractionResponse `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := e.ListInteractions(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []InteractionResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = make([]InteractionResponse, 0, len(items))
		for _, it := range items {
			out.Body.Items = append(out.Body.Items, interactionResponse(it))
		}
		return out, nil
	})
}

func registerEmotions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "set-emotion",
		Method:        http.MethodPost,
		Path:          "/emotions",
		Summary:       "Record an emotion state",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body SetEmotionRequest `json:"body"`
	}) (*struct {
		Body any `json:"body"`
	}, error) {
		s, err := e.SetEmotion(ctx, emotionFromRequest(input.Body), actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body any `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "latest-emotion",
		Method:      http.MethodGet,
		Path:        "/emotions/latest",
		Summary:     "Latest emotion state (neutral default when none stored)",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body any `json:"body"`
	}, error) {
		s, err := e.LatestEmotion(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body any `json:"body"`
		}{Body: s}, nil
	})
}

func registerActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "next-action",
		Method:      http.MethodPost,
		Path:        "/actions/next",
		Summary:     "Claim the next pending action for a device",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body NextActionRequest `json:"body"`
	}) (*struct {
		Body NextActionResponse `json:"body"`
	}, error) {
		deviceID := input.Body.DeviceID
		if deviceID == "" {
			deviceID = deviceIDFromContext(ctx)
		}
		a, err := e.NextAction(ctx, deviceID)
		if err != nil {
			return nil, handleError(err)
		}
		res := NextActionResponse{}
		if a != nil {
			ar := actionResponse(*a)
			res.Action = &ar
		}
		return &struct {
			Body NextActionResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-action",
		Method:      http.MethodPost,
		Path:        "/actions/{action_id}/complete",
		Summary:     "Report an action as completed or failed",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ActionID string                `path:"action_id"`
		Body     CompleteActionRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		status := input.Body.Status
		if status == "" {
			status = "completed"
		}
		a, err := e.CompleteAction(ctx, input.ActionID, status, input.Body.Result, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: actionResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/actions",
		Summary:     "List device actions",
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"pending,reserved,completed,failed"`
		DeviceID string `query:"device_id"`
		Limit    int    `query:"limit" default:"50" minimum:"1" maximum:"200"`
	}) (*struct {
		Body struct {
			Items []ActionResponse `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := e.ListActions(ctx, repo.ActionFilters{
			Status:   input.Status,
			DeviceID: input.DeviceID,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []ActionResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = actionResponses(items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action",
		Method:      http.MethodGet,
		Path:        "/actions/{action_id}",
		Summary:     "Fetch one device action",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActionID string `path:"action_id"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		a, err := e.GetAction(ctx, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: actionResponse(a)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the event log",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"200"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body struct {
			Items any `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items any `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = items
		return out, nil
	})
}

func registerVocabulary(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "vocabulary",
		Method:      http.MethodGet,
		Path:        "/vocabulary",
		Summary:     "Show the alias tables the classifier was built with",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body any `json:"body"`
	}, error) {
		return &struct {
			Body any `json:"body"`
		}{Body: e.Config.Vocabulary}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a device JWT for local testing",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if authCfg.JWTSecret == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "dev login requires SIDEKICK_JWT_SECRET", nil)
		}
		if input.Body.DeviceID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "device_id is required", nil)
		}
		token, err := mintDeviceToken(input.Body.DeviceID, authCfg.JWTSecret, time.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func emotionFromRequest(req SetEmotionRequest) domain.EmotionState {
	return domain.EmotionState{
		Mood:    req.Mood,
		Arousal: req.Arousal,
		Notes:   req.Notes,
	}
}

// actorID resolves the event-log actor for the current request.
func actorID(ctx context.Context) string {
	if id := deviceIDFromContext(ctx); id != "" {
		return id
	}
	return "api"
}
