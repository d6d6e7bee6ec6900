// Package server exposes the quote workflow over HTTP as a huma/chi API.
// Store mutations that committed but failed to render still return the quote
// with "rendered": false; the surface is a projection, not the record.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"quoteline/internal/engine"
	"quoteline/internal/logger"
	"quoteline/internal/parser"
	"quoteline/internal/repo"
	"quoteline/internal/surface"
	"quoteline/internal/workspace"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"quote 4 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the quoteline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
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
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	if cfg.Logger != nil {
		router.Use(logger.RequestLogger(cfg.Logger))
	}
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Quoteline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerWorkspaces(group, cfg.Engine)
	registerQuotes(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

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

// handleError maps the domain error taxonomy onto HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var missing *parser.MissingFieldError
	if errors.As(err, &missing) {
		return newAPIError(http.StatusBadRequest, "missing_field", err.Error(), map[string]any{"field": missing.Label})
	}
	var malformed *parser.MalformedFieldError
	if errors.As(err, &malformed) {
		return newAPIError(http.StatusBadRequest, "malformed_field", err.Error(), map[string]any{"field": malformed.Label, "value": malformed.Value})
	}
	var invalid *engine.ValidationError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"field": invalid.Field})
	}
	var unknownField *engine.UnknownFieldError
	if errors.As(err, &unknownField) {
		return newAPIError(http.StatusBadRequest, "unknown_field", err.Error(), map[string]any{"field": unknownField.Field})
	}
	var unknownCat *engine.UnknownCategoryError
	if errors.As(err, &unknownCat) {
		return newAPIError(http.StatusBadRequest, "unknown_category", err.Error(), map[string]any{"category": unknownCat.Category})
	}
	var notFound *workspace.NotFoundError
	if errors.As(err, &notFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrAddInFlight) {
		return newAPIError(http.StatusConflict, "add_in_flight", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrAwaitTimeout) {
		return newAPIError(http.StatusRequestTimeout, "await_timeout", err.Error(), nil)
	}
	var surfErr *surface.Error
	if errors.As(err, &surfErr) {
		return newAPIError(http.StatusBadGateway, "surface_error", err.Error(), map[string]any{"kind": surfErr.Kind.String()})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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

// renderOutcome splits engine results: a RenderError means the store change
// committed but the surface did not catch up.
func renderOutcome(err error) (rendered bool, fatal error) {
	if err == nil {
		return true, nil
	}
	var re *engine.RenderError
	if errors.As(err, &re) {
		return false, nil
	}
	return false, err
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Status string `json:"status" example:"ok"`
		}
	}, error) {
		resp := &struct {
			Body struct {
				Status string `json:"status" example:"ok"`
			}
		}{}
		resp.Body.Status = "ok"
		return resp, nil
	})
}

func registerWorkspaces(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-workspace",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}",
		Summary:     "Workspace bucket overview",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
	}) (*struct {
		Body WorkspaceResponse `json:"body"`
	}, error) {
		summary, err := e.List(ctx, input.WorkspaceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkspaceResponse `json:"body"`
		}{Body: WorkspaceResponse{ID: input.WorkspaceID, Summary: summary}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-workspace",
		Method:      http.MethodDelete,
		Path:        "/workspaces/{workspace_id}",
		Summary:     "Clear workspace",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Reset(ctx, input.WorkspaceID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-workspace-channel",
		Method:      http.MethodPut,
		Path:        "/workspaces/{workspace_id}/channel",
		Summary:     "Set render channel",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string            `path:"workspace_id"`
		Body        SetChannelRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetRenderChannel(ctx, input.WorkspaceID, input.Body.Channel, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workspace-config",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/config",
		Summary:     "Effective workspace config",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
	}) (*struct {
		Body ConfigResponse `json:"body"`
	}, error) {
		cfg := e.Config
		if stored, err := e.Repo.GetWorkspaceConfig(ctx, input.WorkspaceID); err == nil {
			cfg = stored
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, handleError(err)
		}
		return &struct {
			Body ConfigResponse `json:"body"`
		}{Body: ConfigResponse{
			WorkspaceID:  input.WorkspaceID,
			Categories:   cfg.Categories,
			AwaitSeconds: int(cfg.AwaitTimeout().Seconds()),
		}}, nil
	})
}

func registerQuotes(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-quote",
		Method:        http.MethodPost,
		Path:          "/workspaces/{workspace_id}/quotes",
		Summary:       "Add quote from text",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string          `path:"workspace_id"`
		Body        AddQuoteRequest `json:"body"`
	}) (*struct {
		Body QuoteResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.Text) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "text is required", nil)
		}
		q, err := e.Add(ctx, engine.AddOptions{
			WorkspaceID: input.WorkspaceID,
			Text:        input.Body.Text,
			Channel:     input.Body.Channel,
			ActorID:     actorID,
		})
		rendered, fatal := renderOutcome(err)
		if fatal != nil {
			return nil, handleError(fatal)
		}
		return &struct {
			Body QuoteResponse `json:"body"`
		}{Body: quoteResponse(q, rendered)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-quote",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/quotes/{quote_id}",
		Summary:     "Fetch one quote",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		QuoteID     int    `path:"quote_id"`
	}) (*struct {
		Body QuoteResponse `json:"body"`
	}, error) {
		q, _, err := e.Info(ctx, input.WorkspaceID, input.QuoteID, true)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuoteResponse `json:"body"`
		}{Body: quoteResponse(q, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-quote",
		Method:      http.MethodPatch,
		Path:        "/workspaces/{workspace_id}/quotes/{quote_id}",
		Summary:     "Edit one quote field",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string           `path:"workspace_id"`
		QuoteID     int              `path:"quote_id"`
		Body        EditQuoteRequest `json:"body"`
	}) (*struct {
		Body QuoteResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.Field) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "field is required", nil)
		}
		q, err := e.Edit(ctx, engine.EditOptions{
			WorkspaceID: input.WorkspaceID,
			ID:          input.QuoteID,
			Field:       input.Body.Field,
			Value:       input.Body.Value,
			ActorID:     actorID,
		})
		rendered, fatal := renderOutcome(err)
		if fatal != nil {
			return nil, handleError(fatal)
		}
		return &struct {
			Body QuoteResponse `json:"body"`
		}{Body: quoteResponse(q, rendered)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "shortcut-quote",
		Method:      http.MethodPost,
		Path:        "/workspaces/{workspace_id}/quotes/{quote_id}/shortcut",
		Summary:     "Apply shortcut keyword",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string          `path:"workspace_id"`
		QuoteID     int             `path:"quote_id"`
		Body        ShortcutRequest `json:"body"`
	}) (*struct {
		Body QuoteResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.Keyword) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "keyword is required", nil)
		}
		q, err := e.Shortcut(ctx, input.WorkspaceID, input.QuoteID, input.Body.Keyword, input.Body.Category, actorID)
		rendered, fatal := renderOutcome(err)
		if fatal != nil {
			return nil, handleError(fatal)
		}
		return &struct {
			Body QuoteResponse `json:"body"`
		}{Body: quoteResponse(q, rendered)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-quote",
		Method:      http.MethodPost,
		Path:        "/workspaces/{workspace_id}/quotes/{quote_id}/refresh",
		Summary:     "Replay the rendering from store state",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string         `path:"workspace_id"`
		QuoteID     int            `path:"quote_id"`
		Body        RefreshRequest `json:"body,omitempty"`
	}) (*struct {
		Body QuoteResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.Refresh(ctx, input.WorkspaceID, input.QuoteID, input.Body.Channel, actorID)
		rendered, fatal := renderOutcome(err)
		if fatal != nil {
			return nil, handleError(fatal)
		}
		return &struct {
			Body QuoteResponse `json:"body"`
		}{Body: quoteResponse(q, rendered)}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/events",
		Summary:     "Recent workspace events",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		Limit       int    `query:"limit"`
		Type        string `query:"type"`
		QuoteID     string `query:"quote_id"`
	}) (*struct {
		Body struct {
			Items []EventResponse `json:"items"`
		}
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		evts, err := e.Repo.LatestEvents(ctx, limit, input.WorkspaceID, input.Type, input.QuoteID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Items []EventResponse `json:"items"`
			}
		}{}
		resp.Body.Items = make([]EventResponse, 0, len(evts))
		for _, evt := range evts {
			resp.Body.Items = append(resp.Body.Items, eventResponse(evt))
		}
		return resp, nil
	})
}
