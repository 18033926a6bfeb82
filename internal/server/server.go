package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"lightspeed/internal/domain"
	"lightspeed/internal/engine"
	"lightspeed/internal/errs"
	"lightspeed/internal/logger"
	"lightspeed/internal/quantity"
	"lightspeed/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine      *engine.Engine
	BasePath    string
	Auth        AuthConfig
	Logger      *log.Logger
	CORSOrigins []string
	// RateLimit is the sustained number of intents per second per player; 0 disables limiting.
	RateLimit float64
	RateBurst int
	DevLogin  bool
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"locked"`
	Message string         `json:"message" example:"capture is locked"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// Server is the HTTP surface of a running game.
type Server struct {
	handler     http.Handler
	hub         *Hub
	cancel      context.CancelFunc
	unsubscribe func()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops the websocket hub and detaches from the engine.
func (s *Server) Close() {
	s.unsubscribe()
	s.cancel()
}

// New returns the Lightspeed API handler. The caller must Close it.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	l := logger.Or(cfg.Logger).With("component", "server")
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errList ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errList ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errList) > 0 {
			details = map[string]any{"errors": errList}
		}
		return newAPIError(status, "", msg, details)
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(l)
	go hub.Run(ctx)
	limiter := newRateLimiter(cfg.RateLimit, cfg.RateBurst, l)
	if limiter.enabled() {
		go limiter.cleanup(ctx)
	}

	router := chi.NewRouter()
	router.Use(newCORS(cfg.CORSOrigins).Handler)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, l))
	router.Use(limiter.middleware)
	hcfg := huma.DefaultConfig("Lightspeed API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	// Quantities travel as decimal strings.
	api.OpenAPI().Components.Schemas.RegisterTypeAlias(reflect.TypeOf(quantity.Quantity{}), reflect.TypeOf(""))
	group := huma.NewGroup(api, basePath)

	e := cfg.Engine
	registerHealth(group)
	registerState(group, e)
	registerEngines(group, e)
	registerCapture(group, e)
	registerResearch(group, e)
	registerEvents(group, e)
	if cfg.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)
	router.Get(path.Join(basePath, "ws"), func(w http.ResponseWriter, r *http.Request) {
		var initial []byte
		if v, err := e.View(); err == nil {
			initial, _ = encodeView(v)
		}
		hub.ServeWS(w, r, initial)
	})

	unsubscribe := e.Subscribe(hub.PublishView)
	return &Server{handler: router, hub: hub, cancel: cancel, unsubscribe: unsubscribe}, nil
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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	switch errs.GetType(err) {
	case errs.TypeNotFound:
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errs.TypeValidation:
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errs.TypeLocked:
		return newAPIError(http.StatusForbidden, "locked", msg, nil)
	case errs.TypeInvalidTransition:
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case errs.TypeInsufficientResources:
		return newAPIError(http.StatusConflict, "insufficient_resources", msg, nil)
	case errs.TypeDeserialization:
		return newAPIError(http.StatusUnprocessableEntity, "deserialization", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
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

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
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
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
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

type viewOutput struct {
	Body domain.View `json:"body"`
}

type outcomeOutput struct {
	Body OutcomeResponse `json:"body"`
}

func currentView(e *engine.Engine) (*viewOutput, error) {
	v, err := e.View()
	if err != nil {
		return nil, handleError(err)
	}
	return &viewOutput{Body: v}, nil
}

func registerState(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-state",
		Method:      http.MethodGet,
		Path:        "/state",
		Summary:     "Current game view",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*viewOutput, error) {
		return currentView(e)
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-game",
		Method:      http.MethodPost,
		Path:        "/save",
		Summary:     "Persist the current game",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SaveResponse `json:"body"`
	}, error) {
		if err := e.Save(ctx); err != nil {
			return nil, handleError(err)
		}
		s, err := e.Repo.GetSave(ctx, e.SaveID())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SaveResponse `json:"body"`
		}{Body: SaveResponse{ID: s.ID, Name: s.Name, LastUpdate: s.LastUpdate, UpdatedAt: s.UpdatedAt}}, nil
	})
}

// EnginePathParam is the {kind} segment shared by engine routes.
type EnginePathParam struct {
	Kind string `path:"kind" enum:"combustion,fusion,antimatter"`
}

func registerEngines(api huma.API, e *engine.Engine) {
	stock := func(opID, verb, summary string, fn func(context.Context, domain.EngineKind, quantity.Quantity) (engine.Outcome, error)) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/engines/{kind}/" + verb,
			Summary:     summary,
			Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			EnginePathParam
			Body CountRequest `json:"body"`
		}) (*outcomeOutput, error) {
			out, err := fn(ctx, domain.EngineKind(input.Kind), input.Body.Count)
			if err != nil {
				return nil, handleError(err)
			}
			return &outcomeOutput{Body: outcomeResponse(out)}, nil
		})
	}
	stock("build-engines", "build", "Build engines from material", e.Build)
	stock("recycle-engines", "recycle", "Recycle engines into material", e.Recycle)

	huma.Register(api, huma.Operation{
		OperationID: "set-throttle",
		Method:      http.MethodPut,
		Path:        "/engines/{kind}/throttle",
		Summary:     "Set engine throttle",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EnginePathParam
		Body ThrottleRequest `json:"body"`
	}) (*viewOutput, error) {
		if err := e.SetThrottle(ctx, domain.EngineKind(input.Kind), input.Body.Throttle); err != nil {
			return nil, handleError(err)
		}
		return currentView(e)
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-engine-automation",
		Method:      http.MethodPut,
		Path:        "/engines/{kind}/automation",
		Summary:     "Set engine automation policy",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EnginePathParam
		Body AutomationRequest `json:"body"`
	}) (*viewOutput, error) {
		if err := e.SetEngineAutomation(ctx, domain.EngineKind(input.Kind), domain.AutomationMode(input.Body.Mode), intervalOrZero(input.Body.Interval)); err != nil {
			return nil, handleError(err)
		}
		return currentView(e)
	})
}

func intervalOrZero(q *quantity.Quantity) quantity.Quantity {
	if q == nil {
		return quantity.Zero
	}
	return *q
}

func registerCapture(api huma.API, e *engine.Engine) {
	stock := func(opID, verb, summary string, fn func(context.Context, quantity.Quantity) (engine.Outcome, error)) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/capture/" + verb,
			Summary:     summary,
			Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
		}, func(ctx context.Context, input *struct {
			Body CountRequest `json:"body"`
		}) (*outcomeOutput, error) {
			out, err := fn(ctx, input.Body.Count)
			if err != nil {
				return nil, handleError(err)
			}
			return &outcomeOutput{Body: outcomeResponse(out)}, nil
		})
	}
	stock("expand-capture", "expand", "Grow the fuel collector", e.Expand)
	stock("reduce-capture", "reduce", "Shrink the fuel collector", e.Reduce)

	huma.Register(api, huma.Operation{
		OperationID: "set-capture-automation",
		Method:      http.MethodPut,
		Path:        "/capture/automation",
		Summary:     "Set collector automation policy",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body AutomationRequest `json:"body"`
	}) (*viewOutput, error) {
		if err := e.SetCaptureAutomation(ctx, domain.AutomationMode(input.Body.Mode), intervalOrZero(input.Body.Interval)); err != nil {
			return nil, handleError(err)
		}
		return currentView(e)
	})
}

func registerResearch(api huma.API, e *engine.Engine) {
	type researchOutput struct {
		Body ResearchResponse `json:"body"`
	}
	list := func() (*researchOutput, error) {
		v, err := e.View()
		if err != nil {
			return nil, handleError(err)
		}
		return &researchOutput{Body: researchResponse(v.State, e.Catalog())}, nil
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-research",
		Method:      http.MethodGet,
		Path:        "/research",
		Summary:     "List research tasks",
	}, func(ctx context.Context, _ *struct{}) (*researchOutput, error) {
		return list()
	})

	transition := func(opID, verb, summary string, fn func(context.Context, string) error) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/research/{id}/" + verb,
			Summary:     summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*researchOutput, error) {
			if err := fn(ctx, input.ID); err != nil {
				return nil, handleError(err)
			}
			return list()
		})
	}
	transition("activate-research", "activate", "Start working on a task", e.ActivateTask)
	transition("deactivate-research", "deactivate", "Pause a task", e.DeactivateTask)
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events of the current save",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"save,rocket,engine,capture,automation,research"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
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
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			SaveID:     e.SaveID(),
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
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

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		player := strings.TrimSpace(input.Body.PlayerID)
		if player == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "player_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, player, authCfg.TokenTTL, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
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
