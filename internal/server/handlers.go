package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/promptdeck/promptdeck/internal/auth"
	"github.com/promptdeck/promptdeck/internal/config"
	"github.com/promptdeck/promptdeck/internal/credentials"
	"github.com/promptdeck/promptdeck/internal/model"
	"github.com/promptdeck/promptdeck/internal/secrets"
	"github.com/promptdeck/promptdeck/internal/service/executions"
	"github.com/promptdeck/promptdeck/internal/storage"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	db          *storage.DB
	keeper      *secrets.Keeper
	jwtMgr      *auth.JWTManager
	execSvc     *executions.Service
	cache       *credentials.Cache
	broker      *Broker
	cfg         *config.Config
	logger      *slog.Logger
	startedAt   time.Time
	version     string
	openAPISpec []byte
}

// HandlersDeps bundles handler dependencies.
type HandlersDeps struct {
	DB          *storage.DB
	Keeper      *secrets.Keeper
	JWTMgr      *auth.JWTManager
	ExecSvc     *executions.Service
	Cache       *credentials.Cache
	Broker      *Broker
	Cfg         *config.Config
	Logger      *slog.Logger
	Version     string
	OpenAPISpec []byte
}

// NewHandlers creates handlers with their dependencies.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		db:          deps.DB,
		keeper:      deps.Keeper,
		jwtMgr:      deps.JWTMgr,
		execSvc:     deps.ExecSvc,
		cache:       deps.Cache,
		broker:      deps.Broker,
		cfg:         deps.Cfg,
		logger:      deps.Logger,
		startedAt:   time.Now(),
		version:     deps.Version,
		openAPISpec: deps.OpenAPISpec,
	}
}

// HandleOpenAPISpec serves the embedded OpenAPI YAML.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openAPISpec) == 0 {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "openapi spec not embedded")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(h.openAPISpec)
}

// HandleHealth returns service health including database connectivity.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.Ping(r.Context()); err != nil {
		status = "degraded"
		dbStatus = "disconnected"
		h.logger.Warn("health check: database unreachable", "error", err)
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	payload := map[string]any{
		"status":   status,
		"version":  h.version,
		"uptime":   time.Since(h.startedAt).Round(time.Second).String(),
		"database": dbStatus,
	}
	if h.cache != nil {
		creds := map[string]any{"count": h.cache.Len()}
		if at := h.cache.LoadedAt(); !at.IsZero() {
			creds["age"] = time.Since(at).Round(time.Second).String()
		}
		payload["credentials"] = creds
	}

	writeJSON(w, r, code, payload)
}

// requireWorkspace extracts the authenticated workspace ID from the
// request context, writing a 401 if it is absent.
func (h *Handlers) requireWorkspace(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	workspaceID, ok := WorkspaceIDFromContext(r.Context())
	if !ok || workspaceID == uuid.Nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "authentication required")
		return uuid.Nil, false
	}
	return workspaceID, true
}

// pathUUID parses a UUID path parameter, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
