package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/promptdeck/promptdeck/internal/auth"
	"github.com/promptdeck/promptdeck/internal/config"
	"github.com/promptdeck/promptdeck/internal/credentials"
	"github.com/promptdeck/promptdeck/internal/ratelimit"
	"github.com/promptdeck/promptdeck/internal/secrets"
	"github.com/promptdeck/promptdeck/internal/service/executions"
	"github.com/promptdeck/promptdeck/internal/storage"
)

// Server is the promptdeck HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Limiter and Broker are optional (nil = disabled).
type ServerConfig struct {
	// Required dependencies.
	DB      *storage.DB
	Keeper  *secrets.Keeper
	JWTMgr  *auth.JWTManager
	ExecSvc *executions.Service
	Cfg     *config.Config
	Logger  *slog.Logger

	// Optional dependencies (nil = disabled).
	Cache   *credentials.Cache
	Limiter *ratelimit.Limiter
	Broker  *Broker

	Version string

	// Optional embedded OpenAPI YAML, served at GET /openapi.yaml.
	OpenAPISpec []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:          cfg.DB,
		Keeper:      cfg.Keeper,
		JWTMgr:      cfg.JWTMgr,
		ExecSvc:     cfg.ExecSvc,
		Cache:       cfg.Cache,
		Broker:      cfg.Broker,
		Cfg:         cfg.Cfg,
		Logger:      cfg.Logger,
		Version:     cfg.Version,
		OpenAPISpec: cfg.OpenAPISpec,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Rate limit rules, keyed by workspace. Execution calls hit LLM
	// providers so they get a tighter budget than metadata CRUD.
	executeRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{
		Prefix: "execute", Limit: 60, Window: time.Minute,
	}, workspaceKeyFunc, reqIDFunc)
	crudRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{
		Prefix: "crud", Limit: 300, Window: time.Minute,
	}, workspaceKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Prompt catalog.
	mux.Handle("POST /v1/prompts", crudRL(http.HandlerFunc(h.HandleCreatePrompt)))
	mux.Handle("GET /v1/prompts", crudRL(http.HandlerFunc(h.HandleListPrompts)))
	mux.Handle("GET /v1/prompts/{id}", crudRL(http.HandlerFunc(h.HandleGetPrompt)))
	mux.Handle("POST /v1/prompts/{id}/versions", crudRL(http.HandlerFunc(h.HandleCreateVersion)))
	mux.Handle("GET /v1/prompts/{id}/versions", crudRL(http.HandlerFunc(h.HandleListVersions)))
	mux.Handle("POST /v1/versions/{id}/parameters", crudRL(http.HandlerFunc(h.HandleCreateParameter)))
	mux.Handle("GET /v1/versions/{id}/parameters", crudRL(http.HandlerFunc(h.HandleListParameters)))

	// Credentials.
	mux.Handle("POST /v1/credentials", crudRL(http.HandlerFunc(h.HandleCreateCredential)))
	mux.Handle("GET /v1/credentials", crudRL(http.HandlerFunc(h.HandleListCredentials)))
	mux.Handle("POST /v1/credentials/{id}/revoke", crudRL(http.HandlerFunc(h.HandleRevokeCredential)))

	// Execution pipeline.
	mux.Handle("POST /v1/executions", executeRL(http.HandlerFunc(h.HandleExecute)))
	mux.Handle("POST /v1/executions/stream", executeRL(http.HandlerFunc(h.HandleExecuteStream)))
	mux.Handle("GET /v1/executions", crudRL(http.HandlerFunc(h.HandleListExecutions)))
	mux.Handle("GET /v1/executions/{id}", crudRL(http.HandlerFunc(h.HandleGetExecution)))

	// Event feed (no rate limit, long-lived connection).
	mux.Handle("GET /v1/subscribe", http.HandlerFunc(h.HandleSubscribe))

	// OpenAPI spec (no auth, no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = maxBodyMiddleware(cfg.Cfg.MaxRequestBodySize, handler)
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.Cfg.ReadTimeout,
			WriteTimeout: cfg.Cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// maxBodyMiddleware caps request body size so oversized payloads fail
// during decode instead of buffering unbounded input.
func maxBodyMiddleware(limit int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limit > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// workspaceKeyFunc extracts the workspace ID from the request context
// for rate limiting.
func workspaceKeyFunc(r *http.Request) string {
	workspaceID, ok := WorkspaceIDFromContext(r.Context())
	if !ok {
		return ""
	}
	return workspaceID.String()
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
