// Package promptdeck is the public API for embedding the promptdeck server.
//
// Consumers import this package to construct and run the server without
// forking it:
//
//	app, err := promptdeck.New(
//	    promptdeck.WithVersion(version),
//	    promptdeck.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: promptdeck (root)
// imports internal/*, but internal/* never imports promptdeck (root).
package promptdeck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/promptdeck/promptdeck/api"
	"github.com/promptdeck/promptdeck/internal/auth"
	"github.com/promptdeck/promptdeck/internal/config"
	"github.com/promptdeck/promptdeck/internal/credentials"
	"github.com/promptdeck/promptdeck/internal/provider"
	"github.com/promptdeck/promptdeck/internal/ratelimit"
	"github.com/promptdeck/promptdeck/internal/secrets"
	"github.com/promptdeck/promptdeck/internal/server"
	"github.com/promptdeck/promptdeck/internal/service/executions"
	"github.com/promptdeck/promptdeck/internal/storage"
	"github.com/promptdeck/promptdeck/internal/telemetry"
	"github.com/promptdeck/promptdeck/migrations"
)

// App is the promptdeck server lifecycle. Construct with New(), run with
// Run(). App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	cache        *credentials.Cache
	jwtMgr       *auth.JWTManager
	broker       *server.Broker // nil when no notify connection
	limiter      *ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the promptdeck server. It connects to the database,
// runs migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("promptdeck starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	// Run migrations.
	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Create the secrets keeper for sealing provider API keys.
	keeper, err := secrets.NewKeeper(cfg.SecretsKey)
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("secrets: %w", err)
	}

	// Credential cache. Seed it now so the first execution after startup
	// doesn't race the first periodic refresh.
	cache := credentials.New(db, keeper, cfg.CredentialRefresh, logger)
	if err := cache.Refresh(context.Background()); err != nil {
		logger.Warn("initial credential refresh failed", "error", err)
	}

	// Provider registry and dispatcher.
	registry := provider.NewRegistry(provider.NewOpenAI(), provider.NewAnthropic())
	dispatcher := provider.NewDispatcher(registry, cache, cfg.DispatchTimeout, logger)

	// Execution service.
	execSvc := executions.New(db, dispatcher, logger)

	// SSE broker (requires LISTEN/NOTIFY connection).
	var broker *server.Broker
	if db.HasNotifyConn() {
		broker = server.NewBroker(db, logger)
	} else {
		logger.Info("SSE broker: disabled (no notify connection)")
	}

	// Rate limiter.
	limiter := ratelimit.NewLimiter()

	// Create HTTP server.
	srv := server.New(server.ServerConfig{
		DB:          db,
		Keeper:      keeper,
		JWTMgr:      jwtMgr,
		ExecSvc:     execSvc,
		Cache:       cache,
		Cfg:         &cfg,
		Logger:      logger,
		Limiter:     limiter,
		Broker:      broker,
		Version:     version,
		OpenAPISpec: api.OpenAPISpec,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		cache:        cache,
		jwtMgr:       jwtMgr,
		broker:       broker,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// IssueToken mints a workspace-scoped bearer token using the App's JWT
// manager. Used by the CLI to provision access out-of-band; there is no
// HTTP endpoint for token issuance.
func (a *App) IssueToken(workspaceID uuid.UUID, subject string) (string, time.Time, error) {
	return a.jwtMgr.IssueToken(workspaceID, subject)
}

// Run starts all background goroutines and the HTTP server, then blocks
// until ctx is cancelled or a fatal server error occurs. On return,
// Shutdown is called automatically — callers should not call Shutdown
// separately.
func (a *App) Run(ctx context.Context) error {
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	g, gctx := errgroup.WithContext(bgCtx)
	g.Go(func() error {
		a.cache.Run(gctx)
		return nil
	})
	if a.broker != nil {
		g.Go(func() error {
			a.broker.Start(gctx)
			return nil
		})
	}

	// Start HTTP server.
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Block until signal or server error.
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	bgCancel()
	shutdownErr := a.Shutdown(context.Background())
	_ = g.Wait()
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// Shutdown gracefully stops the HTTP server, then closes the rate
// limiter, database pool, and OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("promptdeck shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := a.srv.Shutdown(httpCtx)

	a.limiter.Close()
	a.db.Close(ctx)
	if shutdownErr := a.otelShutdown(ctx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}

	a.logger.Info("promptdeck stopped")
	return err
}
