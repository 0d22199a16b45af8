// Package runtime builds the server from configuration and manages its
// lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/ajax_layer/internal/app"
	"github.com/R3E-Network/ajax_layer/internal/app/auth"
	"github.com/R3E-Network/ajax_layer/internal/app/httpapi"
	"github.com/R3E-Network/ajax_layer/internal/app/storage/sqlstore"
	"github.com/R3E-Network/ajax_layer/internal/config"
	"github.com/R3E-Network/ajax_layer/internal/example"
	"github.com/R3E-Network/ajax_layer/internal/middleware"
	"github.com/R3E-Network/ajax_layer/internal/platform/database"
	"github.com/R3E-Network/ajax_layer/internal/platform/migrations"
	"github.com/R3E-Network/ajax_layer/pkg/logger"
)

const limiterCleanupInterval = 5 * time.Minute

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	db      *sqlx.DB
	tokens  *auth.Tokens
	limiter *middleware.RateLimiter
	handler http.Handler
	server  *http.Server
	stop    chan struct{}
}

// NewApplication loads configuration from the environment and builds the
// application.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return New(ctx, cfg)
}

// New builds the application from cfg.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	overrides, err := config.LoadEndpointOverridesOrEmpty(cfg.Ajax.EndpointsFile)
	if err != nil {
		return nil, fmt.Errorf("load endpoint overrides: %w", err)
	}

	stores, db, err := buildStores(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	application, err := app.New(stores, app.Options{
		Authentication: cfg.Ajax.Authentication,
		MaxPerPage:     cfg.Ajax.MaxPerPage,
		PKAttr:         cfg.Ajax.PKAttrName,
		Overrides:      overrides,
	}, log)
	if err != nil {
		closeDB(db, log)
		return nil, err
	}
	if err := application.Register(example.Register); err != nil {
		closeDB(db, log)
		return nil, fmt.Errorf("register example application: %w", err)
	}

	var tokens *auth.Tokens
	if cfg.Auth.JWTSecret != "" {
		tokens, err = auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if err != nil {
			closeDB(db, log)
			return nil, fmt.Errorf("configure tokens: %w", err)
		}
	} else {
		log.Warn("AJAX_JWT_SECRET not set; bearer tokens disabled")
	}

	a := &Application{
		cfg:    cfg,
		log:    log,
		app:    application,
		db:     db,
		tokens: tokens,
		stop:   make(chan struct{}),
	}
	a.handler = a.buildHandler()
	a.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return a, nil
}

// buildHandler wraps the router, outermost first: tracing, CORS, user
// resolution, then rate limiting.
func (a *Application) buildHandler() http.Handler {
	prefix := a.cfg.Ajax.URLPrefix
	if prefix == "" {
		prefix = "/"
	}
	var h http.Handler = httpapi.NewHandler(a.app.Site, a.log, httpapi.Options{
		Prefix: prefix,
		Debug:  a.cfg.Ajax.Debug,
	})

	if rps := a.cfg.Server.RateLimitRPS; rps > 0 {
		a.limiter = middleware.NewRateLimiter(rps, a.cfg.Server.RateLimitBurst, a.log)
		h = a.limiter.Handler(h)
	}
	h = middleware.NewAuthMiddleware(a.tokens, a.app.Stores.Users, a.app.Stores.Keys, a.log).Handler(h)
	if origins := a.cfg.Server.Origins(); len(origins) > 0 {
		h = middleware.NewCORSMiddleware(origins).Handler(h)
	}
	return middleware.NewTracingMiddleware(a.log).Handler(h)
}

// App returns the assembled site.
func (a *Application) App() *app.Application { return a.app }

// Handler returns the fully wrapped HTTP handler.
func (a *Application) Handler() http.Handler { return a.handler }

// Tokens returns the bearer token signer, or an error when no secret is set.
func (a *Application) Tokens() (*auth.Tokens, error) {
	if a.tokens == nil {
		return nil, errors.New("AJAX_JWT_SECRET is not configured")
	}
	return a.tokens, nil
}

// ErrEphemeralStore is returned by CheckPersistent for the memory driver.
var ErrEphemeralStore = errors.New("the memory driver keeps users only for the life of the process")

// CheckPersistent fails unless users and keys outlive this process. Commands
// that mint credentials for another process must call it first.
func (a *Application) CheckPersistent() error {
	if a.db == nil {
		return ErrEphemeralStore
	}
	return nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if a.limiter != nil {
		a.limiter.StartCleanup(limiterCleanupInterval, a.stop)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.cfg.Server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the HTTP server and closes the database.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-a.stop:
	default:
		close(a.stop)
	}

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	closeDB(a.db, a.log)
	a.db = nil
	return nil
}

// Close releases the database without touching the server. Used by one-shot
// commands.
func (a *Application) Close() {
	closeDB(a.db, a.log)
	a.db = nil
}

func buildStores(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (app.Stores, *sqlx.DB, error) {
	if cfg.Driver == "memory" {
		log.Warn("DATABASE_DRIVER is memory; data is lost on restart")
		return app.Stores{}, nil, nil
	}

	db, err := database.Open(ctx, cfg)
	if err != nil {
		return app.Stores{}, nil, err
	}

	if cfg.Migrate {
		if err := migrations.ApplyPlatform(ctx, db.DB, cfg.Driver); err != nil {
			closeDB(db, log)
			return app.Stores{}, nil, fmt.Errorf("platform migrations: %w", err)
		}
		if err := example.Migrate(ctx, db.DB, cfg.Driver); err != nil {
			closeDB(db, log)
			return app.Stores{}, nil, fmt.Errorf("example migrations: %w", err)
		}
		log.WithField("driver", cfg.Driver).Info("database migrations applied")
	}

	store := sqlstore.New(db)
	return app.Stores{Records: store, Tags: store, Users: store, Keys: store}, db, nil
}

func closeDB(db *sqlx.DB, log *logger.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("error closing database connection")
	}
}
