package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	emulatorhttp "github.com/aussiebroadwan/authstate/internal/emulator/http"
	"github.com/aussiebroadwan/authstate/internal/emulator/metrics"
	"github.com/aussiebroadwan/authstate/internal/emulator/service"
	"github.com/aussiebroadwan/authstate/internal/emulator/store"
	"github.com/aussiebroadwan/authstate/internal/emulator/store/sqlite"
	"github.com/aussiebroadwan/authstate/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application is the emulator process with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db       store.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	service      *service.Service
	housekeeping *service.HousekeepingService

	server *http.Server
	router *emulatorhttp.Router
}

// New creates an Application with every dependency initialized. Nothing is
// listening until Run.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "auth-emulator",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	app.initMetrics()

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initHTTP()
	return app, nil
}

// Handler is the emulator's root HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Service is the in-process backend the HTTP API serves.
func (app *Application) Service() *service.Service { return app.service }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeeping.Start()

	app.logger.Info("auth emulator starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"api_key", app.cfg.APIKey,
		"action_url", app.cfg.ActionURL,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		app.housekeeping.Stop()
		_ = app.db.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth emulator...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeeping.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth emulator stopped")
	return nil
}

func (app *Application) initMetrics() {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(app.registry)
}

// initDatabase opens the account store and applies migrations
func (app *Application) initDatabase() error {
	dsn := app.cfg.DatabaseFile
	if dsn != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
	}

	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "file", app.cfg.DatabaseFile)
	return nil
}

func (app *Application) initServices() error {
	signer, err := InitSigner(app.cfg, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize signing key: %w", err)
	}

	hasher, err := InitHasher(app.cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	app.service, err = service.New(service.Config{
		Store:             app.db,
		Signer:            signer,
		Hasher:            hasher,
		Issuer:            app.cfg.Issuer,
		APIKey:            app.cfg.APIKey,
		CustomTokenSecret: []byte(app.cfg.CustomTokenSecret),
		ActionURL:         app.cfg.ActionURL,
		IDTokenTTL:        app.cfg.IDTokenTTL,
		RefreshTokenTTL:   app.cfg.RefreshTokenTTL,
		Logger:            app.logger,
		Metrics:           app.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	app.housekeeping = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	app.housekeeping.Metrics = app.metrics

	if app.cfg.CustomTokenSecret == "" {
		app.logger.Info("custom token sign-in disabled, set AUTH_EMULATOR_CUSTOM_TOKEN_SECRET to enable it")
	}
	if app.cfg.AdminToken == "" {
		app.logger.Warn("admin routes are open, set AUTH_EMULATOR_ADMIN_TOKEN to protect them")
	}
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := emulatorhttp.NewRouter(emulatorhttp.RouterConfig{
		Service:      app.service,
		Store:        app.db,
		Metrics:      app.metrics,
		Gatherer:     app.registry,
		Limits:       app.cfg.Limits,
		AdminToken:   app.cfg.AdminToken,
		BuildVersion: BuildVersion,
		Logger:       app.logger,
	})
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
