package core

import (
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/journi/jobwatch/internal/assets"
	"github.com/journi/jobwatch/internal/auth"
	"github.com/journi/jobwatch/internal/config"
	"github.com/journi/jobwatch/internal/db"
	"github.com/journi/jobwatch/internal/logging"
	"github.com/journi/jobwatch/internal/metrics"
	"github.com/journi/jobwatch/internal/progress"
	"github.com/journi/jobwatch/internal/store"
)

// App holds the core components shared by the CLI and the devserver.
type App struct {
	Config   *config.Config
	Logger   *logging.SlogLogger
	DB       *sql.DB
	Store    *store.Store
	Registry *prometheus.Registry
	Version  string

	closers []io.Closer
}

// New sets up and returns a new App instance. It handles loading the
// configuration, initializing the database connection, and running migrations.
func New(configFile, version string) (*App, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	return NewWithConfig(cfg, logger, version)
}

// NewWithConfig builds an App from an already loaded configuration.
func NewWithConfig(cfg *config.Config, logger *logging.SlogLogger, version string) (*App, error) {
	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(database, assets.MigrationsFS, logger); err != nil {
		// We can't proceed without a valid database schema.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	logger.Debug("core application setup complete", "database", cfg.Database.Path)
	return &App{
		Config:   cfg,
		Logger:   logger,
		DB:       database,
		Store:    store.New(database),
		Registry: registry,
		Version:  version,
	}, nil
}

// TokenProvider returns the bearer token source selected by the
// configuration. A token file wins over a literal token.
func (a *App) TokenProvider() (auth.TokenProvider, error) {
	if a.Config.TokenFile != "" {
		ft, err := auth.NewFileToken(a.Config.TokenFile, a.Logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ft)
		return ft, nil
	}
	return auth.Static(a.Config.Token), nil
}

// NewProgressClient returns a progress client wired to the app's
// configuration, logger, token source and metrics registry.
func (a *App) NewProgressClient(opts ...progress.Option) (*progress.Client, error) {
	tokens, err := a.TokenProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to set up token provider: %w", err)
	}
	base := []progress.Option{
		progress.WithLogger(a.Logger),
		progress.WithTokenProvider(tokens),
		progress.WithMetrics(metrics.NewPrometheus(a.Registry, "jobwatch")),
	}
	return progress.NewClient(a.Config.ProgressConfig(), append(base, opts...)...), nil
}

// Close gracefully closes the application's resources, like the DB connection.
func (a *App) Close() {
	for _, c := range a.closers {
		c.Close()
	}
	a.closers = nil
	if a.DB != nil {
		a.DB.Close()
	}
}
