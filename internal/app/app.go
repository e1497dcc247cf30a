package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/promptlab/backend/internal/config"
	"github.com/promptlab/backend/internal/database"
	"github.com/promptlab/backend/internal/experiments"
	"github.com/promptlab/backend/internal/generator"
	"github.com/promptlab/backend/internal/metrics"
)

// App holds the long-lived components shared by the server and the CLI.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	DB      *database.DB
	Metrics *metrics.Metrics
	Service *experiments.Service
}

// New connects to the database, applies migrations and wires the service.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := database.Connect(cfg.DatabaseTarget())
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	m := metrics.New()
	gen := generator.New(generator.Options{
		Backend:     NewBackend(cfg, logger),
		Logger:      logger,
		Metrics:     m,
		Concurrency: cfg.GenerationConcurrency,
	})

	svc := experiments.NewService(experiments.NewStore(db), gen, logger)
	svc.SetDefaultModel(cfg.Model())

	logger.Info("application initialized",
		"dialect", db.Dialect,
		"backend", gen.BackendName(),
		"default_model", cfg.Model(),
		"env", cfg.AppEnv,
	)

	return &App{Config: cfg, Logger: logger, DB: db, Metrics: m, Service: svc}, nil
}

// NewBackend returns the configured live backend, or nil when generation
// should use the fallback synthesizer.
func NewBackend(cfg *config.Config, logger *slog.Logger) generator.Backend {
	if !cfg.LiveBackendEnabled() {
		return nil
	}
	opts := generator.ClientOptions{
		APIKey:     cfg.APIKey(),
		BaseURL:    cfg.BaseURL(),
		Timeout:    cfg.BackendTimeout,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	}
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		return generator.NewAnthropicClient(opts)
	default:
		return generator.NewOpenAIClient(opts)
	}
}

// Handler is the HTTP API wrapped in CORS. Development allows any origin;
// other environments use CORS_ORIGINS.
func (a *App) Handler() http.Handler {
	h := experiments.NewHandler(a.Service, a.Metrics, a.Logger)

	origins := a.Config.CORSOrigins
	if a.Config.IsDevelopment() && len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(h.Routes())
}

// Serve runs the HTTP server until ctx is canceled, then drains in-flight
// requests.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	// In-flight generation runs get the backend timeout plus a margin.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.BackendTimeout+5*time.Second)
	defer cancel()
	a.Logger.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	if err := a.DB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
