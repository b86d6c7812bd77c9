// Chat widget server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/chatwidget/internal/api"
	"github.com/ashureev/chatwidget/internal/backend"
	"github.com/ashureev/chatwidget/internal/config"
	"github.com/ashureev/chatwidget/internal/identity"
	"github.com/ashureev/chatwidget/internal/metrics"
	"github.com/ashureev/chatwidget/internal/middleware"
	"github.com/ashureev/chatwidget/internal/session"
	"github.com/ashureev/chatwidget/internal/speech"
	"github.com/ashureev/chatwidget/internal/storage"
	"github.com/ashureev/chatwidget/internal/store"
	"github.com/ashureev/chatwidget/internal/widget"
	"github.com/ashureev/chatwidget/web"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "storage", cfg.StorageBackend, "version", version)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	provider, err := openStorage(cfg, repo)
	if err != nil {
		slog.Error("Failed to open widget storage", "backend", cfg.StorageBackend, "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := provider.Close(); closeErr != nil {
			slog.Error("Failed to close widget storage", "error", closeErr)
		}
	}()

	profiles, err := config.NewProfileSource(cfg.ProfilePath, cfg.Chat)
	if err != nil {
		slog.Error("Failed to load widget profile", "path", cfg.ProfilePath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := profiles.Watch(ctx); err != nil {
		slog.Warn("Profile hot reload disabled", "error", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(promRegistry)

	chat := backend.NewClient(cfg.Chat.APIURL, cfg.Chat.RequestTimeout, logger)
	opts := widget.Options{
		RevealInterval:   cfg.Widget.RevealInterval,
		InactivityWindow: cfg.Widget.InactivityWindow,
	}

	registry := session.NewRegistry(func(ctx context.Context, visitorID string, rec speech.Recognizer) (*widget.Engine, error) {
		return widget.New(ctx, widget.Deps{
			Storage:  provider.ForVisitor(visitorID),
			Backend:  chat,
			Speech:   rec,
			Profile:  profiles.Current(),
			Observer: collector,
			Logger:   logger.With("visitor_id", visitorID),
		}, opts)
	}, collector)

	limiter := session.NewSendLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)

	reaper, err := session.NewReaper(registry, repo, limiter, session.ReaperConfig{
		Cron:             cfg.Session.ReaperCron,
		EngineIdleTTL:    cfg.Session.EngineIdleTTL,
		VisitorRetention: cfg.Session.VisitorRetention,
	}, collector)
	if err != nil {
		slog.Error("Failed to initialize reaper", "error", err)
		os.Exit(1)
	}
	reaper.Start(ctx)

	baseHandler := api.NewHandler(registry, provider)
	healthHandler := api.NewHealthHandler(baseHandler, version)
	widgetHandler := api.NewWidgetHandler(baseHandler, profiles, limiter, collector, cfg)
	wsHandler := session.NewWebSocketHandler(registry, repo, limiter, collector, cfg.AllowedOrigins, cfg.IsDevelopment())

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins, identity.TabHeaderName))

	// Public routes.
	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{Registry: promRegistry}))

	// Visitor routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		widgetHandler.RegisterRoutes(r)
		r.Get("/ws/widget", wsHandler.ServeHTTP)
	})

	// Widget script and demo page.
	r.Handle("/*", web.Handler())

	// SSE and websocket connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Engines first so pending reveals stop before the stores close.
	registry.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}

// openStorage picks the backend that holds widget transcripts.
func openStorage(cfg *config.Config, repo store.Repository) (storage.Provider, error) {
	switch cfg.StorageBackend {
	case config.StoragePebble:
		return storage.OpenPebble(cfg.PebblePath)
	case config.StorageMemory:
		return storage.NewMemoryProvider(), nil
	default:
		return storage.NewRepositoryProvider(repo), nil
	}
}
