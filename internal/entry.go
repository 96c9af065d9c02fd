// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/spices/internal/activity"
	"github.com/starford/spices/internal/api"
	"github.com/starford/spices/internal/desktop"
	"github.com/starford/spices/internal/harvester"
	"github.com/starford/spices/internal/installer"
	"github.com/starford/spices/internal/sse"
	"github.com/starford/spices/internal/watcher"
)

// NewLogger builds the structured JSON logger used by every command.
func NewLogger(level slog.Level, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// Services are the long-lived components shared by the server and the
// one-shot commands.
type Services struct {
	Manager  *harvester.Manager
	Activity *activity.Logger
}

// Close flushes the activity log and releases every harvester.
func (s *Services) Close() error {
	err := s.Manager.Close()
	s.Activity.Close()
	return err
}

// Open builds one harvester per configured type. notifier may be nil.
func Open(cfg *Config, logger *slog.Logger, notifier harvester.Notifier) (*Services, error) {
	if err := os.MkdirAll(cfg.Spices.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	actLog := activity.New(cfg.Paths.ActivityLog, logger)
	gsettings := desktop.NewGSettings(nil)
	httpClient := &http.Client{}

	var hs []*harvester.Harvester
	closeAll := func() {
		for _, h := range hs {
			_ = h.Close()
		}
		actLog.Close()
	}

	for _, kind := range cfg.Spices.PackageTypes() {
		h, err := harvester.New(harvester.Options{
			Type:           kind,
			BaseURL:        cfg.Spices.BaseURL,
			CacheDir:       cfg.Spices.CacheDir,
			InstallDirs:    cfg.Paths.InstallDirs(kind),
			LocaleDir:      cfg.Paths.LocaleDir,
			SettingsDir:    cfg.Paths.SettingsDir,
			HTTPClient:     httpClient,
			IndexTimeout:   cfg.Spices.IndexTimeout,
			AssetTimeout:   cfg.Spices.AssetTimeout,
			ArchiveTimeout: cfg.Spices.ArchiveTimeout,
			Workers:        cfg.Spices.Workers,
			Locale:         cfg.Spices.Locale,
			Compiler:       installer.Msgfmt{Path: cfg.Spices.Msgfmt},
			Activity:       actLog,
			Notifier:       notifier,
			Enabled:        gsettings,
			Logger:         logger,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init %s harvester: %w", kind, err)
		}
		hs = append(hs, h)
	}

	return &Services{
		Manager:  harvester.NewManager(hs...),
		Activity: actLog,
	}, nil
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := NewLogger(cfg.App.LogLevel, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("base_url", cfg.Spices.BaseURL),
		slog.String("cache_dir", cfg.Spices.CacheDir),
		slog.String("activity_log", cfg.Paths.ActivityLog),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc, err := Open(cfg, logger, broker)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("close harvesters", slog.String("error", err.Error()))
		}
	}()

	apiRouter := api.NewRouter(svc.Manager, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Mount API routes under /api; the broker is served at /api/events.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Rescan install dirs on change and tell clients.
	if cfg.Spices.Watch {
		roots := map[string]*harvester.Harvester{}
		var dirs []string
		for _, h := range svc.Manager.All() {
			for _, d := range h.WatchDirs() {
				roots[d] = h
				dirs = append(dirs, d)
			}
		}
		g.Go(func() error {
			return watcher.Watch(gCtx, dirs, watcher.DefaultDebounce, logger, func(root string) {
				h, ok := roots[root]
				if !ok {
					return
				}
				h.ReloadLocal()
				broker.LocalChanged(h.Type())
			})
		})
	}

	if app.refreshOnStart {
		g.Go(func() error {
			if _, err := svc.Manager.RefreshAllCaches(gCtx); err != nil {
				logger.Warn("initial refresh incomplete", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher and refresh stop with the server.
var errShutdown = errors.New("shutdown")
