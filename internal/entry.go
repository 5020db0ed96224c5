// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/linestore/internal/api"
	"github.com/starford/linestore/internal/console"
	"github.com/starford/linestore/internal/lines"
	"github.com/starford/linestore/internal/mcpserver"
	"github.com/starford/linestore/internal/sse"
	"github.com/starford/linestore/internal/telemetry"
	"github.com/starford/linestore/internal/watcher"
)

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	if app.logOut == nil {
		app.logOut = os.Stdout
	}
	logger := NewLogger(app.logOut, cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("storage_path", cfg.Storage.Path),
		slog.String("journal_path", cfg.Journal.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer flushTelemetry(logger, shutdownTelemetry)

	// SSE broker.
	broker := sse.NewBroker(cfg.SSE.TreeThrottle)
	broker.SetKeepAlive(cfg.SSE.KeepAlive)
	defer broker.Close()

	st, err := Open(ctx, cfg, logger, broker)
	if err != nil {
		return err
	}
	defer st.Close()

	apiRouter := api.NewRouter(st.Service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := st.Service.Usage(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"storage unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the local root for edits made by other processes.
	if st.Root != "" && cfg.Watcher.Enabled {
		g.Go(func() error {
			err := watcher.Watch(gCtx, st.Root, st.Service, logger, watcher.Options{
				Debounce: cfg.Watcher.Debounce,
				Skip:     lines.IsTempPath,
			})
			if err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
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

		// Unblock SSE handlers before draining connections.
		broker.Close()

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

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over the configured stdio streams until the
// client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	if app.logOut == nil {
		app.logOut = os.Stderr
	}
	logger := NewLogger(app.logOut, app.config.App.LogLevel)
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Init(ctx, app.config.Telemetry)
	if err != nil {
		return err
	}
	defer flushTelemetry(logger, shutdownTelemetry)

	st, err := Open(ctx, app.config, logger, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := mcpserver.New(st.Service, app.version)
	logger.Info("MCP server listening on stdio")
	return srv.Serve(ctx, app.stdin, app.stdout)
}

// RunConsole runs the interactive console on the configured streams.
func RunConsole(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	if app.logOut == nil {
		app.logOut = os.Stderr
	}
	logger := NewLogger(app.logOut, app.config.App.LogLevel)
	slog.SetDefault(logger)

	st, err := Open(ctx, app.config, logger, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	return console.NewSession(st.Service, app.stdout).Run(ctx, app.stdin)
}

func flushTelemetry(logger *slog.Logger, shutdown telemetry.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}
}
