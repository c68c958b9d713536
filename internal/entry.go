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
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/tasklink/internal/actions"
	"github.com/starford/tasklink/internal/api"
	"github.com/starford/tasklink/internal/bulk"
	"github.com/starford/tasklink/internal/dedup"
	"github.com/starford/tasklink/internal/events"
	"github.com/starford/tasklink/internal/index"
	"github.com/starford/tasklink/internal/mcpserver"
	"github.com/starford/tasklink/internal/noteservice"
	"github.com/starford/tasklink/internal/notify"
	"github.com/starford/tasklink/internal/querywatch"
	"github.com/starford/tasklink/internal/sse"
	"github.com/starford/tasklink/internal/storage"
	"github.com/starford/tasklink/internal/tasks"
	"github.com/starford/tasklink/internal/wshub"
)

const shutdownTimeout = 10 * time.Second

// vault is the storage and index stack shared by every command.
type vault struct {
	cfg      *Config
	logger   *slog.Logger
	store    *storage.FS
	db       *index.DB
	feed     *events.Feed
	notes    *noteservice.Service
	detector *dedup.Detector
	closers  []func() error
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger builds the JSON logger, writing to a rotating file when one
// is configured.
func (a *application) newLogger() (*slog.Logger, func() error) {
	out := a.logOutput
	closeFn := func() error { return nil }
	if lf := a.config.App.LogFile; lf.Enabled() {
		lj := &lumberjack.Logger{
			Filename:   lf.Path,
			MaxSize:    lf.MaxSizeMB,
			MaxBackups: lf.MaxBackups,
			MaxAge:     lf.MaxAgeDays,
			Compress:   lf.Compress,
		}
		out, closeFn = lj, lj.Close
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	})), closeFn
}

// openVault prepares storage, opens the index and runs the initial sync.
func (a *application) openVault() (*vault, error) {
	cfg := a.config
	logger, closeLog := a.newLogger()
	slog.SetDefault(logger)

	v := &vault{cfg: cfg, logger: logger, closers: []func() error{closeLog}}

	logger.Info("Configuration loaded",
		slog.String("version", a.version),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("tasks_folder", cfg.Tasks.Folder),
		slog.String("identification", cfg.Tasks.Identification.Method),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		v.close()
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		v.close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	v.store = store

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		v.close()
		return nil, fmt.Errorf("init index: %w", err)
	}
	v.db = db
	v.closers = append(v.closers, db.Close)

	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	v.feed = events.NewFeed()
	v.notes = noteservice.NewService(store, db)
	v.detector = dedup.NewDetector(tasks.NewRepository(v.notes, cfg.Tasks))
	return v, nil
}

// close releases resources in reverse order of acquisition.
func (v *vault) close() {
	for i := len(v.closers) - 1; i >= 0; i-- {
		if err := v.closers[i](); err != nil {
			v.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
}

// services builds the query watcher and the action layer on top of the
// vault. Query notifications go to dispatch.
func (v *vault) services(dispatch querywatch.Dispatcher) (*querywatch.Watcher, *actions.Service) {
	settings := v.cfg.Tasks
	watcher := querywatch.New(
		v.cfg.Watch.Watcher(),
		v.store,
		v.feed,
		querywatch.NewFallbackEvaluator(v.store, v.notes, settings),
		nil,
		dispatch,
		v.logger,
	)
	svc := actions.New(actions.Deps{
		Notes:     v.notes,
		Dups:      v.detector,
		Generator: bulk.NewGenerator(tasks.NewService(v.notes, settings), v.detector, v.logger),
		Converter: bulk.NewConverter(v.notes, v.detector, v.logger),
		Watcher:   watcher,
		Settings:  settings,
		Logger:    v.logger,
	})
	return watcher, svc
}

// watchIndex keeps the index current and feeds change events to subscribers.
func (v *vault) watchIndex(ctx context.Context) error {
	return index.Watch(ctx, v.db, v.store, v.cfg.Vault.Path, v.logger, index.WatchOptions{
		QuerySuffix: v.cfg.Watch.QuerySuffix,
		Publisher:   v.feed,
	})
}

// Run starts the HTTP server together with the index and query watchers.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	v, err := app.openVault()
	if err != nil {
		return err
	}
	defer v.close()

	cfg := app.config
	logger := v.logger

	broker := sse.NewBroker(cfg.App.HTTP.SSEKeepAlive)
	unsubscribe := v.feed.Subscribe(broker.HandleEvent)
	defer unsubscribe()
	hub := wshub.New(cfg.App.HTTP.AllowedOrigins, logger)

	watcher, svc := v.services(notify.NewFanout(broker, hub, notify.NewLogDispatcher(logger)))

	apiRouter := api.NewRouter(svc, api.RouterConfig{
		AuthEnabled:   cfg.Auth.AuthEnabled(),
		Token:         cfg.Auth.Token,
		Events:        broker,
		Notifications: hub,
		Logger:        logger,
	})

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
		if err := v.db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return v.watchIndex(gCtx) })
	g.Go(func() error { return watcher.Run(gCtx) })

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

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

		// Streams end first so Shutdown does not wait on them.
		broker.Close()
		hub.Close()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools over stdio against the same vault. Logs go
// to the configured file or to stderr, never to stdout.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	if app.logOutput == os.Stdout {
		app.logOutput = io.Discard
	}
	v, err := app.openVault()
	if err != nil {
		return err
	}
	defer v.close()

	watcher, svc := v.services(notify.NewLogDispatcher(v.logger))
	srv := mcpserver.New(svc, app.version, v.logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return v.watchIndex(gCtx) })
	g.Go(func() error { return watcher.Run(gCtx) })
	g.Go(func() error {
		defer cancel()
		v.logger.Info("MCP server listening on stdio")
		return srv.ServeStdio(gCtx)
	})

	if err := g.Wait(); err != nil {
		v.logger.Error("MCP server error", slog.String("error", err.Error()))
		return err
	}
	v.logger.Info("MCP server stopped")
	return nil
}
