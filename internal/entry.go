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
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/xwiki/internal/api"
	"github.com/starford/xwiki/internal/assets"
	"github.com/starford/xwiki/internal/cache"
	"github.com/starford/xwiki/internal/docstore"
	"github.com/starford/xwiki/internal/mcpserver"
	"github.com/starford/xwiki/internal/models"
	"github.com/starford/xwiki/internal/pages"
	"github.com/starford/xwiki/internal/projects"
	"github.com/starford/xwiki/internal/reconcile"
	"github.com/starford/xwiki/internal/search"
	"github.com/starford/xwiki/internal/sse"
	"github.com/starford/xwiki/internal/telemetry"
)

// runtime holds the components shared by every command.
type runtime struct {
	cfg       *Config
	logger    *slog.Logger
	telemetry *telemetry.Providers
	db        *cache.DB
	store     docstore.Store
	local     *docstore.Local // nil for the github backend
	broker    *sse.Broker
	pages     *pages.Service
	search    *search.Service
	projects  *projects.Service
	uploader  *assets.Uploader
	closers   []func()
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

func newLogger(cfg *Config, out io.Writer) *slog.Logger {
	if cfg.App.LogFile != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   cfg.App.LogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

// setup constructs the database, document store and services. The caller must
// call close.
func setup(ctx context.Context, app *application, withEvents bool) (_ *runtime, err error) {
	cfg := app.config
	rt := &runtime{cfg: cfg}
	defer func() {
		if err != nil {
			rt.close()
		}
	}()

	rt.logger = newLogger(cfg, app.logOutput)
	slog.SetDefault(rt.logger)

	rt.logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("content_root", cfg.Storage.ContentRoot),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rt.telemetry, err = telemetry.Init(ctx, cfg.Telemetry.otel(), app.version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	rt.closers = append(rt.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.telemetry.Shutdown(shutdownCtx); err != nil {
			rt.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	})

	rt.db, err = cache.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	rt.closers = append(rt.closers, func() { _ = rt.db.Close() })

	now := time.Now().UTC()
	if err := rt.db.EnsureProject(ctx, &models.Project{
		ID:        cfg.Wiki.DefaultProject,
		Title:     cfg.Wiki.DefaultProject,
		Color:     projects.DefaultColor,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("ensure default project: %w", err)
	}

	store, err := rt.openStore()
	if err != nil {
		return nil, fmt.Errorf("init document store: %w", err)
	}
	rt.store = telemetry.WrapStore(store, rt.telemetry)

	var events pages.Publisher
	if withEvents {
		rt.broker = sse.NewBroker(cfg.Wiki.EventsThrottle, cfg.Wiki.EventsPing)
		rt.closers = append(rt.closers, rt.broker.Close)
		events = rt.broker
	}

	rt.pages = pages.NewService(rt.store, rt.db, events, pages.Config{
		DefaultProject: cfg.Wiki.DefaultProject,
		ArchivePrefix:  cfg.Wiki.ArchivePrefix,
	})
	rt.search = search.New(rt.db)
	rt.projects = projects.NewService(rt.db)
	rt.uploader = assets.NewUploader(rt.store)
	return rt, nil
}

func (rt *runtime) openStore() (docstore.Store, error) {
	layout := docstore.Layout{Root: strings.Trim(rt.cfg.Storage.ContentRoot, "/")}
	switch rt.cfg.Storage.Backend {
	case BackendLocal:
		if err := os.MkdirAll(rt.cfg.Storage.LocalPath, 0o755); err != nil {
			return nil, fmt.Errorf("create local store dir: %w", err)
		}
		local, err := docstore.NewLocal(rt.cfg.Storage.LocalPath, layout, strings.TrimRight(rt.cfg.Storage.PublicURL, "/"))
		if err != nil {
			return nil, err
		}
		rt.local = local
		return local, nil
	case BackendGitHub:
		gh := rt.cfg.GitHub
		return docstore.NewGitHub(docstore.GitHubConfig{
			Token:   gh.Token,
			Owner:   gh.Owner,
			Repo:    gh.Repo,
			Branch:  gh.Branch,
			BaseURL: gh.BaseURL,
			Layout:  layout,
		})
	}
	return nil, fmt.Errorf("unknown storage backend %q", rt.cfg.Storage.Backend)
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *runtime) router() http.Handler {
	deps := api.Deps{
		Pages:    rt.pages,
		Search:   rt.search,
		Projects: rt.projects,
		Uploader: rt.uploader,
		DB:       rt.db,
	}
	if rt.broker != nil {
		deps.Events = rt.broker
	}
	if rt.local != nil {
		deps.RawRoot = rt.local.Root()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.CORS(rt.cfg.App.HTTP.CORSOrigins))
	r.Mount("/", api.NewRouter(deps))
	return r
}

// Run starts the HTTP server, the periodic reconciler and, for the local
// backend, the file watcher. It returns after a graceful shutdown.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, app, true)
	if err != nil {
		return err
	}
	defer rt.close()

	cfg := rt.cfg
	logger := rt.logger

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           rt.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Periodic reconciliation.
	g.Go(func() error {
		rec := reconcile.New(rt.store, rt.db, rt.pages, reconcile.Options{Fix: cfg.Wiki.ReconcileFix})
		return rec.Loop(gCtx, cfg.Wiki.ReconcileInterval)
	})

	// External edits to the local working tree.
	if rt.local != nil && cfg.Storage.Watch {
		g.Go(func() error {
			rec := reconcile.New(rt.store, rt.db, rt.pages, reconcile.Options{Fix: true})
			if err := rec.Watch(gCtx, rt.local.ContentDir()); err != nil {
				logger.Warn("file watcher disabled", slog.String("error", err.Error()))
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

	// Shut down on signal or on the first failure.
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...")

		// Event streams never finish on their own.
		rt.broker.Close()

		timeout := cfg.App.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools over stdin/stdout until the client disconnects.
// Logs go to stderr unless WithLogOutput says otherwise.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	rt, err := setup(ctx, app, false)
	if err != nil {
		return err
	}
	defer rt.close()

	rt.logger.Info("MCP server starting on stdio")
	return mcpserver.New(rt.pages, rt.search, rt.uploader, app.version).ServeStdio()
}

// Reconcile runs one reconciliation pass and returns its report.
func Reconcile(ctx context.Context, fix bool, opts ...Option) (*reconcile.Report, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	rt, err := setup(ctx, app, false)
	if err != nil {
		return nil, err
	}
	defer rt.close()

	return reconcile.New(rt.store, rt.db, rt.pages, reconcile.Options{Fix: fix}).Run(ctx)
}
