package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"

	"github.com/thalamus/thalamus-api/internal/config"
	"github.com/thalamus/thalamus-api/internal/database/bunstore"
	"github.com/thalamus/thalamus-api/internal/domain/repository"
	"github.com/thalamus/thalamus-api/internal/infrastructure/llm"
	qdrantpkg "github.com/thalamus/thalamus-api/internal/infrastructure/qdrant"
	"github.com/thalamus/thalamus-api/internal/infrastructure/registry"
	"github.com/thalamus/thalamus-api/internal/infrastructure/resilience"
	"github.com/thalamus/thalamus-api/internal/infrastructure/tunnel"
	httpserver "github.com/thalamus/thalamus-api/internal/interface/http"
	"github.com/thalamus/thalamus-api/internal/usecase/query"
)

const shutdownTimeout = 10 * time.Second

// App holds every wired dependency. It is shared by the HTTP server and the CLI.
type App struct {
	Registry *repository.Registry
	Router   *query.Router
	Tunnel   *tunnel.Transport
	Hosted   *llm.Dispatcher
	Breakers *resilience.Set

	// Audit is nil when THALAMUS_AUDIT_DSN is empty.
	Audit repository.RouteAuditRepository

	closers []func() error
	log     logr.Logger
}

// Wire builds the dependency graph from cfg.
func Wire(ctx context.Context, cfg *config.Config, log logr.Logger) (_ *App, err error) {
	app := &App{log: log.WithName("system")}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	app.Registry, err = registry.Load(cfg.BackendsFile)
	if err != nil {
		return nil, err
	}
	app.log.Info("📚 Backend registry loaded", "backends", app.Registry.Len(), "file", cfg.BackendsFile)

	// consumer cancellation never trips a breaker
	app.Breakers = resilience.NewSet(cfg.BreakerThreshold, cfg.BreakerCooldown, func(err error) bool {
		return errors.Is(err, context.Canceled)
	})

	app.Tunnel, err = tunnel.New(tunnel.Config{
		KeyDir:         cfg.SSHKeyDir,
		KeyNames:       cfg.SSHKeyNames,
		JumpAddr:       cfg.JumpHost,
		JumpUser:       cfg.JumpUser,
		KnownHostsFile: cfg.KnownHostsFile,
		DialTimeout:    cfg.SSHDialTimeout,
	}, app.Breakers, log)
	if err != nil {
		return nil, err
	}

	httpClient := llm.NewHTTPClient(log)
	app.Hosted = llm.NewDispatcher(httpClient, cfg.DefaultMaxTokens, cfg.ProviderTimeout, log)

	var selfHosted, hosted repository.Dispatcher = app.Tunnel, app.Hosted
	if cfg.AuditDSN != "" {
		store, err := bunstore.OpenSQLite(ctx, cfg.AuditDSN)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, store.Close)
		app.Audit = store
		selfHosted = query.NewAuditedDispatcher(selfHosted, store, log)
		hosted = query.NewAuditedDispatcher(hosted, store, log)
		app.log.Info("🗃️ Route audit enabled", "dsn", cfg.AuditDSN)
	}

	selector, err := app.selector(ctx, cfg, httpClient, log)
	if err != nil {
		return nil, err
	}

	app.Router = query.NewRouter(selector, selfHosted, hosted, log)
	app.log.Info("🛤️ Query router initialized", "selector", cfg.Selector)
	return app, nil
}

func (a *App) selector(ctx context.Context, cfg *config.Config, httpClient *http.Client, log logr.Logger) (repository.Selector, error) {
	random := query.NewRandomSelector(a.Registry, nil)
	if cfg.Selector != "semantic" {
		return random, nil
	}

	embedder := llm.NewOllamaEmbedder(cfg.OllamaHost, cfg.OllamaEmbedModel, httpClient, log)
	a.log.Info("📥 Ensuring embedding model is available", "model", cfg.OllamaEmbedModel)
	if err := embedder.PullModel(ctx); err != nil {
		a.log.Error(err, "Failed to pull embedding model", "model", cfg.OllamaEmbedModel)
	}

	index, err := qdrantpkg.NewIndex(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, index.Close)

	semantic := query.NewSemanticSelector(a.Registry, embedder, index, random, cfg.SemanticMinScore, log)
	if _, err := semantic.Index(ctx); err != nil {
		// queries fall back to random until the index is filled
		a.log.Error(err, "Failed to index backend exemplars")
	}
	return semantic, nil
}

// Close releases the database and index connections in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Server runs the HTTP API until SIGINT or SIGTERM.
type Server struct {
	cfg   *config.Config
	root  logr.Logger
	log   logr.Logger
	drain time.Duration
}

func New(cfg *config.Config, log logr.Logger) *Server {
	return &Server{
		cfg:   cfg,
		root:  log,
		log:   log.WithName("system"),
		drain: shutdownTimeout,
	}
}

// Run wires the application and serves until a shutdown signal arrives.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := Wire(ctx, s.cfg, s.root)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			s.log.Error(err, "Failed to release resources")
		}
	}()

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	api := httpserver.NewServer(app.Router, app.Registry, app.Audit, s.root)
	return s.serve(ctx, ln, api.RegisterRoutes())
}

// serve handles requests on ln until ctx ends, then drains. Requests still
// running when the drain period expires have their contexts cancelled, which
// closes their tunnels and provider streams.
func (s *Server) serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	serveErr := make(chan error, 1)
	go func() {
		s.log.Info("🌐 Starting REST API server", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server failed: %w", err)
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	s.log.Info("🛑 Shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.drain)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error(err, "Drain period expired, cancelling in-flight requests")
		cancelRequests()
		_ = httpServer.Close()
	}

	s.log.Info("✅ Server stopped gracefully")
	return nil
}
