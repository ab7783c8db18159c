package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"progresshub/internal/config"
	apperrors "progresshub/internal/errors"
	"progresshub/internal/infrastructure"
	appmw "progresshub/internal/middleware"
	"progresshub/internal/operations"
	"progresshub/internal/persistence"
	handlers "progresshub/internal/transport/http"
	ws "progresshub/internal/websocket"
	"progresshub/pkg/contracts"
)

// Application wires the registry, the broadcast server, the REST surface and
// the optional history store behind one HTTP server.
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	Router        *chi.Mux
	Server        *http.Server
	Registry      *operations.Registry
	WebSocket     *ws.Server
	Store         *persistence.Store
	Listener      *persistence.Listener
	OTelProviders *infrastructure.OTelProviders
	ErrorHandler  *apperrors.ErrorHandler

	stopOnce sync.Once
	stopErr  error
}

// NewApplication loads configuration from the environment and builds the application
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(context.Background(), cfg, logger)
}

// New builds an application from an explicit configuration
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	logger.InfoContext(ctx, "Application starting",
		slog.String("version", contracts.Version),
		slog.String("address", cfg.Server.Address()),
		slog.Bool("persistence", cfg.Persistence.Enabled))

	providers, err := infrastructure.InitializeOTel(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
		ErrorHandler:  apperrors.NewErrorHandler(logger, cfg.Observability.Environment == "development"),
	}

	if err := a.initializeServices(ctx); err != nil {
		_ = providers.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.createServer()
	return a, nil
}

// initializeServices creates the registry, the broadcast server and the history store
func (a *Application) initializeServices(ctx context.Context) error {
	a.Registry = operations.NewRegistry(
		operations.ConfigFrom(a.Config.Operations),
		a.Logger,
		operations.WithMeter(a.OTelProviders.Meter),
	)

	a.WebSocket = ws.NewServer(
		a.Registry,
		ws.ServerConfigFrom(a.Config.WebSocket, a.Config.Server.AllowedOrigins),
		a.Logger,
		ws.WithServerMeter(a.OTelProviders.Meter),
	)

	if !a.Config.Persistence.Enabled {
		return nil
	}

	store, err := persistence.NewStore(ctx, persistence.StoreConfig{
		DBPath: a.Config.Persistence.DBPath,
		Logger: a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	a.Store = store
	a.Listener = persistence.NewListener(store, a.Config.Persistence.BufferSize, a.Logger)
	return nil
}

// setupRouter builds the chi router.
// Order: RequestID → RealIP → OTel → request log + recovery → headers → CORS → rate limit.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(appmw.RequestID)
	r.Use(appmw.RealIP)

	// the upgrade path skips the response-wrapping middleware
	r.With(appmw.WebSocketTraceMiddleware(a.Logger)).Get("/ws", a.WebSocket.ServeHTTP)

	r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)

	r.Group(func(r chi.Router) {
		if otelMiddleware, err := appmw.NewOTelMiddleware(a.OTelProviders); err != nil {
			a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}

		r.Use(apperrors.NewErrorMiddleware(a.ErrorHandler, a.Logger).Handler)
		r.Use(appmw.SecurityHeaders)
		if a.Config.Server.EnableCORS {
			r.Use(appmw.CORSFrom(a.Config.Server, a.Logger))
		}
		r.Use(appmw.RateLimiterFrom(a.Config.RateLimit, a.Logger).Handler)
		r.Use(middleware.Timeout(a.Config.Server.WriteTimeout))

		r.Route("/api", a.setupAPIRoutes)
	})

	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	a.Router = r
}

func (a *Application) setupAPIRoutes(r chi.Router) {
	// a typed nil *Store must not reach the handler as a non-nil interface
	var history handlers.HistoryStore
	if a.Store != nil {
		history = a.Store
	}

	health := handlers.NewHealthHandler(a.Registry, a.WebSocket, a.Store != nil, a.Logger)
	ops := handlers.NewOperationsHandler(a.Registry, a.ErrorHandler, a.Logger)
	hist := handlers.NewHistoryHandler(history, a.ErrorHandler, a.Logger)

	r.Get("/health", health.HealthCheck)
	r.Get("/version", health.Version)
	r.Get("/status", health.Status)
	r.Mount("/operations", ops.Routes(hist))
	r.Get("/history", hist.ListOperations)
	r.Get("/history/export", hist.ExportOperations)
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Address(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
}

// Start starts the background services. It does not listen.
func (a *Application) Start(ctx context.Context) error {
	a.WebSocket.Start()
	if a.Listener != nil {
		a.Listener.Start(a.Registry)
	}
	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", a.Server.Addr))
	return nil
}

// Serve runs the application on ln until ctx is canceled or the server fails,
// then stops everything.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.WithoutCancel(ctx))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(ctx, "HTTP server listening", slog.String("address", ln.Addr().String()))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if a.Store != nil && a.Config.Persistence.HistoryRetention > 0 {
		g.Go(func() error {
			a.pruneHistory(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.WithoutCancel(ctx))
	})

	return g.Wait()
}

// Run listens on the configured address until SIGINT or SIGTERM
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Stop gracefully stops the application. Only the first call does any work.
func (a *Application) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.stopErr = a.stop(ctx)
	})
	return a.stopErr
}

func (a *Application) stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error

	// hijacked websocket connections are not tracked by Shutdown, the server closes them
	a.WebSocket.Stop()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	// drain queued snapshots before the registry stops accepting work
	if a.Listener != nil {
		if err := a.Listener.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("history listener: %w", err))
		}
	}
	a.Registry.Close()

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history store: %w", err))
		}
	}

	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

// pruneHistory deletes finished operations older than the retention window
func (a *Application) pruneHistory(ctx context.Context) {
	retention := a.Config.Persistence.HistoryRetention
	ticker := time.NewTicker(a.Config.Persistence.PruneInterval)
	defer ticker.Stop()

	prune := func() {
		n, err := a.Store.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			if ctx.Err() == nil {
				a.Logger.WarnContext(ctx, "history prune failed", slog.String("error", err.Error()))
			}
			return
		}
		if n > 0 {
			a.Logger.InfoContext(ctx, "history pruned", slog.Int64("operations", n))
		}
	}

	prune()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
