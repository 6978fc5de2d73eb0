// Package app wires configuration, the engine, metrics and the transport
// server into a runnable service with startup and shutdown hooks.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	nethttp "net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/searchktools/quickapi/config"
	"github.com/searchktools/quickapi/core"
	"github.com/searchktools/quickapi/core/docs"
	"github.com/searchktools/quickapi/core/http"
	"github.com/searchktools/quickapi/core/middleware"
	"github.com/searchktools/quickapi/core/observability"
	"github.com/searchktools/quickapi/core/server"
)

// Hook runs at startup or shutdown. A startup hook error aborts Run.
type Hook func(ctx context.Context) error

// App is a configured service.
type App struct {
	cfg    *config.Config
	engine *core.Engine
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics
	monitor  *observability.Monitor

	startup  []Hook
	shutdown []Hook

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
}

// New creates an application with the standard middleware stack enabled by
// cfg: request ids, access logging, metrics, panic recovery, CORS, rate
// limiting, request timeouts and JWT authentication.
func New(cfg *config.Config) *App {
	a := newApp(cfg, nil)

	stack := []middleware.Middleware{
		middleware.RequestID(),
		middleware.Logger(a.logger),
	}
	if cfg.Metrics.Enabled {
		stack = append(stack, middleware.Metrics(a.metrics, a.monitor))
	}
	stack = append(stack, middleware.Recovery())
	if cfg.CORS.Enabled {
		stack = append(stack, middleware.CORS(middleware.CORSConfig{
			AllowOrigins:     cfg.CORS.AllowOrigins,
			AllowMethods:     cfg.CORS.AllowMethods,
			AllowHeaders:     cfg.CORS.AllowHeaders,
			ExposeHeaders:    cfg.CORS.ExposeHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAge,
		}))
	}
	if cfg.RateLimit.Enabled {
		stack = append(stack, middleware.RateLimiter(cfg.RateLimit.RequestsPerSecond, middleware.ByRemoteAddr))
	}
	if cfg.Limits.RequestTimeout > 0 {
		stack = append(stack, middleware.Timeout(cfg.Limits.RequestTimeout))
	}
	if cfg.JWT.Enabled {
		exclude := slices.Clone(cfg.JWT.ExcludePaths)
		if cfg.Docs.Enabled {
			exclude = append(exclude, cfg.Docs.Path)
			if cfg.Docs.UIPath != "" {
				exclude = append(exclude, cfg.Docs.UIPath)
			}
		}
		stack = append(stack, middleware.JWTAuth(middleware.JWTConfig{
			Secret:       []byte(cfg.JWT.Secret),
			Issuer:       cfg.JWT.Issuer,
			Audience:     cfg.JWT.Audience,
			Leeway:       cfg.JWT.Leeway,
			ExcludePaths: exclude,
			Logger:       a.logger,
		}))
	}
	a.engine.Use(stack...)

	a.registerBuiltins()
	return a
}

// NewWithEngine creates an application around a pre-configured engine. No
// middleware is added.
func NewWithEngine(cfg *config.Config, engine *core.Engine) *App {
	return newApp(cfg, engine)
}

func newApp(cfg *config.Config, engine *core.Engine) *App {
	logger := cfg.Log.NewLogger(os.Stderr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(cfg.Metrics.Namespace, reg)

	if engine == nil {
		engine = core.NewEngine(core.Options{
			Debug:               cfg.Debug,
			Logger:              logger,
			Metrics:             metrics,
			MaxBodySize:         cfg.Limits.MaxBodySize,
			MaxWebSocketMessage: cfg.Limits.MaxWebSocketMessage,
		})
	}

	return &App{
		cfg:      cfg,
		engine:   engine,
		logger:   logger,
		registry: reg,
		metrics:  metrics,
		monitor:  observability.NewMonitor(),
		ready:    make(chan struct{}),
	}
}

func (a *App) registerBuiltins() {
	if a.cfg.Docs.Enabled {
		a.engine.GET(a.cfg.Docs.Path, docs.Handler(a.cfg.Docs.Title, a.cfg.Docs.Version, a.engine.Routes))
		if a.cfg.Docs.UIPath != "" {
			a.engine.GET(a.cfg.Docs.UIPath, docs.UIHandler(a.cfg.Docs.Title, a.cfg.Docs.Path))
		}
	}
	if a.cfg.Debug {
		a.engine.GET("/debug/routes", a.debugRoutes)
	}
}

type routeInfo struct {
	Method  string `json:"method"`
	Pattern string `json:"pattern"`
}

func (a *App) debugRoutes(*http.Request) (*http.Response, error) {
	var routes []routeInfo
	for _, r := range a.engine.Routes() {
		routes = append(routes, routeInfo{Method: r.Method, Pattern: r.Pattern})
	}
	requests, failures := a.monitor.Totals()
	return http.JSON(200, map[string]any{
		"routes":   routes,
		"stats":    a.monitor.Snapshot(),
		"hotspots": a.monitor.Hotspots(500*time.Millisecond, 0.05),
		"totals":   map[string]uint64{"requests": requests, "errors": failures},
	})
}

// Engine returns the underlying engine for route registration.
func (a *App) Engine() *core.Engine { return a.engine }

func (a *App) Logger() *slog.Logger { return a.logger }

func (a *App) Metrics() *observability.Metrics { return a.metrics }

// Registry is the Prometheus registry served at the metrics path. Register
// application collectors here.
func (a *App) Registry() *prometheus.Registry { return a.registry }

func (a *App) Monitor() *observability.Monitor { return a.monitor }

// OnStartup registers a hook run before the server starts accepting.
func (a *App) OnStartup(h Hook) { a.startup = append(a.startup, h) }

// OnShutdown registers a hook run after the server has stopped, in reverse
// registration order.
func (a *App) OnShutdown(h Hook) { a.shutdown = append(a.shutdown, h) }

// Handler builds the dispatcher and mounts it with the metrics endpoint.
func (a *App) Handler() (nethttp.Handler, error) {
	d, err := a.engine.Build()
	if err != nil {
		return nil, fmt.Errorf("building routes: %w", err)
	}

	mux := nethttp.NewServeMux()
	if a.cfg.Metrics.Enabled {
		mux.Handle(a.cfg.Metrics.Path, a.metrics.Handler())
	}
	mux.Handle("/", d)
	return mux, nil
}

// Ready is closed once the server is listening.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the listening address once Ready is closed.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler, err := a.Handler()
	if err != nil {
		return err
	}

	for _, h := range a.startup {
		if err := h(ctx); err != nil {
			return fmt.Errorf("startup hook: %w", err)
		}
	}

	srv := server.New(server.Config{
		Addr:              a.cfg.Server.Addr(),
		Handler:           handler,
		H2C:               a.cfg.Server.H2C,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
		Socket: server.SocketOptions{
			NoDelay:   a.cfg.Server.TCPNoDelay,
			KeepAlive: a.cfg.Server.KeepAlive,
			ReuseAddr: true,
			ReusePort: a.cfg.Server.ReusePort,
		},
		Logger: a.logger,
	})
	ln, err := srv.Listen(ctx)
	if err != nil {
		return errors.Join(err, a.runShutdownHooks())
	}

	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()
	close(a.ready)

	a.logger.Info("service starting",
		"env", a.cfg.Env,
		"addr", ln.Addr().String(),
		"routes", len(a.engine.Routes()),
		"debug", a.cfg.Debug,
	)

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	var serveErr error
	select {
	case serveErr = <-errc:
	case <-ctx.Done():
		a.logger.Info("shutting down", "timeout", a.cfg.Server.ShutdownTimeout)
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			serveErr = fmt.Errorf("graceful shutdown: %w", err)
			srv.Close()
		}
		if err := <-errc; err != nil && serveErr == nil {
			serveErr = err
		}
	}
	if errors.Is(serveErr, server.ErrServerClosed) {
		serveErr = nil
	}

	return errors.Join(serveErr, a.runShutdownHooks())
}

func (a *App) runShutdownHooks() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown hook: %w", err))
		}
	}
	return errors.Join(errs...)
}
