// Package app wires the companion daemon together and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/siraat/companion/internal/config"
	"github.com/siraat/companion/internal/handler"
	"github.com/siraat/companion/internal/proxy"
	"github.com/siraat/companion/pkg/health"
	"github.com/siraat/companion/pkg/session"
	"github.com/siraat/companion/pkg/tracing"
)

// App runs the companion daemon.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	core           *Core
	httpServer     *http.Server
	tracerShutdown tracing.ShutdownFunc
	cancel         context.CancelFunc

	ready    chan struct{}
	addrOnce sync.Once
	addr     net.Addr
}

// NewApp creates the daemon: tracer, token store, session, proxy and router.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	initCtx, cancelInit := context.WithTimeout(ctx, 10*time.Second)
	defer cancelInit()

	tracerShutdown, err := tracing.InitTracer(initCtx, cfg.Tracing(version))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	core, err := NewCore(initCtx, cfg, logger)
	if err != nil {
		_ = tracerShutdown(context.Background())
		return nil, err
	}

	api := cfg.API()
	coord := core.Client.Coordinator()
	p, err := proxy.New(api.BaseURL, proxy.NewTransport(api.HTTP, cfg.Breaker("siraat-proxy"), coord, logger), logger)
	if err != nil {
		_ = core.Close(context.Background())
		_ = tracerShutdown(context.Background())
		return nil, fmt.Errorf("create proxy: %w", err)
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("token_store", core.KV.Ping)
	healthHandler.RegisterNonCritical("backend", dialCheck(api.BaseURL))
	if core.Producer != nil {
		healthHandler.RegisterNonCritical("kafka", core.Producer.Ping)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	router := handler.NewRouter(bgCtx, cfg, handler.Deps{
		Health:  healthHandler,
		Session: handler.NewSessionHandler(core.Client, logger),
		Proxy:   p,
	}, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		core:   core,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           router,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      cfg.HTTPTimeout + 15*time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
		},
		tracerShutdown: tracerShutdown,
		cancel:         cancel,
		ready:          make(chan struct{}),
	}, nil
}

// dialCheck reports whether the backend host accepts TCP connections.
func dialCheck(baseURL string) health.Checker {
	return func(ctx context.Context) error {
		u, err := url.Parse(baseURL)
		if err != nil {
			return fmt.Errorf("parse backend URL: %w", err)
		}
		host := u.Host
		if u.Port() == "" {
			port := "80"
			if u.Scheme == "https" {
				port = "443"
			}
			host = net.JoinHostPort(u.Hostname(), port)
		}
		d := net.Dialer{Timeout: 2 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", host)
		if err != nil {
			return fmt.Errorf("backend unreachable: %w", err)
		}
		return conn.Close()
	}
}

// Ready is closed once the HTTP listener is bound.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Addr returns the bound listener address, or nil before Ready.
func (a *App) Addr() net.Addr {
	select {
	case <-a.ready:
		return a.addr
	default:
		return nil
	}
}

// restoreSession makes a persisted session usable before the first request:
// a stored access token is taken as is, a lone refresh token is exchanged.
func (a *App) restoreSession(ctx context.Context) {
	_, err := a.core.Client.Coordinator().EnsureValidToken(ctx)
	switch {
	case err == nil:
		a.logger.InfoContext(ctx, "session restored")
	case errors.Is(err, session.ErrNoSession):
		a.logger.InfoContext(ctx, "no stored session, waiting for login")
	default:
		a.logger.WarnContext(ctx, "stored session could not be restored", slog.String("error", err.Error()))
	}
}

// Run restores any stored session, serves HTTP and blocks until ctx is
// cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	a.restoreSession(ctx)

	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		_ = a.Shutdown()
		return fmt.Errorf("listen: %w", err)
	}
	a.addrOnce.Do(func() {
		a.addr = ln.Addr()
		close(a.ready)
	})

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", ln.Addr().String()))
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown stops the daemon in order:
// 1. HTTP server (drain in-flight requests)
// 2. Kafka producer and token store
// 3. Tracer (flush spans of the drained requests)
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")
	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.cancel()

	coreCtx, coreCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer coreCancel()
	if err := a.core.Close(coreCtx); err != nil {
		a.logger.Error("core shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer tracerCancel()
	if err := a.tracerShutdown(tracerCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
