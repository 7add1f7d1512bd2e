// Package frontend serves the HTTP API: plan submission and execution,
// direct capability dispatch, the natural-language agent endpoints, and
// operational surfaces (health, metrics, LLM usage).
package frontend

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/olympus-org/olympus/internal/config"
	"github.com/olympus-org/olympus/internal/logger"
)

// Server owns the HTTP listener and its graceful shutdown.
type Server struct {
	api        *API
	config     *config.Config
	registry   *prometheus.Registry
	httpServer *http.Server
}

func NewServer(api *API, cfg *config.Config, reg *prometheus.Registry) *Server {
	return &Server{
		api:      api,
		config:   cfg,
		registry: reg,
	}
}

// Serve builds the router, starts listening and blocks until the context is
// canceled or a termination signal arrives.
func (srv *Server) Serve(ctx context.Context) error {
	r := srv.buildRouter()

	addr := net.JoinHostPort(srv.config.Server.Host, strconv.Itoa(srv.config.Server.Port))
	srv.httpServer = &http.Server{
		Handler:           r,
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Server is starting", "addr", addr)
		if err := srv.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "Failed to start server", "err", err)
		}
	}()

	srv.gracefulShutdown(ctx)
	return nil
}

// buildRouter assembles the middleware chain and mounts the API routes under
// the configured base path.
func (srv *Server) buildRouter() chi.Router {
	requestLogger := httplog.NewLogger("http", httplog.Options{
		LogLevel:         slog.LevelDebug,
		JSON:             srv.config.Core.LogFormat == "json",
		Concise:          true,
		RequestHeaders:   true,
		MessageFieldName: "msg",
		ResponseHeaders:  true,
	})

	r := chi.NewMux()
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(withRecoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))
	r.Use(withRequestID)
	if srv.config.Server.MaxBodyBytes > 0 {
		r.Use(withBodyLimit(srv.config.Server.MaxBodyBytes))
	}
	if srv.config.Server.RateLimitPerMin > 0 {
		limiter := newClientLimiter(srv.config.Server.RateLimitPerMin)
		if srv.config.Server.RateLimitChatPerMin > 0 {
			limiter.SetChatLimit(srv.config.Server.RateLimitChatPerMin)
		}
		r.Use(withRateLimit(limiter))
	}
	if srv.api.metrics != nil {
		r.Use(srv.api.metrics.Middleware)
	}
	if srv.config.Server.APIToken != "" {
		r.Use(tokenAuth("olympus", srv.config.Server.APIToken))
	}

	basePath := path.Join(srv.config.Server.BasePath, "api/v1")
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	r.Route(basePath, srv.api.Routes)

	if srv.config.Telemetry.MetricsEnabled && srv.registry != nil {
		r.Method("GET", "/metrics", promhttp.HandlerFor(srv.registry, promhttp.HandlerOpts{}))
	}

	return r
}

func (srv *Server) Shutdown(ctx context.Context) error {
	if srv.httpServer != nil {
		logger.Info(ctx, "Server is shutting down", "addr", srv.httpServer.Addr)
		return srv.httpServer.Shutdown(ctx)
	}
	return nil
}

func (srv *Server) gracefulShutdown(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		logger.Info(ctx, "Context done, shutting down server")
	case <-quit:
		logger.Info(ctx, "Received shutdown signal")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	srv.httpServer.SetKeepAlivesEnabled(false)
	if err := srv.httpServer.Shutdown(ctx); err != nil {
		logger.Error(ctx, "Failed to shutdown server", "err", err)
	}

	logger.Info(ctx, "Server shutdown complete")
}

// withRecoverer is adapted from chi's recoverer middleware: it logs the
// panic with its stack and answers 500 instead of tearing the connection
// down, except for http.ErrAbortHandler which must propagate.
func withRecoverer(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				st := string(debug.Stack())
				logger.Error(r.Context(), "Panic occurred", "err", rvr, "st", st)

				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}
		}()

		next.ServeHTTP(w, r)
	}

	return http.HandlerFunc(fn)
}
