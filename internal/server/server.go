// Package server turns a declarative description (routes, plugins, static assets)
// into a running HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dropDatabas3/steamgate/internal/http/facade"
	mw "github.com/dropDatabas3/steamgate/internal/http/middlewares"
	"github.com/dropDatabas3/steamgate/internal/metrics"
	"github.com/dropDatabas3/steamgate/internal/observability/logger"
)

const (
	DefaultAddr       = ":80"
	DefaultStaticPath = "./public"
	MetricsPath       = "/metrics"

	shutdownTimeout = 10 * time.Second
)

var knownMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodOptions: true,
}

// Route is one application route. Method is matched case-insensitively.
type Route struct {
	Method  string
	Path    string
	Handler facade.Handler
}

// Plugin se instala sobre el router antes que las rutas.
type Plugin func(chi.Router) error

// Spec describes the server.
type Spec struct {
	// Addr default ":80".
	Addr    string
	Routes  []Route
	Plugins []Plugin
	// StaticPath sirve archivos como fallback. "" usa ./public si existe; "-" lo desactiva.
	StaticPath string
	// OnListen se llama con la dirección efectiva una vez abierto el listener.
	OnListen func(addr string)
	// Registry para /metrics. nil crea uno propio.
	Registry *prometheus.Registry
	// Metrics ya construido (p. ej. compartido con el flow). Tiene prioridad sobre Registry.
	Metrics *metrics.Metrics
	// DisableMetrics no monta /metrics ni instrumenta.
	DisableMetrics bool
	// Middlewares extra, aplicados después de los estándar.
	Middlewares []func(http.Handler) http.Handler
}

// Server is a configured, not yet listening HTTP server.
type Server struct {
	spec    Spec
	handler http.Handler
	metrics *metrics.Metrics
}

// New validates spec and builds the router. Nothing listens until Run.
func New(spec Spec) (*Server, error) {
	if spec.Addr == "" {
		spec.Addr = DefaultAddr
	}

	s := &Server{spec: spec}
	if !spec.DisableMetrics {
		s.metrics = spec.Metrics
		if s.metrics == nil {
			reg := spec.Registry
			if reg == nil {
				reg = prometheus.NewRegistry()
			}
			m, err := metrics.New(reg)
			if err != nil {
				return nil, fmt.Errorf("server: metrics: %w", err)
			}
			s.metrics = m
		}
	}

	r := chi.NewRouter()
	r.Use(
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithLogging(),
		mw.WithSecurityHeaders(),
	)
	if s.metrics != nil {
		r.Use(s.metrics.Instrument)
	}
	for _, m := range spec.Middlewares {
		r.Use(m)
	}

	// metrics fuera del árbol de plugins: no necesita sesión
	root := chi.NewRouter()
	if s.metrics != nil {
		root.Handle(MetricsPath, s.metrics.Handler())
	}

	for i, p := range spec.Plugins {
		if p == nil {
			continue
		}
		if err := installPlugin(r, p); err != nil {
			return nil, fmt.Errorf("server: plugin %d: %w", i, err)
		}
	}

	for _, rt := range spec.Routes {
		method := strings.ToUpper(strings.TrimSpace(rt.Method))
		if !knownMethods[method] {
			return nil, fmt.Errorf("server: route %q: unknown method %q", rt.Path, rt.Method)
		}
		if !strings.HasPrefix(rt.Path, "/") {
			return nil, fmt.Errorf("server: route path %q must start with /", rt.Path)
		}
		if rt.Handler == nil {
			return nil, fmt.Errorf("server: route %s %s has no handler", method, rt.Path)
		}
		r.With(mw.WithNoStore()).Method(method, rt.Path, facade.Adapt(rt.Handler))
	}

	if static := staticDir(spec.StaticPath); static != "" {
		r.NotFound(http.FileServer(http.Dir(static)).ServeHTTP)
	}

	root.Mount("/", r)
	s.handler = root
	return s, nil
}

// installPlugin convierte el panic de chi (Use después de rutas) en error.
func installPlugin(r chi.Router, p Plugin) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return p(r)
}

func staticDir(p string) string {
	switch p {
	case "-":
		return ""
	case "":
		p = DefaultStaticPath
		if fi, err := os.Stat(p); err != nil || !fi.IsDir() {
			return ""
		}
	}
	return p
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens on spec.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.spec.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.spec.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := logger.L().With(logger.Component("server"))
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		// los requests en vuelo no se cancelan con ctx; Shutdown los drena
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	addr := ln.Addr().String()
	log.Info("listening", logger.String("addr", addr))
	if s.spec.OnListen != nil {
		s.spec.OnListen(addr)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("server: graceful shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
