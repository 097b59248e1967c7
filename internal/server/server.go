// Package server is the development server: it serves the in-memory build
// output, falls back to a static directory, and pushes a reload message
// to connected browsers after every successful rebuild.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/conneroisu/htmlforge/internal/bundler"
	"github.com/conneroisu/htmlforge/internal/logging"
	"github.com/conneroisu/htmlforge/internal/metrics"
	"github.com/conneroisu/htmlforge/internal/plugin"
)

const (
	shutdownTimeout = 5 * time.Second
	hookName        = "htmlforge-dev-server"
)

// Config is the listener and static file configuration.
type Config struct {
	Host string
	Port int
	// StaticDir is served for paths the build did not emit. Empty
	// disables the fallback.
	StaticDir      string
	AllowedOrigins []string
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Server is the development server of one compiler.
type Server struct {
	cfg      Config
	compiler *bundler.Compiler
	plugin   *plugin.HTMLPlugin
	hub      *Hub
	router   *mux.Router

	logger   logging.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	staticFS afero.Fs

	startedAt  time.Time
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithPlugin shows the state of p on the status page.
func WithPlugin(p *plugin.HTMLPlugin) Option {
	return func(s *Server) { s.plugin = p }
}

// WithLogger sets the server logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records server metrics on m and exposes g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithStaticFS overrides the filesystem the static directory is read
// from.
func WithStaticFS(fs afero.Fs) Option {
	return func(s *Server) { s.staticFS = fs }
}

// New creates a server for compiler and taps its Done and Failed hooks.
func New(cfg Config, compiler *bundler.Compiler, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		compiler:  compiler,
		logger:    logging.NewDiscard(),
		gatherer:  prometheus.DefaultGatherer,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("server")
	if s.staticFS == nil && cfg.StaticDir != "" {
		s.staticFS = afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), cfg.StaticDir))
	}

	s.hub = NewHub(s.logger, s.metrics, cfg.AllowedOrigins)
	s.router = s.routes()

	compiler.Hooks.Done.Tap(hookName, s.onDone)
	compiler.Hooks.Failed.Tap(hookName, s.onFailed)
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/ws", s.hub)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.HandleFunc("/__htmlforge/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/__htmlforge/client.js", handleClient).Methods(http.MethodGet)
	r.PathPrefix("/").HandlerFunc(s.handleAsset).Methods(http.MethodGet, http.MethodHead)
	return r
}

// Handler returns the root http handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the reload hub.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) onDone(ctx context.Context, stats *bundler.Stats) error {
	s.metrics.ObserveRebuild(nil)
	s.logger.Info(ctx, "build ready", "hash", stats.Hash, "duration", stats.Duration, "clients", s.hub.ClientCount())
	if err := s.hub.Broadcast(Message{Type: MessageOK}); err != nil {
		s.logger.Warn(ctx, err, "reload broadcast skipped")
	}
	return nil
}

func (s *Server) onFailed(ctx context.Context, err error) error {
	s.metrics.ObserveRebuild(err)
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	templ.Handler(statusPage(s.status())).ServeHTTP(w, r)
}

func handleClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(clientScript)
}

// handleAsset serves the build output first and the static directory
// second.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)
	if name == "/" {
		name = "/index.html"
	}

	output := filepath.Join(s.compiler.Config.OutputPath, filepath.FromSlash(name))
	if serveFile(w, r, s.compiler.OutputFS(), output) {
		return
	}
	if s.staticFS != nil && serveFile(w, r, s.staticFS, filepath.FromSlash(name)) {
		return
	}
	http.NotFound(w, r)
}

func serveFile(w http.ResponseWriter, r *http.Request, fs afero.Fs, name string) bool {
	f, err := fs.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}

// Start listens until ctx is done, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "dev server listening", "addr", "http://"+s.cfg.Addr())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown tells clients the server is going away and stops the
// listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info(ctx, "dev server stopped")
	return nil
}
