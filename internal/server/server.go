// Package server exposes the catalog and package downloads over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/egorin/apkhub/internal/catalog"
	"github.com/egorin/apkhub/internal/config"
	"github.com/egorin/apkhub/internal/scheduler"
)

// Sweeper triggers one catalog sweep; implemented by the scheduler.
type Sweeper interface {
	Sweep(ctx context.Context) (scheduler.Summary, error)
}

// Server is the public HTTP surface: catalog JSON, APK downloads, health,
// and the authenticated update trigger.
type Server struct {
	cfg     *config.Config
	store   *catalog.Store
	apkDir  string
	sweeper Sweeper
	http    *http.Server

	apiLimit *ipLimiters
	apkLimit *ipLimiters
}

// Option configures the server.
type Option func(*Server)

// WithSweeper wires the update trigger to a sweep implementation.
func WithSweeper(sw Sweeper) Option {
	return func(s *Server) { s.sweeper = sw }
}

// New creates a Server.
func New(cfg *config.Config, store *catalog.Store, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		apkDir:   cfg.APKDir(),
		apiLimit: newIPLimiters(cfg.Service.RatePerMinute),
		apkLimit: newIPLimiters(cfg.Service.APKRatePerMinute),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleCatalog)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /apks/{file}", s.handleDownload)
	mux.HandleFunc("POST /update", s.handleUpdate)

	var handler http.Handler = mux
	handler = s.rateLimitMiddleware(handler)
	handler = logMiddleware(handler)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Service.BindAddress, cfg.Service.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // APK downloads on slow links
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Handler exposes the full middleware chain for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := s.apiLimit
		if strings.HasPrefix(r.URL.Path, "/apks/") {
			limit = s.apkLimit
		}
		if !limit.allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		fmt.Printf("[%s] %s %s %s\n", time.Now().Format("15:04:05"), r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}
