package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/conneroisu/meread/internal/assets"
	"github.com/conneroisu/meread/internal/logging"
	"github.com/conneroisu/meread/internal/monitoring"
	"github.com/conneroisu/meread/internal/reload"
	"github.com/conneroisu/meread/internal/renderer"
	"github.com/conneroisu/meread/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handler builds the HTTP routes. Reload endpoints sit outside the injector;
// the page and every static fallback pass through it.
func (s *PreviewServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(requestLogger(s.logger))

	streamOpts := reload.StreamOptions{
		Retry:     s.config.Reload.Retry,
		KeepAlive: s.config.Reload.KeepAlive,
		Logger:    s.logger,
	}
	r.Method(http.MethodGet, reload.EndpointPath, reload.NewStreamHandler(s.bus, streamOpts))
	r.Method(http.MethodGet, reload.WebSocketPath, reload.NewWebSocketHandler(s.bus, streamOpts))

	r.Method(http.MethodGet, HealthPath, monitoring.HealthHandler(s.health))
	if s.metrics != nil {
		r.Method(http.MethodGet, MetricsPath, s.metrics.Handler())
	}

	injector := reload.NewInjector(s.config.Server.MaxInjectBytes, s.logger)
	page := injector.Middleware(s.cache)
	static := injector.Middleware(assets.Handler(filepath.Dir(s.document)))

	r.Method(http.MethodGet, "/", page)
	r.Method(http.MethodHead, "/", page)
	r.Method(http.MethodGet, "/*", static)
	r.Method(http.MethodHead, "/*", static)

	return r
}

func (s *PreviewServer) health(ctx context.Context) monitoring.HealthReport {
	report := monitoring.HealthReport{
		Version:     version.GetVersion(),
		Document:    s.document,
		Subscribers: s.bus.Len(),
	}

	artifact := s.cache.Read()
	if artifact == nil {
		report.Status = monitoring.HealthStatusUnhealthy
		return report
	}
	report.GeneratedAt = artifact.GeneratedAt

	if outline, err := renderer.Outline(artifact.Content); err == nil {
		report.Outline = outline
	} else {
		s.logger.Debug(ctx, "Failed to outline document", "error", err.Error())
	}

	s.tracker.Apply(&report)
	return report
}

// securityHeaders sets the headers that are safe for a local preview. A
// Content-Security-Policy is left out because rendered documents may carry
// inline HTML.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug(r.Context(), "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
			)
		})
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
