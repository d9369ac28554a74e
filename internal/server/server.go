// Package server wires the preview pipeline together: it renders the
// document once at startup, watches its directory, rebuilds on change, and
// serves the page with live reload.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/conneroisu/meread/internal/cache"
	"github.com/conneroisu/meread/internal/config"
	"github.com/conneroisu/meread/internal/coordinator"
	merrors "github.com/conneroisu/meread/internal/errors"
	"github.com/conneroisu/meread/internal/logging"
	"github.com/conneroisu/meread/internal/monitoring"
	"github.com/conneroisu/meread/internal/reload"
	"github.com/conneroisu/meread/internal/renderer"
	"github.com/conneroisu/meread/internal/validation"
	"github.com/conneroisu/meread/internal/watcher"
)

const (
	HealthPath  = "/~~~meread-health"
	MetricsPath = "/~~~meread-metrics"

	readHeaderTimeout = 10 * time.Second
)

// PreviewServer serves one markdown document with live reload.
type PreviewServer struct {
	config   *config.Config
	logger   logging.Logger
	document string

	cache       *cache.Cache
	bus         *reload.Bus
	watcher     *watcher.FileWatcher
	coordinator *coordinator.Coordinator
	metrics     *monitoring.Metrics
	tracker     *monitoring.RebuildTracker

	httpServer  *http.Server
	listener    net.Listener
	cancelRun   context.CancelFunc
	isShutdown  bool
	serverMutex sync.RWMutex // Protects the fields above

	// streams is the base context of every request; cancelling it ends
	// long-lived reload connections so shutdown does not wait on them.
	streams       context.Context
	cancelStreams context.CancelFunc

	ready           chan struct{}
	coordinatorDone chan struct{}
	shutdownOnce    sync.Once

	openBrowser func(ctx context.Context, url string)
}

// New renders the document for the first time and sets up file watching.
// Both steps are fatal on failure: there is nothing to serve without a first
// render, and no live reload without a watcher.
func New(cfg *config.Config, logger logging.Logger) (*PreviewServer, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	document, err := filepath.Abs(cfg.DocumentPath())
	if err != nil {
		return nil, merrors.NewReadError(cfg.DocumentPath(), err)
	}

	r := renderer.New(renderer.Options{
		Highlight: cfg.Render.Highlight,
		Sanitize:  cfg.Render.Sanitize,
	})
	c := cache.New(document, r, cache.Options{
		Title: cfg.Render.Title,
		Theme: cfg.Theme(),
	})
	if _, err := c.Initialize(); err != nil {
		return nil, err
	}

	bus := reload.NewBus(cfg.Reload.Backlog)

	var metrics *monitoring.Metrics
	if cfg.Metrics.Enabled {
		metrics = monitoring.NewMetrics(bus.Len)
	}
	tracker := monitoring.NewRebuildTracker(metrics)

	root, err := filepath.Abs(cfg.WatchRoot())
	if err != nil {
		return nil, merrors.NewWatchSetupError(cfg.WatchRoot(), err)
	}
	fw, err := watcher.NewFileWatcher(root, logger)
	if err != nil {
		return nil, err
	}
	fw.AddFilter(watcher.NoGitFilter)
	if !isDir(cfg.Path) {
		// A single file was named: ignore its neighbours.
		fw.AddFilter(watcher.PathFilter(document))
	}

	coord := coordinator.New(c, bus, coordinator.Options{
		Window:  cfg.Watch.Debounce,
		Logger:  logger,
		Metrics: tracker,
	})

	streams, cancelStreams := context.WithCancel(context.Background())

	s := &PreviewServer{
		config:          cfg,
		logger:          logger.WithComponent("server"),
		document:        document,
		cache:           c,
		bus:             bus,
		watcher:         fw,
		coordinator:     coord,
		metrics:         metrics,
		tracker:         tracker,
		streams:         streams,
		cancelStreams:   cancelStreams,
		ready:           make(chan struct{}),
		coordinatorDone: make(chan struct{}),
	}
	s.openBrowser = s.launchBrowser
	return s, nil
}

// Start listens on the configured address and serves until Shutdown is
// called or the listener fails.
func (s *PreviewServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.Address, err)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.streams },
	}

	runCtx, cancelRun := context.WithCancel(ctx)

	s.serverMutex.Lock()
	if s.isShutdown {
		s.serverMutex.Unlock()
		cancelRun()
		_ = ln.Close()
		return nil
	}
	s.httpServer = server
	s.listener = ln
	s.cancelRun = cancelRun
	s.serverMutex.Unlock()

	s.watcher.Start(runCtx)
	go func() {
		defer close(s.coordinatorDone)
		if err := s.coordinator.Run(runCtx, s.watcher.Events()); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error(runCtx, err, "Rebuild loop stopped")
		}
	}()

	url := "http://" + ln.Addr().String()
	s.logger.Info(ctx, "Serving document",
		"document", s.document,
		"url", url,
		"theme", s.cache.Options().Theme.Label(),
	)

	if s.config.Server.Open {
		if target, err := validation.BrowserURL(ln.Addr().String()); err != nil {
			s.logger.Warn(ctx, err, "Browser open skipped")
		} else {
			go s.openBrowser(ctx, target)
		}
	}
	close(s.ready)

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Ready is closed once Start is listening.
func (s *PreviewServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address, or "" before Start.
func (s *PreviewServer) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Bus exposes the reload bus.
func (s *PreviewServer) Bus() *reload.Bus {
	return s.bus
}

// Shutdown gracefully shuts down the server and cleans up resources
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		s.cancelStreams()

		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn(ctx, err, "Failed to stop file watcher")
		}

		s.serverMutex.Lock()
		s.isShutdown = true
		server := s.httpServer
		cancelRun := s.cancelRun
		s.serverMutex.Unlock()

		if cancelRun != nil {
			cancelRun()
			select {
			case <-s.coordinatorDone:
			case <-ctx.Done():
			}
		}

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}
