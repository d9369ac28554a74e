// Package coordinator turns a stream of file change events into rebuilds.
//
// A Coordinator owns all rebuild state on a single goroutine. Relevant events
// open or extend a sliding window; when the window closes, one rebuild runs
// on a worker goroutine. Rebuilds never overlap: windows that close while a
// rebuild is running merge into a single follow-up rebuild. A successful
// rebuild publishes a reload token.
package coordinator

import (
	"context"
	"sort"
	"time"

	"github.com/conneroisu/meread/internal/logging"
	"github.com/conneroisu/meread/internal/reload"
	"github.com/conneroisu/meread/internal/watcher"
)

// DefaultWindow is the quiet period that ends a burst of events.
const DefaultWindow = 250 * time.Millisecond

// maxSummaryPaths limits how many paths a failure log lists.
const maxSummaryPaths = 3

// Rebuilder regenerates the served artifact.
type Rebuilder interface {
	Rebuild() error
}

// Publisher notifies connected clients.
type Publisher interface {
	Publish(tok reload.Token) int
}

// Metrics receives rebuild outcomes.
type Metrics interface {
	ObserveRebuild(duration time.Duration, err error)
	ObserveReload(delivered int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRebuild(time.Duration, error) {}
func (nopMetrics) ObserveReload(int)                   {}

// Options configures a Coordinator.
type Options struct {
	Window  time.Duration
	Logger  logging.Logger
	Metrics Metrics
}

// Coordinator debounces change events and drives rebuilds.
type Coordinator struct {
	rebuilder Rebuilder
	publisher Publisher
	window    time.Duration
	logger    logging.Logger
	metrics   Metrics
	now       func() time.Time
}

// New creates a Coordinator.
func New(rebuilder Rebuilder, publisher Publisher, opts Options) *Coordinator {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	return &Coordinator{
		rebuilder: rebuilder,
		publisher: publisher,
		window:    opts.Window,
		logger:    opts.Logger.WithComponent("coordinator"),
		metrics:   opts.Metrics,
		now:       time.Now,
	}
}

// Run consumes events until ctx is cancelled or events is closed, then waits
// for a running rebuild to finish. It returns ctx.Err() on cancellation and
// nil when the event channel closes.
func (c *Coordinator) Run(ctx context.Context, events <-chan watcher.ChangeEvent) error {
	jobs := make(chan []watcher.ChangeEvent, 1)
	done := make(chan struct{}, 1)
	workerExited := make(chan struct{})

	go func() {
		defer close(workerExited)
		for batch := range jobs {
			c.rebuild(ctx, batch)
			done <- struct{}{}
		}
	}()

	timer := time.NewTimer(c.window)
	timer.Stop()
	defer timer.Stop()

	var (
		timerC   <-chan time.Time
		pending  []watcher.ChangeEvent
		queued   []watcher.ChangeEvent
		inFlight bool
	)

	shutdown := func() {
		close(jobs)
		<-workerExited
	}

	for {
		select {
		case <-ctx.Done():
			shutdown()
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				shutdown()
				return nil
			}
			if !ev.Type.Relevant() {
				continue
			}
			pending = append(pending, ev)
			timer.Reset(c.window)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if len(pending) == 0 {
				continue
			}
			batch := pending
			pending = nil

			if inFlight {
				queued = append(queued, batch...)
				c.logger.Debug(ctx, "Rebuild queued behind running rebuild", "events", len(queued))
				continue
			}
			inFlight = true
			jobs <- batch

		case <-done:
			inFlight = false
			if len(queued) > 0 {
				inFlight = true
				jobs <- queued
				queued = nil
			}
		}
	}
}

func (c *Coordinator) rebuild(ctx context.Context, batch []watcher.ChangeEvent) {
	start := c.now()
	err := c.rebuilder.Rebuild()
	elapsed := time.Since(start)
	c.metrics.ObserveRebuild(elapsed, err)

	if err != nil {
		paths, more := summarize(batch)
		c.logger.Error(ctx, err, "Rebuild failed, serving previous version",
			"events", len(batch),
			"paths", paths,
			"more_paths", more,
			"at", start.Format(time.RFC3339),
		)
		return
	}

	delivered := c.publisher.Publish(reload.ReloadToken)
	c.metrics.ObserveReload(delivered)
	c.logger.Info(ctx, "Rebuilt document",
		"events", len(batch),
		"duration", elapsed.String(),
		"clients", delivered,
	)
}

// summarize returns up to maxSummaryPaths distinct paths from batch, sorted,
// and how many distinct paths were left out.
func summarize(batch []watcher.ChangeEvent) ([]string, int) {
	seen := make(map[string]struct{}, len(batch))
	paths := make([]string, 0, len(batch))
	for _, ev := range batch {
		if _, ok := seen[ev.Path]; ok {
			continue
		}
		seen[ev.Path] = struct{}{}
		paths = append(paths, ev.Path)
	}
	sort.Strings(paths)
	if len(paths) <= maxSummaryPaths {
		return paths, 0
	}
	return paths[:maxSummaryPaths], len(paths) - maxSummaryPaths
}
