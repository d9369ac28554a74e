package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/meread/internal/renderer"
)

// HealthStatus represents the health of the preview server
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthReport is the body served by the health endpoint.
type HealthReport struct {
	Status      HealthStatus       `json:"status"`
	Version     string             `json:"version"`
	Document    string             `json:"document"`
	GeneratedAt time.Time          `json:"generated_at"`
	Subscribers int                `json:"subscribers"`
	LastError   string             `json:"last_error,omitempty"`
	LastErrorAt *time.Time         `json:"last_error_at,omitempty"`
	Outline     []renderer.Heading `json:"outline,omitempty"`
}

// HealthSource builds a report on demand.
type HealthSource func(ctx context.Context) HealthReport

// HealthHandler serves the report from src as JSON. An unhealthy report is
// served with 503 so that health checks fail.
func HealthHandler(src HealthSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := src(r.Context())

		status := http.StatusOK
		if report.Status == HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	})
}

// RebuildTracker remembers the outcome of the most recent rebuild and
// forwards observations to Metrics when set.
type RebuildTracker struct {
	metrics *Metrics

	mu        sync.RWMutex
	lastErr   error
	lastErrAt time.Time
	now       func() time.Time
}

// NewRebuildTracker creates a tracker. metrics may be nil.
func NewRebuildTracker(metrics *Metrics) *RebuildTracker {
	return &RebuildTracker{metrics: metrics, now: time.Now}
}

// ObserveRebuild records a rebuild outcome. A success clears the last error.
func (t *RebuildTracker) ObserveRebuild(duration time.Duration, err error) {
	t.mu.Lock()
	t.lastErr = err
	if err != nil {
		t.lastErrAt = t.now()
	}
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.ObserveRebuild(duration, err)
	}
}

// ObserveReload records a published reload token.
func (t *RebuildTracker) ObserveReload(delivered int) {
	if t.metrics != nil {
		t.metrics.ObserveReload(delivered)
	}
}

// Apply fills the status and error fields of report. A failing last rebuild
// degrades the report; the previous page is still being served.
func (t *RebuildTracker) Apply(report *HealthReport) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.lastErr == nil {
		if report.Status == "" {
			report.Status = HealthStatusHealthy
		}
		return
	}
	if report.Status != HealthStatusUnhealthy {
		report.Status = HealthStatusDegraded
	}
	report.LastError = t.lastErr.Error()
	at := t.lastErrAt
	report.LastErrorAt = &at
}
