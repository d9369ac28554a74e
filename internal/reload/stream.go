package reload

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/conneroisu/meread/internal/logging"
)

// EndpointPath is the route of the server-sent events stream.
const EndpointPath = "/~~~meread-reload"

const (
	// DefaultRetry is the reconnect delay suggested to EventSource clients.
	DefaultRetry = 250 * time.Millisecond
	// DefaultKeepAlive is the idle interval between keep-alive comments.
	DefaultKeepAlive = time.Second

	keepAliveText = "keep-alive-ping"
)

// StreamState is the lifecycle of one reload connection.
type StreamState int

const (
	StateConnected StreamState = iota
	StateStreaming
	StateClosed
)

// String returns the string representation of the StreamState
func (s StreamState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StreamOptions configures the reload endpoints.
type StreamOptions struct {
	Retry     time.Duration
	KeepAlive time.Duration
	Logger    logging.Logger
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.Retry <= 0 {
		o.Retry = DefaultRetry
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
	return o
}

// StreamHandler serves the reload bus as a text/event-stream. Every
// connection gets a fresh Subscription that lives until the client goes
// away.
type StreamHandler struct {
	bus    *Bus
	opts   StreamOptions
	logger logging.Logger
}

// NewStreamHandler creates the server-sent events endpoint.
func NewStreamHandler(bus *Bus, opts StreamOptions) *StreamHandler {
	opts = opts.withDefaults()
	return &StreamHandler{
		bus:    bus,
		opts:   opts,
		logger: opts.Logger.WithComponent("reload"),
	}
}

// ServeHTTP implements http.Handler.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sub := h.bus.Subscribe()
	defer func() {
		sub.Close()
		h.transition(r.Context(), StateClosed)
	}()
	h.transition(r.Context(), StateConnected)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.transition(r.Context(), StateStreaming)

	keepAlive := time.NewTicker(h.opts.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case tok, ok := <-sub.C():
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "retry: %d\ndata: %s\n\n", h.opts.Retry.Milliseconds(), tok); err != nil {
				return
			}
			flusher.Flush()
			keepAlive.Reset(h.opts.KeepAlive)

		case <-keepAlive.C:
			if _, err := fmt.Fprintf(w, ":%s\n\n", keepAliveText); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *StreamHandler) transition(ctx context.Context, state StreamState) {
	h.logger.Debug(ctx, "Reload stream state changed",
		"state", state.String(),
		"subscribers", h.bus.Len(),
	)
}
