package reload

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/conneroisu/meread/internal/logging"
)

// WebSocketPath is the route of the WebSocket reload endpoint.
const WebSocketPath = "/~~~meread-ws"

// Time allowed to write a message to the peer.
const writeWait = 10 * time.Second

// WebSocketHandler delivers reload tokens as text messages over a
// WebSocket. The browser bootstrap uses the event stream; this endpoint is
// for editors and scripts that already speak WebSocket.
type WebSocketHandler struct {
	bus    *Bus
	opts   StreamOptions
	logger logging.Logger
	accept *websocket.AcceptOptions
}

// NewWebSocketHandler creates the WebSocket endpoint. Origins other than the
// request host are rejected unless listed in originPatterns.
func NewWebSocketHandler(bus *Bus, opts StreamOptions, originPatterns ...string) *WebSocketHandler {
	opts = opts.withDefaults()
	return &WebSocketHandler{
		bus:    bus,
		opts:   opts,
		logger: opts.Logger.WithComponent("reload"),
		accept: &websocket.AcceptOptions{OriginPatterns: originPatterns},
	}
}

// ServeHTTP implements http.Handler.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade error")
		return
	}
	defer conn.CloseNow()

	sub := h.bus.Subscribe()
	defer sub.Close()

	// Clients never send anything; CloseRead handles control frames and
	// cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	if err := h.pump(ctx, conn, sub); err != nil && ctx.Err() == nil {
		h.logger.Debug(ctx, "WebSocket reload client dropped", "error", err.Error())
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *WebSocketHandler) pump(ctx context.Context, conn *websocket.Conn, sub *Subscription) error {
	ticker := time.NewTicker(h.opts.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case tok, ok := <-sub.C():
			if !ok {
				return nil
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Write(writeCtx, websocket.MessageText, []byte(tok))
			cancel()
			if err != nil {
				return err
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
