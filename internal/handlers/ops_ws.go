// internal/handlers/ops_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"autoref/internal/lobby"
	"autoref/internal/middleware"
)

// OpsHub fans lobby lifecycle events out to every connected staff dashboard.
// Publish never blocks the lobby goroutines: a subscriber that cannot keep up
// gets dropped events, not a stalled match.
type OpsHub struct {
	mu   sync.Mutex
	subs map[chan lobby.OpsEvent]struct{}

	Logger *logrus.Logger
}

func NewOpsHub(logger *logrus.Logger) *OpsHub {
	return &OpsHub{
		subs:   make(map[chan lobby.OpsEvent]struct{}),
		Logger: logger,
	}
}

// Publish delivers one event to every subscriber, dropping on full buffers.
func (h *OpsHub) Publish(ev lobby.OpsEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *OpsHub) subscribe() chan lobby.OpsEvent {
	ch := make(chan lobby.OpsEvent, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *OpsHub) unsubscribe(ch chan lobby.OpsEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// StreamHandler upgrades to a websocket and pushes ops events until the
// client goes away. The stream is one-way; incoming frames are drained only
// to detect closure.
func (h *OpsHub) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"ops"},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			h.Logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "ops" {
			c.Close(websocket.StatusPolicyViolation, "client must speak the ops subprotocol")
			return
		}

		middleware.LogStreamConnect(h.Logger, remoteAddr, r.URL.Path)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		ch := h.subscribe()
		defer h.unsubscribe(ch)

		// Drain reads so pings are answered and closure is noticed.
		go func() {
			defer cancel()
			for {
				if _, _, err := c.Read(ctx); err != nil {
					return
				}
			}
		}()

		err = h.writePump(ctx, c, ch)
		middleware.LogStreamDisconnect(h.Logger, remoteAddr, r.URL.Path, err)
		c.Close(websocket.StatusNormalClosure, "stream ended")
	}
}

func (h *OpsHub) writePump(ctx context.Context, c *websocket.Conn, ch chan lobby.OpsEvent) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				h.Logger.Warnf("failed to marshal ops event: %v", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
