package push

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Handler returns the websocket upgrade endpoint. Clients subscribe with
// GET ?topic=<name>.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.serveWS)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("topic")
	h.mu.RLock()
	t := h.topics[name]
	h.mu.RUnlock()
	if t == nil {
		http.Error(w, "unknown topic", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("topic", name),
			slog.Any("error", err))
		return
	}

	c := &client{conn: conn}
	t.mu.Lock()
	if len(t.clients) >= h.cfg.MaxConnectionsPerTopic {
		t.mu.Unlock()
		h.rejectFull(t, c)
		return
	}
	t.clients[c] = true
	total := len(t.clients)
	t.mu.Unlock()

	h.logger.Debug("client subscribed",
		slog.String("topic", name),
		slog.Int("connections", total))

	go h.readLoop(t, c)
}

// rejectFull closes an over-cap connection with a policy violation close
// frame. Existing subscribers are untouched.
func (h *Hub) rejectFull(t *topic, c *client) {
	h.logger.Warn("topic at connection cap",
		slog.String("topic", t.name),
		slog.Int("cap", h.cfg.MaxConnectionsPerTopic))
	msg := websocket.FormatCloseMessage(CloseChannelFull, "channel full")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
	c.conn.Close()
}

// readLoop drains client frames so close handshakes and pongs are
// processed; any read error unsubscribes the client.
func (h *Hub) readLoop(t *topic, c *client) {
	defer func() {
		t.mu.Lock()
		if t.clients[c] {
			delete(t.clients, c)
		}
		t.mu.Unlock()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
