// Package push fans topic snapshots out to admin clients over websockets.
// Each topic holds a bounded connection set, a poll loop that pushes only
// changed snapshots, and a heartbeat that disconnects dead clients.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/c360studio/hivemind/config"
)

// FrameType tags a server-to-client frame.
type FrameType string

// Frame types.
const (
	TypeHiveUpdate      FrameType = "hive_update"
	TypeAnalyticsUpdate FrameType = "analytics_update"
	TypeBeeUpdate       FrameType = "bee_update"
	TypePing            FrameType = "ping"
)

// CloseChannelFull is sent when a topic is at its connection cap.
const CloseChannelFull = websocket.ClosePolicyViolation // 1008

// Frame is the wire format pushed to clients.
type Frame struct {
	Type      FrameType `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Source produces the current snapshot for a topic.
type Source func(ctx context.Context) (any, error)

// client wraps a connection with a write lock; gorilla permits only one
// concurrent writer per connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// topic holds one logical channel's connections and poll state.
type topic struct {
	name      string
	frameType FrameType
	source    Source
	interval  time.Duration

	mu      sync.RWMutex
	clients map[*client]bool

	lastHash uint64
	sentOnce bool
}

// Hub owns every topic and the HTTP upgrade surface.
type Hub struct {
	cfg      config.PushConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	topics map[string]*topic

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a push hub.
func NewHub(cfg config.PushConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConnectionsPerTopic <= 0 || cfg.MaxConnectionsPerTopic > 100 {
		cfg.MaxConnectionsPerTopic = 100
	}
	if cfg.IntervalFloor <= 0 {
		cfg.IntervalFloor = time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Hub{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		topics: make(map[string]*topic),
	}
}

// RegisterTopic adds a topic with its snapshot source and poll interval.
// Intervals below the configured floor are clamped to it.
func (h *Hub) RegisterTopic(name string, frameType FrameType, interval time.Duration, source Source) error {
	if name == "" || source == nil {
		return fmt.Errorf("topic needs a name and a source")
	}
	if interval < h.cfg.IntervalFloor {
		interval = h.cfg.IntervalFloor
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.topics[name]; exists {
		return fmt.Errorf("topic %q already registered", name)
	}
	h.topics[name] = &topic{
		name:      name,
		frameType: frameType,
		source:    source,
		interval:  interval,
		clients:   make(map[*client]bool),
	}
	return nil
}

// Start launches the poll and heartbeat loops. Stop with Close.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, t := range h.topics {
		h.wg.Add(1)
		go h.pollLoop(ctx, t)
	}
	h.wg.Add(1)
	go h.pingLoop(ctx)
}

// Close disconnects every client and stops the loops.
func (h *Hub) Close() error {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, t := range h.topics {
		t.mu.Lock()
		for c := range t.clients {
			c.conn.Close()
		}
		t.clients = make(map[*client]bool)
		t.mu.Unlock()
	}
	return nil
}

// Connections reports the active connection count for a topic.
func (h *Hub) Connections(topicName string) int {
	h.mu.RLock()
	t := h.topics[topicName]
	h.mu.RUnlock()
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// Broadcast pushes an out-of-band frame to every subscriber of a topic.
func (h *Hub) Broadcast(topicName string, frameType FrameType, data any) error {
	h.mu.RLock()
	t := h.topics[topicName]
	h.mu.RUnlock()
	if t == nil {
		return fmt.Errorf("unknown topic %q", topicName)
	}
	h.send(t, Frame{Type: frameType, Data: data, Timestamp: time.Now()})
	return nil
}

// pollLoop pushes a fresh snapshot when it differs from the last one sent.
func (h *Hub) pollLoop(ctx context.Context, t *topic) {
	defer h.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pushSnapshot(ctx, t)
		}
	}
}

func (h *Hub) pushSnapshot(ctx context.Context, t *topic) {
	if h.Connections(t.name) == 0 {
		return
	}
	snapshot, err := t.source(ctx)
	if err != nil {
		h.logger.Warn("snapshot source failed",
			slog.String("topic", t.name),
			slog.Any("error", err))
		return
	}

	hash, err := hashstructure.Hash(snapshot, hashstructure.FormatV2, nil)
	if err != nil {
		h.logger.Warn("snapshot hash failed",
			slog.String("topic", t.name),
			slog.Any("error", err))
		return
	}
	t.mu.Lock()
	unchanged := t.sentOnce && hash == t.lastHash
	t.lastHash = hash
	t.sentOnce = true
	t.mu.Unlock()
	if unchanged {
		return
	}

	h.send(t, Frame{Type: t.frameType, Data: snapshot, Timestamp: time.Now()})
}

// pingLoop heartbeats every client; a failed write disconnects it.
func (h *Hub) pingLoop(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.RLock()
			topics := make([]*topic, 0, len(h.topics))
			for _, t := range h.topics {
				topics = append(topics, t)
			}
			h.mu.RUnlock()
			for _, t := range topics {
				h.send(t, Frame{Type: TypePing, Timestamp: time.Now()})
			}
		}
	}
}

// send writes a frame to every client of a topic under a read lock and
// removes failed connections afterwards.
func (h *Hub) send(t *topic, f Frame) {
	t.mu.RLock()
	var failed []*client
	for c := range t.clients {
		if err := c.writeFrame(f); err != nil {
			failed = append(failed, c)
		}
	}
	t.mu.RUnlock()

	if len(failed) == 0 {
		return
	}
	t.mu.Lock()
	for _, c := range failed {
		if t.clients[c] {
			delete(t.clients, c)
			c.conn.Close()
		}
	}
	t.mu.Unlock()
	h.logger.Debug("disconnected stale clients",
		slog.String("topic", t.name),
		slog.Int("count", len(failed)))
}
