// Package bus provides the durable message bus connecting the supervisor and
// its workers: per-recipient priority queues, pub/sub broadcast, and a bounded
// audit history. A durable Redis-backed implementation and a process-local
// in-memory fallback share identical semantics.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/c360studio/hivemind/config"
)

// Sentinel errors surfaced by bus operations.
var (
	// ErrQueueFull indicates the recipient queue exceeded its high-water mark.
	ErrQueueFull = errors.New("queue full")
	// ErrBackendUnavailable indicates the durable backend rejected the operation.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrClosed indicates the bus has been shut down.
	ErrClosed = errors.New("bus closed")
)

// Message is the bus envelope. Messages are immutable once enqueued.
type Message struct {
	ID        string         `json:"id"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload"`
	Priority  int            `json:"priority"` // 0 = normal, 1-2 = priority lane
	CreatedAt time.Time      `json:"created_at"`
}

// QueueSizes reports the depth of a recipient's queues.
type QueueSizes struct {
	Normal   int `json:"normal"`
	Priority int `json:"priority"`
	Total    int `json:"total"`
}

// Health reports bus health for monitoring.
type Health struct {
	Healthy  bool          `json:"healthy"`
	Degraded bool          `json:"degraded"` // durable backend down, memory fallback active
	Backend  string        `json:"backend"`
	Clients  int           `json:"clients"` // active subscribers
	Uptime   time.Duration `json:"uptime"`
}

// Handler receives broadcast or subscription messages. Handlers must be fast;
// slow handlers delay delivery to later subscribers on the same channel.
type Handler func(Message)

// Bus is the message bus contract shared by the durable and memory backends.
//
// Delivery is at-least-once with visible consumption: once Receive returns a
// message it is removed from the queue, and redelivery after a crash is the
// caller's concern. Within a (recipient, lane) pair ordering is strict FIFO;
// Receive drains the priority lane before the normal lane.
type Bus interface {
	// Send enqueues a message for a recipient. Returns ErrQueueFull when the
	// recipient queue is at its high-water mark, or ErrBackendUnavailable on
	// durable-backend failure. The bus never retries; the caller decides.
	Send(ctx context.Context, sender, recipient, kind string, payload map[string]any, priority int) error

	// Receive removes and returns up to max messages for the recipient,
	// priority lane first.
	Receive(ctx context.Context, recipient string, max int) ([]Message, error)

	// Broadcast fans a message out to every subscriber of the broadcast
	// channel and returns the subscriber count. Broadcasts are not queued and
	// are lost for disconnected subscribers.
	Broadcast(ctx context.Context, sender, kind string, payload map[string]any) (int, error)

	// Subscribe registers a handler for a pub/sub channel.
	Subscribe(channel string, handler Handler) error

	// QueueSize reports the queue depth for a recipient.
	QueueSize(ctx context.Context, recipient string) (QueueSizes, error)

	// History returns the most recent messages (audit, not replay).
	History(ctx context.Context, limit int) ([]Message, error)

	// Health reports backend health.
	Health(ctx context.Context) Health

	// Close releases backend connections.
	Close() error
}

// BroadcastChannel is the shared pub/sub channel for Broadcast.
const BroadcastChannel = "broadcast:all"

// New selects the bus implementation from config. When the durable backend is
// configured but unreachable, New falls back to the in-memory bus and reports
// the degradation through Health.
func New(ctx context.Context, cfg config.BusConfig, logger *slog.Logger) (Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Backend == config.BackendMemory {
		logger.Debug("Using in-memory bus backend")
		return NewMemoryBus(cfg), nil
	}

	rb, err := NewRedisBus(ctx, cfg, logger)
	if err != nil {
		logger.Warn("Durable bus backend unavailable, falling back to memory",
			slog.String("redis_url", cfg.RedisURL),
			slog.String("error", err.Error()))
		mb := NewMemoryBus(cfg)
		mb.degraded = true
		return mb, nil
	}
	return rb, nil
}
