package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/hivemind/config"
)

// MemoryBus is the process-local fallback with the same semantics as the
// durable backend. Messages do not survive a restart.
type MemoryBus struct {
	cfg       config.BusConfig
	startTime time.Time
	degraded  bool // set when acting as a fallback for an unreachable durable backend

	mu      sync.RWMutex
	normal  map[string][]Message
	prio    map[string][]Message
	history []Message
	subs    map[string][]Handler
	closed  bool
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus(cfg config.BusConfig) *MemoryBus {
	if cfg.HighWaterMark <= 0 {
		cfg.HighWaterMark = 1000
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10000
	}
	return &MemoryBus{
		cfg:       cfg,
		startTime: time.Now(),
		normal:    make(map[string][]Message),
		prio:      make(map[string][]Message),
		subs:      make(map[string][]Handler),
	}
}

// Send enqueues a message in the recipient's lane.
func (b *MemoryBus) Send(_ context.Context, sender, recipient, kind string, payload map[string]any, priority int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	lane := b.normal
	if priority > 0 {
		lane = b.prio
	}
	if len(lane[recipient]) >= b.cfg.HighWaterMark {
		metricSendFailures.WithLabelValues("queue_full").Inc()
		return fmt.Errorf("%w: %s at %d", ErrQueueFull, recipient, len(lane[recipient]))
	}

	msg := Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Recipient: recipient,
		Kind:      kind,
		Payload:   payload,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
	lane[recipient] = append(lane[recipient], msg)

	b.history = append(b.history, msg)
	if len(b.history) > b.cfg.HistoryLimit {
		b.history = b.history[len(b.history)-b.cfg.HistoryLimit:]
	}

	metricMessagesSent.WithLabelValues(recipient, laneName(priority)).Inc()
	return nil
}

// Receive pops up to max messages, priority lane first.
func (b *MemoryBus) Receive(_ context.Context, recipient string, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	var out []Message
	for _, lane := range []map[string][]Message{b.prio, b.normal} {
		q := lane[recipient]
		for len(out) < max && len(q) > 0 {
			out = append(out, q[0])
			q = q[1:]
		}
		lane[recipient] = q
	}

	metricMessagesReceived.WithLabelValues(recipient).Add(float64(len(out)))
	return out, nil
}

// Broadcast fans out to subscribers of the broadcast channel.
func (b *MemoryBus) Broadcast(_ context.Context, sender, kind string, payload map[string]any) (int, error) {
	msg := Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Recipient: "*",
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[BroadcastChannel]))
	copy(handlers, b.subs[BroadcastChannel])
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return 0, ErrClosed
	}
	for _, h := range handlers {
		h(msg)
	}
	return len(handlers), nil
}

// Subscribe registers a handler for a channel. Publish delivers synchronously
// in registration order.
func (b *MemoryBus) Subscribe(channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.subs[channel] = append(b.subs[channel], handler)
	return nil
}

// Publish delivers a message to a named channel's subscribers. The durable
// backend reaches this path through its pub/sub machinery; the memory bus
// exposes it directly for components that publish to topic channels.
func (b *MemoryBus) Publish(_ context.Context, channel string, msg Message) (int, error) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[channel]))
	copy(handlers, b.subs[channel])
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
	return len(handlers), nil
}

// QueueSize reports lane depths.
func (b *MemoryBus) QueueSize(_ context.Context, recipient string) (QueueSizes, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sizes := QueueSizes{
		Normal:   len(b.normal[recipient]),
		Priority: len(b.prio[recipient]),
	}
	sizes.Total = sizes.Normal + sizes.Priority
	return sizes, nil
}

// History returns the most recent messages, newest first.
func (b *MemoryBus) History(_ context.Context, limit int) ([]Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]Message, 0, limit)
	for i := len(b.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, b.history[i])
	}
	return out, nil
}

// Health reports in-memory health. Degraded is true when this bus is a
// fallback for an unreachable durable backend.
func (b *MemoryBus) Health(_ context.Context) Health {
	b.mu.RLock()
	defer b.mu.RUnlock()
	clients := 0
	for _, hs := range b.subs {
		clients += len(hs)
	}
	return Health{
		Healthy:  !b.closed,
		Degraded: b.degraded,
		Backend:  config.BackendMemory,
		Clients:  clients,
		Uptime:   time.Since(b.startTime),
	}
}

// Close marks the bus closed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func laneName(priority int) string {
	if priority > 0 {
		return "priority"
	}
	return "normal"
}
