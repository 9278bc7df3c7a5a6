package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/c360studio/hivemind/config"
)

// Redis key layout. Queues are lists pushed at the head and popped at the
// tail so that FIFO order holds per lane.
const (
	historyKey  = "messages:history"
	queuePrefix = "queue:"
	prioritySuf = ":priority"
)

func queueKey(recipient string) string         { return queuePrefix + recipient }
func priorityQueueKey(recipient string) string { return queuePrefix + recipient + prioritySuf }

// RedisBus is the durable bus backed by a Redis-compatible store.
type RedisBus struct {
	client    *redis.Client
	cfg       config.BusConfig
	logger    *slog.Logger
	startTime time.Time

	mu      sync.RWMutex
	subs    map[string][]Handler
	pubsubs []*redis.PubSub
	closed  bool
}

// NewRedisBus connects to the durable backend and verifies it with a ping.
func NewRedisBus(ctx context.Context, cfg config.BusConfig, logger *slog.Logger) (*RedisBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
		DB:   cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping durable backend: %w", err)
	}

	return &RedisBus{
		client:    client,
		cfg:       cfg,
		logger:    logger,
		startTime: time.Now(),
		subs:      make(map[string][]Handler),
	}, nil
}

// Client exposes the underlying connection for components that share the
// durable store (board, instance lifecycle, security context sharing).
func (b *RedisBus) Client() *redis.Client {
	return b.client
}

// Send enqueues a message, priority lane for priority > 0.
func (b *RedisBus) Send(ctx context.Context, sender, recipient, kind string, payload map[string]any, priority int) error {
	msg := Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Recipient: recipient,
		Kind:      kind,
		Payload:   payload,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := queueKey(recipient)
	if priority > 0 {
		key = priorityQueueKey(recipient)
	}

	depth, err := b.client.LLen(ctx, key).Result()
	if err != nil {
		metricSendFailures.WithLabelValues("backend").Inc()
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if int(depth) >= b.cfg.HighWaterMark {
		metricSendFailures.WithLabelValues("queue_full").Inc()
		return fmt.Errorf("%w: %s at %d", ErrQueueFull, recipient, depth)
	}

	pipe := b.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.ZAdd(ctx, historyKey, redis.Z{
		Score:  float64(msg.CreatedAt.UnixMilli()),
		Member: data,
	})
	pipe.ZRemRangeByRank(ctx, historyKey, 0, int64(-(b.cfg.HistoryLimit + 1)))
	if _, err := pipe.Exec(ctx); err != nil {
		metricSendFailures.WithLabelValues("backend").Inc()
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	metricMessagesSent.WithLabelValues(recipient, laneName(priority)).Inc()
	return nil
}

// Receive pops up to max messages, priority lane first.
func (b *RedisBus) Receive(ctx context.Context, recipient string, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}

	var out []Message
	for _, key := range []string{priorityQueueKey(recipient), queueKey(recipient)} {
		for len(out) < max {
			data, err := b.client.RPop(ctx, key).Bytes()
			if err == redis.Nil {
				break
			}
			if err != nil {
				return out, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				b.logger.Warn("Dropping undecodable message", slog.String("queue", key), slog.String("error", err.Error()))
				continue
			}
			out = append(out, msg)
		}
	}

	metricMessagesReceived.WithLabelValues(recipient).Add(float64(len(out)))
	return out, nil
}

// Broadcast publishes to the shared broadcast channel.
func (b *RedisBus) Broadcast(ctx context.Context, sender, kind string, payload map[string]any) (int, error) {
	msg := Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Recipient: "*",
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal broadcast: %w", err)
	}
	n, err := b.client.Publish(ctx, BroadcastChannel, data).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return int(n), nil
}

// Subscribe registers a handler on a pub/sub channel. The first subscription
// per channel opens the backend subscription; later handlers share it.
func (b *RedisBus) Subscribe(channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	first := len(b.subs[channel]) == 0
	b.subs[channel] = append(b.subs[channel], handler)

	if !first {
		return nil
	}

	ps := b.client.Subscribe(context.Background(), channel)
	b.pubsubs = append(b.pubsubs, ps)

	go func() {
		for m := range ps.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warn("Undecodable pub/sub payload", slog.String("channel", channel))
				continue
			}
			b.mu.RLock()
			handlers := make([]Handler, len(b.subs[channel]))
			copy(handlers, b.subs[channel])
			b.mu.RUnlock()
			for _, h := range handlers {
				h(msg)
			}
		}
	}()

	return nil
}

// QueueSize reports both lane depths for a recipient.
func (b *RedisBus) QueueSize(ctx context.Context, recipient string) (QueueSizes, error) {
	pipe := b.client.Pipeline()
	normal := pipe.LLen(ctx, queueKey(recipient))
	prio := pipe.LLen(ctx, priorityQueueKey(recipient))
	if _, err := pipe.Exec(ctx); err != nil {
		return QueueSizes{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	sizes := QueueSizes{
		Normal:   int(normal.Val()),
		Priority: int(prio.Val()),
	}
	sizes.Total = sizes.Normal + sizes.Priority
	return sizes, nil
}

// History returns the most recent messages, newest first.
func (b *RedisBus) History(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 || limit > b.cfg.HistoryLimit {
		limit = b.cfg.HistoryLimit
	}
	raw, err := b.client.ZRevRange(ctx, historyKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(r), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Health pings the backend.
func (b *RedisBus) Health(ctx context.Context) Health {
	b.mu.RLock()
	clients := 0
	for _, hs := range b.subs {
		clients += len(hs)
	}
	b.mu.RUnlock()

	h := Health{
		Backend: config.BackendDurable,
		Clients: clients,
		Uptime:  time.Since(b.startTime),
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	h.Healthy = b.client.Ping(pingCtx).Err() == nil
	h.Degraded = !h.Healthy
	return h
}

// Close shuts down subscriptions and the client connection.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pubsubs := b.pubsubs
	b.mu.Unlock()

	for _, ps := range pubsubs {
		_ = ps.Close()
	}
	return b.client.Close()
}
