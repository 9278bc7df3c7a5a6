// Package instance manages process identity: registration in the bus
// backend with a TTL, heartbeats, session recovery on boot, and the ordered
// graceful-shutdown sequence.
package instance

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/c360studio/hivemind/config"
)

// Key prefixes in the bus backend.
const (
	instanceKeyPrefix = "instance:"
	sessionKeyPrefix  = "session:"
	pendingKeyPrefix  = "pending:"
)

// Session is a rehydratable unit of conversational or operational state.
type Session struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	State     map[string]any `json:"state,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// PendingOp is an operation that was accepted but not completed. Recovered
// instances re-enqueue these.
type PendingOp struct {
	ID        string         `json:"id"`
	Recipient string         `json:"recipient"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	Priority  int            `json:"priority"`
}

// Enqueuer re-enqueues recovered pending operations. The bus satisfies it.
type Enqueuer interface {
	Send(ctx context.Context, sender, recipient, kind string, payload map[string]any, priority int) error
}

// NewID builds an instance identifier from the hostname and eight random
// hex characters.
func NewID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "hivemind"
	}
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
	}
	return hostname + "-" + hex.EncodeToString(buf[:])
}

// Manager owns the instance record and session state. The redis client is
// nil when the bus runs on the memory backend; registration and persistence
// then degrade to process-local state.
type Manager struct {
	id     string
	cfg    config.InstanceConfig
	client *redis.Client
	logger *slog.Logger

	mu       sync.RWMutex
	healthy  bool
	sessions map[string]*Session
	pending  map[string]*PendingOp

	stopHeartbeat context.CancelFunc
	heartbeatDone chan struct{}
}

// NewManager creates an instance manager. client may be nil.
func NewManager(cfg config.InstanceConfig, client *redis.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RegistrationTTL <= 0 {
		cfg.RegistrationTTL = 300 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 60 * time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	id := NewID()
	return &Manager{
		id:       id,
		cfg:      cfg,
		client:   client,
		logger:   logger.With(slog.String("instance", id)),
		healthy:  true,
		sessions: make(map[string]*Session),
		pending:  make(map[string]*PendingOp),
	}
}

// ID returns the instance identifier.
func (m *Manager) ID() string { return m.id }

// Healthy reports whether the instance accepts traffic.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy
}

// Register writes the instance record with the registration TTL and starts
// the heartbeat loop.
func (m *Manager) Register(ctx context.Context) error {
	if m.client != nil {
		record := map[string]any{
			"id":         m.id,
			"started_at": time.Now().Format(time.RFC3339),
		}
		data, _ := json.Marshal(record)
		if err := m.client.Set(ctx, instanceKeyPrefix+m.id, data, m.cfg.RegistrationTTL).Err(); err != nil {
			return fmt.Errorf("register instance: %w", err)
		}
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	m.stopHeartbeat = cancel
	m.heartbeatDone = make(chan struct{})
	go m.heartbeatLoop(hbCtx)

	m.logger.Info("instance registered",
		slog.Duration("ttl", m.cfg.RegistrationTTL),
		slog.Bool("durable", m.client != nil))
	return nil
}

func (m *Manager) heartbeatLoop(ctx context.Context) {
	defer close(m.heartbeatDone)
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.client == nil {
				continue
			}
			if err := m.client.Expire(ctx, instanceKeyPrefix+m.id, m.cfg.RegistrationTTL).Err(); err != nil {
				m.logger.Warn("heartbeat failed", slog.Any("error", err))
			}
		}
	}
}

// Recover scans the backend for persisted sessions and pending operations.
// Sessions are rehydrated into memory; pending operations are re-enqueued
// on the bus and their records removed.
func (m *Manager) Recover(ctx context.Context, enqueue Enqueuer) (sessions, pending int, err error) {
	if m.client == nil {
		return 0, 0, nil
	}

	sessionKeys, err := scanKeys(ctx, m.client, sessionKeyPrefix+"*")
	if err != nil {
		return 0, 0, fmt.Errorf("scan sessions: %w", err)
	}
	for _, key := range sessionKeys {
		data, err := m.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			m.logger.Warn("skipping malformed session", slog.String("key", key))
			continue
		}
		m.mu.Lock()
		m.sessions[s.ID] = &s
		m.mu.Unlock()
		sessions++
	}

	pendingKeys, err := scanKeys(ctx, m.client, pendingKeyPrefix+"*")
	if err != nil {
		return sessions, 0, fmt.Errorf("scan pending ops: %w", err)
	}
	for _, key := range pendingKeys {
		data, err := m.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var op PendingOp
		if err := json.Unmarshal(data, &op); err != nil {
			m.logger.Warn("skipping malformed pending op", slog.String("key", key))
			continue
		}
		if enqueue != nil {
			if err := enqueue.Send(ctx, m.id, op.Recipient, op.Kind, op.Payload, op.Priority); err != nil {
				m.logger.Warn("re-enqueue failed, keeping record",
					slog.String("op_id", op.ID),
					slog.Any("error", err))
				continue
			}
		}
		m.client.Del(ctx, key)
		pending++
	}

	if sessions > 0 || pending > 0 {
		m.logger.Info("recovery complete",
			slog.Int("sessions", sessions),
			slog.Int("pending_ops", pending))
	}
	return sessions, pending, nil
}

func scanKeys(ctx context.Context, client *redis.Client, match string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// PutSession stores or refreshes a session in memory.
func (m *Manager) PutSession(s *Session) {
	s.UpdatedAt = time.Now()
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

// GetSession returns a session by ID.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// TrackPending records an accepted-but-incomplete operation.
func (m *Manager) TrackPending(op *PendingOp) {
	m.mu.Lock()
	m.pending[op.ID] = op
	m.mu.Unlock()
}

// CompletePending drops a completed operation.
func (m *Manager) CompletePending(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}
