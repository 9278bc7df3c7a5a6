package instance

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"
)

// Shutdown runs the ordered shutdown sequence within the configured budget:
// mark unhealthy, flush pending operations to the durable store, persist
// active sessions with the session TTL, flush log sinks, then close every
// client. Steps degrade independently; a failed step is logged and the
// sequence continues.
func (m *Manager) Shutdown(ctx context.Context, flushLogs func() error, closers ...io.Closer) error {
	timeout := m.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	m.logger.Info("shutdown starting", slog.Duration("budget", timeout))

	// 1. Stop accepting traffic: drop the registration record so external
	// load balancers route elsewhere.
	m.mu.Lock()
	m.healthy = false
	m.mu.Unlock()
	if m.client != nil {
		if err := m.client.Del(ctx, instanceKeyPrefix+m.id).Err(); err != nil {
			m.logger.Warn("deregistration failed", slog.Any("error", err))
		}
	}
	if m.stopHeartbeat != nil {
		m.stopHeartbeat()
		select {
		case <-m.heartbeatDone:
		case <-ctx.Done():
		}
	}

	// 2. Flush pending operations to the durable store for the next
	// instance to recover.
	m.flushPending(ctx)

	// 3. Persist active sessions with the longer session TTL.
	m.persistSessions(ctx)

	// 4. Flush batched log sinks.
	if flushLogs != nil {
		if err := flushLogs(); err != nil {
			m.logger.Warn("log flush failed", slog.Any("error", err))
		}
	}

	// 5. Close clients last; everything above may still need them.
	var firstErr error
	for _, c := range closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.logger.Info("shutdown complete", slog.Duration("elapsed", time.Since(start)))
	return firstErr
}

func (m *Manager) flushPending(ctx context.Context) {
	if m.client == nil {
		return
	}
	m.mu.RLock()
	ops := make([]*PendingOp, 0, len(m.pending))
	for _, op := range m.pending {
		ops = append(ops, op)
	}
	m.mu.RUnlock()

	for _, op := range ops {
		data, err := json.Marshal(op)
		if err != nil {
			continue
		}
		if err := m.client.Set(ctx, pendingKeyPrefix+op.ID, data, 0).Err(); err != nil {
			m.logger.Warn("pending op flush failed",
				slog.String("op_id", op.ID),
				slog.Any("error", err))
		}
	}
	if len(ops) > 0 {
		m.logger.Info("pending operations flushed", slog.Int("count", len(ops)))
	}
}

func (m *Manager) persistSessions(ctx context.Context) {
	if m.client == nil {
		return
	}
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		data, err := json.Marshal(s)
		if err != nil {
			continue
		}
		if err := m.client.Set(ctx, sessionKeyPrefix+s.ID, data, m.cfg.SessionTTL).Err(); err != nil {
			m.logger.Warn("session persist failed",
				slog.String("session_id", s.ID),
				slog.Any("error", err))
		}
	}
	if len(sessions) > 0 {
		m.logger.Info("sessions persisted",
			slog.Int("count", len(sessions)),
			slog.Duration("ttl", m.cfg.SessionTTL))
	}
}
