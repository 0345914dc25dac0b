package connmgr

import (
	"context"
	"strings"
	"time"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/event"
)

// heartbeatLoop periodically emits a connection.heartbeat event for every
// connection this worker owns, and closes any connection that has been
// idle (no activity, including heartbeats themselves) longer than
// IdleTimeout.
func (m *Manager) heartbeatLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.beatOnce(ctx)
		}
	}
}

func (m *Manager) beatOnce(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	now := time.Now().UTC()
	for _, id := range ids {
		conn, ok, err := m.Get(ctx, id)
		if err != nil || !ok {
			continue
		}
		if now.Sub(conn.LastActivity) > m.cfg.IdleTimeout {
			if err := m.CloseConnection(ctx, id, "idle_timeout"); err != nil {
				m.log.Error(ctx, "failed to close idle connection", "connection_id", id, "error", err)
			}
			continue
		}
		payload := map[string]any{"worker_id": m.workerID, "connection_age": now.Sub(conn.ConnectedAt).Seconds()}
		ev := event.New(event.ConnectionHeartbeat, id, payload, event.WithRetry(30000))
		if err := m.Send(ctx, ev); err != nil {
			m.log.Error(ctx, "heartbeat send failed", "connection_id", id, "error", err)
			continue
		}
		_ = m.st.HSet(ctx, connKey(id), map[string]string{"last_heartbeat": now.Format(timeLayout)})
	}
}

// cleanupLoop periodically removes replay buffers left behind by
// connections whose shared connection record has already expired or been
// deleted, so they don't linger in the store indefinitely.
func (m *Manager) cleanupLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.cleanupOnce(ctx)
		}
	}
}

func (m *Manager) cleanupOnce(ctx context.Context) {
	var orphaned []string
	err := m.st.ScanMatch(ctx, "sse:buffer:*", func(key string) error {
		connID := strings.TrimPrefix(key, "sse:buffer:")
		exists, err := func() (bool, error) {
			fields, err := m.st.HGetAll(ctx, connKey(connID))
			return len(fields) > 0, err
		}()
		if err != nil {
			return nil
		}
		if !exists {
			orphaned = append(orphaned, key)
		}
		return nil
	})
	if err != nil {
		m.log.Error(ctx, "cleanup scan failed", "error", err)
		return
	}
	for _, key := range orphaned {
		// Best effort: the TTL set at buffer-write time is the real
		// backstop against unbounded growth if this fails.
		_ = m.st.Del(ctx, key)
	}
}
