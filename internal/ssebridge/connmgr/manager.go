package connmgr

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/event"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/store"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/telemetry"
)

// Config tunes the connection manager's buffering and housekeeping
// behavior. Zero values are replaced with conservative defaults by New.
type Config struct {
	// BufferSize is both the ring-buffer replay depth and the local
	// queue's soft backpressure threshold.
	BufferSize int
	// BufferTTLSeconds is how long an idle replay buffer survives in the
	// shared store before it is eligible for expiry.
	BufferTTLSeconds int64
	// HardBackpressureMultiple sets the local queue's hard cap as a
	// multiple of BufferSize; exceeding it force-closes the connection.
	HardBackpressureMultiple int
	HeartbeatInterval        time.Duration
	IdleTimeout              time.Duration
	CleanupInterval          time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	if c.BufferTTLSeconds <= 0 {
		c.BufferTTLSeconds = 3600
	}
	if c.HardBackpressureMultiple <= 0 {
		c.HardBackpressureMultiple = 4
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 300 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 60 * time.Second
	}
	return c
}

// OpenRequest describes a new SSE connection request.
type OpenRequest struct {
	ClientAddr     string
	UserAgent      string
	ClientID       string // optional stable client identity for reconnect takeover
	CredentialHash string // optional, set when the bridge authenticates per connection
}

type localConn struct {
	mu       sync.Mutex
	queue    chan []byte
	closed   bool
	clientID string
}

// Manager owns the connection table and the local delivery queues for
// connections this worker terminates. It is built directly on store.Store
// rather than a separate streaming abstraction, following the same
// layering the registry service uses for Redis-backed state.
type Manager struct {
	st       store.Store
	workerID string
	cfg      Config
	log      telemetry.Logger
	metrics  telemetry.Metrics

	mu    sync.RWMutex
	conns map[string]*localConn

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(st store.Store, workerID string, cfg Config, log telemetry.Logger, metrics telemetry.Metrics) *Manager {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Manager{
		st:       st,
		workerID: workerID,
		cfg:      cfg.withDefaults(),
		log:      log,
		metrics:  metrics,
		conns:    make(map[string]*localConn),
		stop:     make(chan struct{}),
	}
}

// Start launches the heartbeat and cleanup background loops. Callers must
// eventually call Close to stop them.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(2)
	go m.heartbeatLoop(ctx)
	go m.cleanupLoop(ctx)
}

// Close stops background loops and releases all locally-owned queues.
// It does not touch the shared store's connection records: they keep the
// status they last had, and nothing here marks them disconnected, sets an
// expiry on them, or removes them.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lc := range m.conns {
		lc.mu.Lock()
		if !lc.closed {
			lc.closed = true
			close(lc.queue)
		}
		lc.mu.Unlock()
	}
	m.conns = make(map[string]*localConn)
}

// Open registers a new connection owned by this worker. If req.ClientID
// identifies a connection already live under a different ID, the prior
// connection is asked to close with reason "reconnected" before the new
// one is recorded, enforcing at most one live connection per client ID.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (Connection, error) {
	if req.ClientID != "" {
		if prevID, ok, err := m.st.HGet(ctx, clientKey(req.ClientID), "connection_id"); err == nil && ok && prevID != "" {
			closeEv := event.New(event.ConnectionClosed, prevID, map[string]any{"reason": "reconnected"})
			if err := m.Send(ctx, closeEv); err != nil {
				m.log.Error(ctx, "failed to close prior connection on reconnect", "client_id", req.ClientID, "prev_connection_id", prevID, "error", err)
			}
		}
	}

	now := time.Now().UTC()
	conn := Connection{
		ID:             uuid.NewString(),
		ClientID:       req.ClientID,
		ClientAddr:     req.ClientAddr,
		UserAgent:      req.UserAgent,
		CredentialHash: req.CredentialHash,
		Status:         StatusConnected,
		ConnectedAt:    now,
		LastHeartbeat:  now,
		LastActivity:   now,
		OwningWorker:   m.workerID,
	}

	if err := m.st.HSet(ctx, connKey(conn.ID), conn.toFields()); err != nil {
		return Connection{}, bridgeerr.FromError(bridgeerr.StoreUnavailable, err)
	}
	if req.ClientID != "" {
		if err := m.st.HSet(ctx, clientKey(req.ClientID), map[string]string{"connection_id": conn.ID}); err != nil {
			return Connection{}, bridgeerr.FromError(bridgeerr.StoreUnavailable, err)
		}
	}

	hardCap := m.cfg.BufferSize * m.cfg.HardBackpressureMultiple
	m.mu.Lock()
	m.conns[conn.ID] = &localConn{queue: make(chan []byte, hardCap), clientID: req.ClientID}
	m.mu.Unlock()

	m.metrics.IncCounter(ctx, "ssebridge.connections.opened")
	return conn, nil
}

// Stream returns an iterator over raw SSE frames for connID, and any
// replay frames covering events emitted after lastEventID (empty means no
// replay requested). The iterator ends, and connID is deregistered, when
// ctx is canceled or the connection is closed (locally or by a
// cross-worker connection.closed dispatch).
func (m *Manager) Stream(ctx context.Context, connID, lastEventID string) (iter.Seq[[]byte], error) {
	m.mu.RLock()
	lc, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return nil, bridgeerr.Errorf(bridgeerr.Internal, "connection %s is not owned by this worker", connID)
	}

	var replay []event.Event
	var truncated bool
	if lastEventID != "" {
		var err error
		replay, truncated, err = ReplaySince(ctx, m.st, connID, lastEventID)
		if err != nil {
			m.log.Error(ctx, "replay lookup failed", "connection_id", connID, "error", err)
			replay, truncated = nil, false
		}
	}
	if truncated {
		warning := event.New(event.ConnectionError, connID, map[string]any{
			"code":    "REPLAY_INCOMPLETE",
			"message": "last event id not found in replay buffer; some events may have been missed",
		})
		if err := PersistToBuffer(ctx, m.st, connID, warning, m.cfg.BufferSize, m.cfg.BufferTTLSeconds); err != nil {
			m.log.Error(ctx, "failed to persist replay warning", "connection_id", connID, "error", err)
		}
		replay = append([]event.Event{warning}, replay...)
	}

	return func(yield func([]byte) bool) {
		defer m.forget(connID)
		deliver := func(frame []byte) bool {
			if !yield(frame) {
				return false
			}
			m.touchActivity(ctx, connID)
			return true
		}
		for _, ev := range replay {
			frame, err := event.Encode(ev)
			if err != nil {
				continue
			}
			if !deliver(frame) {
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case frame, open := <-lc.queue:
				if !open {
					return
				}
				if !deliver(frame) {
					return
				}
			}
		}
	}, nil
}

func (m *Manager) forget(connID string) {
	m.mu.Lock()
	delete(m.conns, connID)
	m.mu.Unlock()
}

// Send persists ev to connID's replay buffer and publishes it on the
// shared channel exactly once. Every worker's Pub/Sub Bridge, including
// this one if it is also subscribed, picks the event up and delivers it
// locally via DispatchLocal — Send itself never touches a local queue
// directly, so there is exactly one code path for "getting a frame onto
// the wire" regardless of which worker produced the event.
func (m *Manager) Send(ctx context.Context, ev event.Event) error {
	if err := PersistToBuffer(ctx, m.st, ev.ConnID, ev, m.cfg.BufferSize, m.cfg.BufferTTLSeconds); err != nil {
		return bridgeerr.FromError(bridgeerr.StoreUnavailable, err)
	}
	raw, err := event.MarshalEnvelope(ev)
	if err != nil {
		return bridgeerr.FromError(bridgeerr.ResultSerialize, err)
	}
	if err := m.st.Publish(ctx, EventChannel, string(raw)); err != nil {
		return bridgeerr.FromError(bridgeerr.StoreUnavailable, err)
	}
	return nil
}

// DispatchLocal delivers ev to its target connection's local queue if (and
// only if) that connection is owned by this worker. It reports whether
// the connection was found locally. A connection.closed event both
// delivers its own frame and tears down the local queue afterward, which
// is what ends that connection's Stream iterator.
func (m *Manager) DispatchLocal(ev event.Event) bool {
	m.mu.RLock()
	lc, ok := m.conns[ev.ConnID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	frame, err := event.Encode(ev)
	if err != nil {
		return true
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.closed {
		return true
	}

	select {
	case lc.queue <- frame:
		if len(lc.queue) >= m.cfg.BufferSize {
			m.metrics.IncCounter(context.Background(), "ssebridge.connections.backpressure_soft")
		}
	default:
		m.metrics.IncCounter(context.Background(), "ssebridge.connections.backpressure_hard")
		lc.closed = true
		close(lc.queue)
		return true
	}

	if ev.Kind == event.ConnectionClosed {
		lc.closed = true
		close(lc.queue)
		m.markDisconnected(ev.ConnID)
	}
	return true
}

// markDisconnected records the terminal status for a connection this
// worker just finished tearing down locally, and lets its record expire
// after BufferTTLSeconds rather than persist indefinitely.
func (m *Manager) markDisconnected(connID string) {
	ctx := context.Background()
	_ = m.st.HSet(ctx, connKey(connID), map[string]string{"status": string(StatusDisconnected)})
	_ = m.st.Expire(ctx, connKey(connID), secondsToDuration(m.cfg.BufferTTLSeconds))
}

// Broadcast fans kind/payload out to every currently live connection
// recorded in the shared store (not just ones owned by this worker),
// returning how many connections were targeted.
func (m *Manager) Broadcast(ctx context.Context, kind event.Kind, payload any) (int, error) {
	count := 0
	err := m.st.ScanMatch(ctx, "sse:conn:*", func(key string) error {
		connID := strings.TrimPrefix(key, "sse:conn:")
		if status, ok, err := m.st.HGet(ctx, key, "status"); err == nil && ok && status == string(StatusDisconnected) {
			return nil
		}
		ev := event.New(kind, connID, payload)
		if err := m.Send(ctx, ev); err != nil {
			m.log.Error(ctx, "broadcast send failed", "connection_id", connID, "error", err)
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return count, bridgeerr.FromError(bridgeerr.StoreUnavailable, err)
	}
	return count, nil
}

// CloseConnection requests that connID be closed with the given reason,
// regardless of which worker owns it.
func (m *Manager) CloseConnection(ctx context.Context, connID, reason string) error {
	ev := event.New(event.ConnectionClosed, connID, map[string]any{"reason": reason})
	return m.Send(ctx, ev)
}

// Get returns the shared connection record for connID.
func (m *Manager) Get(ctx context.Context, connID string) (Connection, bool, error) {
	fields, err := m.st.HGetAll(ctx, connKey(connID))
	if err != nil {
		return Connection{}, false, bridgeerr.FromError(bridgeerr.StoreUnavailable, err)
	}
	if len(fields) == 0 {
		return Connection{}, false, nil
	}
	conn, err := connFromFields(fields)
	if err != nil {
		return Connection{}, false, bridgeerr.FromError(bridgeerr.Internal, err)
	}
	return conn, true, nil
}

// Stats describes aggregate connection counts for the /sse/stats endpoint.
type Stats struct {
	TotalConnections int
	LocalConnections int
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var total int
	err := m.st.ScanMatch(ctx, "sse:conn:*", func(string) error {
		total++
		return nil
	})
	if err != nil {
		return Stats{}, bridgeerr.FromError(bridgeerr.StoreUnavailable, err)
	}
	m.mu.RLock()
	local := len(m.conns)
	m.mu.RUnlock()
	return Stats{TotalConnections: total, LocalConnections: local}, nil
}

func (m *Manager) touchActivity(ctx context.Context, connID string) {
	now := time.Now().UTC().Format(timeLayout)
	_ = m.st.HSet(ctx, connKey(connID), map[string]string{"last_activity": now})
}
