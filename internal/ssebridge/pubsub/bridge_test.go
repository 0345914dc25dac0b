package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/connmgr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/event"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/store/memstore"
)

// TestBridgeDeliversPublishedEventToOwningConnection exercises the
// cross-worker path end to end: Manager.Send persists and publishes, the
// Bridge subscribes and decodes, and DispatchLocal hands the frame to the
// connection's local queue — the same pipeline a background render worker
// and an API worker's bridge cooperate over in production, just
// collapsed onto a single in-memory store here.
func TestBridgeDeliversPublishedEventToOwningConnection(t *testing.T) {
	st := memstore.New()
	mgr := connmgr.New(st, "worker-1", connmgr.Config{BufferSize: 10}, nil, nil)
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := New(st, mgr, nil, nil)
	bridge.Start(ctx)
	defer bridge.Stop()
	time.Sleep(20 * time.Millisecond) // let the subscribe loop establish before publishing

	conn, err := mgr.Open(ctx, connmgr.OpenRequest{})
	require.NoError(t, err)

	stream, err := mgr.Stream(ctx, conn.ID, "")
	require.NoError(t, err)

	frameCh := make(chan []byte, 4)
	go stream(func(f []byte) bool {
		frameCh <- f
		return true
	})

	ev := event.New(event.RenderProgress, conn.ID, map[string]any{"progress": float64(10)})
	require.NoError(t, mgr.Send(ctx, ev))

	select {
	case f := <-frameCh:
		assert.Contains(t, string(f), "render.progress")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the bridge to deliver the published event locally")
	}
}

// TestBridgeIgnoresEventsForConnectionsItDoesNotOwn verifies that a bridge
// running on a worker with no local record of a connection does not error
// or deliver anything when it observes an envelope for that connection.
func TestBridgeIgnoresEventsForConnectionsItDoesNotOwn(t *testing.T) {
	st := memstore.New()
	mgr := connmgr.New(st, "worker-1", connmgr.Config{BufferSize: 10}, nil, nil)
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := New(st, mgr, nil, nil)
	bridge.Start(ctx)
	defer bridge.Stop()
	time.Sleep(20 * time.Millisecond)

	// No connection opened on this worker at all.
	ev := event.New(event.RenderProgress, "unowned-connection", map[string]any{})
	require.NoError(t, mgr.Send(ctx, ev))

	// Give the subscriber loop a moment to process; nothing should panic
	// or block, and Stats should stay at zero local connections.
	time.Sleep(50 * time.Millisecond)
	stats, err := mgr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.LocalConnections)
}
