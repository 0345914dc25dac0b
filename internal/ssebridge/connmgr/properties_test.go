package connmgr

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/event"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/store/memstore"
)

// TestNoNilPayloadEverPersistsAsJSONNull verifies that whatever payload a
// caller hands to Send, the bytes written to the replay buffer always
// decode to a non-null "payload" field: omitting a payload must produce an
// empty object, never the JSON literal null a naive struct encoding would
// leave behind.
func TestNoNilPayloadEverPersistsAsJSONNull(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("persisted buffer entries never carry a null payload", prop.ForAll(
		func(step int, includePayload bool) bool {
			mgr := New(memstore.New(), "worker-1", Config{BufferSize: 10}, nil, nil)
			defer mgr.Close()
			ctx := context.Background()
			conn, err := mgr.Open(ctx, OpenRequest{})
			if err != nil {
				return false
			}

			var payload any
			if includePayload {
				payload = map[string]any{"step": step}
			}
			ev := event.New(event.RenderProgress, conn.ID, payload)
			if err := mgr.Send(ctx, ev); err != nil {
				return false
			}

			raw, err := mgr.st.LRange(ctx, bufferKey(conn.ID), 0, -1)
			if err != nil || len(raw) == 0 {
				return false
			}
			var decoded struct {
				Payload json.RawMessage `json:"payload"`
			}
			if err := json.Unmarshal([]byte(raw[0]), &decoded); err != nil {
				return false
			}
			return string(decoded.Payload) != "null"
		},
		gen.IntRange(0, 1000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestHeartbeatEmittedForEveryActiveConnection verifies that a heartbeat
// pass always emits exactly one connection.heartbeat event per currently
// owned, non-idle connection, regardless of how many connections are open.
func TestHeartbeatEmittedForEveryActiveConnection(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("beatOnce sends one heartbeat per live connection", prop.ForAll(
		func(n int) bool {
			mgr := New(memstore.New(), "worker-1", Config{BufferSize: 10, IdleTimeout: time.Hour}, nil, nil)
			defer mgr.Close()
			ctx := context.Background()

			var ids []string
			for i := 0; i < n; i++ {
				conn, err := mgr.Open(ctx, OpenRequest{})
				if err != nil {
					return false
				}
				ids = append(ids, conn.ID)
			}

			mgr.beatOnce(ctx)

			for _, id := range ids {
				raw, err := mgr.st.LRange(ctx, bufferKey(id), 0, -1)
				if err != nil {
					return false
				}
				var hits int
				for _, r := range raw {
					if bytesContains([]byte(r), "connection.heartbeat") {
						hits++
					}
				}
				if hits != 1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}

// TestIdleConnectionsAreEvictedRegardlessOfCount verifies that beatOnce
// records a connection.closed/idle_timeout event for every connection
// whose last activity exceeds IdleTimeout, and a connection.heartbeat
// event (never a close) for every connection still within its budget, no
// matter how many of each are present in the same pass.
func TestIdleConnectionsAreEvictedRegardlessOfCount(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("idle connections are closed, fresh ones only heartbeat", prop.ForAll(
		func(idleCount, freshCount int) bool {
			mgr := New(memstore.New(), "worker-1", Config{BufferSize: 10, IdleTimeout: 10 * time.Millisecond}, nil, nil)
			defer mgr.Close()
			ctx := context.Background()

			var idleIDs, freshIDs []string
			for i := 0; i < idleCount; i++ {
				conn, err := mgr.Open(ctx, OpenRequest{})
				if err != nil {
					return false
				}
				idleIDs = append(idleIDs, conn.ID)
			}
			time.Sleep(20 * time.Millisecond) // let the idle batch actually go stale

			for i := 0; i < freshCount; i++ {
				conn, err := mgr.Open(ctx, OpenRequest{})
				if err != nil {
					return false
				}
				freshIDs = append(freshIDs, conn.ID)
			}

			mgr.beatOnce(ctx)

			bufferHas := func(connID, needle string) bool {
				raw, err := mgr.st.LRange(ctx, bufferKey(connID), 0, -1)
				if err != nil {
					return false
				}
				for _, r := range raw {
					if bytesContains([]byte(r), needle) {
						return true
					}
				}
				return false
			}

			for _, id := range idleIDs {
				if !bufferHas(id, "idle_timeout") {
					return false
				}
			}
			for _, id := range freshIDs {
				if bufferHas(id, "idle_timeout") || !bufferHas(id, "connection.heartbeat") {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 3),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}
