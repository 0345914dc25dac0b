// Package pubsub implements the bridge between the shared store's
// cross-worker pub/sub channel and a worker's local connection manager: it
// subscribes once, decodes each published envelope, and dispatches it to
// whichever locally-owned connection (if any) it targets.
package pubsub

import (
	"context"
	"time"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/connmgr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/event"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/store"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/telemetry"
)

// dispatcher is the subset of *connmgr.Manager the bridge depends on, kept
// narrow so tests can supply a fake.
type dispatcher interface {
	DispatchLocal(ev event.Event) bool
}

// Bridge owns the subscription to the shared event channel and the
// supervised consume loop that keeps it alive across transient
// disconnects, mirroring the reconnect-and-resubscribe pattern the
// teacher's streaming subscriber uses for its own consume loop.
type Bridge struct {
	st      store.Store
	dispatch dispatcher
	log     telemetry.Logger
	metrics telemetry.Metrics
	backoff time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func New(st store.Store, mgr *connmgr.Manager, log telemetry.Logger, metrics telemetry.Metrics) *Bridge {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Bridge{st: st, dispatch: mgr, log: log, metrics: metrics, backoff: 5 * time.Second}
}

// Start begins the supervised subscribe loop in the background. Call Stop
// to end it.
func (b *Bridge) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx)
}

func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.done != nil {
		<-b.done
	}
}

// run subscribes to the shared channel and consumes until ctx is
// canceled, resubscribing after backoff whenever the subscription itself
// fails or is lost — a dropped Redis connection should degrade to delayed
// delivery, not a dead bridge.
func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sub, err := b.st.Subscribe(ctx, connmgr.EventChannel)
		if err != nil {
			b.log.Error(ctx, "pubsub subscribe failed, retrying", "error", err, "backoff_seconds", b.backoff.Seconds())
			if !sleepOrDone(ctx, b.backoff) {
				return
			}
			continue
		}

		b.consume(ctx, sub)
		_ = sub.Close()

		select {
		case <-ctx.Done():
			return
		default:
		}
		if !sleepOrDone(ctx, b.backoff) {
			return
		}
	}
}

func (b *Bridge) consume(ctx context.Context, sub store.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, open := <-sub.Channel():
			if !open {
				return
			}
			ev, err := event.UnmarshalEnvelope([]byte(raw))
			if err != nil {
				b.log.Error(ctx, "failed to decode pubsub envelope", "error", err)
				continue
			}
			if b.dispatch.DispatchLocal(ev) {
				b.metrics.IncCounter(ctx, "ssebridge.pubsub.delivered_local")
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
