// Command ssebridge is the composition root for the SSE fan-out and
// task-progress bridge: it builds the shared store client, connection
// manager, pub/sub bridge, task tracker, external collaborators, tool
// bridge, and HTTP surface explicitly and wires them together, following
// the same shape as the teacher's example/cmd/assistant/main.go rather
// than relying on any package-level singleton.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/config"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/connmgr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/external"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/external/auth"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/external/renderer/fake"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/external/renderer/httprenderer"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/external/taskqueue/inmemqueue"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/external/taskqueue/temporalqueue"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/external/validator/jsonschema"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/httpapi"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/pubsub"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/ratelimit"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/store"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/store/memstore"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/store/redisstore"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/task"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/telemetry"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/toolbridge"
)

func main() {
	cfg := config.Load()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	log.Print(ctx, log.KV{K: "addr", V: cfg.Addr()}, log.KV{K: "store", V: storeLabel(cfg)})

	lg := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()
	tracer := telemetry.NewClueTracer()

	var (
		st          store.Store
		rdb         *redis.Client
		clusterRmap *rmap.Map
	)
	if cfg.StoreURL != "" {
		opts, err := redis.ParseURL(cfg.StoreURL)
		if err != nil {
			fatal(ctx, err, "invalid store URL")
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			fatal(ctx, err, "failed to reach shared store")
		}
		st = redisstore.New(rdb)
		clusterRmap, err = rmap.Join(ctx, "ssebridge:ratelimit", rdb)
		if err != nil {
			log.Printf(ctx, "rate limit cluster map unavailable, falling back to process-local limiting: %v", err)
			clusterRmap = nil
		}
	} else {
		log.Printf(ctx, "no SSEBRIDGE_STORE_URL set, using in-memory store (single-process only)")
		st = memstore.New()
	}

	workerID := workerIdentity()
	mgr := connmgr.New(st, workerID, connmgr.Config{
		BufferSize:        cfg.BufferSize,
		BufferTTLSeconds:  int64(cfg.BufferTTL.Seconds()),
		HeartbeatInterval: cfg.HeartbeatInterval,
		IdleTimeout:       cfg.ConnectionTimeout,
		CleanupInterval:   cfg.CleanupInterval,
	}, lg, metrics)
	mgr.Start(ctx)
	defer mgr.Close()

	bridge := pubsub.New(st, mgr, lg, metrics)
	bridge.Start(ctx)
	defer bridge.Stop()

	tracker := task.New(st, mgr, lg, metrics)

	renderer := newRenderer(cfg)
	validator, err := jsonschema.New([]byte(jsonschema.DefaultDSLSchema))
	if err != nil {
		fatal(ctx, err, "failed to compile DSL schema")
	}

	queue, closeQueue, err := newTaskQueue(ctx, cfg, lg)
	if err != nil {
		fatal(ctx, err, "failed to construct task queue")
	}
	if closeQueue != nil {
		defer closeQueue()
	}

	tb := toolbridge.New(mgr, tracker, renderer, validator, queue, nil, tracer, lg, metrics)

	var authenticator external.Auth
	if len(cfg.APIKeys) > 0 || cfg.DevMode {
		authenticator = auth.New(cfg.APIKeys, cfg.DevMode)
	}

	limiter := ratelimit.New(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute, Burst: cfg.RateLimitBurst}, clusterRmap, lg, metrics)

	server := httpapi.New(mgr, tb, authenticator, limiter, lg, metrics, cfg.AllowedOrigins)

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(ctx)
	go server.Serve(ctx, cfg.Addr(), cfg.Debug, errc)

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	if rdb != nil {
		_ = rdb.Close()
	}
}

// fatal logs err alongside msg and exits the process. Used only during
// startup, before any server is serving traffic, so there is nothing to
// drain or shut down gracefully yet.
func fatal(ctx context.Context, err error, msg string) {
	log.Error(ctx, err, log.KV{K: "msg", V: msg})
	os.Exit(1)
}

func storeLabel(cfg config.Config) string {
	if cfg.StoreURL == "" {
		return "memstore"
	}
	return "redis"
}

func workerIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "ssebridge-worker"
	}
	return host
}

func newRenderer(cfg config.Config) external.Renderer {
	if cfg.RenderEndpoint == "" {
		return fake.New()
	}
	return httprenderer.New(cfg.RenderEndpoint, cfg.RenderTimeout)
}

// newTaskQueue builds the configured task queue backend, returning a
// close function for the caller to defer when the backend owns
// background resources (the Temporal worker).
func newTaskQueue(ctx context.Context, cfg config.Config, lg telemetry.Logger) (external.TaskQueue, func(), error) {
	switch cfg.TaskQueueBackend {
	case "temporal":
		cli, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			return nil, nil, fmt.Errorf("dial temporal: %w", err)
		}
		q, err := temporalqueue.New(cli, cfg.TemporalTaskList, lg)
		if err != nil {
			cli.Close()
			return nil, nil, fmt.Errorf("construct temporal queue: %w", err)
		}
		return q, func() { q.Close(); cli.Close() }, nil
	default:
		return inmemqueue.New(0, lg), nil, nil
	}
}
